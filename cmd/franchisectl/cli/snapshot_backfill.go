package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/franchise-ops/franchise-ops/internal/settlement"
	"github.com/franchise-ops/franchise-ops/internal/snapshots"
)

// BackfillMode enumerates supported execution strategies.
type BackfillMode string

const (
	// BackfillModeDry lists missing snapshot days without writing.
	BackfillModeDry BackfillMode = "dry"
	// BackfillModeApply computes and stores the missing days.
	BackfillModeApply BackfillMode = "apply"
)

// Exit codes returned by BackfillCommand.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitBusy    = 2
	ExitGaps    = 10
)

// SnapshotBackfiller is the slice of snapshots.Service the command drives.
type SnapshotBackfiller interface {
	Missing(ctx context.Context, from, to time.Time) ([]string, error)
	Backfill(ctx context.Context, from, to time.Time) (snapshots.BackfillResult, error)
	Location() *time.Location
}

// SnapshotCLI offers operational helpers for daily snapshots.
type SnapshotCLI struct {
	service SnapshotBackfiller
}

// NewSnapshotCLI constructs the helper.
func NewSnapshotCLI(service SnapshotBackfiller) (*SnapshotCLI, error) {
	if service == nil {
		return nil, fmt.Errorf("snapshot cli: service required")
	}
	return &SnapshotCLI{service: service}, nil
}

// BackfillOptions configures the backfill command execution.
type BackfillOptions struct {
	From       string
	To         string
	Mode       BackfillMode
	Yes        bool
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
	Stdin      io.Reader
	Confirm    func(io.Reader, io.Writer, int) (bool, error)
}

// BackfillSummary captures the structured reporting outcome.
type BackfillSummary struct {
	Mode    BackfillMode `json:"mode"`
	From    string       `json:"from"`
	To      string       `json:"to"`
	Missing []string     `json:"missing"`
	Written []string     `json:"written,omitempty"`
	Skipped []string     `json:"skipped,omitempty"`
	Busy    []string     `json:"busy,omitempty"`
}

// BackfillCommand previews or fills missing snapshot days. Dry runs exit
// with ExitGaps when days are missing; apply runs exit with ExitBusy when
// another worker held some days.
func (c *SnapshotCLI) BackfillCommand(ctx context.Context, opts BackfillOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	mode := BackfillMode(strings.ToLower(strings.TrimSpace(string(opts.Mode))))
	if mode == "" {
		mode = BackfillModeDry
	}
	switch mode {
	case BackfillModeDry, BackfillModeApply:
	default:
		fmt.Fprintf(opts.Stderr, "snapshot backfill: invalid mode %q (expected dry or apply)\n", opts.Mode)
		return ExitFailure
	}

	loc := c.service.Location()
	from, err := time.ParseInLocation(settlement.DayLayout, strings.TrimSpace(opts.From), loc)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "snapshot backfill: invalid --from %q (expected YYYY-MM-DD)\n", opts.From)
		return ExitFailure
	}
	to, err := time.ParseInLocation(settlement.DayLayout, strings.TrimSpace(opts.To), loc)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "snapshot backfill: invalid --to %q (expected YYYY-MM-DD)\n", opts.To)
		return ExitFailure
	}
	if to.Before(from) {
		fmt.Fprintln(opts.Stderr, "snapshot backfill: --from must not be after --to")
		return ExitFailure
	}

	missing, err := c.service.Missing(ctx, from, to)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "snapshot backfill: %v\n", err)
		return ExitFailure
	}
	summary := BackfillSummary{
		Mode:    mode,
		From:    from.Format(settlement.DayLayout),
		To:      to.Format(settlement.DayLayout),
		Missing: missing,
	}
	if summary.Missing == nil {
		summary.Missing = []string{}
	}

	if mode == BackfillModeDry || len(missing) == 0 {
		if err := writeBackfillOutput(opts, summary); err != nil {
			fmt.Fprintf(opts.Stderr, "snapshot backfill: %v\n", err)
			return ExitFailure
		}
		if mode == BackfillModeDry && len(missing) > 0 {
			return ExitGaps
		}
		return ExitOK
	}

	if !opts.Yes {
		confirm := opts.Confirm
		if confirm == nil {
			confirm = defaultConfirm
		}
		ok, err := confirm(opts.Stdin, opts.Stdout, len(missing))
		if err != nil {
			fmt.Fprintf(opts.Stderr, "snapshot backfill: confirmation failed: %v\n", err)
			return ExitFailure
		}
		if !ok {
			fmt.Fprintln(opts.Stderr, "snapshot backfill: aborted")
			return ExitFailure
		}
	}

	result, err := c.service.Backfill(ctx, from, to)
	summary.Written = result.Written
	summary.Skipped = result.Skipped
	summary.Busy = result.Busy
	if err != nil {
		fmt.Fprintf(opts.Stderr, "snapshot backfill: apply failed: %v\n", err)
		_ = writeBackfillOutput(opts, summary)
		return ExitFailure
	}
	if err := writeBackfillOutput(opts, summary); err != nil {
		fmt.Fprintf(opts.Stderr, "snapshot backfill: %v\n", err)
		return ExitFailure
	}
	if len(result.Busy) > 0 {
		return ExitBusy
	}
	return ExitOK
}

func defaultConfirm(in io.Reader, out io.Writer, days int) (bool, error) {
	fmt.Fprintf(out, "Compute %d snapshot day(s)? [y/N]: ", days)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func writeBackfillOutput(opts BackfillOptions, summary BackfillSummary) error {
	if opts.JSONOutput {
		return json.NewEncoder(opts.Stdout).Encode(summary)
	}
	renderBackfillHuman(opts.Stdout, summary)
	return nil
}

func renderBackfillHuman(out io.Writer, summary BackfillSummary) {
	fmt.Fprintf(out, "Snapshot backfill (%s) %s to %s\n", summary.Mode, summary.From, summary.To)
	if len(summary.Missing) == 0 {
		fmt.Fprintln(out, "No missing days.")
	} else {
		fmt.Fprintf(out, "%d day(s) to compute: %s\n", len(summary.Missing), strings.Join(summary.Missing, ", "))
	}
	if len(summary.Written) > 0 {
		fmt.Fprintf(out, "Written: %s\n", strings.Join(summary.Written, ", "))
	}
	if len(summary.Busy) > 0 {
		fmt.Fprintf(out, "Busy, retry later: %s\n", strings.Join(summary.Busy, ", "))
	}
}
