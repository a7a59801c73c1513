package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/franchise-ops/franchise-ops/cmd/franchisectl/cli"
	"github.com/franchise-ops/franchise-ops/internal/analytics"
	"github.com/franchise-ops/franchise-ops/internal/app"
	"github.com/franchise-ops/franchise-ops/internal/platform/cache"
	"github.com/franchise-ops/franchise-ops/internal/platform/db"
	"github.com/franchise-ops/franchise-ops/internal/records"
	"github.com/franchise-ops/franchise-ops/internal/snapshots"
	"github.com/franchise-ops/franchise-ops/jobs"
)

const usage = `usage:
  franchisectl snapshots backfill --from YYYY-MM-DD --to YYYY-MM-DD [--mode dry|apply] [--yes] [--json]
  franchisectl jobs trigger <task> [args...]
  franchisectl jobs stats
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stderr, usage)
		return cli.ExitFailure
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return cli.ExitFailure
	}
	logger := app.NewLoggerTo(stderr, cfg, "cli")

	switch args[0] + " " + args[1] {
	case "snapshots backfill":
		return runBackfill(ctx, cfg, logger, args[2:], stdout, stderr)
	case "jobs trigger", "jobs stats":
		return runJobs(ctx, cfg, args[1:], stdout, stderr)
	default:
		fmt.Fprint(stderr, usage)
		return cli.ExitFailure
	}
}

func runBackfill(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("snapshots backfill", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := cli.BackfillOptions{Stdout: stdout, Stderr: stderr}
	var mode string
	fs.StringVar(&opts.From, "from", "", "first day, inclusive")
	fs.StringVar(&opts.To, "to", "", "last day, inclusive")
	fs.StringVar(&mode, "mode", string(cli.BackfillModeDry), "dry or apply")
	fs.BoolVar(&opts.Yes, "yes", false, "skip the confirmation prompt")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print a JSON summary")
	if err := fs.Parse(args); err != nil {
		return cli.ExitFailure
	}
	opts.Mode = cli.BackfillMode(mode)

	loc, _ := cfg.Location()
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "franchisectl", MaxConns: 2})
	if err != nil {
		fmt.Fprintf(stderr, "connect postgres: %v\n", err)
		return cli.ExitFailure
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		fmt.Fprintf(stderr, "connect redis: %v\n", err)
		return cli.ExitFailure
	}
	defer redisClient.Close()

	service := snapshots.NewService(snapshots.Config{
		Store:       snapshots.NewRepository(pool),
		Orders:      records.NewRepository(pool, logger),
		Locker:      redislock.New(redisClient),
		Invalidator: analytics.NewCache(redisClient, cfg.ReportCacheTTL),
		Location:    loc,
		LockTTL:     cfg.SnapshotLockTTL,
		Logger:      logger,
	})
	snapshotCLI, err := cli.NewSnapshotCLI(service)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return cli.ExitFailure
	}
	return snapshotCLI.BackfillCommand(ctx, opts)
}

func runJobs(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	client, err := jobs.NewClient(redisOpts, 0)
	if err != nil {
		fmt.Fprintf(stderr, "init job client: %v\n", err)
		return cli.ExitFailure
	}
	defer client.Close()
	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()

	jobsCLI := cli.NewJobsCLI(client, inspector)
	enc := json.NewEncoder(stdout)
	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprint(stderr, usage)
			return cli.ExitFailure
		}
		id, err := jobsCLI.Trigger(ctx, args[1], args[2:])
		if err != nil {
			fmt.Fprintln(stderr, err)
			return cli.ExitFailure
		}
		_ = enc.Encode(map[string]string{"task_id": id})
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return cli.ExitFailure
		}
		_ = enc.Encode(stats)
	}
	return cli.ExitOK
}
