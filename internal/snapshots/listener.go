package snapshots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/franchise-ops/franchise-ops/internal/settlement"
)

const reconnectDelay = 2 * time.Second

// RecomputeFunc schedules a recompute of the given day key.
type RecomputeFunc func(ctx context.Context, day string) error

// Listener turns Postgres change notifications into debounced recompute
// requests for today and yesterday. Yesterday stays open until a recompute
// after midnight finalises it; older days are ignored.
type Listener struct {
	pool     *pgxpool.Pool
	channel  string
	debounce time.Duration
	schedule RecomputeFunc
	today    func() string
	loc      *time.Location
	logger   *slog.Logger
}

// ListenerConfig wires a Listener.
type ListenerConfig struct {
	Pool     *pgxpool.Pool
	Channel  string
	Debounce time.Duration
	Schedule RecomputeFunc
	Service  *Service
	Logger   *slog.Logger
}

// NewListener builds a Listener on the service's calendar.
func NewListener(cfg ListenerConfig) *Listener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		pool:     cfg.Pool,
		channel:  cfg.Channel,
		debounce: cfg.Debounce,
		schedule: cfg.Schedule,
		today:    cfg.Service.Today,
		loc:      cfg.Service.Location(),
		logger:   logger.With(slog.String("listener", cfg.Channel)),
	}
}

// Run listens until ctx is done, reconnecting after connection failures.
func (l *Listener) Run(ctx context.Context) error {
	if l.pool == nil || l.schedule == nil || l.channel == "" {
		return errors.New("snapshots: listener not configured")
	}
	debouncer := NewDebouncer(l.debounce, func(day string) {
		if err := l.schedule(ctx, day); err != nil {
			l.logger.Error("schedule snapshot recompute", slog.String("day", day), slog.Any("error", err))
		}
	})
	defer debouncer.Stop()

	for {
		err := l.listen(ctx, debouncer)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Warn("notification stream lost", slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (l *Listener) listen(ctx context.Context, debouncer *Debouncer) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.logger.Info("listening for order changes")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		day, ok := l.dayFor(n.Payload)
		if !ok {
			l.logger.Debug("ignoring change notification", slog.String("payload", n.Payload))
			continue
		}
		debouncer.Trigger(day)
	}
}

// dayFor maps a notification payload to the day to recompute. An empty
// payload means today; a timestamp or day key is accepted when it falls on
// today or yesterday.
func (l *Listener) dayFor(payload string) (string, bool) {
	today := l.today()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return today, true
	}
	day := payload
	if ts, err := time.Parse(time.RFC3339, payload); err == nil {
		day = ts.In(l.loc).Format(settlement.DayLayout)
	} else if _, err := time.Parse(settlement.DayLayout, payload); err != nil {
		return "", false
	}
	start, err := time.ParseInLocation(settlement.DayLayout, today, l.loc)
	if err != nil {
		return "", false
	}
	yesterday := start.AddDate(0, 0, -1).Format(settlement.DayLayout)
	return day, day == today || day == yesterday
}
