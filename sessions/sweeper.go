package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/kenryalonzo/doualairblog-auth/repository"
	"github.com/kenryalonzo/doualairblog-auth/telemetry"
	"github.com/rs/zerolog"
)

const DefaultSweepInterval = time.Hour

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Users   int
	Removed int
	Failed  int
}

// RemoveAllExpiredAcrossUsers removes every record expired at now. A failure
// on one user is logged and counted, and the sweep moves on. The returned
// error is only set when the users to sweep could not be listed.
func RemoveAllExpiredAcrossUsers(ctx context.Context, store repository.SessionStore, now time.Time, log zerolog.Logger) (SweepResult, error) {
	var res SweepResult
	ids, err := store.UsersWithExpiredSessions(ctx, now)
	if err != nil {
		return res, fmt.Errorf("list users with expired sessions: %w", err)
	}
	res.Users = len(ids)
	for _, id := range ids {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		n, err := store.RemoveExpiredSessions(ctx, id, now)
		if err != nil {
			res.Failed++
			log.Error().Err(err).Str("user_id", id).Msg("sweep.user_failed")
			continue
		}
		res.Removed += n
	}
	return res, nil
}

// Sweeper periodically purges expired session records. It is started and
// stopped by its owner through the context passed to Run.
type Sweeper struct {
	store    repository.SessionStore
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
	metrics  *telemetry.Metrics
}

type SweeperOptions struct {
	Interval time.Duration
	Clock    func() time.Time
	Logger   zerolog.Logger
	Metrics  *telemetry.Metrics
}

func NewSweeper(store repository.SessionStore, opts SweeperOptions) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSweepInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Sweeper{
		store:    store,
		interval: opts.Interval,
		now:      opts.Clock,
		log:      opts.Logger.With().Str("component", "sweeper").Logger(),
		metrics:  opts.Metrics,
	}
}

// Run sweeps once right away and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("sweeper.start")
	s.SweepOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("sweeper.stop")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) SweepResult {
	start := time.Now()
	res, err := RemoveAllExpiredAcrossUsers(ctx, s.store, s.now().UTC(), s.log)
	took := time.Since(start)
	s.metrics.Sweep(res.Removed, res.Failed, took)

	if err != nil {
		s.log.Error().Err(err).Msg("sweep.failed")
		return res
	}
	s.log.Info().
		Int("users", res.Users).
		Int("removed", res.Removed).
		Int("failed", res.Failed).
		Dur("took", took).
		Msg("sweep.done")
	return res
}
