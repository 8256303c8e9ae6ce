package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// StartJanitor schedules the periodic sweep of unclaimed login handles.
// Handles older than the configured TTL are dropped so a client that
// stopped polling cannot leave auth state behind. The returned shutdown
// stops the scheduler.
func (s *Service) StartJanitor(ctx context.Context) (func() error, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create janitor scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() {
			cutoff := s.now().Add(-s.cfg.LoginHandleTTL)
			n, err := s.gw.DeleteExpiredPendingLogins(ctx, cutoff)
			if err != nil {
				log.Error().Err(err).Msg("expire pending logins")
				return
			}
			if n > 0 {
				log.Info().Int64("count", n).Msg("expired pending logins")
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule login janitor: %w", err)
	}
	sched.Start()
	return sched.Shutdown, nil
}
