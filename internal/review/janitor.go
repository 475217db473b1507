package review

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultJanitorSchedule runs the purge at the top of every hour.
const DefaultJanitorSchedule = "@hourly"

// Janitor purges expired review sessions on a cron schedule.
type Janitor struct {
	cron  *cron.Cron
	store *Store
	ttl   time.Duration
}

// NewJanitor registers a purge of sessions older than ttl. schedule uses the
// standard 5-field cron format or a descriptor such as "@hourly".
func NewJanitor(store *Store, ttl time.Duration, schedule string) (*Janitor, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %s", ttl)
	}
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}
	j := &Janitor{cron: cron.New(), store: store, ttl: ttl}
	if _, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		j.RunOnce(ctx)
	}); err != nil {
		return nil, fmt.Errorf("registering session purge %q: %w", schedule, err)
	}
	return j, nil
}

// RunOnce purges expired sessions now and returns how many were removed.
func (j *Janitor) RunOnce(ctx context.Context) int64 {
	n, err := j.store.PurgeOlderThan(ctx, j.ttl)
	if err != nil {
		log.Error().Err(err).Msg("session_purge_failed")
		return 0
	}
	if n > 0 {
		log.Info().Int64("purged", n).Dur("ttl", j.ttl).Msg("session_purge_completed")
	}
	return n
}

// Start begins running the schedule.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule and waits for a running purge to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Entries returns the number of registered cron entries.
func (j *Janitor) Entries() int {
	return len(j.cron.Entries())
}
