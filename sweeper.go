package main

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// RetentionSweeper purges rows older than the retention horizon. Events go
// first so a failure mid-sweep never leaves events pointing at already
// purged messages.
type RetentionSweeper struct {
	store     Storage
	retention time.Duration
	running   atomic.Bool
}

func NewRetentionSweeper(store Storage, retention time.Duration) *RetentionSweeper {
	return &RetentionSweeper{store: store, retention: retention}
}

// Sweep runs one purge pass. Overlapping passes are skipped, not queued.
func (s *RetentionSweeper) Sweep(ctx context.Context, now time.Time) (events, messages int64, err error) {
	if !s.running.CompareAndSwap(false, true) {
		log.Printf("sweeper: previous pass still running, skipping")
		return 0, 0, nil
	}
	defer s.running.Store(false)

	cutoff := now.Add(-s.retention)

	events, err = s.store.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return events, 0, err
	}
	messages, err = s.store.DeleteMessagesBefore(ctx, cutoff)
	if err != nil {
		return events, messages, err
	}

	if events > 0 || messages > 0 {
		log.Printf("sweeper: purged %d events and %d messages older than %s", events, messages, cutoff.Format(time.RFC3339))
	}
	return events, messages, nil
}

// Start runs a pass immediately and then on every tick until ctx ends.
func (s *RetentionSweeper) Start(ctx context.Context, interval time.Duration) {
	if _, _, err := s.Sweep(ctx, time.Now().UTC()); err != nil {
		log.Printf("sweeper: startup pass failed: %v", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := s.Sweep(ctx, time.Now().UTC()); err != nil {
				log.Printf("sweeper: pass failed: %v", err)
			}
		}
	}
}
