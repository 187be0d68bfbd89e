// Package heartbeat periodically logs what the bot currently knows: how many
// conversations it is tracking and how many participants across them. Useful
// for confirming the event stream is alive without turning on debug logs.
package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"github.com/musterbot/muster/internal/roster"
)

// DefaultInterval is used when no interval is configured.
const DefaultInterval = 30 * time.Minute

// Service emits a roster stats log line on a fixed interval.
type Service struct {
	store    *roster.Store
	interval time.Duration
}

// NewService creates a heartbeat service over the roster store.
func NewService(store *roster.Store, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{store: store, interval: interval}
}

// Run starts the heartbeat loop. It blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	slog.Info("Heartbeat started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Heartbeat stopping")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Service) tick() {
	convos := s.store.Conversations()
	total := 0
	for _, key := range convos {
		total += s.store.Len(key)
	}
	slog.Info("roster stats", "conversations", len(convos), "participants", total)
}
