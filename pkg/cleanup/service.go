// Package cleanup runs the periodic expired-session sweep.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// SessionCleaner removes expired sessions and reports how many were
// dropped. Satisfied by session.Manager.
type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Service periodically invokes the store's expired-session cleanup.
// The sweep is idempotent and safe to run from multiple replicas.
type Service struct {
	sessions SessionCleaner
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(sessions SessionCleaner, interval time.Duration) *Service {
	return &Service{
		sessions: sessions,
		interval: interval,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Session cleanup service started", "interval", s.interval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Session cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	removed, err := s.sessions.CleanupExpired(ctx)
	if err != nil {
		slog.Error("Session cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		slog.Info("Cleaned up expired sessions", "count", removed)
	}
}
