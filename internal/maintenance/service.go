// Package maintenance removes abandoned conversation rows: chats with no
// messages and chats stuck on an in-progress placeholder title. Sweeps are
// idempotent and safe to run from multiple processes at once.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type SweepStore interface {
	DeleteEmptyChats(ctx context.Context) (int64, error)
	DeleteIncompleteChats(ctx context.Context) (int64, error)
}

type Config struct {
	SweepInterval time.Duration
}

type Service struct {
	Store  SweepStore
	Config Config
	Logger *slog.Logger
	Clock  func() time.Time
}

type SweepSummary struct {
	EmptyChatsDeleted      int64         `json:"empty_chats_deleted"`
	IncompleteChatsDeleted int64         `json:"incomplete_chats_deleted"`
	Duration               time.Duration `json:"-"`
}

func (s *Service) Run(ctx context.Context) error {
	s.ensureDefaults()

	ticker := time.NewTicker(s.Config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			summary, err := s.RunSweepOnce(ctx)
			if err != nil {
				if s.Logger != nil {
					s.Logger.ErrorContext(ctx, "sweep cycle failed", slog.Any("error", err))
				}
				continue
			}
			if s.Logger != nil {
				s.Logger.InfoContext(ctx, "sweep cycle completed",
					slog.Int64("empty_chats_deleted", summary.EmptyChatsDeleted),
					slog.Int64("incomplete_chats_deleted", summary.IncompleteChatsDeleted),
					slog.Duration("duration", summary.Duration))
			}
		}
	}
}

// RunSweepOnce deletes empty chats first so a chat that is both empty and
// placeholder-titled is only counted once.
func (s *Service) RunSweepOnce(ctx context.Context) (SweepSummary, error) {
	s.ensureDefaults()
	if s.Store == nil {
		return SweepSummary{}, fmt.Errorf("store is required")
	}

	start := s.Clock()
	var summary SweepSummary

	empty, err := s.Store.DeleteEmptyChats(ctx)
	if err != nil {
		sweepRunsTotal.WithLabelValues("error").Inc()
		return summary, fmt.Errorf("delete empty chats: %w", err)
	}
	summary.EmptyChatsDeleted = empty
	chatsSweptTotal.WithLabelValues("empty").Add(float64(empty))

	incomplete, err := s.Store.DeleteIncompleteChats(ctx)
	if err != nil {
		sweepRunsTotal.WithLabelValues("error").Inc()
		return summary, fmt.Errorf("delete incomplete chats: %w", err)
	}
	summary.IncompleteChatsDeleted = incomplete
	chatsSweptTotal.WithLabelValues("incomplete").Add(float64(incomplete))

	summary.Duration = s.Clock().Sub(start)
	sweepRunsTotal.WithLabelValues("ok").Inc()
	return summary, nil
}

func (s *Service) ensureDefaults() {
	if s.Config.SweepInterval <= 0 {
		s.Config.SweepInterval = 10 * time.Minute
	}
	if s.Clock == nil {
		s.Clock = time.Now
	}
}
