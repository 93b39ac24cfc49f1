package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/szczecha/saleor/internal/domain"
	"github.com/szczecha/saleor/internal/repository"
)

var lifecycleTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "promotion_lifecycle_transitions_total",
	Help: "Total number of promotion lifecycle transitions performed by the sweep.",
}, []string{"to"})

// CacheFlusher drops every cached rule set. Lifecycle transitions change
// which promotions are live across all of their channels at once.
type CacheFlusher interface {
	InvalidateAll(ctx context.Context)
}

// LifecycleSweeper periodically reconciles stored lifecycle states with
// promotion schedules, emitting the start and end lifecycle events
// exactly once per transition. The sweep is idempotent and safe to run from
// several replicas: the repository's conditional transition ensures only one
// sweeper wins each step.
type LifecycleSweeper struct {
	repo      repository.PromotionRepository
	publisher EventPublisher
	cache     CacheFlusher
	logger    *slog.Logger
	interval  time.Duration
	now       func() time.Time
}

// NewLifecycleSweeper creates a sweeper running at the given interval.
// publisher and cache may be nil.
func NewLifecycleSweeper(
	repo repository.PromotionRepository,
	publisher EventPublisher,
	cache CacheFlusher,
	interval time.Duration,
	logger *slog.Logger,
) *LifecycleSweeper {
	return &LifecycleSweeper{
		repo:      repo,
		publisher: publisher,
		cache:     cache,
		logger:    logger,
		interval:  interval,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps immediately and then on every tick until the context is
// cancelled.
func (s *LifecycleSweeper) Run(ctx context.Context) {
	s.logger.Info("lifecycle sweeper started",
		slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lifecycle sweeper stopped")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *LifecycleSweeper) sweepOnce(ctx context.Context) {
	if _, err := s.Sweep(ctx, s.now()); err != nil {
		s.logger.ErrorContext(ctx, "lifecycle sweep failed",
			slog.String("error", err.Error()))
	}
}

// Sweep advances every due promotion toward the state its schedule implies
// at the given instant. It returns the number of transitions performed by
// this sweeper (transitions another replica already made are not counted and
// emit nothing here).
func (s *LifecycleSweeper) Sweep(ctx context.Context, at time.Time) (int, error) {
	due, err := s.repo.ListDuePromotions(ctx, at)
	if err != nil {
		return 0, err
	}

	transitions := 0
	for i := range due {
		transitions += s.advance(ctx, &due[i], at)
	}

	if transitions > 0 && s.cache != nil {
		s.cache.InvalidateAll(ctx)
	}
	return transitions, nil
}

// advance steps one promotion through the state chain until it reaches the
// schedule-implied state. A promotion created with its whole window in the
// past passes through active on the way to ended, so both lifecycle events
// still fire.
func (s *LifecycleSweeper) advance(ctx context.Context, p *domain.Promotion, at time.Time) int {
	target := p.StateAt(at)
	current := p.LifecycleState
	transitions := 0

	for current != target {
		next, ok := domain.NextState(current)
		if !ok {
			break
		}

		ev := &domain.PromotionEvent{
			ID:          uuid.NewString(),
			PromotionID: p.ID,
			Type:        lifecycleEventType(next),
			Date:        at,
		}
		won, err := s.repo.TransitionState(ctx, p.ID, current, next, ev)
		if err != nil {
			s.logger.ErrorContext(ctx, "lifecycle transition failed",
				slog.String("promotion_id", p.ID),
				slog.String("from", string(current)),
				slog.String("to", string(next)),
				slog.String("error", err.Error()))
			return transitions
		}
		current = next

		if !won {
			continue
		}
		transitions++
		lifecycleTransitionsTotal.WithLabelValues(string(next)).Inc()
		p.LifecycleState = next

		s.logger.InfoContext(ctx, "promotion lifecycle transition",
			slog.String("promotion_id", p.ID),
			slog.String("to", string(next)))

		if s.publisher == nil {
			continue
		}
		var pubErr error
		switch next {
		case domain.LifecycleStateActive:
			pubErr = s.publisher.PromotionStarted(ctx, p)
		case domain.LifecycleStateEnded:
			pubErr = s.publisher.PromotionEnded(ctx, p)
		}
		if pubErr != nil {
			s.logger.ErrorContext(ctx, "lifecycle event publish failed",
				slog.String("promotion_id", p.ID),
				slog.String("error", pubErr.Error()))
		}
	}

	return transitions
}

func lifecycleEventType(to domain.LifecycleState) string {
	if to == domain.LifecycleStateEnded {
		return domain.EventPromotionEnded
	}
	return domain.EventPromotionStarted
}
