package repository

import (
	"context"
	"time"

	"github.com/szczecha/saleor/internal/domain"
)

// PromotionFilter defines filter criteria for listing promotions.
type PromotionFilter struct {
	LifecycleState *string
	Page           int
	PerPage        int
}

// PromotionRepository is the rule store: persistence for promotions, their
// rules, and their append-only event logs.
//
// Every mutating method takes the event to append so the state change and
// its event land in one transaction. Mutations that target an existing
// promotion lock its row for the duration of the transaction; losing the
// lock race surfaces as a Conflict error.
type PromotionRepository interface {
	// CreatePromotion inserts a promotion with its initial rules and a
	// promotion_created event.
	CreatePromotion(ctx context.Context, p *domain.Promotion, ev *domain.PromotionEvent) error

	// GetPromotion retrieves a promotion with its rules.
	GetPromotion(ctx context.Context, id string) (*domain.Promotion, error)

	// ListPromotions returns promotions matching the filter (without rules)
	// along with the total count.
	ListPromotions(ctx context.Context, filter PromotionFilter) ([]domain.Promotion, int, error)

	// UpdatePromotion persists promotion field changes and appends ev.
	UpdatePromotion(ctx context.Context, p *domain.Promotion, ev *domain.PromotionEvent) error

	// DeletePromotion removes a promotion; rules and events cascade.
	DeletePromotion(ctx context.Context, id string) error

	// CreateRule inserts a rule under its promotion and appends ev.
	CreateRule(ctx context.Context, rule *domain.PromotionRule, ev *domain.PromotionEvent) error

	// GetRule retrieves a single rule with its channel scope.
	GetRule(ctx context.Context, id string) (*domain.PromotionRule, error)

	// UpdateRule persists rule field changes (including channel scope) and
	// appends ev.
	UpdateRule(ctx context.Context, rule *domain.PromotionRule, ev *domain.PromotionEvent) error

	// DeleteRule removes a rule and appends ev to its promotion's log.
	DeleteRule(ctx context.Context, id string, ev *domain.PromotionEvent) error

	// ListEvents returns a promotion's event log, oldest first.
	ListEvents(ctx context.Context, promotionID string) ([]domain.PromotionEvent, error)

	// ListActiveRules returns the rules whose promotion's [start, end)
	// interval contains at and whose channel scope includes channelID, in a
	// stable order (promotion creation, then rule creation, then rule id).
	ListActiveRules(ctx context.Context, channelID string, at time.Time) ([]domain.PromotionRule, error)

	// ListDuePromotions returns promotions whose stored lifecycle state lags
	// the state their schedule implies at the given instant.
	ListDuePromotions(ctx context.Context, at time.Time) ([]domain.Promotion, error)

	// TransitionState advances a promotion's stored lifecycle state from
	// "from" to "to" and appends ev, but only if the stored state still
	// equals "from". It reports whether this call won the transition; a
	// false return means another sweep got there first and no event was
	// appended.
	TransitionState(ctx context.Context, promotionID string, from, to domain.LifecycleState, ev *domain.PromotionEvent) (bool, error)
}

// ChannelRepository provides read access to sales channels. Rules reference
// channels by identity only.
type ChannelRepository interface {
	// ListChannels returns all channels ordered by slug.
	ListChannels(ctx context.Context) ([]domain.Channel, error)

	// GetChannel retrieves a channel by id.
	GetChannel(ctx context.Context, id string) (*domain.Channel, error)

	// MissingChannels returns which of the given IDs do not exist.
	MissingChannels(ctx context.Context, ids []string) ([]string, error)
}
