package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/szczecha/saleor/pkg/errors"
)

// RewardValueType says whether a rule's discount is a fixed currency amount
// or a percentage of the price.
type RewardValueType string

const (
	RewardValueTypeFixed      RewardValueType = "fixed"
	RewardValueTypePercentage RewardValueType = "percentage"
)

// IsValid checks whether the value is a known reward value type.
func (t RewardValueType) IsValid() bool {
	return t == RewardValueTypeFixed || t == RewardValueTypePercentage
}

// LifecycleState is the promotion's position in its scheduled lifetime.
type LifecycleState string

const (
	LifecycleStateScheduled LifecycleState = "scheduled"
	LifecycleStateActive    LifecycleState = "active"
	LifecycleStateEnded     LifecycleState = "ended" // terminal
)

// IsValid checks whether the value is a known lifecycle state.
func (s LifecycleState) IsValid() bool {
	return s == LifecycleStateScheduled || s == LifecycleStateActive || s == LifecycleStateEnded
}

// NextState returns the successor in the scheduled → active → ended chain,
// or false for the terminal state.
func NextState(s LifecycleState) (LifecycleState, bool) {
	switch s {
	case LifecycleStateScheduled:
		return LifecycleStateActive, true
	case LifecycleStateActive:
		return LifecycleStateEnded, true
	default:
		return s, false
	}
}

// Promotion groups discount rules under a shared schedule. It exclusively
// owns its rules and its event log; deleting a promotion removes both.
type Promotion struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        *time.Time      `json:"end_date,omitempty"`
	LifecycleState LifecycleState  `json:"lifecycle_state"`
	Rules          []PromotionRule `json:"rules"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// StateAt derives the lifecycle state at the given instant from the
// promotion's schedule. The interval is [start, end): a promotion is active
// at its start instant and ended at its end instant. An unset end date means
// the promotion never ends on its own.
func (p *Promotion) StateAt(t time.Time) LifecycleState {
	if t.Before(p.StartDate) {
		return LifecycleStateScheduled
	}
	if p.EndDate != nil && !t.Before(*p.EndDate) {
		return LifecycleStateEnded
	}
	return LifecycleStateActive
}

// ValidateSchedule checks the date-ordering invariant: the end date, when
// set, must be strictly after the start date.
func (p *Promotion) ValidateSchedule() error {
	if p.EndDate != nil && !p.EndDate.After(p.StartDate) {
		return apperrors.InvalidInput("end date must be after start date")
	}
	return nil
}

// PromotionRule scopes a reward to the catalogue items matching its predicate
// within the channels it lists. Channels are referenced by identity only.
type PromotionRule struct {
	ID                 string             `json:"id"`
	PromotionID        string             `json:"promotion_id"`
	Name               string             `json:"name"`
	Description        string             `json:"description,omitempty"`
	CataloguePredicate CataloguePredicate `json:"catalogue_predicate"`
	RewardValueType    RewardValueType    `json:"reward_value_type"`
	RewardValue        decimal.Decimal    `json:"reward_value"`
	ChannelIDs         []string           `json:"channel_ids"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// ValidateReward checks the reward invariants: the value must be
// non-negative and a percentage must not exceed 100.
func (r *PromotionRule) ValidateReward() error {
	if !r.RewardValueType.IsValid() {
		return apperrors.InvalidInput(fmt.Sprintf("invalid reward value type %q", r.RewardValueType))
	}
	if r.RewardValue.IsNegative() {
		return apperrors.InvalidInput("reward value must not be negative")
	}
	if r.RewardValueType == RewardValueTypePercentage && r.RewardValue.GreaterThan(decimal.NewFromInt(100)) {
		return apperrors.InvalidInput("percentage reward value must not exceed 100")
	}
	return nil
}

var oneHundred = decimal.NewFromInt(100)

// Discount returns the discount amount this rule grants on basePrice,
// rounded to two decimal places. A fixed reward is capped at the base price
// so the resulting price never goes below zero.
func (r *PromotionRule) Discount(basePrice decimal.Decimal) decimal.Decimal {
	switch r.RewardValueType {
	case RewardValueTypeFixed:
		if r.RewardValue.GreaterThan(basePrice) {
			return basePrice
		}
		return r.RewardValue.Round(2)
	case RewardValueTypePercentage:
		return basePrice.Mul(r.RewardValue).Div(oneHundred).Round(2)
	default:
		return decimal.Zero
	}
}

// Channel is a sales context with its own currency and country. The engine
// only references channels by identity; their catalog visibility lives
// elsewhere.
type Channel struct {
	ID           string    `json:"id"`
	Slug         string    `json:"slug"`
	Name         string    `json:"name"`
	CurrencyCode string    `json:"currency_code"`
	CountryCode  string    `json:"country_code"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}
