package domain

import (
	"time"

	apperrors "github.com/szczecha/saleor/pkg/errors"
)

// Promotion event type constants. Administrative mutations append the first
// five synchronously; the lifecycle sweep emits the last two.
const (
	EventPromotionCreated = "promotion_created"
	EventPromotionUpdated = "promotion_updated"
	EventRuleCreated      = "rule_created"
	EventRuleUpdated      = "rule_updated"
	EventRuleDeleted      = "rule_deleted"
	EventPromotionStarted = "promotion_start" // asymmetric spelling is intentional
	EventPromotionEnded   = "promotion_ended"
)

// PromotionEvent is one entry in a promotion's append-only history. Events
// are immutable once created. The actor is either a user or a service app,
// never both; lifecycle events carry no actor.
type PromotionEvent struct {
	ID          string    `json:"id"`
	PromotionID string    `json:"promotion_id"`
	RuleID      *string   `json:"rule_id,omitempty"`
	Type        string    `json:"type"`
	UserID      *string   `json:"user_id,omitempty"`
	AppID       *string   `json:"app_id,omitempty"`
	Date        time.Time `json:"date"`
}

// Validate enforces actor exclusivity.
func (e *PromotionEvent) Validate() error {
	if e.UserID != nil && e.AppID != nil {
		return apperrors.InvalidInput("event actor must be a user or an app, not both")
	}
	return nil
}
