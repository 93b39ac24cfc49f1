package event

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/szczecha/saleor/internal/domain"
	"github.com/szczecha/saleor/pkg/kafka"
	"github.com/szczecha/saleor/pkg/logger"
)

// Kafka topics for promotion domain events.
const (
	TopicPromotionCreated = "commerce.promotion.created"
	TopicPromotionUpdated = "commerce.promotion.updated"
	TopicPromotionDeleted = "commerce.promotion.deleted"
	TopicRuleCreated      = "commerce.promotion.rule-created"
	TopicRuleUpdated      = "commerce.promotion.rule-updated"
	TopicRuleDeleted      = "commerce.promotion.rule-deleted"
	TopicPromotionStarted = "commerce.promotion.started"
	TopicPromotionEnded   = "commerce.promotion.ended"
)

const (
	aggregateTypePromotion = "promotion"
	eventSource            = "promotion-engine"
)

// PromotionPayload is the body carried on promotion-level events.
type PromotionPayload struct {
	PromotionID    string     `json:"promotion_id"`
	Name           string     `json:"name"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	LifecycleState string     `json:"lifecycle_state"`
}

// RulePayload is the body carried on rule-level events.
type RulePayload struct {
	PromotionID     string          `json:"promotion_id"`
	RuleID          string          `json:"rule_id"`
	Name            string          `json:"name"`
	RewardValueType string          `json:"reward_value_type"`
	RewardValue     decimal.Decimal `json:"reward_value"`
	ChannelIDs      []string        `json:"channel_ids"`
}

// Publisher sends promotion domain events to Kafka.
type Publisher struct {
	producer *kafka.Producer
}

// NewPublisher creates a promotion event publisher.
func NewPublisher(producer *kafka.Producer) *Publisher {
	return &Publisher{producer: producer}
}

func (p *Publisher) publishPromotion(ctx context.Context, topic, eventType string, promo *domain.Promotion) error {
	payload := PromotionPayload{
		PromotionID:    promo.ID,
		Name:           promo.Name,
		StartDate:      promo.StartDate,
		EndDate:        promo.EndDate,
		LifecycleState: string(promo.LifecycleState),
	}
	ev, err := kafka.NewEvent(eventType, promo.ID, aggregateTypePromotion, eventSource, payload)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, topic, ev.WithCorrelationID(logger.CorrelationIDFromContext(ctx)))
}

func (p *Publisher) publishRule(ctx context.Context, topic, eventType string, rule *domain.PromotionRule) error {
	payload := RulePayload{
		PromotionID:     rule.PromotionID,
		RuleID:          rule.ID,
		Name:            rule.Name,
		RewardValueType: string(rule.RewardValueType),
		RewardValue:     rule.RewardValue,
		ChannelIDs:      rule.ChannelIDs,
	}
	ev, err := kafka.NewEvent(eventType, rule.PromotionID, aggregateTypePromotion, eventSource, payload)
	if err != nil {
		return err
	}
	return p.producer.Publish(ctx, topic, ev.WithCorrelationID(logger.CorrelationIDFromContext(ctx)))
}

// PromotionCreated publishes a promotion creation event.
func (p *Publisher) PromotionCreated(ctx context.Context, promo *domain.Promotion) error {
	return p.publishPromotion(ctx, TopicPromotionCreated, domain.EventPromotionCreated, promo)
}

// PromotionUpdated publishes a promotion update event.
func (p *Publisher) PromotionUpdated(ctx context.Context, promo *domain.Promotion) error {
	return p.publishPromotion(ctx, TopicPromotionUpdated, domain.EventPromotionUpdated, promo)
}

// PromotionDeleted publishes a promotion deletion event.
func (p *Publisher) PromotionDeleted(ctx context.Context, promo *domain.Promotion) error {
	return p.publishPromotion(ctx, TopicPromotionDeleted, "promotion_deleted", promo)
}

// PromotionStarted publishes a lifecycle activation event.
func (p *Publisher) PromotionStarted(ctx context.Context, promo *domain.Promotion) error {
	return p.publishPromotion(ctx, TopicPromotionStarted, domain.EventPromotionStarted, promo)
}

// PromotionEnded publishes a lifecycle completion event.
func (p *Publisher) PromotionEnded(ctx context.Context, promo *domain.Promotion) error {
	return p.publishPromotion(ctx, TopicPromotionEnded, domain.EventPromotionEnded, promo)
}

// RuleCreated publishes a rule creation event.
func (p *Publisher) RuleCreated(ctx context.Context, rule *domain.PromotionRule) error {
	return p.publishRule(ctx, TopicRuleCreated, domain.EventRuleCreated, rule)
}

// RuleUpdated publishes a rule update event.
func (p *Publisher) RuleUpdated(ctx context.Context, rule *domain.PromotionRule) error {
	return p.publishRule(ctx, TopicRuleUpdated, domain.EventRuleUpdated, rule)
}

// RuleDeleted publishes a rule deletion event.
func (p *Publisher) RuleDeleted(ctx context.Context, rule *domain.PromotionRule) error {
	return p.publishRule(ctx, TopicRuleDeleted, domain.EventRuleDeleted, rule)
}
