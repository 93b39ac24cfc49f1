package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/szczecha/saleor/internal/domain"
	"github.com/szczecha/saleor/internal/repository"
	apperrors "github.com/szczecha/saleor/pkg/errors"
)

// Actor identifies who performed an administrative mutation: a staff user or
// a service app, never both.
type Actor struct {
	UserID *string
	AppID  *string
}

func (a Actor) validate() error {
	if a.UserID != nil && a.AppID != nil {
		return apperrors.InvalidInput("actor must be a user or an app, not both")
	}
	return nil
}

// EventPublisher sends promotion domain events to the message broker.
type EventPublisher interface {
	PromotionCreated(ctx context.Context, promo *domain.Promotion) error
	PromotionUpdated(ctx context.Context, promo *domain.Promotion) error
	PromotionDeleted(ctx context.Context, promo *domain.Promotion) error
	PromotionStarted(ctx context.Context, promo *domain.Promotion) error
	PromotionEnded(ctx context.Context, promo *domain.Promotion) error
	RuleCreated(ctx context.Context, rule *domain.PromotionRule) error
	RuleUpdated(ctx context.Context, rule *domain.PromotionRule) error
	RuleDeleted(ctx context.Context, rule *domain.PromotionRule) error
}

// RuleInvalidator drops cached per-channel rule sets after mutations.
type RuleInvalidator interface {
	Invalidate(ctx context.Context, channelIDs ...string)
}

// CreateRuleInput carries the fields for a new promotion rule.
type CreateRuleInput struct {
	Name               string
	Description        string
	CataloguePredicate domain.CataloguePredicate
	RewardValueType    domain.RewardValueType
	RewardValue        decimal.Decimal
	ChannelIDs         []string
}

// CreatePromotionInput carries the fields for a new promotion.
type CreatePromotionInput struct {
	Name        string
	Description string
	StartDate   *time.Time
	EndDate     *time.Time
	Rules       []CreateRuleInput
	Actor       Actor
}

// UpdatePromotionInput carries partial promotion updates; nil fields are
// left unchanged.
type UpdatePromotionInput struct {
	Name        *string
	Description *string
	StartDate   *time.Time
	EndDate     *time.Time
	ClearEnd    bool
	Actor       Actor
}

// UpdateRuleInput carries partial rule updates; nil fields are left
// unchanged.
type UpdateRuleInput struct {
	Name               *string
	Description        *string
	CataloguePredicate *domain.CataloguePredicate
	RewardValueType    *domain.RewardValueType
	RewardValue        *decimal.Decimal
	ChannelIDs         []string
	Actor              Actor
}

// PromotionService implements the administrative operations on promotions
// and their rules. Every mutation appends a promotion event in the same
// transaction as the state change; broker publication and cache
// invalidation are best effort and never fail the request.
type PromotionService struct {
	repo      repository.PromotionRepository
	channels  repository.ChannelRepository
	publisher EventPublisher
	cache     RuleInvalidator
	logger    *slog.Logger
	now       func() time.Time
}

// NewPromotionService creates a promotion service.
func NewPromotionService(
	repo repository.PromotionRepository,
	channels repository.ChannelRepository,
	publisher EventPublisher,
	cache RuleInvalidator,
	logger *slog.Logger,
) *PromotionService {
	return &PromotionService{
		repo:      repo,
		channels:  channels,
		publisher: publisher,
		cache:     cache,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreatePromotion creates a promotion with its initial rules. The promotion
// always starts in the scheduled state; the lifecycle sweep activates it.
func (s *PromotionService) CreatePromotion(ctx context.Context, input CreatePromotionInput) (*domain.Promotion, error) {
	if err := input.Actor.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	start := now
	if input.StartDate != nil {
		start = input.StartDate.UTC()
	}

	p := &domain.Promotion{
		ID:             uuid.NewString(),
		Name:           input.Name,
		Description:    input.Description,
		StartDate:      start,
		EndDate:        normalizeEnd(input.EndDate),
		LifecycleState: domain.LifecycleStateScheduled,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := p.ValidateSchedule(); err != nil {
		return nil, err
	}

	var affected []string
	for _, ruleInput := range input.Rules {
		rule, err := s.buildRule(ctx, p.ID, ruleInput, now)
		if err != nil {
			return nil, err
		}
		p.Rules = append(p.Rules, *rule)
		affected = append(affected, rule.ChannelIDs...)
	}

	ev := s.newEvent(p.ID, nil, domain.EventPromotionCreated, input.Actor, now)
	if err := s.repo.CreatePromotion(ctx, p, ev); err != nil {
		return nil, err
	}

	s.publish(ctx, "promotion created", func() error { return s.publisher.PromotionCreated(ctx, p) })
	s.invalidate(ctx, affected)

	return p, nil
}

// GetPromotion retrieves a promotion with its rules.
func (s *PromotionService) GetPromotion(ctx context.Context, id string) (*domain.Promotion, error) {
	return s.repo.GetPromotion(ctx, id)
}

// ListPromotions returns promotions matching the filter and the total count.
func (s *PromotionService) ListPromotions(ctx context.Context, filter repository.PromotionFilter) ([]domain.Promotion, int, error) {
	if filter.LifecycleState != nil && !domain.LifecycleState(*filter.LifecycleState).IsValid() {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("unknown lifecycle state %q", *filter.LifecycleState))
	}
	return s.repo.ListPromotions(ctx, filter)
}

// UpdatePromotion applies partial field changes to a promotion. Editing the
// schedule of an ended promotion back into range does not resurrect it; the
// stored lifecycle state only moves forward via the sweep.
func (s *PromotionService) UpdatePromotion(ctx context.Context, id string, input UpdatePromotionInput) (*domain.Promotion, error) {
	if err := input.Actor.validate(); err != nil {
		return nil, err
	}

	p, err := s.repo.GetPromotion(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		p.Name = *input.Name
	}
	if input.Description != nil {
		p.Description = *input.Description
	}
	if input.StartDate != nil {
		p.StartDate = input.StartDate.UTC()
	}
	if input.ClearEnd {
		p.EndDate = nil
	} else if input.EndDate != nil {
		p.EndDate = normalizeEnd(input.EndDate)
	}
	if err := p.ValidateSchedule(); err != nil {
		return nil, err
	}

	now := s.now()
	p.UpdatedAt = now

	ev := s.newEvent(p.ID, nil, domain.EventPromotionUpdated, input.Actor, now)
	if err := s.repo.UpdatePromotion(ctx, p, ev); err != nil {
		return nil, err
	}

	s.publish(ctx, "promotion updated", func() error { return s.publisher.PromotionUpdated(ctx, p) })
	s.invalidate(ctx, ruleChannels(p.Rules))

	return p, nil
}

// DeletePromotion removes a promotion together with its rules and event log.
func (s *PromotionService) DeletePromotion(ctx context.Context, id string, actor Actor) error {
	if err := actor.validate(); err != nil {
		return err
	}

	p, err := s.repo.GetPromotion(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeletePromotion(ctx, id); err != nil {
		return err
	}

	s.publish(ctx, "promotion deleted", func() error { return s.publisher.PromotionDeleted(ctx, p) })
	s.invalidate(ctx, ruleChannels(p.Rules))

	return nil
}

// CreateRule adds a rule to an existing promotion.
func (s *PromotionService) CreateRule(ctx context.Context, promotionID string, input CreateRuleInput, actor Actor) (*domain.PromotionRule, error) {
	if err := actor.validate(); err != nil {
		return nil, err
	}

	now := s.now()
	rule, err := s.buildRule(ctx, promotionID, input, now)
	if err != nil {
		return nil, err
	}

	ev := s.newEvent(promotionID, &rule.ID, domain.EventRuleCreated, actor, now)
	if err := s.repo.CreateRule(ctx, rule, ev); err != nil {
		return nil, err
	}

	s.publish(ctx, "rule created", func() error { return s.publisher.RuleCreated(ctx, rule) })
	s.invalidate(ctx, rule.ChannelIDs)

	return rule, nil
}

// GetRule retrieves a single rule.
func (s *PromotionService) GetRule(ctx context.Context, id string) (*domain.PromotionRule, error) {
	return s.repo.GetRule(ctx, id)
}

// UpdateRule applies partial field changes to a rule. A non-nil ChannelIDs
// replaces the rule's channel scope.
func (s *PromotionService) UpdateRule(ctx context.Context, id string, input UpdateRuleInput) (*domain.PromotionRule, error) {
	if err := input.Actor.validate(); err != nil {
		return nil, err
	}

	rule, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	previousChannels := rule.ChannelIDs

	if input.Name != nil {
		rule.Name = *input.Name
	}
	if input.Description != nil {
		rule.Description = *input.Description
	}
	if input.CataloguePredicate != nil {
		rule.CataloguePredicate = *input.CataloguePredicate
	}
	if input.RewardValueType != nil {
		rule.RewardValueType = *input.RewardValueType
	}
	if input.RewardValue != nil {
		rule.RewardValue = *input.RewardValue
	}
	if input.ChannelIDs != nil {
		rule.ChannelIDs = input.ChannelIDs
	}

	if err := s.validateRule(ctx, rule); err != nil {
		return nil, err
	}

	now := s.now()
	rule.UpdatedAt = now

	ev := s.newEvent(rule.PromotionID, &rule.ID, domain.EventRuleUpdated, input.Actor, now)
	if err := s.repo.UpdateRule(ctx, rule, ev); err != nil {
		return nil, err
	}

	s.publish(ctx, "rule updated", func() error { return s.publisher.RuleUpdated(ctx, rule) })
	s.invalidate(ctx, append(previousChannels, rule.ChannelIDs...))

	return rule, nil
}

// DeleteRule removes a rule. The rule_deleted event retains the rule id.
func (s *PromotionService) DeleteRule(ctx context.Context, id string, actor Actor) error {
	if err := actor.validate(); err != nil {
		return err
	}

	rule, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return err
	}

	ev := s.newEvent(rule.PromotionID, &rule.ID, domain.EventRuleDeleted, actor, s.now())
	if err := s.repo.DeleteRule(ctx, id, ev); err != nil {
		return err
	}

	s.publish(ctx, "rule deleted", func() error { return s.publisher.RuleDeleted(ctx, rule) })
	s.invalidate(ctx, rule.ChannelIDs)

	return nil
}

// ListEvents returns a promotion's event log, oldest first. The promotion
// must exist.
func (s *PromotionService) ListEvents(ctx context.Context, promotionID string) ([]domain.PromotionEvent, error) {
	if _, err := s.repo.GetPromotion(ctx, promotionID); err != nil {
		return nil, err
	}
	return s.repo.ListEvents(ctx, promotionID)
}

func (s *PromotionService) buildRule(ctx context.Context, promotionID string, input CreateRuleInput, now time.Time) (*domain.PromotionRule, error) {
	rule := &domain.PromotionRule{
		ID:                 uuid.NewString(),
		PromotionID:        promotionID,
		Name:               input.Name,
		Description:        input.Description,
		CataloguePredicate: input.CataloguePredicate,
		RewardValueType:    input.RewardValueType,
		RewardValue:        input.RewardValue,
		ChannelIDs:         input.ChannelIDs,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if rule.ChannelIDs == nil {
		rule.ChannelIDs = []string{}
	}
	if err := s.validateRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *PromotionService) validateRule(ctx context.Context, rule *domain.PromotionRule) error {
	if err := rule.ValidateReward(); err != nil {
		return err
	}
	if err := rule.CataloguePredicate.Validate(); err != nil {
		return err
	}
	missing, err := s.channels.MissingChannels(ctx, rule.ChannelIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return apperrors.InvalidInput(fmt.Sprintf("unknown channels: %s", strings.Join(missing, ", ")))
	}
	return nil
}

func (s *PromotionService) newEvent(promotionID string, ruleID *string, eventType string, actor Actor, at time.Time) *domain.PromotionEvent {
	return &domain.PromotionEvent{
		ID:          uuid.NewString(),
		PromotionID: promotionID,
		RuleID:      ruleID,
		Type:        eventType,
		UserID:      actor.UserID,
		AppID:       actor.AppID,
		Date:        at,
	}
}

// publish sends a broker event, logging instead of failing: the database
// commit is the source of truth and consumers reconcile from it.
func (s *PromotionService) publish(ctx context.Context, what string, fn func() error) {
	if s.publisher == nil {
		return
	}
	if err := fn(); err != nil {
		s.logger.ErrorContext(ctx, "event publish failed",
			slog.String("event", what),
			slog.String("error", err.Error()))
	}
}

func (s *PromotionService) invalidate(ctx context.Context, channelIDs []string) {
	if s.cache == nil || len(channelIDs) == 0 {
		return
	}
	s.cache.Invalidate(ctx, dedupe(channelIDs)...)
}

func ruleChannels(rules []domain.PromotionRule) []string {
	var ids []string
	for _, rule := range rules {
		ids = append(ids, rule.ChannelIDs...)
	}
	return ids
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func normalizeEnd(end *time.Time) *time.Time {
	if end == nil {
		return nil
	}
	u := end.UTC()
	return &u
}
