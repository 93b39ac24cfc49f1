package service

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/szczecha/saleor/internal/domain"
	"github.com/szczecha/saleor/internal/repository"
)

type mockPromotionRepo struct {
	mock.Mock
}

func (m *mockPromotionRepo) CreatePromotion(ctx context.Context, p *domain.Promotion, ev *domain.PromotionEvent) error {
	return m.Called(ctx, p, ev).Error(0)
}

func (m *mockPromotionRepo) GetPromotion(ctx context.Context, id string) (*domain.Promotion, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Promotion), args.Error(1)
}

func (m *mockPromotionRepo) ListPromotions(ctx context.Context, filter repository.PromotionFilter) ([]domain.Promotion, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).([]domain.Promotion), args.Int(1), args.Error(2)
}

func (m *mockPromotionRepo) UpdatePromotion(ctx context.Context, p *domain.Promotion, ev *domain.PromotionEvent) error {
	return m.Called(ctx, p, ev).Error(0)
}

func (m *mockPromotionRepo) DeletePromotion(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockPromotionRepo) CreateRule(ctx context.Context, rule *domain.PromotionRule, ev *domain.PromotionEvent) error {
	return m.Called(ctx, rule, ev).Error(0)
}

func (m *mockPromotionRepo) GetRule(ctx context.Context, id string) (*domain.PromotionRule, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.PromotionRule), args.Error(1)
}

func (m *mockPromotionRepo) UpdateRule(ctx context.Context, rule *domain.PromotionRule, ev *domain.PromotionEvent) error {
	return m.Called(ctx, rule, ev).Error(0)
}

func (m *mockPromotionRepo) DeleteRule(ctx context.Context, id string, ev *domain.PromotionEvent) error {
	return m.Called(ctx, id, ev).Error(0)
}

func (m *mockPromotionRepo) ListEvents(ctx context.Context, promotionID string) ([]domain.PromotionEvent, error) {
	args := m.Called(ctx, promotionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PromotionEvent), args.Error(1)
}

func (m *mockPromotionRepo) ListActiveRules(ctx context.Context, channelID string, at time.Time) ([]domain.PromotionRule, error) {
	args := m.Called(ctx, channelID, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.PromotionRule), args.Error(1)
}

func (m *mockPromotionRepo) ListDuePromotions(ctx context.Context, at time.Time) ([]domain.Promotion, error) {
	args := m.Called(ctx, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Promotion), args.Error(1)
}

func (m *mockPromotionRepo) TransitionState(ctx context.Context, promotionID string, from, to domain.LifecycleState, ev *domain.PromotionEvent) (bool, error) {
	args := m.Called(ctx, promotionID, from, to, ev)
	return args.Bool(0), args.Error(1)
}

type mockChannelRepo struct {
	mock.Mock
}

func (m *mockChannelRepo) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Channel), args.Error(1)
}

func (m *mockChannelRepo) GetChannel(ctx context.Context, id string) (*domain.Channel, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Channel), args.Error(1)
}

func (m *mockChannelRepo) MissingChannels(ctx context.Context, ids []string) ([]string, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PromotionCreated(ctx context.Context, promo *domain.Promotion) error {
	return m.Called(ctx, promo).Error(0)
}

func (m *mockPublisher) PromotionUpdated(ctx context.Context, promo *domain.Promotion) error {
	return m.Called(ctx, promo).Error(0)
}

func (m *mockPublisher) PromotionDeleted(ctx context.Context, promo *domain.Promotion) error {
	return m.Called(ctx, promo).Error(0)
}

func (m *mockPublisher) PromotionStarted(ctx context.Context, promo *domain.Promotion) error {
	return m.Called(ctx, promo).Error(0)
}

func (m *mockPublisher) PromotionEnded(ctx context.Context, promo *domain.Promotion) error {
	return m.Called(ctx, promo).Error(0)
}

func (m *mockPublisher) RuleCreated(ctx context.Context, rule *domain.PromotionRule) error {
	return m.Called(ctx, rule).Error(0)
}

func (m *mockPublisher) RuleUpdated(ctx context.Context, rule *domain.PromotionRule) error {
	return m.Called(ctx, rule).Error(0)
}

func (m *mockPublisher) RuleDeleted(ctx context.Context, rule *domain.PromotionRule) error {
	return m.Called(ctx, rule).Error(0)
}

type mockRuleCache struct {
	mock.Mock
}

func (m *mockRuleCache) Get(ctx context.Context, channelID string) ([]domain.PromotionRule, bool) {
	args := m.Called(ctx, channelID)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).([]domain.PromotionRule), args.Bool(1)
}

func (m *mockRuleCache) Set(ctx context.Context, channelID string, rules []domain.PromotionRule) {
	m.Called(ctx, channelID, rules)
}

func (m *mockRuleCache) Invalidate(ctx context.Context, channelIDs ...string) {
	m.Called(ctx, channelIDs)
}

func (m *mockRuleCache) InvalidateAll(ctx context.Context) {
	m.Called(ctx)
}
