package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/szczecha/saleor/internal/domain"
	"github.com/szczecha/saleor/internal/repository"
	apperrors "github.com/szczecha/saleor/pkg/errors"
	"github.com/szczecha/saleor/pkg/logger"
)

var (
	testNow    = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	testUserID = "3d2c1b0a-9e8f-4a7b-8c6d-5e4f3a2b1c0d"
)

func testLogger() *slog.Logger {
	return logger.NewWithWriter("promotion-engine-test", "error", io.Discard)
}

func setupPromotionService(t *testing.T) (*PromotionService, *mockPromotionRepo, *mockChannelRepo, *mockPublisher, *mockRuleCache) {
	t.Helper()
	repo := new(mockPromotionRepo)
	channels := new(mockChannelRepo)
	publisher := new(mockPublisher)
	cache := new(mockRuleCache)
	svc := NewPromotionService(repo, channels, publisher, cache, testLogger())
	svc.now = func() time.Time { return testNow }
	return svc, repo, channels, publisher, cache
}

func userActor() Actor {
	return Actor{UserID: &testUserID}
}

func TestCreatePromotion(t *testing.T) {
	svc, repo, channels, publisher, cache := setupPromotionService(t)
	start := testNow.AddDate(0, 0, 1)

	channels.On("MissingChannels", mock.Anything, []string{"chan-1"}).Return([]string(nil), nil)

	var capturedEvent *domain.PromotionEvent
	repo.On("CreatePromotion", mock.Anything, mock.AnythingOfType("*domain.Promotion"), mock.AnythingOfType("*domain.PromotionEvent")).
		Run(func(args mock.Arguments) {
			capturedEvent = args.Get(2).(*domain.PromotionEvent)
		}).
		Return(nil)
	publisher.On("PromotionCreated", mock.Anything, mock.AnythingOfType("*domain.Promotion")).Return(nil)
	cache.On("Invalidate", mock.Anything, []string{"chan-1"}).Return()

	p, err := svc.CreatePromotion(context.Background(), CreatePromotionInput{
		Name:      "Summer Sale",
		StartDate: &start,
		Rules: []CreateRuleInput{{
			Name:               "20% off category 7",
			CataloguePredicate: domain.CataloguePredicate{CategoryIDs: []string{"7"}},
			RewardValueType:    domain.RewardValueTypePercentage,
			RewardValue:        decimal.NewFromInt(20),
			ChannelIDs:         []string{"chan-1"},
		}},
		Actor: userActor(),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, domain.LifecycleStateScheduled, p.LifecycleState)
	require.Len(t, p.Rules, 1)
	assert.Equal(t, p.ID, p.Rules[0].PromotionID)

	require.NotNil(t, capturedEvent)
	assert.Equal(t, domain.EventPromotionCreated, capturedEvent.Type)
	assert.Equal(t, p.ID, capturedEvent.PromotionID)
	require.NotNil(t, capturedEvent.UserID)
	assert.Equal(t, testUserID, *capturedEvent.UserID)
	assert.Nil(t, capturedEvent.AppID)

	repo.AssertExpectations(t)
	publisher.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestCreatePromotionInvalidSchedule(t *testing.T) {
	svc, repo, _, _, _ := setupPromotionService(t)

	start := testNow
	end := testNow.Add(-time.Hour)
	_, err := svc.CreatePromotion(context.Background(), CreatePromotionInput{
		Name:      "Backwards",
		StartDate: &start,
		EndDate:   &end,
		Actor:     userActor(),
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	repo.AssertNotCalled(t, "CreatePromotion", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreatePromotionUnknownChannel(t *testing.T) {
	svc, repo, channels, _, _ := setupPromotionService(t)

	channels.On("MissingChannels", mock.Anything, []string{"chan-ghost"}).
		Return([]string{"chan-ghost"}, nil)

	_, err := svc.CreatePromotion(context.Background(), CreatePromotionInput{
		Name: "Ghost",
		Rules: []CreateRuleInput{{
			Name:               "r",
			CataloguePredicate: domain.CataloguePredicate{ProductIDs: []string{"p1"}},
			RewardValueType:    domain.RewardValueTypeFixed,
			RewardValue:        decimal.NewFromInt(5),
			ChannelIDs:         []string{"chan-ghost"},
		}},
		Actor: userActor(),
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Contains(t, err.Error(), "chan-ghost")
	repo.AssertNotCalled(t, "CreatePromotion", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreatePromotionRejectsDualActor(t *testing.T) {
	svc, _, _, _, _ := setupPromotionService(t)

	appID := "app-1"
	_, err := svc.CreatePromotion(context.Background(), CreatePromotionInput{
		Name:  "Dual",
		Actor: Actor{UserID: &testUserID, AppID: &appID},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestUpdatePromotionPublishFailureIsNotFatal(t *testing.T) {
	svc, repo, _, publisher, cache := setupPromotionService(t)

	existing := &domain.Promotion{
		ID:             "promo-1",
		Name:           "Old name",
		StartDate:      testNow.AddDate(0, 0, -1),
		LifecycleState: domain.LifecycleStateActive,
		Rules: []domain.PromotionRule{{
			ID:         "rule-1",
			ChannelIDs: []string{"chan-1"},
		}},
	}
	repo.On("GetPromotion", mock.Anything, "promo-1").Return(existing, nil)
	repo.On("UpdatePromotion", mock.Anything, mock.AnythingOfType("*domain.Promotion"), mock.AnythingOfType("*domain.PromotionEvent")).Return(nil)
	publisher.On("PromotionUpdated", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	cache.On("Invalidate", mock.Anything, []string{"chan-1"}).Return()

	name := "New name"
	p, err := svc.UpdatePromotion(context.Background(), "promo-1", UpdatePromotionInput{
		Name:  &name,
		Actor: userActor(),
	})
	require.NoError(t, err)
	assert.Equal(t, "New name", p.Name)
	assert.Equal(t, testNow, p.UpdatedAt)
	publisher.AssertExpectations(t)
}

func TestUpdatePromotionConflictPropagates(t *testing.T) {
	svc, repo, _, _, _ := setupPromotionService(t)

	repo.On("GetPromotion", mock.Anything, "promo-1").Return(&domain.Promotion{
		ID:        "promo-1",
		StartDate: testNow,
	}, nil)
	repo.On("UpdatePromotion", mock.Anything, mock.Anything, mock.Anything).
		Return(apperrors.Conflict("promotion is being modified, retry"))

	name := "x"
	_, err := svc.UpdatePromotion(context.Background(), "promo-1", UpdatePromotionInput{
		Name:  &name,
		Actor: userActor(),
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestUpdateRuleRejectsPercentageOverHundred(t *testing.T) {
	svc, repo, _, _, _ := setupPromotionService(t)

	repo.On("GetRule", mock.Anything, "rule-1").Return(&domain.PromotionRule{
		ID:              "rule-1",
		PromotionID:     "promo-1",
		RewardValueType: domain.RewardValueTypePercentage,
		RewardValue:     decimal.NewFromInt(20),
		ChannelIDs:      []string{},
	}, nil)

	over := decimal.NewFromInt(150)
	_, err := svc.UpdateRule(context.Background(), "rule-1", UpdateRuleInput{
		RewardValue: &over,
		Actor:       userActor(),
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	repo.AssertNotCalled(t, "UpdateRule", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateRuleInvalidatesOldAndNewChannels(t *testing.T) {
	svc, repo, channels, publisher, cache := setupPromotionService(t)

	repo.On("GetRule", mock.Anything, "rule-1").Return(&domain.PromotionRule{
		ID:                 "rule-1",
		PromotionID:        "promo-1",
		CataloguePredicate: domain.CataloguePredicate{ProductIDs: []string{"p1"}},
		RewardValueType:    domain.RewardValueTypeFixed,
		RewardValue:        decimal.NewFromInt(5),
		ChannelIDs:         []string{"chan-old"},
	}, nil)
	channels.On("MissingChannels", mock.Anything, []string{"chan-new"}).Return([]string(nil), nil)
	repo.On("UpdateRule", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	publisher.On("RuleUpdated", mock.Anything, mock.Anything).Return(nil)
	cache.On("Invalidate", mock.Anything, []string{"chan-old", "chan-new"}).Return()

	rule, err := svc.UpdateRule(context.Background(), "rule-1", UpdateRuleInput{
		ChannelIDs: []string{"chan-new"},
		Actor:      userActor(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"chan-new"}, rule.ChannelIDs)
	cache.AssertExpectations(t)
}

func TestDeleteRuleRecordsRuleID(t *testing.T) {
	svc, repo, _, publisher, cache := setupPromotionService(t)

	repo.On("GetRule", mock.Anything, "rule-1").Return(&domain.PromotionRule{
		ID:          "rule-1",
		PromotionID: "promo-1",
		ChannelIDs:  []string{"chan-1"},
	}, nil)

	var capturedEvent *domain.PromotionEvent
	repo.On("DeleteRule", mock.Anything, "rule-1", mock.AnythingOfType("*domain.PromotionEvent")).
		Run(func(args mock.Arguments) {
			capturedEvent = args.Get(2).(*domain.PromotionEvent)
		}).
		Return(nil)
	publisher.On("RuleDeleted", mock.Anything, mock.Anything).Return(nil)
	cache.On("Invalidate", mock.Anything, []string{"chan-1"}).Return()

	err := svc.DeleteRule(context.Background(), "rule-1", userActor())
	require.NoError(t, err)

	require.NotNil(t, capturedEvent)
	assert.Equal(t, domain.EventRuleDeleted, capturedEvent.Type)
	require.NotNil(t, capturedEvent.RuleID)
	assert.Equal(t, "rule-1", *capturedEvent.RuleID)
}

func TestListEventsUnknownPromotion(t *testing.T) {
	svc, repo, _, _, _ := setupPromotionService(t)

	repo.On("GetPromotion", mock.Anything, "missing").
		Return(nil, apperrors.NotFound("promotion", "missing"))

	_, err := svc.ListEvents(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	repo.AssertNotCalled(t, "ListEvents", mock.Anything, mock.Anything)
}

func TestListPromotionsRejectsUnknownState(t *testing.T) {
	svc, repo, _, _, _ := setupPromotionService(t)

	bogus := "archived"
	_, _, err := svc.ListPromotions(context.Background(), repository.PromotionFilter{LifecycleState: &bogus})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	repo.AssertNotCalled(t, "ListPromotions", mock.Anything, mock.Anything)
}
