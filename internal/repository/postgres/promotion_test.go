package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szczecha/saleor/internal/domain"
	"github.com/szczecha/saleor/internal/repository"
	"github.com/szczecha/saleor/pkg/database"
	apperrors "github.com/szczecha/saleor/pkg/errors"
)

func setupPromotionRepo(t *testing.T) (*PromotionRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPromotionRepository(mock), mock
}

func setupChannelRepo(t *testing.T) (*ChannelRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewChannelRepository(mock), mock
}

var (
	testTime  = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	testActor = "7f6b8f0a-5b5e-4b1e-bb7b-1f2e3d4c5b6a"
)

func promotionColumns() []string {
	return []string{
		"id", "name", "description", "start_date", "end_date",
		"lifecycle_state", "created_at", "updated_at",
	}
}

func ruleColumns() []string {
	return []string{
		"id", "promotion_id", "name", "description", "catalogue_predicate",
		"reward_value_type", "reward_value", "created_at", "updated_at",
	}
}

func predicateJSON(t *testing.T, p domain.CataloguePredicate) []byte {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return b
}

func TestGetPromotion(t *testing.T) {
	repo, mock := setupPromotionRepo(t)
	end := testTime.AddDate(0, 1, 0)

	mock.ExpectQuery(`SELECT id, name, description, start_date, end_date, lifecycle_state`).
		WithArgs("promo-1").
		WillReturnRows(pgxmock.NewRows(promotionColumns()).
			AddRow("promo-1", "Summer Sale", "20% off summer", testTime, &end,
				"active", testTime, testTime))

	mock.ExpectQuery(`SELECT id, promotion_id, name, description, catalogue_predicate`).
		WithArgs("promo-1").
		WillReturnRows(pgxmock.NewRows(ruleColumns()).
			AddRow("rule-1", "promo-1", "Summer rule", "",
				predicateJSON(t, domain.CataloguePredicate{CategoryIDs: []string{"7"}}),
				"percentage", decimal.NewFromInt(20), testTime, testTime))

	mock.ExpectQuery(`SELECT rule_id, channel_id FROM promotion_rule_channels`).
		WithArgs([]string{"rule-1"}).
		WillReturnRows(pgxmock.NewRows([]string{"rule_id", "channel_id"}).
			AddRow("rule-1", "chan-1"))

	p, err := repo.GetPromotion(context.Background(), "promo-1")
	require.NoError(t, err)
	assert.Equal(t, "Summer Sale", p.Name)
	assert.Equal(t, domain.LifecycleStateActive, p.LifecycleState)
	require.Len(t, p.Rules, 1)
	assert.Equal(t, []string{"7"}, p.Rules[0].CataloguePredicate.CategoryIDs)
	assert.Equal(t, []string{"chan-1"}, p.Rules[0].ChannelIDs)
	assert.True(t, p.Rules[0].RewardValue.Equal(decimal.NewFromInt(20)))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPromotionNotFound(t *testing.T) {
	repo, mock := setupPromotionRepo(t)

	mock.ExpectQuery(`SELECT id, name, description`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(promotionColumns()))

	_, err := repo.GetPromotion(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePromotion(t *testing.T) {
	repo, mock := setupPromotionRepo(t)

	p := &domain.Promotion{
		ID:             "promo-1",
		Name:           "Summer Sale",
		StartDate:      testTime,
		LifecycleState: domain.LifecycleStateScheduled,
		Rules: []domain.PromotionRule{{
			ID:                 "rule-1",
			PromotionID:        "promo-1",
			Name:               "Summer rule",
			CataloguePredicate: domain.CataloguePredicate{ProductIDs: []string{"p1"}},
			RewardValueType:    domain.RewardValueTypePercentage,
			RewardValue:        decimal.NewFromInt(10),
			ChannelIDs:         []string{"chan-1"},
			CreatedAt:          testTime,
			UpdatedAt:          testTime,
		}},
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
	ev := &domain.PromotionEvent{
		ID:          "ev-1",
		PromotionID: "promo-1",
		Type:        domain.EventPromotionCreated,
		UserID:      &testActor,
		Date:        testTime,
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO promotions`).
		WithArgs(p.ID, p.Name, p.Description, p.StartDate, p.EndDate,
			"scheduled", p.CreatedAt, p.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO promotion_rules`).
		WithArgs("rule-1", "promo-1", "Summer rule", "",
			predicateJSON(t, p.Rules[0].CataloguePredicate),
			"percentage", p.Rules[0].RewardValue, testTime, testTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO promotion_rule_channels`).
		WithArgs("rule-1", "chan-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO promotion_events`).
		WithArgs(ev.ID, ev.PromotionID, ev.RuleID, ev.Type, ev.UserID, ev.AppID, ev.Date).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.CreatePromotion(context.Background(), p, ev)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePromotionDuplicateID(t *testing.T) {
	repo, mock := setupPromotionRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO promotions`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})
	mock.ExpectRollback()

	err := repo.CreatePromotion(context.Background(),
		&domain.Promotion{ID: "promo-1"},
		&domain.PromotionEvent{ID: "ev-1", PromotionID: "promo-1", Type: domain.EventPromotionCreated, UserID: &testActor, Date: testTime})
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePromotionLeavesLifecycleStateAlone(t *testing.T) {
	repo, mock := setupPromotionRepo(t)

	p := &domain.Promotion{
		ID:             "promo-1",
		Name:           "Summer Sale",
		StartDate:      testTime,
		LifecycleState: domain.LifecycleStateScheduled,
		UpdatedAt:      testTime,
	}
	ev := &domain.PromotionEvent{
		ID:          "ev-2",
		PromotionID: "promo-1",
		Type:        domain.EventPromotionUpdated,
		UserID:      &testActor,
		Date:        testTime,
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM promotions WHERE id = \$1 FOR UPDATE NOWAIT`).
		WithArgs("promo-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("promo-1"))
	// Exactly six args: the update must not write lifecycle_state, which
	// belongs to TransitionState, or it could undo a concurrent sweep.
	mock.ExpectExec(`SET name = \$2, description = \$3, start_date = \$4, end_date = \$5,\s+updated_at = \$6`).
		WithArgs(p.ID, p.Name, p.Description, p.StartDate, p.EndDate, p.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO promotion_events`).
		WithArgs(ev.ID, ev.PromotionID, ev.RuleID, ev.Type, ev.UserID, ev.AppID, ev.Date).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.UpdatePromotion(context.Background(), p, ev)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePromotionLockConflict(t *testing.T) {
	repo, mock := setupPromotionRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM promotions WHERE id = \$1 FOR UPDATE NOWAIT`).
		WithArgs("promo-1").
		WillReturnError(&pgconn.PgError{Code: pgLockNotAvailable})
	mock.ExpectRollback()

	err := repo.UpdatePromotion(context.Background(),
		&domain.Promotion{ID: "promo-1"},
		&domain.PromotionEvent{ID: "ev-1", PromotionID: "promo-1", Type: domain.EventPromotionUpdated, UserID: &testActor, Date: testTime})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRuleNotFound(t *testing.T) {
	repo, mock := setupPromotionRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM promotions WHERE id = \$1 FOR UPDATE NOWAIT`).
		WithArgs("promo-1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("promo-1"))
	mock.ExpectExec(`DELETE FROM promotion_rules`).
		WithArgs("missing-rule").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	ruleID := "missing-rule"
	err := repo.DeleteRule(context.Background(), ruleID,
		&domain.PromotionEvent{ID: "ev-1", PromotionID: "promo-1", RuleID: &ruleID, Type: domain.EventRuleDeleted, UserID: &testActor, Date: testTime})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveRules(t *testing.T) {
	repo, mock := setupPromotionRepo(t)

	mock.ExpectQuery(`FROM promotion_rules r`).
		WithArgs("chan-1", testTime).
		WillReturnRows(pgxmock.NewRows(ruleColumns()).
			AddRow("rule-a", "promo-1", "first", "",
				predicateJSON(t, domain.CataloguePredicate{ProductIDs: []string{"p1"}}),
				"fixed", decimal.NewFromInt(5), testTime, testTime).
			AddRow("rule-b", "promo-2", "second", "",
				predicateJSON(t, domain.CataloguePredicate{CategoryIDs: []string{"7"}}),
				"percentage", decimal.NewFromInt(15), testTime, testTime))

	rules, err := repo.ListActiveRules(context.Background(), "chan-1", testTime)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "rule-a", rules[0].ID)
	assert.Equal(t, domain.RewardValueTypeFixed, rules[0].RewardValueType)
	assert.Equal(t, "rule-b", rules[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDuePromotions(t *testing.T) {
	repo, mock := setupPromotionRepo(t)
	end := testTime.Add(-time.Hour)

	mock.ExpectQuery(`FROM promotions`).
		WithArgs(testTime).
		WillReturnRows(pgxmock.NewRows(promotionColumns()).
			AddRow("promo-1", "Starting", "", testTime.Add(-time.Minute), nil,
				"scheduled", testTime, testTime).
			AddRow("promo-2", "Ending", "", testTime.AddDate(0, -1, 0), &end,
				"active", testTime, testTime))

	due, err := repo.ListDuePromotions(context.Background(), testTime)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, domain.LifecycleStateScheduled, due[0].LifecycleState)
	assert.Equal(t, domain.LifecycleStateActive, due[1].LifecycleState)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionState(t *testing.T) {
	repo, mock := setupPromotionRepo(t)

	ev := &domain.PromotionEvent{
		ID:          "ev-1",
		PromotionID: "promo-1",
		Type:        domain.EventPromotionStarted,
		Date:        testTime,
	}

	t.Run("wins the transition", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE promotions`).
			WithArgs("promo-1", "scheduled", "active", testTime).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`INSERT INTO promotion_events`).
			WithArgs(ev.ID, ev.PromotionID, ev.RuleID, ev.Type, ev.UserID, ev.AppID, ev.Date).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		won, err := repo.TransitionState(context.Background(), "promo-1",
			domain.LifecycleStateScheduled, domain.LifecycleStateActive, ev)
		require.NoError(t, err)
		assert.True(t, won)
	})

	t.Run("already transitioned emits nothing", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE promotions`).
			WithArgs("promo-1", "scheduled", "active", testTime).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectRollback()

		won, err := repo.TransitionState(context.Background(), "promo-1",
			domain.LifecycleStateScheduled, domain.LifecycleStateActive, ev)
		require.NoError(t, err)
		assert.False(t, won)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPromotionsFiltered(t *testing.T) {
	repo, mock := setupPromotionRepo(t)

	state := "active"
	mock.ExpectQuery(`FROM promotions`).
		WithArgs(state, 10, 10).
		WillReturnRows(pgxmock.NewRows(append(promotionColumns(), "total_count")).
			AddRow("promo-1", "Summer Sale", "", testTime, nil,
				"active", testTime, testTime, 23))

	promotions, total, err := repo.ListPromotions(context.Background(), repository.PromotionFilter{
		LifecycleState: &state,
		Page:           2,
		PerPage:        10,
	})
	require.NoError(t, err)
	require.Len(t, promotions, 1)
	assert.Equal(t, 23, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListEvents(t *testing.T) {
	repo, mock := setupPromotionRepo(t)
	ruleID := "rule-1"

	mock.ExpectQuery(`FROM promotion_events`).
		WithArgs("promo-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "promotion_id", "rule_id", "type", "user_id", "app_id", "date"}).
			AddRow("ev-1", "promo-1", nil, domain.EventPromotionCreated, &testActor, nil, testTime).
			AddRow("ev-2", "promo-1", &ruleID, domain.EventRuleCreated, &testActor, nil, testTime.Add(time.Minute)))

	events, err := repo.ListEvents(context.Background(), "promo-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventPromotionCreated, events[0].Type)
	require.NotNil(t, events[1].RuleID)
	assert.Equal(t, ruleID, *events[1].RuleID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMissingChannels(t *testing.T) {
	repo, mock := setupChannelRepo(t)

	mock.ExpectQuery(`SELECT id FROM channels`).
		WithArgs([]string{"chan-1", "chan-2", "chan-3"}).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).
			AddRow("chan-1").
			AddRow("chan-3"))

	missing, err := repo.MissingChannels(context.Background(), []string{"chan-1", "chan-2", "chan-3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"chan-2"}, missing)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChannel(t *testing.T) {
	repo, mock := setupChannelRepo(t)

	mock.ExpectQuery(`FROM channels`).
		WithArgs("chan-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "slug", "name", "currency_code", "country_code", "is_active", "created_at"}).
			AddRow("chan-1", "default-channel", "Default", "USD", "US", true, testTime))

	channel, err := repo.GetChannel(context.Background(), "chan-1")
	require.NoError(t, err)
	assert.Equal(t, "USD", channel.CurrencyCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChannelNotFound(t *testing.T) {
	repo, mock := setupChannelRepo(t)

	mock.ExpectQuery(`FROM channels`).
		WithArgs("chan-ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetChannel(context.Background(), "chan-ghost")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListChannels(t *testing.T) {
	repo, mock := setupChannelRepo(t)

	mock.ExpectQuery(`FROM channels`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "slug", "name", "currency_code", "country_code", "is_active", "created_at"}).
			AddRow("chan-1", "default-channel", "Default", "USD", "US", true, testTime).
			AddRow("chan-2", "channel-pln", "Poland", "PLN", "PL", true, testTime))

	channels, err := repo.ListChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "default-channel", channels[0].Slug)
	assert.Equal(t, "PLN", channels[1].CurrencyCode)
	assert.NoError(t, mock.ExpectationsWereMet())
}
