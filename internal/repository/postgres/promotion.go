package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/szczecha/saleor/internal/domain"
	"github.com/szczecha/saleor/internal/repository"
	"github.com/szczecha/saleor/pkg/database"
	apperrors "github.com/szczecha/saleor/pkg/errors"
)

// PostgreSQL error codes the repository branches on.
const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
)

// PromotionRepository implements repository.PromotionRepository using
// PostgreSQL. Mutations lock the promotion row with FOR UPDATE NOWAIT so two
// concurrent edits cannot interleave their event log entries; the loser gets
// a Conflict error and retries.
type PromotionRepository struct {
	pool database.DBTX
}

// NewPromotionRepository creates a PostgreSQL-backed promotion repository.
func NewPromotionRepository(pool database.DBTX) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// queryer is satisfied by both the pool and a transaction.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CreatePromotion inserts a promotion, its initial rules, and the
// promotion_created event in one transaction.
func (r *PromotionRepository) CreatePromotion(ctx context.Context, p *domain.Promotion, ev *domain.PromotionEvent) error {
	ctx, end := database.TraceQuery(ctx, "CreatePromotion", "INSERT INTO promotions")
	var err error
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create promotion: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO promotions (
			id, name, description, start_date, end_date, lifecycle_state,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err = tx.Exec(ctx, query,
		p.ID, p.Name, p.Description, p.StartDate, p.EndDate,
		string(p.LifecycleState), p.CreatedAt, p.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			err = apperrors.AlreadyExists("promotion", "id", p.ID)
			return err
		}
		err = fmt.Errorf("insert promotion: %w", err)
		return err
	}

	for i := range p.Rules {
		if err = insertRule(ctx, tx, &p.Rules[i]); err != nil {
			return err
		}
	}

	if err = insertEvent(ctx, tx, ev); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

// GetPromotion retrieves a promotion with its rules and their channel scopes.
func (r *PromotionRepository) GetPromotion(ctx context.Context, id string) (*domain.Promotion, error) {
	query := `
		SELECT id, name, description, start_date, end_date, lifecycle_state,
			   created_at, updated_at
		FROM promotions
		WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetPromotion", query)
	var err error
	defer func() { end(err) }()

	var p domain.Promotion
	var state string
	err = r.pool.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.Description, &p.StartDate, &p.EndDate, &state,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = apperrors.NotFound("promotion", id)
			return nil, err
		}
		err = fmt.Errorf("get promotion: %w", err)
		return nil, err
	}
	p.LifecycleState = domain.LifecycleState(state)

	p.Rules, err = r.loadRules(ctx, id)
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// ListPromotions returns promotions matching the filter (without rules) and
// the total count.
func (r *PromotionRepository) ListPromotions(ctx context.Context, filter repository.PromotionFilter) ([]domain.Promotion, int, error) {
	var (
		conditions []string
		args       []any
		argIndex   = 1
	)

	if filter.LifecycleState != nil {
		conditions = append(conditions, fmt.Sprintf("lifecycle_state = $%d", argIndex))
		args = append(args, *filter.LifecycleState)
		argIndex++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`
		SELECT id, name, description, start_date, end_date, lifecycle_state,
			   created_at, updated_at,
			   count(*) OVER() AS total_count
		FROM promotions
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`,
		whereClause, argIndex, argIndex+1,
	)

	ctx, end := database.TraceQuery(ctx, "ListPromotions", query)
	var err error
	defer func() { end(err) }()

	limit := filter.PerPage
	if limit <= 0 {
		limit = 20
	}
	offset := 0
	if filter.Page > 1 {
		offset = (filter.Page - 1) * limit
	}
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		err = fmt.Errorf("list promotions: %w", err)
		return nil, 0, err
	}
	defer rows.Close()

	var (
		promotions []domain.Promotion
		totalCount int
	)
	for rows.Next() {
		var p domain.Promotion
		var state string
		if err = rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.StartDate, &p.EndDate, &state,
			&p.CreatedAt, &p.UpdatedAt, &totalCount,
		); err != nil {
			err = fmt.Errorf("scan promotion row: %w", err)
			return nil, 0, err
		}
		p.LifecycleState = domain.LifecycleState(state)
		p.Rules = []domain.PromotionRule{}
		promotions = append(promotions, p)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterate promotions: %w", err)
		return nil, 0, err
	}

	return promotions, totalCount, nil
}

// UpdatePromotion persists promotion field changes and appends ev, holding
// the promotion row lock for the whole transaction.
func (r *PromotionRepository) UpdatePromotion(ctx context.Context, p *domain.Promotion, ev *domain.PromotionEvent) error {
	ctx, end := database.TraceQuery(ctx, "UpdatePromotion", "UPDATE promotions")
	var err error
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update promotion: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err = lockPromotion(ctx, tx, p.ID); err != nil {
		return err
	}

	// lifecycle_state stays untouched; after creation only TransitionState
	// writes it.
	query := `
		UPDATE promotions
		SET name = $2, description = $3, start_date = $4, end_date = $5,
			updated_at = $6
		WHERE id = $1`

	if _, err = tx.Exec(ctx, query,
		p.ID, p.Name, p.Description, p.StartDate, p.EndDate, p.UpdatedAt,
	); err != nil {
		err = fmt.Errorf("update promotion: %w", err)
		return err
	}

	if err = insertEvent(ctx, tx, ev); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

// DeletePromotion removes a promotion. Rules, rule-channel associations, and
// events cascade at the schema level.
func (r *PromotionRepository) DeletePromotion(ctx context.Context, id string) error {
	query := `DELETE FROM promotions WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "DeletePromotion", query)
	var err error
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete promotion: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err = lockPromotion(ctx, tx, id); err != nil {
		return err
	}

	if _, err = tx.Exec(ctx, query, id); err != nil {
		err = fmt.Errorf("delete promotion: %w", err)
		return err
	}

	err = tx.Commit(ctx)
	return err
}

// CreateRule inserts a rule under its promotion and appends ev.
func (r *PromotionRepository) CreateRule(ctx context.Context, rule *domain.PromotionRule, ev *domain.PromotionEvent) error {
	ctx, end := database.TraceQuery(ctx, "CreateRule", "INSERT INTO promotion_rules")
	var err error
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create rule: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err = lockPromotion(ctx, tx, rule.PromotionID); err != nil {
		return err
	}
	if err = insertRule(ctx, tx, rule); err != nil {
		return err
	}
	if err = insertEvent(ctx, tx, ev); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

// GetRule retrieves a single rule with its channel scope.
func (r *PromotionRepository) GetRule(ctx context.Context, id string) (*domain.PromotionRule, error) {
	query := `
		SELECT id, promotion_id, name, description, catalogue_predicate,
			   reward_value_type, reward_value, created_at, updated_at
		FROM promotion_rules
		WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetRule", query)
	var err error
	defer func() { end(err) }()

	rule, err := scanRule(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = apperrors.NotFound("promotion rule", id)
			return nil, err
		}
		err = fmt.Errorf("get rule: %w", err)
		return nil, err
	}

	if err = r.loadRuleChannels(ctx, []*domain.PromotionRule{rule}); err != nil {
		return nil, err
	}

	return rule, nil
}

// UpdateRule persists rule field changes, replaces its channel scope, and
// appends ev.
func (r *PromotionRepository) UpdateRule(ctx context.Context, rule *domain.PromotionRule, ev *domain.PromotionEvent) error {
	ctx, end := database.TraceQuery(ctx, "UpdateRule", "UPDATE promotion_rules")
	var err error
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update rule: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err = lockPromotion(ctx, tx, rule.PromotionID); err != nil {
		return err
	}

	predicateJSON, err := json.Marshal(rule.CataloguePredicate)
	if err != nil {
		err = fmt.Errorf("marshal catalogue_predicate: %w", err)
		return err
	}

	query := `
		UPDATE promotion_rules
		SET name = $2, description = $3, catalogue_predicate = $4,
			reward_value_type = $5, reward_value = $6, updated_at = $7
		WHERE id = $1`

	tag, err := tx.Exec(ctx, query,
		rule.ID, rule.Name, rule.Description, predicateJSON,
		string(rule.RewardValueType), rule.RewardValue, rule.UpdatedAt,
	)
	if err != nil {
		err = fmt.Errorf("update rule: %w", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		err = apperrors.NotFound("promotion rule", rule.ID)
		return err
	}

	if _, err = tx.Exec(ctx, `DELETE FROM promotion_rule_channels WHERE rule_id = $1`, rule.ID); err != nil {
		err = fmt.Errorf("clear rule channels: %w", err)
		return err
	}
	if err = insertRuleChannels(ctx, tx, rule.ID, rule.ChannelIDs); err != nil {
		return err
	}
	if err = insertEvent(ctx, tx, ev); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

// DeleteRule removes a rule and appends ev to its promotion's log. The event
// retains the deleted rule's id for audit.
func (r *PromotionRepository) DeleteRule(ctx context.Context, id string, ev *domain.PromotionEvent) error {
	ctx, end := database.TraceQuery(ctx, "DeleteRule", "DELETE FROM promotion_rules")
	var err error
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin delete rule: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err = lockPromotion(ctx, tx, ev.PromotionID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM promotion_rules WHERE id = $1`, id)
	if err != nil {
		err = fmt.Errorf("delete rule: %w", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		err = apperrors.NotFound("promotion rule", id)
		return err
	}

	if err = insertEvent(ctx, tx, ev); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

// ListEvents returns a promotion's event log, oldest first.
func (r *PromotionRepository) ListEvents(ctx context.Context, promotionID string) ([]domain.PromotionEvent, error) {
	query := `
		SELECT id, promotion_id, rule_id, type, user_id, app_id, date
		FROM promotion_events
		WHERE promotion_id = $1
		ORDER BY date, id`

	ctx, end := database.TraceQuery(ctx, "ListEvents", query)
	var err error
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, promotionID)
	if err != nil {
		err = fmt.Errorf("list events: %w", err)
		return nil, err
	}
	defer rows.Close()

	events := []domain.PromotionEvent{}
	for rows.Next() {
		var ev domain.PromotionEvent
		if err = rows.Scan(
			&ev.ID, &ev.PromotionID, &ev.RuleID, &ev.Type, &ev.UserID, &ev.AppID, &ev.Date,
		); err != nil {
			err = fmt.Errorf("scan event row: %w", err)
			return nil, err
		}
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterate events: %w", err)
		return nil, err
	}

	return events, nil
}

// ListActiveRules returns the rules active in the channel at the given
// instant, in stable order: promotion creation, then rule creation, then
// rule id. Activity is derived from the schedule, not the stored lifecycle
// state, so a promotion whose sweep is lagging still prices correctly.
func (r *PromotionRepository) ListActiveRules(ctx context.Context, channelID string, at time.Time) ([]domain.PromotionRule, error) {
	query := `
		SELECT r.id, r.promotion_id, r.name, r.description, r.catalogue_predicate,
			   r.reward_value_type, r.reward_value, r.created_at, r.updated_at
		FROM promotion_rules r
		JOIN promotions p ON p.id = r.promotion_id
		JOIN promotion_rule_channels rc ON rc.rule_id = r.id
		WHERE rc.channel_id = $1
		  AND p.start_date <= $2
		  AND (p.end_date IS NULL OR p.end_date > $2)
		ORDER BY p.created_at, r.created_at, r.id`

	ctx, end := database.TraceQuery(ctx, "ListActiveRules", query)
	var err error
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, channelID, at)
	if err != nil {
		err = fmt.Errorf("list active rules: %w", err)
		return nil, err
	}
	defer rows.Close()

	rules := []domain.PromotionRule{}
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			err = fmt.Errorf("scan active rule: %w", scanErr)
			return nil, err
		}
		rules = append(rules, *rule)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterate active rules: %w", err)
		return nil, err
	}

	return rules, nil
}

// ListDuePromotions returns promotions whose stored lifecycle state lags
// what their schedule implies at the given instant.
func (r *PromotionRepository) ListDuePromotions(ctx context.Context, at time.Time) ([]domain.Promotion, error) {
	query := `
		SELECT id, name, description, start_date, end_date, lifecycle_state,
			   created_at, updated_at
		FROM promotions
		WHERE (lifecycle_state = 'scheduled' AND start_date <= $1)
		   OR (lifecycle_state = 'active' AND end_date IS NOT NULL AND end_date <= $1)
		ORDER BY created_at`

	ctx, end := database.TraceQuery(ctx, "ListDuePromotions", query)
	var err error
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, at)
	if err != nil {
		err = fmt.Errorf("list due promotions: %w", err)
		return nil, err
	}
	defer rows.Close()

	promotions := []domain.Promotion{}
	for rows.Next() {
		var p domain.Promotion
		var state string
		if err = rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.StartDate, &p.EndDate, &state,
			&p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			err = fmt.Errorf("scan due promotion: %w", err)
			return nil, err
		}
		p.LifecycleState = domain.LifecycleState(state)
		promotions = append(promotions, p)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterate due promotions: %w", err)
		return nil, err
	}

	return promotions, nil
}

// TransitionState performs the conditional check-and-emit for the lifecycle
// sweep: the guarded UPDATE only succeeds for the caller that still sees the
// old state, and only that caller appends the lifecycle event.
func (r *PromotionRepository) TransitionState(ctx context.Context, promotionID string, from, to domain.LifecycleState, ev *domain.PromotionEvent) (bool, error) {
	ctx, end := database.TraceQuery(ctx, "TransitionState", "UPDATE promotions SET lifecycle_state")
	var err error
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE promotions
		SET lifecycle_state = $3, updated_at = $4
		WHERE id = $1 AND lifecycle_state = $2`

	tag, err := tx.Exec(ctx, query, promotionID, string(from), string(to), ev.Date)
	if err != nil {
		err = fmt.Errorf("transition promotion state: %w", err)
		return false, err
	}
	if tag.RowsAffected() == 0 {
		// Another sweep already advanced it; nothing to emit.
		return false, nil
	}

	if err = insertEvent(ctx, tx, ev); err != nil {
		return false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// --- helpers ---

// lockPromotion takes the per-promotion row lock without waiting. It maps a
// held lock to Conflict and a missing row to NotFound.
func lockPromotion(ctx context.Context, tx queryer, id string) error {
	var locked string
	err := tx.QueryRow(ctx, `SELECT id FROM promotions WHERE id = $1 FOR UPDATE NOWAIT`, id).Scan(&locked)
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("promotion", id)
	}
	if isLockNotAvailable(err) {
		return apperrors.Conflict("promotion is being modified, retry")
	}
	return fmt.Errorf("lock promotion: %w", err)
}

func insertRule(ctx context.Context, tx queryer, rule *domain.PromotionRule) error {
	predicateJSON, err := json.Marshal(rule.CataloguePredicate)
	if err != nil {
		return fmt.Errorf("marshal catalogue_predicate: %w", err)
	}

	query := `
		INSERT INTO promotion_rules (
			id, promotion_id, name, description, catalogue_predicate,
			reward_value_type, reward_value, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if _, err := tx.Exec(ctx, query,
		rule.ID, rule.PromotionID, rule.Name, rule.Description, predicateJSON,
		string(rule.RewardValueType), rule.RewardValue, rule.CreatedAt, rule.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("promotion rule", "id", rule.ID)
		}
		return fmt.Errorf("insert rule: %w", err)
	}

	return insertRuleChannels(ctx, tx, rule.ID, rule.ChannelIDs)
}

func insertRuleChannels(ctx context.Context, tx queryer, ruleID string, channelIDs []string) error {
	for _, channelID := range channelIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO promotion_rule_channels (rule_id, channel_id) VALUES ($1, $2)`,
			ruleID, channelID,
		); err != nil {
			return fmt.Errorf("insert rule channel %s: %w", channelID, err)
		}
	}
	return nil
}

func insertEvent(ctx context.Context, tx queryer, ev *domain.PromotionEvent) error {
	query := `
		INSERT INTO promotion_events (id, promotion_id, rule_id, type, user_id, app_id, date)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := tx.Exec(ctx, query,
		ev.ID, ev.PromotionID, ev.RuleID, ev.Type, ev.UserID, ev.AppID, ev.Date,
	); err != nil {
		return fmt.Errorf("insert promotion event: %w", err)
	}
	return nil
}

// scanRule scans a rule row in the column order used by every rule query.
// The channel scope is loaded separately.
func scanRule(row pgx.Row) (*domain.PromotionRule, error) {
	var (
		rule          domain.PromotionRule
		predicateJSON []byte
		rewardType    string
	)
	if err := row.Scan(
		&rule.ID, &rule.PromotionID, &rule.Name, &rule.Description, &predicateJSON,
		&rewardType, &rule.RewardValue, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.RewardValueType = domain.RewardValueType(rewardType)
	if predicateJSON != nil {
		if err := json.Unmarshal(predicateJSON, &rule.CataloguePredicate); err != nil {
			return nil, fmt.Errorf("unmarshal catalogue_predicate: %w", err)
		}
	}
	rule.ChannelIDs = []string{}
	return &rule, nil
}

func (r *PromotionRepository) loadRules(ctx context.Context, promotionID string) ([]domain.PromotionRule, error) {
	query := `
		SELECT id, promotion_id, name, description, catalogue_predicate,
			   reward_value_type, reward_value, created_at, updated_at
		FROM promotion_rules
		WHERE promotion_id = $1
		ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, promotionID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	defer rows.Close()

	rules := []domain.PromotionRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}

	refs := make([]*domain.PromotionRule, len(rules))
	for i := range rules {
		refs[i] = &rules[i]
	}
	if err := r.loadRuleChannels(ctx, refs); err != nil {
		return nil, err
	}

	return rules, nil
}

func (r *PromotionRepository) loadRuleChannels(ctx context.Context, rules []*domain.PromotionRule) error {
	if len(rules) == 0 {
		return nil
	}

	ids := make([]string, len(rules))
	byID := make(map[string]*domain.PromotionRule, len(rules))
	for i, rule := range rules {
		ids[i] = rule.ID
		byID[rule.ID] = rule
	}

	rows, err := r.pool.Query(ctx,
		`SELECT rule_id, channel_id FROM promotion_rule_channels WHERE rule_id = ANY($1) ORDER BY channel_id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("load rule channels: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ruleID, channelID string
		if err := rows.Scan(&ruleID, &channelID); err != nil {
			return fmt.Errorf("scan rule channel: %w", err)
		}
		if rule, ok := byID[ruleID]; ok {
			rule.ChannelIDs = append(rule.ChannelIDs, channelID)
		}
	}
	return rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isLockNotAvailable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable
}
