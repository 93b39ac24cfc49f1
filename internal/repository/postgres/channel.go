package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/szczecha/saleor/internal/domain"
	"github.com/szczecha/saleor/pkg/database"
	apperrors "github.com/szczecha/saleor/pkg/errors"
)

// ChannelRepository implements repository.ChannelRepository using PostgreSQL.
type ChannelRepository struct {
	pool database.DBTX
}

// NewChannelRepository creates a PostgreSQL-backed channel repository.
func NewChannelRepository(pool database.DBTX) *ChannelRepository {
	return &ChannelRepository{pool: pool}
}

// ListChannels returns all channels ordered by slug.
func (r *ChannelRepository) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	query := `
		SELECT id, slug, name, currency_code, country_code, is_active, created_at
		FROM channels
		ORDER BY slug`

	ctx, end := database.TraceQuery(ctx, "ListChannels", query)
	var err error
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		err = fmt.Errorf("list channels: %w", err)
		return nil, err
	}
	defer rows.Close()

	channels := []domain.Channel{}
	for rows.Next() {
		var c domain.Channel
		if err = rows.Scan(
			&c.ID, &c.Slug, &c.Name, &c.CurrencyCode, &c.CountryCode, &c.IsActive, &c.CreatedAt,
		); err != nil {
			err = fmt.Errorf("scan channel row: %w", err)
			return nil, err
		}
		channels = append(channels, c)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterate channels: %w", err)
		return nil, err
	}

	return channels, nil
}

// GetChannel retrieves a channel by id.
func (r *ChannelRepository) GetChannel(ctx context.Context, id string) (*domain.Channel, error) {
	query := `
		SELECT id, slug, name, currency_code, country_code, is_active, created_at
		FROM channels
		WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetChannel", query)
	var err error
	defer func() { end(err) }()

	var c domain.Channel
	err = r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Slug, &c.Name, &c.CurrencyCode, &c.CountryCode, &c.IsActive, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = apperrors.NotFound("channel", id)
			return nil, err
		}
		err = fmt.Errorf("get channel: %w", err)
		return nil, err
	}
	return &c, nil
}

// MissingChannels returns the subset of ids with no matching channel row.
// Order of the result follows the input.
func (r *ChannelRepository) MissingChannels(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT id FROM channels WHERE id = ANY($1)`

	ctx, end := database.TraceQuery(ctx, "MissingChannels", query)
	var err error
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		err = fmt.Errorf("check channels: %w", err)
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			err = fmt.Errorf("scan channel id: %w", err)
			return nil, err
		}
		found[id] = struct{}{}
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterate channel ids: %w", err)
		return nil, err
	}

	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
