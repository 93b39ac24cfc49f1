package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/szczecha/saleor/internal/domain"
	"github.com/szczecha/saleor/internal/repository"
	apperrors "github.com/szczecha/saleor/pkg/errors"
)

var (
	quotesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricing_quotes_total",
		Help: "Total number of pricing quotes evaluated.",
	}, []string{"result"})

	discountedLinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_discounted_lines_total",
		Help: "Total number of quote lines that received a discount.",
	})

	predicateErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricing_predicate_errors_total",
		Help: "Total number of rules skipped because predicate evaluation failed.",
	})
)

// ActiveRuleSource yields the rules active in a channel at an instant.
type ActiveRuleSource interface {
	ListActiveRules(ctx context.Context, channelID string, at time.Time) ([]domain.PromotionRule, error)
}

// RuleCacheStore is the per-channel cache of current rule sets.
type RuleCacheStore interface {
	Get(ctx context.Context, channelID string) ([]domain.PromotionRule, bool)
	Set(ctx context.Context, channelID string, rules []domain.PromotionRule)
}

// QuoteLine is one priced line in a quote request.
type QuoteLine struct {
	LineID    string
	BasePrice decimal.Decimal
	Item      domain.CatalogueItem
}

// QuoteInput is a pricing request for a channel. A nil At means "now"; an
// explicit At pins the evaluation instant, which bypasses the rule cache.
type QuoteInput struct {
	ChannelID string
	At        *time.Time
	Lines     []QuoteLine
}

// LineResult is the priced outcome for one quote line. At most one rule
// applies per line; the winner gives the largest discount, with the lowest
// rule id breaking ties.
type LineResult struct {
	LineID             string          `json:"line_id"`
	Currency           string          `json:"currency"`
	BasePrice          decimal.Decimal `json:"base_price"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	DiscountedPrice    decimal.Decimal `json:"discounted_price"`
	AppliedRuleID      *string         `json:"applied_rule_id,omitempty"`
	AppliedPromotionID *string         `json:"applied_promotion_id,omitempty"`
}

// Quote is the priced outcome of a pricing request. Currency comes from the
// channel.
type Quote struct {
	ChannelID   string       `json:"channel_id"`
	Currency    string       `json:"currency"`
	EvaluatedAt time.Time    `json:"evaluated_at"`
	Lines       []LineResult `json:"lines"`
}

// QuoteObserver is notified synchronously after each evaluated quote.
type QuoteObserver interface {
	QuoteEvaluated(ctx context.Context, quote *Quote)
}

// PricingService evaluates promotion rules against catalogue lines to price
// a quote. Quoting never mutates state, so repeated calls with the same
// input and instant produce the same result.
type PricingService struct {
	rules     ActiveRuleSource
	channels  repository.ChannelRepository
	cache     RuleCacheStore
	observers []QuoteObserver
	logger    *slog.Logger
	now       func() time.Time
}

// NewPricingService creates a pricing service. cache may be nil.
func NewPricingService(
	rules ActiveRuleSource,
	channels repository.ChannelRepository,
	cache RuleCacheStore,
	logger *slog.Logger,
) *PricingService {
	return &PricingService{
		rules:    rules,
		channels: channels,
		cache:    cache,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RegisterObserver adds a synchronous post-quote observer. Not safe to call
// concurrently with Quote; register everything during startup.
func (s *PricingService) RegisterObserver(obs QuoteObserver) {
	s.observers = append(s.observers, obs)
}

// Quote prices the given lines against the rules active in the channel.
func (s *PricingService) Quote(ctx context.Context, input QuoteInput) (*Quote, error) {
	for _, line := range input.Lines {
		if line.BasePrice.IsNegative() {
			quotesTotal.WithLabelValues("invalid").Inc()
			return nil, apperrors.InvalidInput(fmt.Sprintf("line %s has negative base price", line.LineID))
		}
	}

	channel, err := s.channels.GetChannel(ctx, input.ChannelID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			quotesTotal.WithLabelValues("invalid").Inc()
		} else {
			quotesTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	at := s.now()
	pinned := input.At != nil
	if pinned {
		at = input.At.UTC()
	}

	rules, err := s.activeRules(ctx, input.ChannelID, at, pinned)
	if err != nil {
		quotesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	quote := &Quote{
		ChannelID:   channel.ID,
		Currency:    channel.CurrencyCode,
		EvaluatedAt: at,
		Lines:       make([]LineResult, 0, len(input.Lines)),
	}
	for _, line := range input.Lines {
		quote.Lines = append(quote.Lines, s.priceLine(ctx, line, channel.CurrencyCode, rules))
	}

	quotesTotal.WithLabelValues("ok").Inc()
	for _, obs := range s.observers {
		obs.QuoteEvaluated(ctx, quote)
	}

	return quote, nil
}

// activeRules loads the rule set, consulting the cache only for "now"
// quotes: a pinned instant must not be answered from an entry keyed to the
// current time.
func (s *PricingService) activeRules(ctx context.Context, channelID string, at time.Time, pinned bool) ([]domain.PromotionRule, error) {
	if !pinned && s.cache != nil {
		if rules, ok := s.cache.Get(ctx, channelID); ok {
			return rules, nil
		}
	}
	rules, err := s.rules.ListActiveRules(ctx, channelID, at)
	if err != nil {
		return nil, err
	}
	if !pinned && s.cache != nil {
		s.cache.Set(ctx, channelID, rules)
	}
	return rules, nil
}

// priceLine finds the winning rule for one line. A rule whose predicate
// cannot be evaluated is skipped for the line, never applied.
func (s *PricingService) priceLine(ctx context.Context, line QuoteLine, currency string, rules []domain.PromotionRule) LineResult {
	result := LineResult{
		LineID:          line.LineID,
		Currency:        currency,
		BasePrice:       line.BasePrice,
		DiscountAmount:  decimal.Zero,
		DiscountedPrice: line.BasePrice,
	}

	var best *domain.PromotionRule
	var bestDiscount decimal.Decimal
	for i := range rules {
		rule := &rules[i]
		matched, err := rule.CataloguePredicate.Matches(line.Item)
		if err != nil {
			predicateErrorsTotal.Inc()
			s.logger.ErrorContext(ctx, "predicate evaluation failed, rule skipped",
				slog.String("rule_id", rule.ID),
				slog.String("line_id", line.LineID),
				slog.String("error", err.Error()))
			continue
		}
		if !matched {
			continue
		}

		discount := rule.Discount(line.BasePrice)
		switch {
		case best == nil,
			discount.GreaterThan(bestDiscount),
			discount.Equal(bestDiscount) && rule.ID < best.ID:
			best = rule
			bestDiscount = discount
		}
	}

	if best != nil && bestDiscount.IsPositive() {
		result.DiscountAmount = bestDiscount
		result.DiscountedPrice = line.BasePrice.Sub(bestDiscount)
		result.AppliedRuleID = &best.ID
		result.AppliedPromotionID = &best.PromotionID
		discountedLinesTotal.Inc()
	}

	return result
}
