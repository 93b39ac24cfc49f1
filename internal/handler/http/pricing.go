package http

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/szczecha/saleor/internal/domain"
	"github.com/szczecha/saleor/internal/service"
)

// PricingHandler exposes the quote endpoint.
type PricingHandler struct {
	svc *service.PricingService
}

// NewPricingHandler creates a pricing handler.
func NewPricingHandler(svc *service.PricingService) *PricingHandler {
	return &PricingHandler{svc: svc}
}

type quoteLineRequest struct {
	LineID        string          `json:"line_id" validate:"required"`
	BasePrice     decimal.Decimal `json:"base_price"`
	ProductID     string          `json:"product_id"`
	VariantID     string          `json:"variant_id"`
	CategoryIDs   []string        `json:"category_ids"`
	CollectionIDs []string        `json:"collection_ids"`
}

type quoteRequest struct {
	ChannelID string             `json:"channel_id" validate:"required"`
	At        *time.Time         `json:"at"`
	Lines     []quoteLineRequest `json:"lines" validate:"required,min=1,max=100,dive"`
}

// Quote handles POST /api/v1/pricing/quote.
func (h *PricingHandler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	input := service.QuoteInput{
		ChannelID: req.ChannelID,
		At:        req.At,
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, service.QuoteLine{
			LineID:    line.LineID,
			BasePrice: line.BasePrice,
			Item: domain.CatalogueItem{
				ProductID:     line.ProductID,
				VariantID:     line.VariantID,
				CategoryIDs:   line.CategoryIDs,
				CollectionIDs: line.CollectionIDs,
			},
		})
	}

	quote, err := h.svc.Quote(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}
