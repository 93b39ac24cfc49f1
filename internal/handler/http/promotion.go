package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/szczecha/saleor/internal/domain"
	"github.com/szczecha/saleor/internal/repository"
	"github.com/szczecha/saleor/internal/service"
	"github.com/szczecha/saleor/pkg/pagination"
)

// PromotionHandler exposes the administrative promotion API.
type PromotionHandler struct {
	svc *service.PromotionService
}

// NewPromotionHandler creates a promotion handler.
func NewPromotionHandler(svc *service.PromotionService) *PromotionHandler {
	return &PromotionHandler{svc: svc}
}

type createRuleRequest struct {
	Name               string                    `json:"name" validate:"required,max=255"`
	Description        string                    `json:"description" validate:"max=1024"`
	CataloguePredicate domain.CataloguePredicate `json:"catalogue_predicate"`
	RewardValueType    string                    `json:"reward_value_type" validate:"required,oneof=fixed percentage"`
	RewardValue        decimal.Decimal           `json:"reward_value"`
	ChannelIDs         []string                  `json:"channel_ids"`
}

func (req *createRuleRequest) toInput() service.CreateRuleInput {
	return service.CreateRuleInput{
		Name:               req.Name,
		Description:        req.Description,
		CataloguePredicate: req.CataloguePredicate,
		RewardValueType:    domain.RewardValueType(req.RewardValueType),
		RewardValue:        req.RewardValue,
		ChannelIDs:         req.ChannelIDs,
	}
}

type createPromotionRequest struct {
	Name        string              `json:"name" validate:"required,max=255"`
	Description string              `json:"description" validate:"max=1024"`
	StartDate   *time.Time          `json:"start_date"`
	EndDate     *time.Time          `json:"end_date"`
	Rules       []createRuleRequest `json:"rules" validate:"dive"`
}

type updatePromotionRequest struct {
	Name        *string    `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string    `json:"description" validate:"omitempty,max=1024"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
	ClearEnd    bool       `json:"clear_end_date"`
}

type updateRuleRequest struct {
	Name               *string                    `json:"name" validate:"omitempty,min=1,max=255"`
	Description        *string                    `json:"description" validate:"omitempty,max=1024"`
	CataloguePredicate *domain.CataloguePredicate `json:"catalogue_predicate"`
	RewardValueType    *string                    `json:"reward_value_type" validate:"omitempty,oneof=fixed percentage"`
	RewardValue        *decimal.Decimal           `json:"reward_value"`
	ChannelIDs         []string                   `json:"channel_ids"`
}

// Create handles POST /api/v1/promotions.
func (h *PromotionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPromotionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	input := service.CreatePromotionInput{
		Name:        req.Name,
		Description: req.Description,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Actor:       actorFromRequest(r),
	}
	for _, rule := range req.Rules {
		input.Rules = append(input.Rules, rule.toInput())
	}

	p, err := h.svc.CreatePromotion(r.Context(), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Get handles GET /api/v1/promotions/{id}.
func (h *PromotionHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetPromotion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// List handles GET /api/v1/promotions.
func (h *PromotionHandler) List(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)
	filter := repository.PromotionFilter{
		Page:    params.Page,
		PerPage: params.PerPage,
	}
	if state := r.URL.Query().Get("lifecycle_state"); state != "" {
		filter.LifecycleState = &state
	}

	promotions, total, err := h.svc.ListPromotions(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pagination.NewResult(promotions, total, params))
}

// Update handles PUT /api/v1/promotions/{id}.
func (h *PromotionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updatePromotionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.svc.UpdatePromotion(r.Context(), chi.URLParam(r, "id"), service.UpdatePromotionInput{
		Name:        req.Name,
		Description: req.Description,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		ClearEnd:    req.ClearEnd,
		Actor:       actorFromRequest(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Delete handles DELETE /api/v1/promotions/{id}.
func (h *PromotionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeletePromotion(r.Context(), chi.URLParam(r, "id"), actorFromRequest(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateRule handles POST /api/v1/promotions/{id}/rules.
func (h *PromotionHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	rule, err := h.svc.CreateRule(r.Context(), chi.URLParam(r, "id"), req.toInput(), actorFromRequest(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// GetRule handles GET /api/v1/promotions/rules/{ruleId}.
func (h *PromotionHandler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.svc.GetRule(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// UpdateRule handles PUT /api/v1/promotions/rules/{ruleId}.
func (h *PromotionHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req updateRuleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	input := service.UpdateRuleInput{
		Name:               req.Name,
		Description:        req.Description,
		CataloguePredicate: req.CataloguePredicate,
		RewardValue:        req.RewardValue,
		ChannelIDs:         req.ChannelIDs,
		Actor:              actorFromRequest(r),
	}
	if req.RewardValueType != nil {
		rvt := domain.RewardValueType(*req.RewardValueType)
		input.RewardValueType = &rvt
	}

	rule, err := h.svc.UpdateRule(r.Context(), chi.URLParam(r, "ruleId"), input)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /api/v1/promotions/rules/{ruleId}.
func (h *PromotionHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteRule(r.Context(), chi.URLParam(r, "ruleId"), actorFromRequest(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListEvents handles GET /api/v1/promotions/{id}/events.
func (h *PromotionHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
