package http

import (
	"net/http"

	"github.com/szczecha/saleor/internal/repository"
)

// ChannelHandler exposes the read-only channel listing.
type ChannelHandler struct {
	repo repository.ChannelRepository
}

// NewChannelHandler creates a channel handler.
func NewChannelHandler(repo repository.ChannelRepository) *ChannelHandler {
	return &ChannelHandler{repo: repo}
}

// List handles GET /api/v1/channels.
func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	channels, err := h.repo.ListChannels(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, channels)
}
