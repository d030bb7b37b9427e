package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-sms/meridian-sms/internal/platform/httpx"
)

// Handler exposes the read side of the audit trail for security review.
// Authorization (admin only) is applied by the router.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audit/logs", h.handleQuery)
	r.Get("/audit/stats", h.handleStats)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	filters := filtersFromQuery(r)
	result, err := h.service.Query(r.Context(), filters)
	if err != nil {
		h.logger.Error("query audit trail", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	filters := filtersFromQuery(r)
	stats, err := h.service.Stats(r.Context(), filters)
	if err != nil {
		h.logger.Error("aggregate audit trail", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func filtersFromQuery(r *http.Request) Filters {
	q := r.URL.Query()
	filters := Filters{
		ActorID:    q.Get("actor_id"),
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.From = t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filters.To = t
		}
	}
	if v := q.Get("success"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			filters.Success = &b
		}
	}
	if v := q.Get("min_risk"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filters.MinRisk = n
		}
	}
	if v := q.Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filters.Page = n
		}
	}
	if v := q.Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filters.PageSize = n
		}
	}
	return filters
}
