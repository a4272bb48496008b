package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/podoms/internal/domain"
	"github.com/vladislavdragonenkov/podoms/internal/service/orders"
)

// OrderService - операции сервиса заказов, доступные через HTTP.
type OrderService interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, q orders.ListOrdersQuery) (orders.ListOrdersResult, error)
	ListItemPreviews(ctx context.Context, orderID string) ([]orders.ItemPreview, error)
	ChangeStatus(ctx context.Context, orderID string, to domain.OrderStatus, actor, note string) (*domain.Order, error)
	MarkPaid(ctx context.Context, orderID string) (*domain.Order, error)
	DeleteOrder(ctx context.Context, orderID string) error
	RestoreOrder(ctx context.Context, orderID string) (*domain.Order, error)
}

var _ OrderService = (*orders.Service)(nil)

// Handler - HTTP-граница сервиса заказов. Бизнес-правил здесь нет.
type Handler struct {
	svc    OrderService
	logger *log.Entry
}

// NewHandler создаёт HTTP handler.
func NewHandler(svc OrderService, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	order, err := h.svc.CreateOrder(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ListOrders поддерживает owner_id, store_code, status (через запятую), page, limit, include_items.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := orders.ListOrdersQuery{
		OwnerID:      query.Get("owner_id"),
		StoreCode:    query.Get("store_code"),
		IncludeItems: query.Get("include_items") == "true",
	}
	for _, raw := range strings.Split(query.Get("status"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			q.Statuses = append(q.Statuses, domain.OrderStatus(raw))
		}
	}

	var err error
	if q.Page, err = intParam(query.Get("page")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_page", err.Error())
		return
	}
	if q.Limit, err = intParam(query.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_limit", err.Error())
		return
	}

	result, err := h.svc.ListOrders(r.Context(), q)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) ListItemPreviews(w http.ResponseWriter, r *http.Request) {
	previews, err := h.svc.ListItemPreviews(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": previews})
}

type changeStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
	Actor  string             `json:"actor"`
	Note   string             `json:"note"`
}

func (h *Handler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "status is required")
		return
	}

	order, err := h.svc.ChangeStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.Actor, req.Note)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.MarkPaid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteOrder(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RestoreOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.svc.RestoreOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
