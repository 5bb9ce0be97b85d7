package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront-cart/internal/cartsync"
	"github.com/fjod/go_cart/storefront-cart/internal/domain"
	"github.com/fjod/go_cart/storefront-cart/internal/logger"
	"github.com/fjod/go_cart/storefront-cart/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxQuantity = 99

// CartSession is what the handlers drive; *session.Session implements it.
type CartSession interface {
	Snapshot() domain.Snapshot
	SyncState() (domain.SyncState, error)
	Authenticated() bool
	UserID() string
	Login(userID, token string)
	Logout()
	AddItem(id, name string, price decimal.Decimal, quantity int)
	Decrement(id string)
	Remove(id string)
	SetQuantity(id string, quantity int)
	Clear()
	SyncNow(ctx context.Context) error
	DrainNotices() []session.Notice
}

type CartHandler struct {
	session CartSession
	timeout time.Duration
	log     *zap.Logger
}

func NewCartHandler(s CartSession, timeout time.Duration, log *zap.Logger) *CartHandler {
	return &CartHandler{
		session: s,
		timeout: timeout,
		log:     logger.OrNop(log).Named("http"),
	}
}

type AddItemRequestDTO struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity"`
}

type CartItemDTO struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
}

type CartResponseDTO struct {
	Items         []CartItemDTO   `json:"items"`
	ItemCount     int             `json:"item_count"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	SyncState     string          `json:"sync_state"`
	SyncError     string          `json:"sync_error,omitempty"`
	Authenticated bool            `json:"authenticated"`
	UserID        string          `json:"user_id,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	// Validate request
	if req.ProductID == "" {
		h.respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	if req.Price.IsNegative() {
		h.respondError(w, http.StatusBadRequest, "invalid_price", "price must not be negative")
		return
	}
	if req.Quantity > maxQuantity {
		h.respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at most 99")
		return
	}

	h.session.AddItem(req.ProductID, req.Name, req.Price, req.Quantity)
	h.respondCart(w, http.StatusCreated)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	if !h.hasItem(productID) {
		h.respondError(w, http.StatusNotFound, "item_not_found", "product is not in the cart")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
		h.respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if *req.Quantity < 0 || *req.Quantity > maxQuantity {
		h.respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 0 and 99")
		return
	}

	h.session.SetQuantity(productID, *req.Quantity)
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) DecrementItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	if !h.hasItem(productID) {
		h.respondError(w, http.StatusNotFound, "item_not_found", "product is not in the cart")
		return
	}

	h.session.Decrement(productID)
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	if !h.hasItem(productID) {
		h.respondError(w, http.StatusNotFound, "item_not_found", "product is not in the cart")
		return
	}

	h.session.Remove(productID)
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.session.Clear()
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.session.SyncNow(ctx); err != nil {
		logger.WithContext(ctx, h.log).Warn("sync request failed",
			zap.Error(err), zap.String("request_id", getRequestID(r.Context())))
		h.handleSyncError(w, err)
		return
	}
	h.respondCart(w, http.StatusOK)
}

func (h *CartHandler) Notices(w http.ResponseWriter, r *http.Request) {
	notices := h.session.DrainNotices()
	if notices == nil {
		notices = []session.Notice{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"notices": notices})
}

func (h *CartHandler) handleSyncError(w http.ResponseWriter, err error) {
	var httpStatus int
	var code string

	switch {
	case errors.Is(err, cartsync.ErrNotAuthenticated), errors.Is(err, cartsync.ErrSessionEnded):
		httpStatus = http.StatusUnauthorized
		code = "unauthenticated"
	case errors.Is(err, cartsync.ErrPushInFlight), errors.Is(err, cartsync.ErrLoadInFlight):
		httpStatus = http.StatusConflict
		code = "sync_in_progress"
	case errors.Is(err, cartsync.ErrClosed):
		httpStatus = http.StatusServiceUnavailable
		code = "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus = http.StatusGatewayTimeout
		code = "timeout"
	default:
		httpStatus = http.StatusBadGateway
		code = "sync_failed"
	}

	h.respondError(w, httpStatus, code, err.Error())
}

func (h *CartHandler) hasItem(productID string) bool {
	for _, line := range h.session.Snapshot().Lines {
		if line.ID == productID {
			return true
		}
	}
	return false
}

func (h *CartHandler) respondCart(w http.ResponseWriter, status int) {
	snap := h.session.Snapshot()
	state, syncErr := h.session.SyncState()

	resp := CartResponseDTO{
		Items:         make([]CartItemDTO, 0, len(snap.Lines)),
		ItemCount:     snap.ItemCount,
		Subtotal:      snap.Subtotal,
		SyncState:     state.String(),
		Authenticated: h.session.Authenticated(),
		UserID:        h.session.UserID(),
	}
	if syncErr != nil {
		resp.SyncError = syncErr.Error()
	}
	for _, line := range snap.Lines {
		resp.Items = append(resp.Items, CartItemDTO{
			ProductID: line.ID,
			Name:      line.Name,
			Price:     line.Price,
			Quantity:  line.Quantity,
			Total:     line.Total(),
		})
	}
	h.respondJSON(w, status, resp)
}

func (h *CartHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Warn("failed to encode response", zap.Error(err))
	}
}

func (h *CartHandler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
