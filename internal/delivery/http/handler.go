package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/quickshop-io/checkout-engine/internal/entity"
	"github.com/quickshop-io/checkout-engine/internal/service"
	"github.com/quickshop-io/checkout-engine/internal/session"
)

// sessionCookie carries the guest session id between requests.
const sessionCookie = "qs_session"

// Handler handles HTTP requests for the engine. Every cart and order route
// is scoped to the owner resolved from the request; admin routes sit behind
// a shared-key check instead.
type Handler struct {
	catalog  *service.CatalogService
	carts    *service.CartService
	checkout *service.CheckoutService
	orders   *service.OrderService
	sessions session.Manager
	adminKey string
	health   func(ctx context.Context) error
}

func NewHandler(
	catalog *service.CatalogService,
	carts *service.CartService,
	checkout *service.CheckoutService,
	orders *service.OrderService,
	sessions session.Manager,
	adminKey string,
	health func(ctx context.Context) error,
) *Handler {
	return &Handler{
		catalog:  catalog,
		carts:    carts,
		checkout: checkout,
		orders:   orders,
		sessions: sessions,
		adminKey: adminKey,
		health:   health,
	}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/variants", h.handleListVariants)
	mux.HandleFunc("GET /api/variants/{id}", h.handleGetVariant)

	mux.HandleFunc("GET /api/cart", h.handleGetCart)
	mux.HandleFunc("DELETE /api/cart", h.handleClearCart)
	mux.HandleFunc("POST /api/cart/items", h.handleAddItem)
	mux.HandleFunc("PUT /api/cart/items/{variantID}", h.handleSetItem)
	mux.HandleFunc("DELETE /api/cart/items/{variantID}", h.handleRemoveItem)
	mux.HandleFunc("POST /api/cart/discount", h.handleApplyDiscount)
	mux.HandleFunc("DELETE /api/cart/discount", h.handleRemoveDiscount)

	mux.HandleFunc("POST /api/checkout/quote", h.handleQuote)
	mux.HandleFunc("POST /api/checkout", h.handleCommit)

	mux.HandleFunc("GET /api/orders", h.handleListOrders)
	mux.HandleFunc("GET /api/orders/{id}", h.handleGetOrder)
	mux.HandleFunc("GET /api/orders/{id}/events", h.handleOrderEvents)
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.handleCancelOrder)
	mux.HandleFunc("POST /api/orders/{id}/status", h.requireAdmin(h.handleOrderStatus))
	mux.HandleFunc("POST /api/orders/{id}/payment", h.requireAdmin(h.handleOrderPayment))

	mux.HandleFunc("POST /api/admin/variants/{id}/stock", h.requireAdmin(h.handleAdjustStock))

	mux.HandleFunc("GET /healthz", h.handleHealthz)
}

// resolveOwner identifies the caller. The X-User-ID header from upstream
// auth wins; otherwise the guest session cookie is touched, and a missing or
// expired session gets a fresh id with the cookie set on the response.
func (h *Handler) resolveOwner(w http.ResponseWriter, r *http.Request) (entity.CartOwner, error) {
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		return entity.UserOwner(userID), nil
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil && cookie.Value != "" {
		alive, err := h.sessions.Touch(r.Context(), cookie.Value)
		if err != nil {
			return entity.CartOwner{}, fmt.Errorf("failed to touch session: %w", err)
		}
		if alive {
			return entity.GuestOwner(cookie.Value), nil
		}
	}
	id, err := h.sessions.Issue(r.Context())
	if err != nil {
		return entity.CartOwner{}, fmt.Errorf("failed to issue session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return entity.GuestOwner(id), nil
}

func (h *Handler) handleListVariants(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	variants, err := h.catalog.List(r.Context(), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, variants)
}

func (h *Handler) handleGetVariant(w http.ResponseWriter, r *http.Request) {
	variant, err := h.catalog.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, variant)
}

func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolveOwner(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	cart, err := h.carts.Get(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

type addItemRequest struct {
	VariantID string `json:"variant_id" validate:"required,uuid4"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=99"`
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolveOwner(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req addItemRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cart, err := h.carts.AddItem(r.Context(), owner, req.VariantID, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

type setItemRequest struct {
	Quantity int `json:"quantity" validate:"min=0,max=99"`
}

func (h *Handler) handleSetItem(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolveOwner(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req setItemRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cart, err := h.carts.SetItemQuantity(r.Context(), owner, r.PathValue("variantID"), req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolveOwner(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	cart, err := h.carts.RemoveItem(r.Context(), owner, r.PathValue("variantID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolveOwner(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	cart, err := h.carts.Clear(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

type applyDiscountRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

func (h *Handler) handleApplyDiscount(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolveOwner(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req applyDiscountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cart, err := h.carts.ApplyDiscount(r.Context(), owner, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) handleRemoveDiscount(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolveOwner(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	cart, err := h.carts.RemoveDiscount(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

func (h *Handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolveOwner(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	quote, err := h.checkout.Quote(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

type commitRequest struct {
	PaymentReference string `json:"payment_reference" validate:"omitempty,max=128"`
}

func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolveOwner(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req commitRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	order, err := h.checkout.Commit(r.Context(), owner, req.PaymentReference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolveOwner(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, entity.NewValidationError("limit", "must be an integer"))
			return
		}
	}
	orders, err := h.orders.ListByOwner(r.Context(), owner, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolveOwner(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	order, err := h.orders.GetForOwner(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) handleOrderEvents(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolveOwner(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	order, err := h.orders.GetForOwner(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := h.orders.Events(r.Context(), order.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	owner, err := h.resolveOwner(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	order, err := h.orders.Cancel(r.Context(), owner, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type statusRequest struct {
	From string `json:"from" validate:"omitempty,max=32"`
	To   string `json:"to" validate:"required,max=32"`
}

func (h *Handler) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	order, err := h.orders.Transition(r.Context(), r.PathValue("id"), entity.OrderStatus(req.From), entity.OrderStatus(req.To))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type paymentRequest struct {
	Status    string `json:"status" validate:"required,max=32"`
	Reference string `json:"reference" validate:"omitempty,max=128"`
}

func (h *Handler) handleOrderPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	order, err := h.orders.TransitionPayment(r.Context(), r.PathValue("id"), entity.PaymentStatus(req.Status), req.Reference)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type adjustStockRequest struct {
	Delta int `json:"delta" validate:"required"`
}

func (h *Handler) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	variant, err := h.catalog.AdjustStock(r.Context(), r.PathValue("id"), req.Delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, variant)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
