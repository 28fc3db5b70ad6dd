package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (orders.Order, error)
	SetStatus(ctx context.Context, orderID string, status orders.Status) (orders.Order, error)
	Lookup(ctx context.Context, ref string) (orders.Order, error)
}

// Idempotency is satisfied by redisx.Idempotency.
type Idempotency interface {
	Claim(ctx context.Context, userID, key, fp string) (string, error)
	Complete(ctx context.Context, userID, key, fp, orderID string) error
	Release(ctx context.Context, userID, key string) error
}

// StatusCache is satisfied by redisx.StatusCache.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.CachedStatus, bool, error)
	Set(ctx context.Context, orderID string, cs redisx.CachedStatus) error
}

// OrdersHandler exposes the order manager over HTTP. Idem and Status may be nil;
// Redis only ever speeds things up, the store stays the source of truth.
type OrdersHandler struct {
	Orders OrderService
	Idem   Idempotency
	Status StatusCache
	Log    *zap.Logger

	// Timeout bounds order creation and status changes; 5s when zero.
	Timeout time.Duration
}

const (
	defaultWriteTimeout = 5 * time.Second
	idemCleanupTimeout  = 2 * time.Second
)

type setStatusReq struct {
	Status string `json:"status"`
}

type orderResp struct {
	Order      orders.Order `json:"order"`
	Idempotent bool         `json:"idempotent,omitempty"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{ref}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Patch("/orders/{id}/status", h.setStatus)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *OrdersHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch orders.KindOf(err) {
	case orders.KindInvalidInput:
		code = http.StatusBadRequest
	case orders.KindNotFound:
		code = http.StatusNotFound
	case orders.KindInsufficientStock, orders.KindConflict:
		code = http.StatusConflict
	}
	if code == http.StatusInternalServerError {
		h.Log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, code, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, code, map[string]string{"error": err.Error(), "kind": string(orders.KindOf(err))})
}

func (h *OrdersHandler) writeTimeout() time.Duration {
	if h.Timeout > 0 {
		return h.Timeout
	}
	return defaultWriteTimeout
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.writeTimeout())
	defer cancel()

	key := r.Header.Get("Idempotency-Key")
	if h.Idem == nil || req.UserID == "" {
		key = ""
	}
	var fp string
	if key != "" {
		// re-encoded so that formatting differences do not change the fingerprint
		canonical, err := json.Marshal(req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		fp = redisx.Fingerprint(canonical)

		existing, err := h.Idem.Claim(ctx, req.UserID, key, fp)
		switch {
		case errors.Is(err, redisx.ErrInFlight):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		case errors.Is(err, redisx.ErrKeyReused):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		case err != nil:
			// without Redis the request is still served, just not deduplicated
			h.Log.Warn("idempotency claim failed", zap.String("key", key), zap.Error(err))
			key = ""
		case existing != "":
			o, err := h.Orders.Lookup(ctx, existing)
			if err != nil {
				h.writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, orderResp{Order: o, Idempotent: true})
			return
		}
	}

	o, err := h.Orders.CreateOrder(ctx, req)

	// the claim must be settled even when ctx is what made CreateOrder fail
	cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), idemCleanupTimeout)
	defer ccancel()
	if err != nil {
		if key != "" {
			if rerr := h.Idem.Release(cctx, req.UserID, key); rerr != nil {
				h.Log.Warn("idempotency release failed", zap.String("key", key), zap.Error(rerr))
			}
		}
		h.writeError(w, r, err)
		return
	}
	if key != "" {
		if err := h.Idem.Complete(cctx, req.UserID, key, fp, o.ID); err != nil {
			h.Log.Warn("idempotency complete failed", zap.String("key", key), zap.Error(err))
		}
	}
	h.cacheStatus(cctx, o)
	writeJSON(w, http.StatusCreated, orderResp{Order: o})
}

func (h *OrdersHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	status, err := orders.ParseStatus(req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.writeTimeout())
	defer cancel()

	o, err := h.Orders.SetStatus(ctx, chi.URLParam(r, "id"), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, orderResp{Order: o})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.Lookup(ctx, chi.URLParam(r, "ref"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResp{Order: o})
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if h.Status != nil {
		cs, ok, err := h.Status.Get(ctx, orderID)
		if err != nil {
			h.Log.Warn("status cache read failed", zap.String("order_id", orderID), zap.Error(err))
		}
		if ok {
			writeJSON(w, http.StatusOK, cs)
			return
		}
	}

	// 2) fallback store
	o, err := h.Orders.Lookup(ctx, orderID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, redisx.CachedStatus{Status: string(o.Status), UpdatedAt: o.UpdatedAt})
}

func (h *OrdersHandler) cacheStatus(ctx context.Context, o orders.Order) {
	if h.Status == nil {
		return
	}
	cs := redisx.CachedStatus{Status: string(o.Status), UpdatedAt: o.UpdatedAt}
	if err := h.Status.Set(ctx, o.ID, cs); err != nil {
		h.Log.Warn("status cache write failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}
