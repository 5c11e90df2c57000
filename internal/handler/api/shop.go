// Package api holds the JSON API for day-to-day shop records.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/wrenchly/wrenchly/internal/domain"
	"github.com/wrenchly/wrenchly/internal/handler"
	"github.com/wrenchly/wrenchly/internal/service"
	"github.com/wrenchly/wrenchly/internal/tenant"
)

// ShopHandler exposes work order and invoice creation.
type ShopHandler struct {
	shop service.ShopService
}

// NewShopHandler creates a new shop handler
func NewShopHandler(shop service.ShopService) *ShopHandler {
	return &ShopHandler{shop: shop}
}

type createWorkOrderRequest struct {
	Description string `json:"description"`
}

type createInvoiceRequest struct {
	TotalCents int64 `json:"total_cents"`
}

type createdResponse struct {
	ID string `json:"id"`
}

// CreateWorkOrder handles POST /api/work-orders.
func (h *ShopHandler) CreateWorkOrder(w http.ResponseWriter, r *http.Request) {
	t := tenant.FromContext(r.Context())
	if t == nil {
		handler.ErrorResponse(w, r, domain.ErrAccountRequired)
		return
	}

	var req createWorkOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.ErrorResponse(w, r, domain.Invalid("api.create_work_order", "invalid JSON body"))
		return
	}

	id, err := h.shop.CreateWorkOrder(r.Context(), t.ID, req.Description)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusCreated, createdResponse{ID: uuidString(id)})
}

// CreateInvoice handles POST /api/invoices.
func (h *ShopHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	t := tenant.FromContext(r.Context())
	if t == nil {
		handler.ErrorResponse(w, r, domain.ErrAccountRequired)
		return
	}

	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handler.ErrorResponse(w, r, domain.Invalid("api.create_invoice", "invalid JSON body"))
		return
	}

	id, err := h.shop.CreateInvoice(r.Context(), t.ID, req.TotalCents)
	if err != nil {
		handler.ErrorResponse(w, r, err)
		return
	}

	handler.RespondJSON(w, http.StatusCreated, createdResponse{ID: uuidString(id)})
}
