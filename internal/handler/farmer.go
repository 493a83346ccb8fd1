package handler

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/agriconnect-gateway/internal/model"
)

// ListOrders handles GET /api/v1/orders requests.
func (h *RESTHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.Backend.ListOrders(r.Context())
	if err != nil {
		writeError(w, h.logger, "list orders", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(orders))
}

// DownloadInvoice handles GET /api/v1/orders/{id}/invoice requests and
// streams the document as an attachment.
func (h *RESTHandler) DownloadInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := h.Backend.DownloadInvoice(r.Context(), pathID(r))
	if err != nil {
		writeError(w, h.logger, "download invoice", err)
		return
	}

	w.Header().Set("Content-Type", invoice.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(invoice.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(invoice.Data)))
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(invoice.Data); err != nil {
		h.logger.Warn("failed to write invoice", zap.String("order_id", pathID(r).String()), zap.Error(err))
	}
}

// SetOrderStatus handles PATCH /api/v1/orders/{id}/status requests.
func (h *RESTHandler) SetOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req model.StatusUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, "update order status", err)
		return
	}

	id := pathID(r)
	if err := h.Dashboard.SetOrderStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, h.logger, "update order status", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(map[string]any{
		"id":     id,
		"status": req.Status,
	}))
}

// GetProfile handles GET /api/v1/profile requests.
func (h *RESTHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.Backend.GetProfile(r.Context())
	if err != nil {
		writeError(w, h.logger, "get profile", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(profile))
}

// UpdateProfile handles PUT /api/v1/profile requests.
func (h *RESTHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var profile model.Profile
	if err := decodeJSON(w, r, &profile); err != nil {
		writeError(w, h.logger, "update profile", err)
		return
	}

	updated, err := h.Dashboard.UpdateProfile(r.Context(), profile)
	if err != nil {
		writeError(w, h.logger, "update profile", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(updated))
}

// PatchProfile handles PATCH /api/v1/profile requests.
func (h *RESTHandler) PatchProfile(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := decodeJSON(w, r, &fields); err != nil {
		writeError(w, h.logger, "patch profile", err)
		return
	}

	updated, err := h.Dashboard.PatchProfile(r.Context(), fields)
	if err != nil {
		writeError(w, h.logger, "patch profile", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(updated))
}

// GetDashboard handles GET /api/v1/dashboard requests.
func (h *RESTHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	overview, err := h.Dashboard.Load(r.Context())
	if err != nil {
		writeError(w, h.logger, "load dashboard", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(overview))
}

// CreateProduct handles POST /api/v1/farmer/products requests.
func (h *RESTHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	h.saveProduct(w, r, "", http.StatusCreated)
}

// UpdateProduct handles PUT /api/v1/farmer/products/{id} requests.
func (h *RESTHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	h.saveProduct(w, r, pathID(r), http.StatusOK)
}

func (h *RESTHandler) saveProduct(w http.ResponseWriter, r *http.Request, id model.ID, status int) {
	var input model.ProductInput
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, h.logger, "save product", err)
		return
	}

	product, err := h.Dashboard.SaveProduct(r.Context(), id, input)
	if err != nil {
		writeError(w, h.logger, "save product", err)
		return
	}

	writeJSON(w, h.logger, status, model.NewSuccessResponse(product))
}

// DeleteProduct handles DELETE /api/v1/farmer/products/{id} requests.
func (h *RESTHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.Dashboard.DeleteProduct(r.Context(), pathID(r)); err != nil {
		writeError(w, h.logger, "delete product", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListCropPlans handles GET /api/v1/crop-plans requests.
func (h *RESTHandler) ListCropPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Dashboard.CropPlans(r.Context())
	if err != nil {
		writeError(w, h.logger, "list crop plans", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, model.NewSuccessResponse(plans))
}

// AddCropPlan handles POST /api/v1/crop-plans requests.
func (h *RESTHandler) AddCropPlan(w http.ResponseWriter, r *http.Request) {
	var input model.CropPlanInput
	if err := decodeJSON(w, r, &input); err != nil {
		writeError(w, h.logger, "add crop plan", err)
		return
	}

	plan, err := h.Dashboard.AddCropPlan(r.Context(), input)
	if err != nil {
		writeError(w, h.logger, "add crop plan", err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, model.NewSuccessResponse(plan))
}
