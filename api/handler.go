// Package api exposes the inventory service over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"goflare.io/inventory"
	"goflare.io/inventory/models"
)

type Handler struct {
	service inventory.Service
	logger  *zap.Logger
}

func NewHandler(service inventory.Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	r.HandleFunc("/admin/inventory", h.createInventory).Methods(http.MethodPost)
	r.HandleFunc("/admin/inventory/adjust", h.adjustStock).Methods(http.MethodPost)
	r.HandleFunc("/admin/inventory/adjust/bulk", h.bulkAdjustStock).Methods(http.MethodPost)
	r.HandleFunc("/admin/inventory/{variant_id}", h.getInventory).Methods(http.MethodGet)
	r.HandleFunc("/admin/inventory/{variant_id}", h.updateInventory).Methods(http.MethodPatch)
	r.HandleFunc("/admin/inventory/{variant_id}", h.deleteInventory).Methods(http.MethodDelete)
	r.HandleFunc("/admin/inventory/{variant_id}/movements", h.listMovements).Methods(http.MethodGet)
	r.HandleFunc("/admin/bundles/{id}/inventory", h.linkBundleInventory).Methods(http.MethodPost)
	r.HandleFunc("/admin/bundles/{id}/inventory", h.listBundleInventory).Methods(http.MethodGet)

	r.HandleFunc("/store/bundle-products/{id}/availability", h.bundleAvailability).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	return h.logMiddleware(r)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createInventoryRequest struct {
	VariantID string `json:"variant_id"`
}

func (h *Handler) createInventory(w http.ResponseWriter, r *http.Request) {
	var req createInventoryRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.service.CreateInventory(r.Context(), req.VariantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (h *Handler) getInventory(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetInventory(r.Context(), mux.Vars(r)["variant_id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) updateInventory(w http.ResponseWriter, r *http.Request) {
	var params models.UpdateInventoryParams
	if err := decodeJSON(r, &params); err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.service.UpdateInventory(r.Context(), mux.Vars(r)["variant_id"], params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) deleteInventory(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteInventory(r.Context(), mux.Vars(r)["variant_id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	limit, err := uintParam(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := uintParam(r, "offset")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	movements, err := h.service.ListMovements(r.Context(), mux.Vars(r)["variant_id"], limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req models.AdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	record, err := h.service.AdjustStock(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

type bulkAdjustmentRequest struct {
	Adjustments []models.AdjustmentRequest `json:"adjustments"`
}

func (h *Handler) bulkAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req bulkAdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(req.Adjustments) == 0 {
		h.writeError(w, r, models.NewValidationError("adjustments cannot be empty"))
		return
	}

	writeJSON(w, http.StatusOK, h.service.BulkAdjustStock(r.Context(), req.Adjustments))
}

func (h *Handler) bundleAvailability(w http.ResponseWriter, r *http.Request) {
	salesChannelID := r.URL.Query().Get("sales_channel_id")

	result, err := h.service.GetBundleAvailability(r.Context(), mux.Vars(r)["id"], salesChannelID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) linkBundleInventory(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.LinkBundleInventory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory_items": items})
}

func (h *Handler) listBundleInventory(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListBundleInventory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []models.BundleInventoryItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory_items": items})
}

func uintParam(r *http.Request, key string) (uint64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, models.NewValidationError(key + " must be a non-negative integer")
	}
	return n, nil
}

func (h *Handler) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		h.logger.Info("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
