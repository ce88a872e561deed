package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-coord/internal/slots"
	"github.com/prn-tf/alexander-coord/internal/store"
)

// SlotsHandler exposes the concurrency slot and quota services over HTTP.
type SlotsHandler struct {
	slots  *slots.Service
	logger zerolog.Logger
}

// NewSlotsHandler creates a new SlotsHandler.
func NewSlotsHandler(slotSvc *slots.Service, logger zerolog.Logger) *SlotsHandler {
	return &SlotsHandler{
		slots:  slotSvc,
		logger: logger.With().Str("handler", "slots").Logger(),
	}
}

// slotRequest is the body of POST /v1/slots/{principal}/acquire.
type slotRequest struct {
	MaxConcurrent int   `json:"max_concurrent"`
	TTLSeconds    int64 `json:"ttl_seconds"`
}

// slotResponse reports a slot decision.
type slotResponse struct {
	Acquired bool  `json:"acquired"`
	Current  int64 `json:"current"`
}

// quotaRequest is the body of the quota endpoints.
type quotaRequest struct {
	Bytes      int64 `json:"bytes"`
	TTLSeconds int64 `json:"ttl_seconds"`
}

// quotaResponse reports a quota consumption.
type quotaResponse struct {
	OK            bool  `json:"ok"`
	Remaining     int64 `json:"remaining"`
	FullyReleased bool  `json:"fully_released"`
}

// AcquireSlot handles POST /v1/slots/{principal}/acquire.
func (h *SlotsHandler) AcquireSlot(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")

	var req slotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.MaxConcurrent <= 0 {
		writeError(w, http.StatusBadRequest, "InvalidArgument", "max_concurrent must be positive")
		return
	}

	result, err := h.slots.TryAcquireSlot(r.Context(), principal, req.MaxConcurrent,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.writeSlotError(w, err)
		return
	}

	status := http.StatusOK
	if !result.Acquired {
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, slotResponse{Acquired: result.Acquired, Current: result.Current})
}

// ReleaseSlot handles POST /v1/slots/{principal}/release.
func (h *SlotsHandler) ReleaseSlot(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")

	remaining, err := h.slots.ReleaseSlot(r.Context(), principal)
	if err != nil {
		h.writeSlotError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"remaining": remaining})
}

// ReserveQuota handles POST /v1/quota/{principal}/reserve.
func (h *SlotsHandler) ReserveQuota(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")

	var req quotaRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Bytes <= 0 {
		writeError(w, http.StatusBadRequest, "InvalidArgument", "bytes must be positive")
		return
	}

	total, err := h.slots.ReserveQuota(r.Context(), principal, req.Bytes,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.writeSlotError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"total": total})
}

// ConsumeQuota handles POST /v1/quota/{principal}/consume.
func (h *SlotsHandler) ConsumeQuota(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")

	var req quotaRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Bytes <= 0 {
		writeError(w, http.StatusBadRequest, "InvalidArgument", "bytes must be positive")
		return
	}

	result, err := h.slots.ConsumeQuota(r.Context(), principal, req.Bytes,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.writeSlotError(w, err)
		return
	}

	status := http.StatusOK
	if !result.OK {
		status = http.StatusConflict
	}
	writeJSON(w, status, quotaResponse{
		OK:            result.OK,
		Remaining:     result.Remaining,
		FullyReleased: result.FullyReleased,
	})
}

// ResetQuota handles DELETE /v1/quota/{principal}.
func (h *SlotsHandler) ResetQuota(w http.ResponseWriter, r *http.Request) {
	principal := chi.URLParam(r, "principal")

	if err := h.slots.ResetQuota(r.Context(), principal); err != nil {
		h.writeSlotError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /v1/stats.
func (h *SlotsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.slots.Stats(r.Context())
	if err != nil {
		h.writeSlotError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *SlotsHandler) writeSlotError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrUnavailable) {
		h.logger.Error().Err(err).Msg("store unavailable")
		writeError(w, http.StatusServiceUnavailable, "StoreUnavailable", "coordination store is unavailable")
		return
	}
	h.logger.Error().Err(err).Msg("slot operation failed")
	writeError(w, http.StatusInternalServerError, "InternalError", "internal server error")
}
