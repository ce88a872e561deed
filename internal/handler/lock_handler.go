package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-coord/internal/lock"
	"github.com/prn-tf/alexander-coord/internal/pathutil"
	"github.com/prn-tf/alexander-coord/internal/store"
)

// LockHandler exposes the hierarchical path lock over HTTP.
type LockHandler struct {
	locker lock.PathLocker
	logger zerolog.Logger
}

// NewLockHandler creates a new LockHandler.
func NewLockHandler(locker lock.PathLocker, logger zerolog.Logger) *LockHandler {
	return &LockHandler{
		locker: locker,
		logger: logger.With().Str("handler", "lock").Logger(),
	}
}

// acquireRequest is the body of POST /v1/namespaces/{namespace}/locks.
type acquireRequest struct {
	Path             string `json:"path"`
	TTLMs            int64  `json:"ttl_ms"`
	AcquireTimeoutMs int64  `json:"acquire_timeout_ms"`
	BaseDelayMs      int64  `json:"base_delay_ms"`
	MaxBackoffFactor int    `json:"max_backoff_factor"`
}

// acquireResponse reports the acquisition outcome. Token is only present
// when Acquired is true.
type acquireResponse struct {
	Acquired bool   `json:"acquired"`
	Token    string `json:"token,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// releaseRequest is the body of the release and refresh endpoints.
type releaseRequest struct {
	Path  string `json:"path"`
	Token string `json:"token"`
	TTLMs int64  `json:"ttl_ms"`
}

// Acquire handles POST /v1/namespaces/{namespace}/locks.
func (h *LockHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")

	var req acquireRequest
	if !decodeBody(w, r, &req) {
		return
	}

	policy := lock.RetryPolicy{
		AcquireTimeout:   time.Duration(req.AcquireTimeoutMs) * time.Millisecond,
		BaseDelay:        time.Duration(req.BaseDelayMs) * time.Millisecond,
		MaxBackoffFactor: req.MaxBackoffFactor,
	}

	result, err := h.locker.TryAcquire(r.Context(), namespace, req.Path,
		time.Duration(req.TTLMs)*time.Millisecond, policy)
	if err != nil {
		h.writeLockError(w, err)
		return
	}

	if !result.Acquired {
		writeJSON(w, http.StatusLocked, acquireResponse{Reason: string(result.Reason)})
		return
	}
	writeJSON(w, http.StatusOK, acquireResponse{Acquired: true, Token: result.Token})
}

// Release handles DELETE /v1/namespaces/{namespace}/locks.
func (h *LockHandler) Release(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")

	var req releaseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	released, err := h.locker.Release(r.Context(), namespace, req.Path, req.Token)
	if err != nil {
		h.writeLockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": released})
}

// Refresh handles POST /v1/namespaces/{namespace}/locks/refresh.
func (h *LockHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")

	var req releaseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	refreshed, err := h.locker.Refresh(r.Context(), namespace, req.Path, req.Token,
		time.Duration(req.TTLMs)*time.Millisecond)
	if err != nil {
		h.writeLockError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"refreshed": refreshed})
}

func (h *LockHandler) writeLockError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pathutil.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, "InvalidPath", err.Error())
	case errors.Is(err, store.ErrUnavailable):
		h.logger.Error().Err(err).Msg("store unavailable")
		writeError(w, http.StatusServiceUnavailable, "StoreUnavailable", "coordination store is unavailable")
	default:
		h.logger.Error().Err(err).Msg("lock operation failed")
		writeError(w, http.StatusInternalServerError, "InternalError", "internal server error")
	}
}
