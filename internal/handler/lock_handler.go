package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dandantas/vcollab/internal/lock"
	"github.com/dandantas/vcollab/pkg/middleware"
)

// LockManager is the lock API used by the handler
type LockManager interface {
	Acquire(ctx context.Context, target lock.Target, owner string, ttl time.Duration) (lock.Handle, error)
	Extend(ctx context.Context, target lock.Target, owner string, ttl time.Duration) (lock.Handle, error)
	Release(ctx context.Context, target lock.Target, owner string) error
	Status(ctx context.Context, target lock.Target) (lock.Status, error)
}

// LockHandler exposes edit locks over HTTP. The caller identity comes from the
// X-User-ID header.
type LockHandler struct {
	manager LockManager
}

func NewLockHandler(manager LockManager) *LockHandler {
	return &LockHandler{manager: manager}
}

// LockRequest is the body of acquire, extend and release
type LockRequest struct {
	Collection string `json:"collection"`
	RecordID   string `json:"record_id"`
	FieldID    string `json:"field_id,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

func (req LockRequest) target() lock.Target {
	return lock.Target{Collection: req.Collection, RecordID: req.RecordID, FieldID: req.FieldID}
}

// LockResponse describes a lock held by the caller
type LockResponse struct {
	lock.Target
	Owner            string     `json:"owner"`
	AcquiredAt       *time.Time `json:"acquired_at,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RemainingSeconds float64    `json:"remaining_seconds"`
}

// ConflictResponse is returned with 409 when another user holds the lock
type ConflictResponse struct {
	Error            string    `json:"error"`
	Message          string    `json:"message"`
	Holder           string     `json:"holder,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RemainingSeconds float64    `json:"remaining_seconds"`
}

// StatusResponse is the current lock state of a target
type StatusResponse struct {
	lock.Target
	Locked           bool       `json:"locked"`
	Owner            string     `json:"owner,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	RemainingSeconds float64    `json:"remaining_seconds"`
	HeldByCaller     bool       `json:"held_by_caller"`
}

// Acquire handles POST /api/v1/locks/acquire
func (h *LockHandler) Acquire(w http.ResponseWriter, r *http.Request) {
	req, owner, ok := h.parse(w, r)
	if !ok {
		return
	}

	handle, err := h.manager.Acquire(r.Context(), req.target(), owner, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.writeLockError(w, r, err)
		return
	}

	slog.Info("Lock acquired",
		"target", handle.Target.String(),
		"owner", owner,
		"expires_at", handle.ExpiresAt,
		"correlation_id", middleware.GetCorrelationID(r.Context()),
	)
	acquiredAt := handle.AcquiredAt
	writeJSON(w, http.StatusOK, LockResponse{
		Target:           handle.Target,
		Owner:            handle.Owner,
		AcquiredAt:       &acquiredAt,
		ExpiresAt:        handle.ExpiresAt,
		RemainingSeconds: remainingSeconds(handle.ExpiresAt.Sub(handle.AcquiredAt)),
	})
}

// Extend handles POST /api/v1/locks/extend
func (h *LockHandler) Extend(w http.ResponseWriter, r *http.Request) {
	req, owner, ok := h.parse(w, r)
	if !ok {
		return
	}

	handle, err := h.manager.Extend(r.Context(), req.target(), owner, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.writeLockError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, LockResponse{
		Target:           handle.Target,
		Owner:            handle.Owner,
		ExpiresAt:        handle.ExpiresAt,
		RemainingSeconds: remainingSeconds(time.Until(handle.ExpiresAt)),
	})
}

// Release handles POST /api/v1/locks/release
func (h *LockHandler) Release(w http.ResponseWriter, r *http.Request) {
	req, owner, ok := h.parse(w, r)
	if !ok {
		return
	}

	if err := h.manager.Release(r.Context(), req.target(), owner); err != nil {
		h.writeLockError(w, r, err)
		return
	}

	slog.Info("Lock released",
		"target", req.target().String(),
		"owner", owner,
		"correlation_id", middleware.GetCorrelationID(r.Context()),
	)
	w.WriteHeader(http.StatusNoContent)
}

// Get handles GET /api/v1/locks?collection=&record_id=&field_id=
func (h *LockHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	target := lock.Target{
		Collection: q.Get("collection"),
		RecordID:   q.Get("record_id"),
		FieldID:    q.Get("field_id"),
	}

	st, err := h.manager.Status(r.Context(), target)
	if err != nil {
		h.writeLockError(w, r, err)
		return
	}

	resp := StatusResponse{
		Target:           st.Target,
		Locked:           st.Locked,
		Owner:            st.Owner,
		RemainingSeconds: remainingSeconds(st.Remaining),
	}
	if st.Locked {
		expiresAt := st.ExpiresAt
		resp.ExpiresAt = &expiresAt
		resp.HeldByCaller = st.Owner == middleware.GetUserID(r.Context())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *LockHandler) parse(w http.ResponseWriter, r *http.Request) (LockRequest, string, bool) {
	var req LockRequest
	if !allowMethod(w, r, http.MethodPost) {
		return req, "", false
	}

	owner := middleware.GetUserID(r.Context())
	if owner == "" {
		writeError(w, http.StatusUnauthorized, "X-User-ID header is required")
		return req, "", false
	}

	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, "", false
	}
	if req.TTLSeconds < 0 {
		writeError(w, http.StatusBadRequest, "ttl_seconds must not be negative")
		return req, "", false
	}
	return req, owner, true
}

func (h *LockHandler) writeLockError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *lock.ConflictError
	switch {
	case errors.As(err, &conflict):
		resp := ConflictResponse{
			Error:            http.StatusText(http.StatusConflict),
			Message:          conflict.Error(),
			Holder:           conflict.Owner,
			RemainingSeconds: remainingSeconds(conflict.Remaining),
		}
		if !conflict.ExpiresAt.IsZero() {
			expires := conflict.ExpiresAt
			resp.ExpiresAt = &expires
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, lock.ErrNotOwned):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, lock.ErrInvalidTarget), errors.Is(err, lock.ErrInvalidOwner):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lock.ErrTargetNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("Lock operation failed",
			"path", r.URL.Path,
			"correlation_id", middleware.GetCorrelationID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Lock operation failed")
	}
}

func remainingSeconds(d time.Duration) float64 {
	if d < 0 {
		return 0
	}
	return d.Round(time.Millisecond).Seconds()
}
