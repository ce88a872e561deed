package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/alexander-coord/internal/lock"
	"github.com/prn-tf/alexander-coord/internal/slots"
)

// CoordinatorConfig holds the limits applied to every guarded upload.
type CoordinatorConfig struct {
	// MaxConcurrentPerUser bounds a principal's simultaneous uploads.
	MaxConcurrentPerUser int

	// TierLimitBytes caps a principal's outstanding reserved bytes.
	// Zero disables the cap.
	TierLimitBytes int64

	// SlotTTL is the lease on the inflight counter.
	SlotTTL time.Duration

	// QuotaTTL is the lease on unconsumed reservations.
	QuotaTTL time.Duration

	// LockTTL is the lease on the path lock; long uploads call
	// Session.Heartbeat to keep it alive.
	LockTTL time.Duration

	// Retry is the backoff policy for path lock acquisition.
	Retry lock.RetryPolicy
}

// DefaultCoordinatorConfig returns the limits used by the upload workers.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MaxConcurrentPerUser: 5,
		SlotTTL:              slots.DefaultSlotTTL,
		QuotaTTL:             slots.DefaultQuotaTTL,
		LockTTL:              lock.DefaultLockTTL,
		Retry:                lock.DefaultRetryPolicy(),
	}
}

// UploadCoordinator ties the coordination primitives together for a
// single guarded upload: one concurrency slot, a byte reservation, and an
// exclusive lock on the destination path. Everything acquired by Begin is
// released by Session.Close on every exit path.
type UploadCoordinator struct {
	locker lock.PathLocker
	slots  *slots.Service
	config CoordinatorConfig
	logger zerolog.Logger
}

// NewUploadCoordinator creates a coordinator over the given primitives.
func NewUploadCoordinator(locker lock.PathLocker, slotSvc *slots.Service, config CoordinatorConfig, logger zerolog.Logger) *UploadCoordinator {
	if config.MaxConcurrentPerUser <= 0 {
		config.MaxConcurrentPerUser = 5
	}
	return &UploadCoordinator{
		locker: locker,
		slots:  slotSvc,
		config: config,
		logger: logger.With().Str("service", "upload_coordinator").Logger(),
	}
}

// BeginUploadInput identifies the upload being guarded.
type BeginUploadInput struct {
	Namespace string
	Principal string
	Path      string
	SizeBytes int64
}

// Session represents one guarded upload. Close releases the slot, the
// reservation and the lock in reverse acquisition order; it is safe to
// call more than once.
type Session struct {
	coordinator *UploadCoordinator

	namespace string
	principal string
	path      string
	token     string
	reserved  int64

	mu     sync.Mutex
	closed bool
}

// Begin acquires a concurrency slot, reserves the upload's bytes, and
// locks the destination path. On any failure everything already acquired
// is rolled back before the error is returned.
func (c *UploadCoordinator) Begin(ctx context.Context, input BeginUploadInput) (*Session, error) {
	slot, err := c.slots.TryAcquireSlot(ctx, input.Principal, c.config.MaxConcurrentPerUser, c.config.SlotTTL)
	if err != nil {
		return nil, err
	}
	if !slot.Acquired {
		return nil, fmt.Errorf("%w: %d in flight", ErrTooManyUploads, slot.Current)
	}

	var reserved int64
	if input.SizeBytes > 0 {
		total, err := c.slots.ReserveQuota(ctx, input.Principal, input.SizeBytes, c.config.QuotaTTL)
		if err != nil {
			c.rollbackSlot(ctx, input.Principal)
			return nil, err
		}
		if c.config.TierLimitBytes > 0 && total > c.config.TierLimitBytes {
			c.rollbackQuota(ctx, input.Principal, input.SizeBytes)
			c.rollbackSlot(ctx, input.Principal)
			return nil, fmt.Errorf("%w: %d of %d bytes reserved", ErrQuotaExceeded, total, c.config.TierLimitBytes)
		}
		reserved = input.SizeBytes
	}

	result, err := c.locker.TryAcquire(ctx, input.Namespace, input.Path, c.config.LockTTL, c.config.Retry)
	if err != nil {
		c.rollbackQuota(ctx, input.Principal, reserved)
		c.rollbackSlot(ctx, input.Principal)
		return nil, err
	}
	if !result.Acquired {
		c.rollbackQuota(ctx, input.Principal, reserved)
		c.rollbackSlot(ctx, input.Principal)
		return nil, fmt.Errorf("%w: %s (%s)", lock.ErrLockUnavailable, input.Path, result.Reason)
	}

	c.logger.Debug().
		Str("namespace", input.Namespace).
		Str("principal", input.Principal).
		Str("path", input.Path).
		Int64("size", input.SizeBytes).
		Msg("upload session started")

	return &Session{
		coordinator: c,
		namespace:   input.Namespace,
		principal:   input.Principal,
		path:        input.Path,
		token:       result.Token,
		reserved:    reserved,
	}, nil
}

// WithUpload runs fn inside a guarded upload session.
func (c *UploadCoordinator) WithUpload(ctx context.Context, input BeginUploadInput, fn func(ctx context.Context, session *Session) error) error {
	session, err := c.Begin(ctx, input)
	if err != nil {
		return err
	}
	defer session.Close(ctx)
	return fn(ctx, session)
}

func (c *UploadCoordinator) rollbackSlot(ctx context.Context, principal string) {
	if _, err := c.slots.ReleaseSlot(ctx, principal); err != nil {
		c.logger.Warn().Err(err).Str("principal", principal).Msg("slot rollback failed, lease will expire via TTL")
	}
}

func (c *UploadCoordinator) rollbackQuota(ctx context.Context, principal string, bytes int64) {
	if bytes <= 0 {
		return
	}
	if _, err := c.slots.ConsumeQuota(ctx, principal, bytes, c.config.QuotaTTL); err != nil {
		c.logger.Warn().Err(err).Str("principal", principal).Msg("quota rollback failed, reservation will expire via TTL")
	}
}

// Heartbeat extends the path lock lease. Long-running uploads call this
// periodically; the coordinator does not schedule it.
func (s *Session) Heartbeat(ctx context.Context) (bool, error) {
	return s.coordinator.locker.Refresh(ctx, s.namespace, s.path, s.token, s.coordinator.config.LockTTL)
}

// Path returns the destination path guarded by this session.
func (s *Session) Path() string {
	return s.path
}

// Close releases the lock, consumes the reservation and frees the slot.
// It runs even when the caller's context is already cancelled.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	c := s.coordinator
	if _, err := c.locker.Release(closeCtx, s.namespace, s.path, s.token); err != nil {
		c.logger.Warn().Err(err).Str("path", s.path).Msg("lock release failed on session close")
	}
	c.rollbackQuota(closeCtx, s.principal, s.reserved)
	c.rollbackSlot(closeCtx, s.principal)

	c.logger.Debug().
		Str("namespace", s.namespace).
		Str("principal", s.principal).
		Str("path", s.path).
		Msg("upload session closed")
}
