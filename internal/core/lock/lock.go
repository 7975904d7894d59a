// Package lock defines the per-period advisory lock that serializes ledger mutations.
// Implementations (blob marker, local file, redis) live in the infrastructure layer.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prodlog/internal/core/types"
	"prodlog/pkg/logger"
)

var tracer = otel.Tracer("prodlog/lock")

// Lock is a held period lock. Only its holder may release it.
type Lock struct {
	Period     types.Period
	Token      string
	Holder     string
	AcquiredAt time.Time
	TTL        time.Duration

	// Handle identifies the backing object (marker id, file path, redis key).
	Handle string
}

// Manager acquires and releases period locks. Locks are not reentrant.
type Manager interface {
	// Acquire takes the lock for period or fails with LOCK_HELD / LOCK_TIMEOUT.
	Acquire(ctx context.Context, period types.Period) (*Lock, error)

	// Release frees a lock obtained from Acquire. Releasing a lock that
	// is no longer ours is a no-op.
	Release(ctx context.Context, l *Lock) error
}

// Status describes the current holder of a period lock, for operators.
type Status struct {
	Period     types.Period  `json:"-"`
	Held       bool          `json:"held"`
	Holder     string        `json:"holder,omitempty"`
	Token      string        `json:"token,omitempty"`
	AcquiredAt time.Time     `json:"acquired_at,omitempty"`
	TTL        time.Duration `json:"ttl,omitempty"`
	Stale      bool          `json:"stale"`
}

// Inspector is the operator surface of a lock backend.
type Inspector interface {
	Status(ctx context.Context, period types.Period) (Status, error)

	// ForceRelease removes the lock regardless of holder. Used to clear
	// markers left behind by crashed processes.
	ForceRelease(ctx context.Context, period types.Period) error
}

// Backend is a full lock implementation.
type Backend interface {
	Manager
	Inspector
}

// Payload is the serialized form of a lock marker.
type Payload struct {
	Token      string    `json:"token"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	TTLSeconds int64     `json:"ttl"`
}

// PayloadOf builds the marker payload for l.
func PayloadOf(l *Lock) Payload {
	return Payload{
		Token:      l.Token,
		Holder:     l.Holder,
		AcquiredAt: l.AcquiredAt.UTC(),
		TTLSeconds: int64(l.TTL / time.Second),
	}
}

// Encode marshals the payload. It fails only for an AcquiredAt outside the
// years 0 to 9999.
func (p Payload) Encode() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode lock payload: %w", err)
	}
	return b, nil
}

// DecodePayload parses a marker body. Unreadable bodies yield a zero payload
// and an error; callers treat such markers as held with unknown age.
func DecodePayload(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, fmt.Errorf("decode lock payload: %w", err)
	}
	return p, nil
}

// TTL returns the payload time-to-live.
func (p Payload) TTL() time.Duration { return time.Duration(p.TTLSeconds) * time.Second }

// IsStale reports whether the marker outlived its TTL at now.
// Markers without a TTL never go stale.
func (p Payload) IsStale(now time.Time) bool {
	if p.TTLSeconds <= 0 || p.AcquiredAt.IsZero() {
		return false
	}
	return now.Sub(p.AcquiredAt) > p.TTL()
}

// DefaultHolder identifies this process in lock payloads.
func DefaultHolder() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

type heldKey struct{ period types.Period }

// WithLock runs fn while holding the lock for period. The lock is released on
// every exit path once acquired, including panics. A release failure is logged
// and does not change the outcome of fn.
func WithLock(ctx context.Context, m Manager, period types.Period, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(heldKey{period}) != nil {
		return fmt.Errorf("lock for period %s is already held by this operation", period)
	}

	ctx, span := tracer.Start(ctx, "lock.hold",
		trace.WithAttributes(attribute.String("ledger.period", period.String())))
	defer span.End()

	l, err := m.Acquire(ctx, period)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "acquire failed")
		return err
	}
	span.AddEvent("acquired")

	defer func() {
		// Release must run even if the caller's context was cancelled.
		relCtx := context.WithoutCancel(ctx)
		if relErr := m.Release(relCtx, l); relErr != nil {
			logger.Warn(ctx, "lock release failed",
				"period", period.Key(),
				"token", l.Token,
				"error", relErr,
			)
		}
	}()

	return fn(context.WithValue(ctx, heldKey{period}, l))
}

// Held returns the lock held for period by the current operation, if any.
func Held(ctx context.Context, period types.Period) *Lock {
	if l, ok := ctx.Value(heldKey{period}).(*Lock); ok {
		return l
	}
	return nil
}
