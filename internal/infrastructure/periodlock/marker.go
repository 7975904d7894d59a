// Package periodlock implements lock.Backend on top of the storage backends:
// marker objects in the blob store, exclusive files on a local filesystem,
// and redis keys.
package periodlock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"prodlog/internal/core/apperror"
	"prodlog/internal/core/lock"
	"prodlog/internal/core/types"
	"prodlog/internal/infrastructure/storage/blob"
	"prodlog/pkg/logger"
)

// MarkerName is the marker object created inside the period folder.
const MarkerName = "log_produksi.lock"

// DefaultTTL is how long a marker is trusted before another process may
// take it over.
const DefaultTTL = 10 * time.Minute

// MarkerConfig configures a Marker lock.
type MarkerConfig struct {
	Name   string
	TTL    time.Duration
	Holder string
}

func (c MarkerConfig) withDefaults() MarkerConfig {
	if c.Name == "" {
		c.Name = MarkerName
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Holder == "" {
		c.Holder = lock.DefaultHolder()
	}
	return c
}

// Marker is a fail-fast lock backed by a marker object in the period folder.
// On stores without atomic create it verifies after creation that its
// marker is the oldest one and backs off otherwise.
type Marker struct {
	store blob.Store
	cfg   MarkerConfig
	now   func() time.Time
}

var _ lock.Backend = (*Marker)(nil)

// NewMarker creates a marker lock over store.
func NewMarker(store blob.Store, cfg MarkerConfig) *Marker {
	return &Marker{store: store, cfg: cfg.withDefaults(), now: time.Now}
}

// WithClock overrides the time source.
func (m *Marker) WithClock(now func() time.Time) *Marker {
	m.now = now
	return m
}

// Acquire creates the period marker or fails with LOCK_HELD. A marker older
// than its TTL is removed and acquisition retried once.
func (m *Marker) Acquire(ctx context.Context, period types.Period) (*lock.Lock, error) {
	folderID, err := m.store.EnsureFolder(ctx, period.Key(), m.store.RootID())
	if err != nil {
		return nil, apperror.NewStorage("ensure period folder", err)
	}

	l := &lock.Lock{
		Period:     period,
		Token:      uuid.NewString(),
		Holder:     m.cfg.Holder,
		AcquiredAt: m.now().UTC(),
		TTL:        m.cfg.TTL,
	}

	data, err := lock.PayloadOf(l).Encode()
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		id, err := m.store.CreateExclusive(ctx, m.cfg.Name, folderID, data)
		if err == nil {
			l.Handle = id
			if m.store.Atomic() {
				return l, nil
			}
			return m.verify(ctx, l, folderID)
		}
		if !errors.Is(err, blob.ErrExists) {
			return nil, apperror.NewStorage("create lock marker", err)
		}

		if attempt > 0 {
			break
		}
		took, err := m.takeOverStale(ctx, period, folderID)
		if err != nil {
			return nil, err
		}
		if !took {
			break
		}
	}
	return nil, apperror.NewLockHeld(period.String())
}

// verify guards check-then-create stores: if two processes raced, only the
// owner of the oldest marker keeps the lock. Age comes from the payloads,
// not from the order the store lists them in.
func (m *Marker) verify(ctx context.Context, l *lock.Lock, folderID string) (*lock.Lock, error) {
	markers, err := m.store.List(ctx, m.cfg.Name, folderID)
	if err != nil {
		m.deleteQuietly(ctx, l.Handle)
		return nil, apperror.NewStorage("verify lock marker", err)
	}
	held, err := m.ordered(ctx, markers)
	if err != nil {
		m.deleteQuietly(ctx, l.Handle)
		return nil, err
	}
	if len(held) > 0 && held[0].obj.ID == l.Handle {
		return l, nil
	}
	logger.Warn(ctx, "lost lock marker race",
		"period", l.Period.Key(),
		"markers", len(held))
	m.deleteQuietly(ctx, l.Handle)
	return nil, apperror.NewLockHeld(l.Period.String())
}

func (m *Marker) takeOverStale(ctx context.Context, period types.Period, folderID string) (bool, error) {
	markers, err := m.store.List(ctx, m.cfg.Name, folderID)
	if err != nil {
		return false, apperror.NewStorage("list lock markers", err)
	}
	held, err := m.ordered(ctx, markers)
	if err != nil {
		return false, err
	}
	if len(held) == 0 {
		// Released between our create and the listing.
		return true, nil
	}
	p := held[0].payload
	if !held[0].readable || !p.IsStale(m.now()) {
		return false, nil
	}

	logger.Warn(ctx, "taking over stale ledger lock",
		"period", period.Key(),
		"holder", p.Holder,
		"acquired_at", p.AcquiredAt,
		"ttl", p.TTL())
	for _, obj := range markers {
		if err := m.store.Delete(ctx, obj.ID); err != nil && !errors.Is(err, blob.ErrNotFound) {
			return false, apperror.NewStorage("delete stale lock marker", err)
		}
	}
	return true, nil
}

// Release deletes the marker if it is still ours.
func (m *Marker) Release(ctx context.Context, l *lock.Lock) error {
	if l == nil || l.Handle == "" {
		return nil
	}
	data, err := m.store.Get(ctx, l.Handle)
	if errors.Is(err, blob.ErrNotFound) {
		return nil
	}
	if err != nil {
		return apperror.NewStorage("read lock marker", err)
	}
	if p, err := lock.DecodePayload(data); err == nil && p.Token != l.Token {
		logger.Warn(ctx, "lock marker replaced by another holder, not releasing",
			"period", l.Period.Key(),
			"holder", p.Holder)
		return nil
	}
	if err := m.store.Delete(ctx, l.Handle); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return apperror.NewStorage("delete lock marker", err)
	}
	return nil
}

// Status reports the current marker of period.
func (m *Marker) Status(ctx context.Context, period types.Period) (lock.Status, error) {
	st := lock.Status{Period: period}
	markers, err := m.markers(ctx, period)
	if err != nil || len(markers) == 0 {
		return st, err
	}

	held, err := m.ordered(ctx, markers)
	if err != nil || len(held) == 0 {
		return st, err
	}

	st.Held = true
	oldest := held[0]
	if oldest.readable {
		p := oldest.payload
		st.Holder = p.Holder
		st.Token = p.Token
		st.AcquiredAt = p.AcquiredAt
		st.TTL = p.TTL()
		st.Stale = p.IsStale(m.now())
	} else {
		st.Holder = fmt.Sprintf("unreadable marker %s", oldest.obj.ID)
		st.AcquiredAt = oldest.obj.CreatedAt
	}
	return st, nil
}

// ForceRelease deletes every marker of period regardless of owner.
func (m *Marker) ForceRelease(ctx context.Context, period types.Period) error {
	markers, err := m.markers(ctx, period)
	if err != nil {
		return err
	}
	for _, obj := range markers {
		if err := m.store.Delete(ctx, obj.ID); err != nil && !errors.Is(err, blob.ErrNotFound) {
			return apperror.NewStorage("delete lock marker", err)
		}
	}
	if len(markers) > 0 {
		logger.Warn(ctx, "ledger lock force-released", "period", period.Key(), "markers", len(markers))
	}
	return nil
}

func (m *Marker) markers(ctx context.Context, period types.Period) ([]blob.Object, error) {
	folder, err := m.store.Find(ctx, period.Key(), m.store.RootID())
	if errors.Is(err, blob.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.NewStorage("find period folder", err)
	}
	markers, err := m.store.List(ctx, m.cfg.Name, folder.ID)
	if err != nil {
		return nil, apperror.NewStorage("list lock markers", err)
	}
	return markers, nil
}

type heldMarker struct {
	obj      blob.Object
	payload  lock.Payload
	readable bool
}

// ordered reads every marker and sorts them oldest first by acquisition time,
// then token. Markers deleted meanwhile are dropped. Unreadable ones are
// dated by their creation time.
func (m *Marker) ordered(ctx context.Context, markers []blob.Object) ([]heldMarker, error) {
	held := make([]heldMarker, 0, len(markers))
	for _, obj := range markers {
		data, err := m.store.Get(ctx, obj.ID)
		if errors.Is(err, blob.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperror.NewStorage("read lock marker", err)
		}
		h := heldMarker{obj: obj}
		h.payload, err = lock.DecodePayload(data)
		h.readable = err == nil
		if !h.readable {
			h.payload = lock.Payload{AcquiredAt: obj.CreatedAt}
		}
		held = append(held, h)
	}
	slices.SortFunc(held, func(a, b heldMarker) int {
		if c := a.payload.AcquiredAt.Compare(b.payload.AcquiredAt); c != 0 {
			return c
		}
		if c := strings.Compare(a.payload.Token, b.payload.Token); c != 0 {
			return c
		}
		return strings.Compare(a.obj.ID, b.obj.ID)
	})
	return held, nil
}

func (m *Marker) deleteQuietly(ctx context.Context, id string) {
	if err := m.store.Delete(context.WithoutCancel(ctx), id); err != nil && !errors.Is(err, blob.ErrNotFound) {
		logger.Warn(ctx, "failed to remove lock marker", "marker_id", id, "error", err)
	}
}
