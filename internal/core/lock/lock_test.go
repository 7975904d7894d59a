package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodlog/internal/core/types"
)

type fakeManager struct {
	mu         sync.Mutex
	held       map[types.Period]bool
	released   int
	releaseErr error
}

func newFakeManager() *fakeManager {
	return &fakeManager{held: make(map[types.Period]bool)}
}

func (f *fakeManager) Acquire(_ context.Context, p types.Period) (*Lock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[p] {
		return nil, errors.New("held")
	}
	f.held[p] = true
	return &Lock{Period: p, Token: "tok"}, nil
}

func (f *fakeManager) Release(_ context.Context, l *Lock) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, l.Period)
	f.released++
	return f.releaseErr
}

var mar = types.Period{Year: 2025, Month: 3}

func TestWithLock_ReleasesOnSuccessAndError(t *testing.T) {
	m := newFakeManager()

	err := WithLock(context.Background(), m, mar, func(ctx context.Context) error {
		assert.NotNil(t, Held(ctx, mar))
		return nil
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = WithLock(context.Background(), m, mar, func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 2, m.released)
	assert.Empty(t, m.held)
}

func TestWithLock_ReleasesOnPanic(t *testing.T) {
	m := newFakeManager()

	assert.Panics(t, func() {
		_ = WithLock(context.Background(), m, mar, func(context.Context) error { panic("oops") })
	})
	assert.Equal(t, 1, m.released)
	assert.Empty(t, m.held)
}

func TestWithLock_AcquireFailureSkipsFn(t *testing.T) {
	m := newFakeManager()
	m.held[mar] = true

	called := false
	err := WithLock(context.Background(), m, mar, func(context.Context) error {
		called = true
		return nil
	})
	assert.Error(t, err)
	assert.False(t, called)
	assert.Zero(t, m.released)
}

func TestWithLock_ReleaseFailureKeepsResult(t *testing.T) {
	m := newFakeManager()
	m.releaseErr = errors.New("store down")

	err := WithLock(context.Background(), m, mar, func(context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestWithLock_NotReentrant(t *testing.T) {
	m := newFakeManager()
	err := WithLock(context.Background(), m, mar, func(ctx context.Context) error {
		return WithLock(ctx, m, mar, func(context.Context) error { return nil })
	})
	assert.Error(t, err)
	assert.Equal(t, 1, m.released)
}

func TestPayload(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	l := &Lock{Token: "abc", Holder: "host:1", AcquiredAt: now, TTL: 2 * time.Minute}

	data, err := PayloadOf(l).Encode()
	require.NoError(t, err)
	p, err := DecodePayload(data)
	require.NoError(t, err)
	assert.Equal(t, "abc", p.Token)
	assert.Equal(t, 2*time.Minute, p.TTL())
	assert.False(t, p.IsStale(now.Add(time.Minute)))
	assert.True(t, p.IsStale(now.Add(3*time.Minute)))

	assert.False(t, Payload{}.IsStale(now))

	_, err = DecodePayload([]byte("not json"))
	assert.Error(t, err)

	_, err = Payload{AcquiredAt: time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)}.Encode()
	assert.Error(t, err)
}
