package blob

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const memoryRootID = "root"

type memObject struct {
	Object
	data []byte
}

// Memory is an in-process Store. Creation is atomic. Used by tests and by
// single-instance deployments that do not need durability.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]*memObject
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]*memObject),
		now:     time.Now,
	}
}

// WithClock overrides the creation timestamp source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) RootID() string { return memoryRootID }

func (m *Memory) Find(ctx context.Context, name, parentID string) (Object, error) {
	objs, err := m.List(ctx, name, parentID)
	if err != nil {
		return Object{}, err
	}
	if len(objs) == 0 {
		return Object{}, ErrNotFound
	}
	return objs[0], nil
}

func (m *Memory) List(_ context.Context, name, parentID string) ([]Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(name, parentID), nil
}

func (m *Memory) listLocked(name, parentID string) []Object {
	var out []Object
	for _, o := range m.objects {
		if o.Name == name && o.ParentID == parentID {
			out = append(out, o.Object)
		}
	}
	slices.SortFunc(out, func(a, b Object) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

func (m *Memory) Get(_ context.Context, id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[id]
	if !ok || o.IsFolder {
		return nil, ErrNotFound
	}
	return slices.Clone(o.data), nil
}

func (m *Memory) Put(_ context.Context, name, parentID string, data []byte, existingID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existingID != "" {
		o, ok := m.objects[existingID]
		if !ok {
			return "", ErrNotFound
		}
		o.data = slices.Clone(data)
		o.Size = int64(len(data))
		return existingID, nil
	}
	return m.createLocked(name, parentID, data, false), nil
}

func (m *Memory) CreateExclusive(_ context.Context, name, parentID string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.listLocked(name, parentID)) > 0 {
		return "", ErrExists
	}
	return m.createLocked(name, parentID, data, false), nil
}

func (m *Memory) Atomic() bool { return true }

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[id]; !ok {
		return ErrNotFound
	}
	delete(m.objects, id)
	return nil
}

func (m *Memory) EnsureFolder(_ context.Context, name, parentID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.listLocked(name, parentID) {
		if o.IsFolder {
			return o.ID, nil
		}
	}
	return m.createLocked(name, parentID, nil, true), nil
}

func (m *Memory) createLocked(name, parentID string, data []byte, folder bool) string {
	id := uuid.NewString()
	m.objects[id] = &memObject{
		Object: Object{
			ID:        id,
			Name:      name,
			ParentID:  parentID,
			Size:      int64(len(data)),
			IsFolder:  folder,
			CreatedAt: m.now(),
		},
		data: slices.Clone(data),
	}
	return id
}
