// Package blob provides the cloud-storage adapters the ledger lives in.
//
// Objects are addressed by opaque IDs and live inside folders, mirroring a
// Drive-like hierarchy: root / YYYY_MM / cedant / file. Names are not
// necessarily unique inside a folder on every backend, so List exists next
// to Find.
package blob

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an object does not exist.
	ErrNotFound = errors.New("blob: not found")

	// ErrExists is returned by CreateExclusive when the name is taken.
	ErrExists = errors.New("blob: already exists")
)

// Object is the metadata of a stored blob or folder.
type Object struct {
	ID        string
	Name      string
	ParentID  string
	Size      int64
	IsFolder  bool
	CreatedAt time.Time
}

// Store is the blob store contract consumed by the ledger repository and the
// marker lock.
type Store interface {
	// RootID is the folder every period folder lives under.
	RootID() string

	// Find returns the oldest object named name in parentID, or ErrNotFound.
	Find(ctx context.Context, name, parentID string) (Object, error)

	// List returns every object named name in parentID, oldest first.
	List(ctx context.Context, name, parentID string) ([]Object, error)

	// Get downloads the content of an object.
	Get(ctx context.Context, id string) ([]byte, error)

	// Put uploads data. With an empty existingID a new object is created,
	// otherwise existingID is overwritten in place.
	Put(ctx context.Context, name, parentID string, data []byte, existingID string) (string, error)

	// CreateExclusive creates name in parentID unless it already exists, in
	// which case ErrExists is returned. Whether the check is atomic depends
	// on the backend; see Atomic.
	CreateExclusive(ctx context.Context, name, parentID string, data []byte) (string, error)

	// Atomic reports whether CreateExclusive is a true create-if-absent.
	Atomic() bool

	// Delete removes an object. Deleting a missing object returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// EnsureFolder returns the folder name in parentID, creating it if needed.
	EnsureFolder(ctx context.Context, name, parentID string) (string, error)
}

// Kind of an object row, used by backends that store folders and files in one table.
const (
	kindFile   = "file"
	kindFolder = "folder"
)
