package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/klauspost/compress/zstd"
)

const (
	postgresRootID = "root"
	objectsTable   = "blob_objects"

	compressionNone = "none"
	compressionZstd = "zstd"

	defaultCompressThreshold = 10 * 1024
)

// Schema creates the objects table. The unique index is what makes
// CreateExclusive atomic.
const Schema = `
CREATE TABLE IF NOT EXISTS blob_objects (
	id          text PRIMARY KEY,
	parent_id   text NOT NULL,
	name        text NOT NULL,
	kind        text NOT NULL,
	data        bytea,
	compression text NOT NULL DEFAULT 'none',
	size        bigint NOT NULL DEFAULT 0,
	created_at  timestamptz NOT NULL DEFAULT now(),
	updated_at  timestamptz NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS blob_objects_parent_name_idx ON blob_objects (parent_id, name);
`

// Querier is the subset of pgxpool.Pool used by the store.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type objectRow struct {
	ID        string    `db:"id"`
	ParentID  string    `db:"parent_id"`
	Name      string    `db:"name"`
	Kind      string    `db:"kind"`
	Size      int64     `db:"size"`
	CreatedAt time.Time `db:"created_at"`
}

func (r objectRow) object() Object {
	return Object{
		ID:        r.ID,
		Name:      r.Name,
		ParentID:  r.ParentID,
		Size:      r.Size,
		IsFolder:  r.Kind == kindFolder,
		CreatedAt: r.CreatedAt,
	}
}

// Postgres stores blobs as bytea rows. Payloads above a threshold are
// zstd-compressed.
type Postgres struct {
	db                Querier
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a store over db.
func NewPostgres(db Querier) (*Postgres, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Postgres{
		db:                db,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: defaultCompressThreshold,
	}, nil
}

// Migrate creates the schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("migrate blob schema: %w", err)
	}
	return nil
}

func (p *Postgres) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (p *Postgres) RootID() string { return postgresRootID }

func (p *Postgres) Find(ctx context.Context, name, parentID string) (Object, error) {
	objs, err := p.List(ctx, name, parentID)
	if err != nil {
		return Object{}, err
	}
	if len(objs) == 0 {
		return Object{}, ErrNotFound
	}
	return objs[0], nil
}

func (p *Postgres) List(ctx context.Context, name, parentID string) ([]Object, error) {
	q := p.builder().
		Select("id", "parent_id", "name", "kind", "size", "created_at").
		From(objectsTable).
		Where(squirrel.Eq{"parent_id": parentID, "name": name}).
		OrderBy("created_at", "id")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []objectRow
	if err := pgxscan.Select(ctx, p.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	out := make([]Object, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.object())
	}
	return out, nil
}

func (p *Postgres) Get(ctx context.Context, id string) ([]byte, error) {
	q := p.builder().
		Select("data", "compression").
		From(objectsTable).
		Where(squirrel.Eq{"id": id, "kind": kindFile})

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var data []byte
	var compression string
	if err := p.db.QueryRow(ctx, sql, args...).Scan(&data, &compression); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return p.decode(data, compression)
}

func (p *Postgres) Put(ctx context.Context, name, parentID string, data []byte, existingID string) (string, error) {
	payload, compression := p.encode(data)

	if existingID != "" {
		q := p.builder().
			Update(objectsTable).
			Set("data", payload).
			Set("compression", compression).
			Set("size", len(data)).
			Set("updated_at", squirrel.Expr("now()")).
			Where(squirrel.Eq{"id": existingID, "kind": kindFile})

		sql, args, err := q.ToSql()
		if err != nil {
			return "", fmt.Errorf("build query: %w", err)
		}
		tag, err := p.db.Exec(ctx, sql, args...)
		if err != nil {
			return "", fmt.Errorf("update object: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return "", ErrNotFound
		}
		return existingID, nil
	}

	q := p.builder().
		Insert(objectsTable).
		Columns("id", "parent_id", "name", "kind", "data", "compression", "size").
		Values(uuid.NewString(), parentID, name, kindFile, payload, compression, len(data)).
		Suffix(`ON CONFLICT (parent_id, name) DO UPDATE
			SET data = EXCLUDED.data, compression = EXCLUDED.compression,
			    size = EXCLUDED.size, updated_at = now()
			RETURNING id`)

	sql, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build query: %w", err)
	}
	var id string
	if err := p.db.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return id, nil
}

func (p *Postgres) CreateExclusive(ctx context.Context, name, parentID string, data []byte) (string, error) {
	return p.insertIfAbsent(ctx, name, parentID, kindFile, data)
}

func (p *Postgres) insertIfAbsent(ctx context.Context, name, parentID, kind string, data []byte) (string, error) {
	payload, compression := p.encode(data)
	id := uuid.NewString()

	q := p.builder().
		Insert(objectsTable).
		Columns("id", "parent_id", "name", "kind", "data", "compression", "size").
		Values(id, parentID, name, kind, payload, compression, len(data)).
		Suffix("ON CONFLICT (parent_id, name) DO NOTHING")

	sql, args, err := q.ToSql()
	if err != nil {
		return "", fmt.Errorf("build query: %w", err)
	}
	tag, err := p.db.Exec(ctx, sql, args...)
	if err != nil {
		return "", fmt.Errorf("insert object: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrExists
	}
	return id, nil
}

func (p *Postgres) Atomic() bool { return true }

func (p *Postgres) Delete(ctx context.Context, id string) error {
	sql, args, err := p.builder().
		Delete(objectsTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	tag, err := p.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) EnsureFolder(ctx context.Context, name, parentID string) (string, error) {
	if _, err := p.insertIfAbsent(ctx, name, parentID, kindFolder, nil); err != nil && !errors.Is(err, ErrExists) {
		return "", err
	}
	o, err := p.Find(ctx, name, parentID)
	if err != nil {
		return "", err
	}
	if !o.IsFolder {
		return "", fmt.Errorf("blob: %q in %q is a file, not a folder", name, parentID)
	}
	return o.ID, nil
}

func (p *Postgres) encode(data []byte) ([]byte, string) {
	if len(data) > p.compressThreshold {
		return p.encoder.EncodeAll(data, nil), compressionZstd
	}
	return data, compressionNone
}

func (p *Postgres) decode(data []byte, compression string) ([]byte, error) {
	switch compression {
	case compressionZstd:
		out, err := p.decoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress object: %w", err)
		}
		return out, nil
	case compressionNone, "":
		return data, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}
}
