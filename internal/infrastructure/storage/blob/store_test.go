package blob

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"memory":     NewMemory(),
		"filesystem": NewFilesystemFs(afero.NewMemMapFs()),
	}
}

func TestStore_Contract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			period, err := s.EnsureFolder(ctx, "2025_03", s.RootID())
			require.NoError(t, err)
			again, err := s.EnsureFolder(ctx, "2025_03", s.RootID())
			require.NoError(t, err)
			assert.Equal(t, period, again, "EnsureFolder is idempotent")

			_, err = s.Find(ctx, "log_produksi.xlsx", period)
			assert.ErrorIs(t, err, ErrNotFound)

			id, err := s.Put(ctx, "log_produksi.xlsx", period, []byte("v1"), "")
			require.NoError(t, err)

			found, err := s.Find(ctx, "log_produksi.xlsx", period)
			require.NoError(t, err)
			assert.Equal(t, id, found.ID)
			assert.False(t, found.IsFolder)

			id2, err := s.Put(ctx, "log_produksi.xlsx", period, []byte("v2"), id)
			require.NoError(t, err)
			assert.Equal(t, id, id2)

			data, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), data)

			list, err := s.List(ctx, "log_produksi.xlsx", period)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			require.NoError(t, s.Delete(ctx, id))
			assert.ErrorIs(t, s.Delete(ctx, id), ErrNotFound)
			_, err = s.Get(ctx, id)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_CreateExclusive(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.True(t, s.Atomic())

			folder, err := s.EnsureFolder(ctx, "2025_03", s.RootID())
			require.NoError(t, err)

			id, err := s.CreateExclusive(ctx, "log_produksi.lock", folder, []byte(`{"token":"a"}`))
			require.NoError(t, err)

			_, err = s.CreateExclusive(ctx, "log_produksi.lock", folder, []byte(`{"token":"b"}`))
			assert.ErrorIs(t, err, ErrExists)

			data, err := s.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, `{"token":"a"}`, string(data))
		})
	}
}

func TestFilesystem_RejectsTraversal(t *testing.T) {
	s := NewFilesystemFs(afero.NewMemMapFs())
	_, err := s.Put(context.Background(), "../escape.xlsx", "", []byte("x"), "")
	assert.Error(t, err)
	_, err = s.EnsureFolder(context.Background(), "a/b", "")
	assert.Error(t, err)
}

func TestFilesystem_NestedFolders(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s := NewFilesystemFs(fsys)
	ctx := context.Background()

	period, err := s.EnsureFolder(ctx, "2025_03", s.RootID())
	require.NoError(t, err)
	cedant, err := s.EnsureFolder(ctx, "PT Reasuransi", period)
	require.NoError(t, err)
	assert.Equal(t, "2025_03/PT Reasuransi", cedant)

	_, err = s.CreateExclusive(ctx, "VIN202503LST0001.xlsx", cedant, []byte("data"))
	require.NoError(t, err)

	ok, err := afero.Exists(fsys, "/2025_03/PT Reasuransi/VIN202503LST0001.xlsx")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_ListIsOldestFirst(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	_, err := s.Put(ctx, "dup", s.RootID(), []byte("a"), "")
	require.NoError(t, err)
	_, err = s.Put(ctx, "dup", s.RootID(), []byte("b"), "")
	require.NoError(t, err)

	list, err := s.List(ctx, "dup", s.RootID())
	require.NoError(t, err)
	require.Len(t, list, 2)
	found, err := s.Find(ctx, "dup", s.RootID())
	require.NoError(t, err)
	assert.Equal(t, list[0].ID, found.ID)
}

func TestPostgres_Compression(t *testing.T) {
	p, err := NewPostgres(nil)
	require.NoError(t, err)

	small := []byte("tiny ledger")
	enc, algo := p.encode(small)
	assert.Equal(t, compressionNone, algo)
	assert.Equal(t, small, enc)

	large := bytes.Repeat([]byte("VIN202503LST0001;"), 2000)
	enc, algo = p.encode(large)
	assert.Equal(t, compressionZstd, algo)
	assert.Less(t, len(enc), len(large))

	dec, err := p.decode(enc, algo)
	require.NoError(t, err)
	assert.Equal(t, large, dec)

	_, err = p.decode(enc, "lz4")
	assert.Error(t, err)
}

func TestDrive_Helpers(t *testing.T) {
	assert.Equal(t, xlsxMimeType, mimeTypeFor("log_produksi.xlsx"))
	assert.Equal(t, "application/json", mimeTypeFor("log_produksi.lock"))
	assert.Equal(t, `O\'Brien`, escapeQuery("O'Brien"))
	assert.False(t, isDriveNotFound(nil))
}
