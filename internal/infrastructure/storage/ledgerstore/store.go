// Package ledgerstore persists period ledgers and their data files in a blob
// store, laid out as root / YYYY_MM / log_produksi.xlsx and
// root / YYYY_MM / <cedant> / <voucher>.xlsx.
package ledgerstore

import (
	"context"
	"errors"
	"path"
	"strings"

	"prodlog/internal/core/apperror"
	"prodlog/internal/core/types"
	"prodlog/internal/domain/ledger"
	"prodlog/internal/infrastructure/codec/xlsx"
	"prodlog/internal/infrastructure/storage/blob"
	"prodlog/pkg/logger"
)

// LedgerFileName is the name of the ledger blob inside a period folder.
const LedgerFileName = "log_produksi.xlsx"

// unnamedCedant holds data files uploaded without a cedant.
const unnamedCedant = "_unassigned"

// Repository implements ledger.Repository over a blob.Store.
type Repository struct {
	store blob.Store
}

var _ ledger.Repository = (*Repository)(nil)

// New creates a repository over store.
func New(store blob.Store) *Repository {
	return &Repository{store: store}
}

// Load reads the period ledger. A missing period folder or ledger file is
// an empty ledger.
func (r *Repository) Load(ctx context.Context, period types.Period) (*ledger.Ledger, error) {
	folder, err := r.store.Find(ctx, period.Key(), r.store.RootID())
	if errors.Is(err, blob.ErrNotFound) {
		return ledger.New(period), nil
	}
	if err != nil {
		return nil, apperror.NewStorage("find period folder", err)
	}

	objs, err := r.store.List(ctx, LedgerFileName, folder.ID)
	if err != nil {
		return nil, apperror.NewStorage("find ledger", err)
	}
	if len(objs) == 0 {
		return ledger.New(period), nil
	}
	if len(objs) > 1 {
		logger.Warn(ctx, "multiple ledger files in period folder, using the oldest",
			"period", period.Key(),
			"count", len(objs),
			"ledger_id", objs[0].ID)
	}

	data, err := r.store.Get(ctx, objs[0].ID)
	if err != nil {
		return nil, apperror.NewStorage("download ledger", err)
	}
	return xlsx.DecodeLedger(period, data)
}

// Save overwrites the period ledger, creating folder and file as needed.
func (r *Repository) Save(ctx context.Context, l *ledger.Ledger) error {
	data, err := xlsx.EncodeLedger(l)
	if err != nil {
		return apperror.NewInternal(err)
	}

	folderID, err := r.store.EnsureFolder(ctx, l.Period.Key(), r.store.RootID())
	if err != nil {
		return apperror.NewStorage("ensure period folder", err)
	}

	var existingID string
	switch obj, err := r.store.Find(ctx, LedgerFileName, folderID); {
	case err == nil:
		existingID = obj.ID
	case !errors.Is(err, blob.ErrNotFound):
		return apperror.NewStorage("find ledger", err)
	}

	if _, err := r.store.Put(ctx, LedgerFileName, folderID, data, existingID); err != nil {
		return apperror.NewStorage("upload ledger", err)
	}
	return nil
}

// PutDataFile stores a data file under period/cedant. Existing files are
// never replaced: a taken name is a DUPLICATE_ENTRY error.
func (r *Repository) PutDataFile(ctx context.Context, period types.Period, cedant, name string, data []byte) error {
	periodID, err := r.store.EnsureFolder(ctx, period.Key(), r.store.RootID())
	if err != nil {
		return apperror.NewStorage("ensure period folder", err)
	}
	cedantID, err := r.store.EnsureFolder(ctx, FolderName(cedant), periodID)
	if err != nil {
		return apperror.NewStorage("ensure cedant folder", err)
	}

	_, err = r.store.CreateExclusive(ctx, name, cedantID, data)
	if errors.Is(err, blob.ErrExists) {
		return apperror.NewDuplicate("data file", "name", path.Join(period.Key(), FolderName(cedant), name))
	}
	if err != nil {
		return apperror.NewStorage("upload data file", err)
	}
	return nil
}

// GetDataFile reads a data file, or fails with NOT_FOUND.
func (r *Repository) GetDataFile(ctx context.Context, period types.Period, cedant, name string) ([]byte, error) {
	file, err := r.findDataFile(ctx, period, cedant, name)
	if err != nil {
		return nil, err
	}
	data, err := r.store.Get(ctx, file.ID)
	if err != nil {
		return nil, r.dataFileError(period, cedant, name, err)
	}
	return data, nil
}

// DeleteDataFile removes a data file. A missing file is not an error.
func (r *Repository) DeleteDataFile(ctx context.Context, period types.Period, cedant, name string) error {
	file, err := r.findDataFile(ctx, period, cedant, name)
	if apperror.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, file.ID); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return apperror.NewStorage("delete data file", err)
	}
	return nil
}

func (r *Repository) findDataFile(ctx context.Context, period types.Period, cedant, name string) (blob.Object, error) {
	periodObj, err := r.store.Find(ctx, period.Key(), r.store.RootID())
	if err != nil {
		return blob.Object{}, r.dataFileError(period, cedant, name, err)
	}
	cedantObj, err := r.store.Find(ctx, FolderName(cedant), periodObj.ID)
	if err != nil {
		return blob.Object{}, r.dataFileError(period, cedant, name, err)
	}
	file, err := r.store.Find(ctx, name, cedantObj.ID)
	if err != nil {
		return blob.Object{}, r.dataFileError(period, cedant, name, err)
	}
	return file, nil
}

func (r *Repository) dataFileError(period types.Period, cedant, name string, err error) error {
	if errors.Is(err, blob.ErrNotFound) {
		return apperror.NewNotFound("data file", path.Join(period.Key(), FolderName(cedant), name))
	}
	return apperror.NewStorage("find data file", err)
}

// FolderName turns a cedant name into a safe single-level folder name.
func FolderName(cedant string) string {
	name := strings.TrimSpace(cedant)
	name = strings.NewReplacer("/", "-", "\\", "-").Replace(name)
	switch name {
	case "":
		return unnamedCedant
	case ".", "..":
		return strings.Repeat("_", len(name))
	}
	return name
}
