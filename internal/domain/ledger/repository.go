package ledger

import (
	"context"

	"prodlog/internal/core/types"
)

// Repository persists period ledgers and their companion data files.
// Implementations live in infrastructure/storage/ledgerstore.
type Repository interface {
	// Load reads the ledger of period fresh from storage. A period without
	// a ledger yields an empty one.
	Load(ctx context.Context, period types.Period) (*Ledger, error)

	// Save overwrites the whole ledger blob.
	Save(ctx context.Context, l *Ledger) error

	// PutDataFile stores a companion data file under period/cedant.
	// Existing files are never overwritten.
	PutDataFile(ctx context.Context, period types.Period, cedant, name string, data []byte) error

	// GetDataFile reads a companion data file.
	GetDataFile(ctx context.Context, period types.Period, cedant, name string) ([]byte, error)

	// DeleteDataFile removes a companion data file written by a mutation
	// that did not reach its ledger save. Missing files are ignored.
	DeleteDataFile(ctx context.Context, period types.Period, cedant, name string) error
}

// DataFileReverser derives a reversing data file from an uploaded one.
type DataFileReverser interface {
	Reverse(data []byte) ([]byte, error)
}

// Recorder receives business events for metrics.
type Recorder interface {
	EntryPosted(period types.Period)
	EntryCancelled(period types.Period, crossPeriod bool)
}

// DataFileName is the companion file name for a voucher.
func DataFileName(voucherNo string) string {
	return voucherNo + ".xlsx"
}
