package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"prodlog/internal/core/apperror"
	"prodlog/internal/core/lock"
	"prodlog/internal/core/numerator"
	"prodlog/internal/core/types"
	"prodlog/pkg/logger"
)

var tracer = otel.Tracer("prodlog/ledger")

// Session is the caller's working context: the period being edited and the
// staff member doing it. The service itself holds no per-user state.
type Session struct {
	Period types.Period
	User   string
}

func (s Session) validate() error {
	if err := s.Period.Validate(); err != nil {
		return apperror.NewValidation(err.Error())
	}
	if strings.TrimSpace(s.User) == "" {
		return apperror.NewValidation("User is required")
	}
	return nil
}

// BuildFunc turns an allocation into a complete entry.
type BuildFunc func(Allocation) (Entry, error)

// PostRequest is a new voucher submission.
type PostRequest struct {
	// Cedant names the folder the data file is stored in.
	Cedant string
	// DataFile is the uploaded spreadsheet, stored as <voucher>.xlsx.
	DataFile []byte
	Build    BuildFunc
}

// CancelRequest asks to reverse a posted voucher.
type CancelRequest struct {
	VoucherNo string
	Reason    string
}

// CancelResult reports both sides of a cancellation.
type CancelResult struct {
	Original    Entry `json:"original"`
	Reversal    Entry `json:"reversal"`
	CrossPeriod bool  `json:"cross_period"`
}

// Service is the ledger mutation engine. Every mutation runs under the
// period lock against a freshly reloaded ledger.
type Service struct {
	repo      Repository
	locks     lock.Manager
	reverser  DataFileReverser
	numbering numerator.Config
	recorder  Recorder
	now       func() time.Time

	// reads coalesces concurrent unlocked loads of the same period.
	reads singleflight.Group
}

// NewService creates a new ledger service.
func NewService(repo Repository, locks lock.Manager, reverser DataFileReverser, numbering numerator.Config) *Service {
	return &Service{
		repo:      repo,
		locks:     locks,
		reverser:  reverser,
		numbering: numbering,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithRecorder attaches a metrics recorder.
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// PostEntry appends a new entry to the session's period ledger and returns
// its allocation. Nothing is retried: a held lock fails fast with LOCK_HELD.
func (s *Service) PostEntry(ctx context.Context, sess Session, req PostRequest) (Allocation, error) {
	if err := sess.validate(); err != nil {
		return Allocation{}, err
	}
	if req.Build == nil {
		return Allocation{}, apperror.NewInternal(fmt.Errorf("post entry: nil builder"))
	}
	if len(req.DataFile) == 0 {
		return Allocation{}, apperror.NewValidation("Data file is required")
	}
	if strings.TrimSpace(req.Cedant) == "" {
		return Allocation{}, apperror.NewValidation("Cedant company is required")
	}

	ctx, span := tracer.Start(ctx, "ledger.post",
		trace.WithAttributes(attribute.String("ledger.period", sess.Period.String())))
	defer span.End()

	var alloc Allocation
	err := lock.WithLock(ctx, s.locks, sess.Period, func(ctx context.Context) error {
		l, err := s.repo.Load(ctx, sess.Period)
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}

		alloc, err = Allocate(l, s.numbering)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.String("ledger.voucher_no", alloc.VoucherNo))

		name := DataFileName(alloc.VoucherNo)
		if err := s.repo.PutDataFile(ctx, sess.Period, req.Cedant, name, req.DataFile); err != nil {
			return fmt.Errorf("store data file: %w", err)
		}
		saved := false
		defer func() {
			if !saved {
				s.discardDataFile(ctx, sess.Period, req.Cedant, name)
			}
		}()

		entry, err := req.Build(alloc)
		if err != nil {
			return err
		}
		if err := s.prepare(&entry, alloc, sess); err != nil {
			return err
		}

		if err := l.Append(entry); err != nil {
			return err
		}
		if err := s.repo.Save(ctx, l); err != nil {
			return fmt.Errorf("save ledger: %w", err)
		}
		saved = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "post failed")
		return Allocation{}, err
	}

	if s.recorder != nil {
		s.recorder.EntryPosted(sess.Period)
	}
	logger.Info(ctx, "entry posted",
		"period", sess.Period.Key(),
		"seq_no", alloc.SeqNo,
		"voucher_no", alloc.VoucherNo)

	return alloc, nil
}

// prepare fills defaults and checks the builder honoured the allocation.
func (s *Service) prepare(e *Entry, alloc Allocation, sess Session) error {
	if e.SeqNo != alloc.SeqNo || e.VoucherNo != alloc.VoucherNo {
		return apperror.NewInternal(fmt.Errorf(
			"builder returned %d/%q, allocated %d/%q", e.SeqNo, e.VoucherNo, alloc.SeqNo, alloc.VoucherNo))
	}
	if e.Status == "" {
		e.Status = StatusPosted
	}
	if e.Status != StatusPosted {
		return apperror.NewInternal(fmt.Errorf("builder returned status %q for a new entry", e.Status))
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if e.CreatedBy == "" {
		e.CreatedBy = sess.User
	}
	return nil
}

// CancelEntry reverses a posted voucher into the session's period.
//
// The voucher's own period is read from its number. When it is the session
// period, one lock covers the status flip and the reversing row. When it is
// earlier, the prior period is locked first and then the current one; the
// prior ledger only gets the status flip while the reversing row and a
// reversing data file go to the current period.
func (s *Service) CancelEntry(ctx context.Context, sess Session, req CancelRequest) (CancelResult, error) {
	if err := sess.validate(); err != nil {
		return CancelResult{}, err
	}
	c := Cancellation{
		VoucherNo: strings.TrimSpace(req.VoucherNo),
		Reason:    strings.TrimSpace(req.Reason),
		User:      sess.User,
		At:        s.now(),
	}
	if err := c.validate(); err != nil {
		return CancelResult{}, err
	}

	origin, err := numerator.PeriodOf(c.VoucherNo)
	if err != nil {
		return CancelResult{}, apperror.NewValidation("Invalid voucher number").
			WithDetail("voucher_no", c.VoucherNo).WithCause(err)
	}
	if sess.Period.Before(origin) {
		return CancelResult{}, apperror.NewValidation(
			fmt.Sprintf("Voucher %s belongs to %s and cannot be cancelled from the earlier period %s",
				c.VoucherNo, origin, sess.Period))
	}

	ctx, span := tracer.Start(ctx, "ledger.cancel",
		trace.WithAttributes(
			attribute.String("ledger.period", sess.Period.String()),
			attribute.String("ledger.voucher_no", c.VoucherNo),
		))
	defer span.End()

	var res CancelResult
	if origin == sess.Period {
		res, err = s.cancelSamePeriod(ctx, sess.Period, c)
	} else {
		res, err = s.cancelCrossPeriod(ctx, origin, sess.Period, c)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancel failed")
		return CancelResult{}, err
	}

	if s.recorder != nil {
		s.recorder.EntryCancelled(sess.Period, res.CrossPeriod)
	}
	logger.Info(ctx, "entry cancelled",
		"period", sess.Period.Key(),
		"voucher_no", res.Original.VoucherNo,
		"reversal_voucher_no", res.Reversal.VoucherNo,
		"seq_no", res.Reversal.SeqNo,
		"cross_period", res.CrossPeriod)

	return res, nil
}

func (s *Service) cancelSamePeriod(ctx context.Context, period types.Period, c Cancellation) (CancelResult, error) {
	var res CancelResult
	err := lock.WithLock(ctx, s.locks, period, func(ctx context.Context) error {
		l, err := s.repo.Load(ctx, period)
		if err != nil {
			return fmt.Errorf("load ledger: %w", err)
		}

		reversal, err := Cancel(l, c, s.numbering)
		if err != nil {
			return err
		}
		if err := s.repo.Save(ctx, l); err != nil {
			return fmt.Errorf("save ledger: %w", err)
		}

		res = CancelResult{Original: l.Entries[l.Find(c.VoucherNo)], Reversal: reversal}
		return nil
	})
	return res, err
}

func (s *Service) cancelCrossPeriod(ctx context.Context, prior, current types.Period, c Cancellation) (CancelResult, error) {
	res := CancelResult{CrossPeriod: true}
	err := lock.WithLock(ctx, s.locks, prior, func(ctx context.Context) error {
		return lock.WithLock(ctx, s.locks, current, func(ctx context.Context) error {
			priorLedger, err := s.repo.Load(ctx, prior)
			if err != nil {
				return fmt.Errorf("load prior ledger: %w", err)
			}
			i, err := priorLedger.FindPosted(c.VoucherNo)
			if err != nil {
				return err
			}
			original := priorLedger.Entries[i]

			currentLedger, err := s.repo.Load(ctx, current)
			if err != nil {
				return fmt.Errorf("load ledger: %w", err)
			}
			alloc, err := Allocate(currentLedger, s.numbering)
			if err != nil {
				return err
			}

			written, err := s.writeReversingDataFile(ctx, prior, current, original, alloc)
			if err != nil {
				return err
			}
			saved := false
			if written {
				defer func() {
					if !saved {
						s.discardDataFile(ctx, current, original.CedantCompany, DataFileName(alloc.VoucherNo))
					}
				}()
			}

			marked, err := MarkCanceled(priorLedger, c, alloc.VoucherNo)
			if err != nil {
				return err
			}
			reversal := BuildReversal(marked, alloc, c)
			if err := currentLedger.Append(reversal); err != nil {
				return err
			}

			if err := s.repo.Save(ctx, priorLedger); err != nil {
				return fmt.Errorf("save prior ledger: %w", err)
			}
			if err := s.repo.Save(ctx, currentLedger); err != nil {
				logger.Error(ctx, "prior ledger marked cancelled but reversal not saved",
					"prior_period", prior.Key(),
					"period", current.Key(),
					"voucher_no", c.VoucherNo,
					"reversal_voucher_no", alloc.VoucherNo,
					"error", err)
				return fmt.Errorf("save ledger: %w", err)
			}
			saved = true

			res.Original = marked
			res.Reversal = reversal
			return nil
		})
	})
	return res, err
}

// writeReversingDataFile negates the original upload next to the current
// period's data files and reports whether it wrote one. Ledgers that predate
// companion files have nothing to reverse; that is logged and skipped.
func (s *Service) writeReversingDataFile(ctx context.Context, prior, current types.Period, original Entry, alloc Allocation) (bool, error) {
	data, err := s.repo.GetDataFile(ctx, prior, original.CedantCompany, DataFileName(original.VoucherNo))
	if apperror.IsNotFound(err) {
		logger.Warn(ctx, "original data file missing, reversing file skipped",
			"prior_period", prior.Key(),
			"voucher_no", original.VoucherNo)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read original data file: %w", err)
	}

	reversed, err := s.reverser.Reverse(data)
	if err != nil {
		return false, fmt.Errorf("reverse data file: %w", err)
	}
	if err := s.repo.PutDataFile(ctx, current, original.CedantCompany, DataFileName(alloc.VoucherNo), reversed); err != nil {
		return false, fmt.Errorf("store reversing data file: %w", err)
	}
	return true, nil
}

// discardDataFile removes a data file whose ledger row was never saved, so
// the number can be allocated again. Runs while the period lock is held.
func (s *Service) discardDataFile(ctx context.Context, period types.Period, cedant, name string) {
	if err := s.repo.DeleteDataFile(context.WithoutCancel(ctx), period, cedant, name); err != nil {
		logger.Warn(ctx, "orphaned data file left behind",
			"period", period.Key(),
			"cedant", cedant,
			"file", name,
			"error", err)
	}
}

// List returns the entries of period, optionally filtered by status.
// It takes no lock and may observe a snapshot that is about to be replaced.
func (s *Service) List(ctx context.Context, period types.Period, status Status) ([]Entry, error) {
	if err := period.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error())
	}
	if status != "" && !status.IsValid() {
		return nil, apperror.NewValidation(fmt.Sprintf("Unknown status %q", status))
	}
	l, err := s.snapshot(ctx, period)
	if err != nil {
		return nil, err
	}
	return l.Filter(status), nil
}

// Verify loads the period ledger and reports invariant violations.
func (s *Service) Verify(ctx context.Context, period types.Period) ([]Problem, error) {
	if err := period.Validate(); err != nil {
		return nil, apperror.NewValidation(err.Error())
	}
	l, err := s.snapshot(ctx, period)
	if err != nil {
		return nil, err
	}
	return l.Verify(), nil
}

// snapshot loads period for read-only callers. Readers arriving while a load
// is in flight share its result, so the ledger must not be mutated. Mutations
// never use it: they reload under the lock.
func (s *Service) snapshot(ctx context.Context, period types.Period) (*Ledger, error) {
	ch := s.reads.DoChan(period.Key(), func() (any, error) {
		return s.repo.Load(context.WithoutCancel(ctx), period)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Ledger), nil
	}
}
