package periodlock

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"prodlog/internal/core/apperror"
	"prodlog/internal/core/lock"
	"prodlog/internal/core/types"
	"prodlog/pkg/logger"
)

// FileName is the lock file created next to a local ledger.
const FileName = "log_produksi.xlsx.lock"

// Defaults of the waiting file lock.
const (
	DefaultPollInterval = 300 * time.Millisecond
	DefaultWaitTimeout  = 30 * time.Second
)

// FileConfig configures a File lock.
type FileConfig struct {
	Name         string
	PollInterval time.Duration
	Timeout      time.Duration
	TTL          time.Duration
	Holder       string
}

func (c FileConfig) withDefaults() FileConfig {
	if c.Name == "" {
		c.Name = FileName
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultWaitTimeout
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Holder == "" {
		c.Holder = lock.DefaultHolder()
	}
	return c
}

// File is a waiting lock for ledgers kept on a local or shared filesystem.
// The lock file is created with O_EXCL under <period>/; contenders poll
// until it disappears or the timeout passes. Removals of the lock file,
// by its holder or by a waiter taking over a stale one, go through an
// O_EXCL guard file next to it.
type File struct {
	fs  afero.Fs
	cfg FileConfig
	now func() time.Time
}

var _ lock.Backend = (*File)(nil)

// NewFile creates a file lock rooted at the top of fsys.
func NewFile(fsys afero.Fs, cfg FileConfig) *File {
	return &File{fs: fsys, cfg: cfg.withDefaults(), now: time.Now}
}

// NewFileAt roots a file lock at dir on the OS filesystem.
func NewFileAt(dir string, cfg FileConfig) *File {
	return NewFile(afero.NewBasePathFs(afero.NewOsFs(), dir), cfg)
}

func (f *File) path(period types.Period) string {
	return path.Join("/", period.Key(), f.cfg.Name)
}

// Acquire waits for the period lock file, failing with LOCK_TIMEOUT after
// the configured timeout. Stale lock files are removed.
func (f *File) Acquire(ctx context.Context, period types.Period) (*lock.Lock, error) {
	p := f.path(period)
	if err := f.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return nil, apperror.NewStorage("create period directory", err)
	}

	l := &lock.Lock{
		Period: period,
		Token:  uuid.NewString(),
		Holder: f.cfg.Holder,
		TTL:    f.cfg.TTL,
		Handle: p,
	}

	start := f.now()
	for {
		l.AcquiredAt = f.now().UTC()
		data, err := lock.PayloadOf(l).Encode()
		if err != nil {
			return nil, err
		}
		ok, err := f.tryCreate(p, data)
		if err != nil {
			return nil, apperror.NewStorage("create lock file", err)
		}
		if ok {
			return l, nil
		}

		if f.removeIfStale(ctx, period, p) {
			continue
		}

		waited := f.now().Sub(start)
		if waited >= f.cfg.Timeout {
			return nil, apperror.NewLockTimeout(period.String(), waited.Round(time.Millisecond).String())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.cfg.PollInterval):
		}
	}
}

func (f *File) tryCreate(p string, payload []byte) (bool, error) {
	file, err := f.fs.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, werr := file.Write(payload)
	cerr := file.Close()
	if werr != nil || cerr != nil {
		_ = f.fs.Remove(p)
		return false, errors.Join(werr, cerr)
	}
	return true, nil
}

// guardSuffix names the sibling file that serializes removals of a lock
// file. Read-check-remove of the lock happens only while it is held, so a
// waiter acting on an old read can never delete a lock created since.
const guardSuffix = ".takeover"

// guardStale is how old a guard must be before it is treated as left behind
// by a crashed process. Guards are held for one read and one remove.
const guardStale = 10 * time.Second

// tryGuard takes the removal guard of p without waiting. The returned func
// releases it.
func (f *File) tryGuard(p string) (func(), bool, error) {
	g := p + guardSuffix
	ok, err := f.tryCreate(g, nil)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		if info, serr := f.fs.Stat(g); serr == nil && time.Since(info.ModTime()) > guardStale {
			_ = f.fs.Remove(g)
		}
		return nil, false, nil
	}
	return func() { _ = f.fs.Remove(g) }, true, nil
}

// removeIfStale deletes the lock file at p if it outlived its TTL and
// reports whether the caller should retry creation right away.
func (f *File) removeIfStale(ctx context.Context, period types.Period, p string) bool {
	release, ok, err := f.tryGuard(p)
	if err != nil || !ok {
		return false
	}
	defer release()

	data, err := afero.ReadFile(f.fs, p)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	payload, err := lock.DecodePayload(data)
	if err != nil || !payload.IsStale(f.now()) {
		return false
	}
	logger.Warn(ctx, "removing stale ledger lock file",
		"period", period.Key(),
		"holder", payload.Holder,
		"acquired_at", payload.AcquiredAt)
	return f.fs.Remove(p) == nil
}

// Release removes the lock file if it still carries our token.
func (f *File) Release(ctx context.Context, l *lock.Lock) error {
	if l == nil || l.Handle == "" {
		return nil
	}

	deadline := f.now().Add(f.cfg.Timeout)
	for {
		release, ok, err := f.tryGuard(l.Handle)
		if err != nil {
			return apperror.NewStorage("create lock guard", err)
		}
		if ok {
			defer release()
			break
		}
		if !f.now().Before(deadline) {
			return apperror.NewLockTimeout(l.Period.String(), f.cfg.Timeout.String())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.cfg.PollInterval):
		}
	}

	data, err := afero.ReadFile(f.fs, l.Handle)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return apperror.NewStorage("read lock file", err)
	}
	if p, err := lock.DecodePayload(data); err == nil && p.Token != l.Token {
		logger.Warn(ctx, "lock file replaced by another holder, not releasing",
			"period", l.Period.Key(),
			"holder", p.Holder)
		return nil
	}
	if err := f.fs.Remove(l.Handle); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperror.NewStorage("remove lock file", err)
	}
	return nil
}

// Status reports the current lock file of period.
func (f *File) Status(_ context.Context, period types.Period) (lock.Status, error) {
	st := lock.Status{Period: period}
	data, err := afero.ReadFile(f.fs, f.path(period))
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return st, apperror.NewStorage("read lock file", err)
	}
	st.Held = true
	if p, err := lock.DecodePayload(data); err == nil {
		st.Holder = p.Holder
		st.Token = p.Token
		st.AcquiredAt = p.AcquiredAt
		st.TTL = p.TTL()
		st.Stale = p.IsStale(f.now())
	}
	return st, nil
}

// ForceRelease removes the lock file of period.
func (f *File) ForceRelease(ctx context.Context, period types.Period) error {
	err := f.fs.Remove(f.path(period))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return apperror.NewStorage("remove lock file", err)
	}
	logger.Warn(ctx, "ledger lock force-released", "period", period.Key())
	return nil
}
