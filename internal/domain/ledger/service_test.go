package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodlog/internal/core/apperror"
	"prodlog/internal/core/lock"
	"prodlog/internal/core/numerator"
	"prodlog/internal/core/types"
)

// --- in-memory collaborators ---

type memRepo struct {
	mu        sync.Mutex
	ledgers   map[types.Period][]Entry
	files     map[string][]byte
	saveErr   error
	saveCalls int

	// failPeriod restricts saveErr to one period when set.
	failPeriod types.Period
}

func newMemRepo() *memRepo {
	return &memRepo{ledgers: map[types.Period][]Entry{}, files: map[string][]byte{}}
}

func fileKey(p types.Period, cedant, name string) string {
	return fmt.Sprintf("%s/%s/%s", p.Key(), cedant, name)
}

func (r *memRepo) Load(_ context.Context, p types.Period) (*Ledger, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Ledger{Period: p, Entries: append([]Entry(nil), r.ledgers[p]...)}, nil
}

func (r *memRepo) Save(_ context.Context, l *Ledger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveCalls++
	if r.saveErr != nil && (r.failPeriod.IsZero() || r.failPeriod == l.Period) {
		return r.saveErr
	}
	r.ledgers[l.Period] = append([]Entry(nil), l.Entries...)
	return nil
}

func (r *memRepo) PutDataFile(_ context.Context, p types.Period, cedant, name string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := fileKey(p, cedant, name)
	if _, ok := r.files[k]; ok {
		return apperror.NewDuplicate("data file", "name", name)
	}
	r.files[k] = data
	return nil
}

func (r *memRepo) GetDataFile(_ context.Context, p types.Period, cedant, name string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.files[fileKey(p, cedant, name)]
	if !ok {
		return nil, apperror.NewNotFound("data file", name)
	}
	return b, nil
}

func (r *memRepo) DeleteDataFile(_ context.Context, p types.Period, cedant, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, fileKey(p, cedant, name))
	return nil
}

type memLocks struct {
	mu      sync.Mutex
	held    map[types.Period]bool
	order   []string
	release int
}

func newMemLocks() *memLocks { return &memLocks{held: map[types.Period]bool{}} }

func (m *memLocks) Acquire(_ context.Context, p types.Period) (*lock.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[p] {
		return nil, apperror.NewLockHeld(p.Key())
	}
	m.held[p] = true
	m.order = append(m.order, "acquire "+p.Key())
	return &lock.Lock{Period: p, Token: p.Key()}, nil
}

func (m *memLocks) Release(_ context.Context, l *lock.Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, l.Period)
	m.order = append(m.order, "release "+l.Period.Key())
	m.release++
	return nil
}

type prefixReverser struct{}

func (prefixReverser) Reverse(data []byte) ([]byte, error) {
	return append([]byte("neg:"), data...), nil
}

type countingRecorder struct {
	posted, cancelled, cross int
}

func (c *countingRecorder) EntryPosted(types.Period) { c.posted++ }
func (c *countingRecorder) EntryCancelled(_ types.Period, cross bool) {
	c.cancelled++
	if cross {
		c.cross++
	}
}

// --- helpers ---

type fixture struct {
	svc   *Service
	repo  *memRepo
	locks *memLocks
	rec   *countingRecorder
}

func newFixture() *fixture {
	f := &fixture{repo: newMemRepo(), locks: newMemLocks(), rec: &countingRecorder{}}
	clock := time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)
	f.svc = NewService(f.repo, f.locks, prefixReverser{}, numerator.DefaultConfig()).
		WithRecorder(f.rec).
		WithClock(func() time.Time { return clock })
	return f
}

func builder(contribution, commission string) BuildFunc {
	return func(a Allocation) (Entry, error) {
		return Entry{
			SeqNo:         a.SeqNo,
			VoucherNo:     a.VoucherNo,
			BizType:       "Kontribusi",
			CedantCompany: "Cedant A",
			Curr:          "IDR",
			Amounts: Amounts{
				TotalContribution: types.MustMoney(contribution),
				Commission:        types.MustMoney(commission),
			},
			RateExchange: types.MustMoney("1"),
		}, nil
	}
}

func post(t *testing.T, f *fixture, sess Session, contribution, commission string) Allocation {
	t.Helper()
	a, err := f.svc.PostEntry(context.Background(), sess, PostRequest{
		Cedant:   "Cedant A",
		DataFile: []byte("upload"),
		Build:    builder(contribution, commission),
	})
	require.NoError(t, err)
	return a
}

// --- tests ---

func TestService_EndToEnd(t *testing.T) {
	f := newFixture()
	sess := Session{Period: mar2025, User: "Ardelia"}

	a := post(t, f, sess, "1000", "100")
	assert.Equal(t, int64(1), a.SeqNo)
	assert.Equal(t, "VIN202503LST0001", a.VoucherNo)

	b := post(t, f, sess, "250", "25")
	assert.Equal(t, int64(2), b.SeqNo)

	res, err := f.svc.CancelEntry(context.Background(), sess, CancelRequest{VoucherNo: a.VoucherNo, Reason: "wrong rate"})
	require.NoError(t, err)
	assert.False(t, res.CrossPeriod)
	assert.Equal(t, StatusCanceled, res.Original.Status)
	assert.Equal(t, int64(3), res.Reversal.SeqNo)
	assert.Equal(t, "VIN202503LST0003", res.Reversal.VoucherNo)
	assert.True(t, res.Reversal.TotalContribution.Equal(types.MustMoney("-1000")))
	assert.True(t, res.Reversal.Commission.Equal(types.MustMoney("-100")))
	assert.Equal(t, "VIN202503LST0001", res.Reversal.CancelOfVIN)

	entries, err := f.svc.List(context.Background(), mar2025, "")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, StatusCanceled, entries[0].Status)
	assert.Equal(t, StatusPosted, entries[1].Status)
	assert.Equal(t, "Ardelia", entries[0].CreatedBy)

	posted, err := f.svc.List(context.Background(), mar2025, StatusPosted)
	require.NoError(t, err)
	require.Len(t, posted, 1)
	assert.Equal(t, b.VoucherNo, posted[0].VoucherNo)

	assert.Contains(t, f.repo.files, "2025_03/Cedant A/VIN202503LST0001.xlsx")
	assert.Contains(t, f.repo.files, "2025_03/Cedant A/VIN202503LST0002.xlsx")
	assert.Empty(t, f.locks.held)
	assert.Equal(t, 2, f.rec.posted)
	assert.Equal(t, 1, f.rec.cancelled)

	problems, err := f.svc.Verify(context.Background(), mar2025)
	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestService_SequentialPostsAreDense(t *testing.T) {
	f := newFixture()
	sess := Session{Period: mar2025, User: "Khansa"}

	const n = 25
	for i := 1; i <= n; i++ {
		a := post(t, f, sess, "1", "0")
		assert.Equal(t, int64(i), a.SeqNo)
	}

	entries, err := f.svc.List(context.Background(), mar2025, "")
	require.NoError(t, err)
	require.Len(t, entries, n)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.SeqNo)
	}
}

func TestService_ConcurrentPostsNeverCollide(t *testing.T) {
	f := newFixture()
	sess := Session{Period: mar2025, User: "Buya"}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seqs := map[int64]bool{}
	busy := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := f.svc.PostEntry(context.Background(), sess, PostRequest{
				Cedant: "Cedant A", DataFile: []byte("x"), Build: builder("1", "0"),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.True(t, apperror.IsLockHeld(err), err)
				busy++
				return
			}
			assert.False(t, seqs[a.SeqNo], "sequence %d issued twice", a.SeqNo)
			seqs[a.SeqNo] = true
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, len(seqs)+busy)
	for seq := int64(1); seq <= int64(len(seqs)); seq++ {
		assert.True(t, seqs[seq], "missing sequence %d", seq)
	}
	assert.Empty(t, f.locks.held)
}

func TestService_LockHeldFailsFast(t *testing.T) {
	f := newFixture()
	f.locks.held[mar2025] = true

	_, err := f.svc.PostEntry(context.Background(), Session{Period: mar2025, User: "u"}, PostRequest{
		Cedant: "Cedant A", DataFile: []byte("x"), Build: builder("1", "0"),
	})
	assert.True(t, apperror.IsLockHeld(err))
	assert.Empty(t, f.repo.files)
	assert.Zero(t, f.repo.saveCalls)
}

func TestService_FailureReleasesLockAndKeepsLedger(t *testing.T) {
	f := newFixture()
	sess := Session{Period: mar2025, User: "u"}
	post(t, f, sess, "1", "0")

	boom := errors.New("builder exploded")
	_, err := f.svc.PostEntry(context.Background(), sess, PostRequest{
		Cedant: "Cedant A", DataFile: []byte("x"),
		Build: func(Allocation) (Entry, error) { return Entry{}, boom },
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, f.locks.held)
	assert.Len(t, f.repo.ledgers[mar2025], 1)
	assert.NotContains(t, f.repo.files, fileKey(mar2025, "Cedant A", "VIN202503LST0002.xlsx"))

	// The failed attempt's number is free again.
	a := post(t, f, sess, "1", "0")
	assert.Equal(t, int64(2), a.SeqNo)
	assert.Equal(t, "VIN202503LST0002", a.VoucherNo)
}

func TestService_SaveFailureDoesNotWedgePeriod(t *testing.T) {
	f := newFixture()
	sess := Session{Period: apr2025, User: "u"}

	f.repo.saveErr = apperror.NewStorage("put", errors.New("quota"))
	_, err := f.svc.PostEntry(context.Background(), sess, PostRequest{
		Cedant: "Cedant A", DataFile: []byte("x"), Build: builder("1", "0"),
	})
	assert.True(t, apperror.IsStorage(err))
	assert.Empty(t, f.locks.held)
	assert.Empty(t, f.repo.ledgers[apr2025])
	assert.Empty(t, f.repo.files)

	f.repo.saveErr = nil
	for want := int64(1); want <= 3; want++ {
		a := post(t, f, sess, "1", "0")
		assert.Equal(t, want, a.SeqNo)
	}
	assert.Len(t, f.repo.files, 3)
}

func TestService_CrossPeriodSaveFailureRemovesReversingFile(t *testing.T) {
	f := newFixture()
	a := post(t, f, Session{Period: mar2025, User: "u"}, "1000", "100")

	f.repo.saveErr = apperror.NewStorage("put", errors.New("quota"))
	f.repo.failPeriod = apr2025
	_, err := f.svc.CancelEntry(context.Background(), Session{Period: apr2025, User: "u"},
		CancelRequest{VoucherNo: a.VoucherNo, Reason: "r"})
	assert.True(t, apperror.IsStorage(err))
	assert.Empty(t, f.locks.held)
	assert.NotContains(t, f.repo.files, fileKey(apr2025, "Cedant A", "VIN202504LST0001.xlsx"))
	assert.Contains(t, f.repo.files, fileKey(mar2025, "Cedant A", a.VoucherNo+".xlsx"))
}

func TestService_BuilderMustHonourAllocation(t *testing.T) {
	f := newFixture()
	_, err := f.svc.PostEntry(context.Background(), Session{Period: mar2025, User: "u"}, PostRequest{
		Cedant: "Cedant A", DataFile: []byte("x"),
		Build: func(a Allocation) (Entry, error) {
			return Entry{SeqNo: a.SeqNo + 1, VoucherNo: a.VoucherNo}, nil
		},
	})
	require.Error(t, err)
	assert.Empty(t, f.repo.ledgers[mar2025])
}

func TestService_PostValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.PostEntry(ctx, Session{Period: types.Period{Year: 2025, Month: 13}, User: "u"}, PostRequest{Build: builder("1", "0")})
	assert.True(t, apperror.IsValidation(err))

	_, err = f.svc.PostEntry(ctx, Session{Period: mar2025}, PostRequest{Build: builder("1", "0")})
	assert.True(t, apperror.IsValidation(err))

	_, err = f.svc.PostEntry(ctx, Session{Period: mar2025, User: "u"}, PostRequest{Cedant: "C", Build: builder("1", "0")})
	assert.True(t, apperror.IsValidation(err))
}

func TestService_CancelTwice(t *testing.T) {
	f := newFixture()
	sess := Session{Period: mar2025, User: "u"}
	a := post(t, f, sess, "1000", "100")

	_, err := f.svc.CancelEntry(context.Background(), sess, CancelRequest{VoucherNo: a.VoucherNo, Reason: "r"})
	require.NoError(t, err)
	_, err = f.svc.CancelEntry(context.Background(), sess, CancelRequest{VoucherNo: a.VoucherNo, Reason: "r"})
	assert.True(t, apperror.IsNotFound(err))
	assert.Empty(t, f.locks.held)
}

func TestService_CancelCrossPeriod(t *testing.T) {
	f := newFixture()
	a := post(t, f, Session{Period: mar2025, User: "Ardelia"}, "1000", "100")
	post(t, f, Session{Period: apr2025, User: "Ardelia"}, "10", "1")
	f.locks.order = nil

	res, err := f.svc.CancelEntry(context.Background(), Session{Period: apr2025, User: "Buya"},
		CancelRequest{VoucherNo: a.VoucherNo, Reason: "booked in wrong month"})
	require.NoError(t, err)
	assert.True(t, res.CrossPeriod)

	// Prior period first, then current; both released.
	assert.Equal(t, []string{"acquire 2025_03", "acquire 2025_04", "release 2025_04", "release 2025_03"}, f.locks.order)

	prior := f.repo.ledgers[mar2025]
	require.Len(t, prior, 1, "prior ledger only gets the status flip")
	assert.Equal(t, StatusCanceled, prior[0].Status)
	assert.Equal(t, "Buya", prior[0].CancelledBy)
	assert.Equal(t, "VIN202504LST0002", prior[0].CanceledByVIN)

	current := f.repo.ledgers[apr2025]
	require.Len(t, current, 2)
	rev := current[1]
	assert.Equal(t, int64(2), rev.SeqNo)
	assert.Equal(t, "VIN202504LST0002", rev.VoucherNo)
	assert.Equal(t, a.VoucherNo, rev.CancelOfVIN)
	assert.Equal(t, BizTypeCancel, rev.BizType)
	assert.True(t, rev.TotalContribution.Equal(types.MustMoney("-1000")))

	assert.Equal(t, []byte("neg:upload"), f.repo.files["2025_04/Cedant A/VIN202504LST0002.xlsx"])
	assert.Equal(t, 1, f.rec.cross)
}

func TestService_CancelIntoEarlierPeriodRejected(t *testing.T) {
	f := newFixture()
	a := post(t, f, Session{Period: apr2025, User: "u"}, "1", "0")

	_, err := f.svc.CancelEntry(context.Background(), Session{Period: mar2025, User: "u"},
		CancelRequest{VoucherNo: a.VoucherNo, Reason: "r"})
	assert.True(t, apperror.IsValidation(err))
	assert.Equal(t, StatusPosted, f.repo.ledgers[apr2025][0].Status)
}

func TestService_CancelUnknownOrMalformedVoucher(t *testing.T) {
	f := newFixture()
	sess := Session{Period: mar2025, User: "u"}

	_, err := f.svc.CancelEntry(context.Background(), sess, CancelRequest{VoucherNo: "VIN202503LST0042", Reason: "r"})
	assert.True(t, apperror.IsNotFound(err))

	_, err = f.svc.CancelEntry(context.Background(), sess, CancelRequest{VoucherNo: "garbage", Reason: "r"})
	assert.True(t, apperror.IsValidation(err))

	_, err = f.svc.CancelEntry(context.Background(), sess, CancelRequest{VoucherNo: "VIN202503LST0001"})
	assert.True(t, apperror.IsValidation(err))
}

func TestService_CrossPeriodLockHeldReleasesPrior(t *testing.T) {
	f := newFixture()
	a := post(t, f, Session{Period: mar2025, User: "u"}, "1", "0")
	f.locks.held[apr2025] = true

	_, err := f.svc.CancelEntry(context.Background(), Session{Period: apr2025, User: "u"},
		CancelRequest{VoucherNo: a.VoucherNo, Reason: "r"})
	assert.True(t, apperror.IsLockHeld(err))
	assert.False(t, f.locks.held[mar2025])
	assert.Equal(t, StatusPosted, f.repo.ledgers[mar2025][0].Status)
}

type gatedRepo struct {
	*memRepo
	gate  chan struct{}
	loads int
}

func (r *gatedRepo) Load(ctx context.Context, p types.Period) (*Ledger, error) {
	r.mu.Lock()
	r.loads++
	r.mu.Unlock()
	<-r.gate
	return r.memRepo.Load(ctx, p)
}

func TestService_ConcurrentListsShareOneLoad(t *testing.T) {
	repo := &gatedRepo{memRepo: newMemRepo(), gate: make(chan struct{})}
	repo.ledgers[mar2025] = []Entry{{SeqNo: 1, VoucherNo: "VIN202503LST0001", Status: StatusPosted}}
	svc := NewService(repo, newMemLocks(), prefixReverser{}, numerator.DefaultConfig())

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, err := svc.List(context.Background(), mar2025, "")
			assert.NoError(t, err)
			assert.Len(t, entries, 1)
		}()
	}
	time.Sleep(100 * time.Millisecond)
	close(repo.gate)
	wg.Wait()

	assert.Equal(t, 1, repo.loads)
}

func TestService_ListHonoursCancelledContext(t *testing.T) {
	repo := &gatedRepo{memRepo: newMemRepo(), gate: make(chan struct{})}
	svc := NewService(repo, newMemLocks(), prefixReverser{}, numerator.DefaultConfig())
	defer close(repo.gate)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.List(ctx, mar2025, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
