package v1

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "prodlog/internal/core/context"
	"prodlog/internal/core/numerator"
	"prodlog/internal/core/types"
	"prodlog/internal/domain/auth"
	"prodlog/internal/domain/ledger"
	"prodlog/internal/domain/voucher"
	"prodlog/internal/infrastructure/codec/xlsx"
	"prodlog/internal/infrastructure/metrics"
	"prodlog/internal/infrastructure/periodlock"
	"prodlog/internal/infrastructure/storage/blob"
	"prodlog/internal/infrastructure/storage/ledgerstore"
	"prodlog/internal/refdata"
	"prodlog/pkg/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

const refYAML = `
default_due_days: 30
counterparties:
  - name: PT Reasuransi
    currency: USD
    exchange_rate: "15000"
`

type testEnv struct {
	router   *gin.Engine
	locks    *periodlock.Marker
	staff    string
	operator string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := blob.NewMemory()
	locks := periodlock.NewMarker(store, periodlock.MarkerConfig{Holder: "test"})
	m := metrics.New()
	svc := ledger.NewService(ledgerstore.New(store), m.InstrumentLocks(locks), xlsx.NewReverser(), numerator.DefaultConfig()).
		WithRecorder(m)

	rates, err := refdata.Parse([]byte(refYAML))
	require.NoError(t, err)
	jwtSvc, err := auth.NewJWTService(auth.DefaultJWTConfig(testSecret))
	require.NoError(t, err)

	router := NewRouter(RouterConfig{
		Logger:       logger.Nop(),
		JWTValidator: jwtSvc,
		Ledger:       svc,
		Locks:        locks,
		Validator:    voucher.RuleValidator{},
		Rates:        rates,
		Metrics:      m,
	})

	token := func(name string, roles ...string) string {
		s, _, err := jwtSvc.GenerateAccessToken(appctx.UserContext{UserID: name, Name: name, Roles: roles})
		require.NoError(t, err)
		return s
	}
	return &testEnv{
		router:   router,
		locks:    locks,
		staff:    token("ani", appctx.RoleStaff),
		operator: token("ops", appctx.RoleOperator),
	}
}

func (e *testEnv) do(t *testing.T, req *http.Request, token string) *httptest.ResponseRecorder {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func uploadWorkbook(t *testing.T, premium string) []byte {
	t.Helper()
	header := []string{
		"Certificate No", "Insured Full Name", "Gender", "Pol Holder No",
		"Policy Holder", "Birth Date", "Age At", "Issue Date", "Term Year",
		"Term Month", "Expired Date", "Medical", "Ced Product Code",
		"Ced Coverage Code", "CCY Code", "Sum Insured", "Sum At Risk",
		"Reins Sum Insured", "Reins Sum At Risk", "Pay Period Type",
		"Reins Total Premium", "Reins Total Comm", "Reins Tabarru",
		"Reins Ujrah", "Reins Nett Premium", "Valuation Date",
	}
	row := []string{
		"C-1", "Budi", "M", "PH-1", "PT Holder", "1980-01-01", "45", "2025-01-01", "1",
		"0", "2026-01-01", "N", "P1", "CV1", "USD", "1000000", "1000000",
		"500000", "500000", "Monthly", premium, "100", "600", "300", "900", "2025-03-31",
	}
	data, err := xlsx.EncodeSheet(voucher.NewSheet(header, [][]string{row}))
	require.NoError(t, err)
	return data
}

func postRequest(t *testing.T, path string, file []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "upload.xlsx")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

var headerFields = map[string]string{
	"biz_type":       "Kontribusi",
	"cedant_company": "Cedant A",
	"account_with":   "PT Reasuransi",
	"product":        "Term Life",
	"remarks":        "March production",
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRouter_PostListCancel(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, postRequest(t, "/api/v1/ledgers/2025/3/entries", uploadWorkbook(t, "1000"), headerFields), env.staff)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	posted := decode[map[string]any](t, w)
	assert.Equal(t, "VIN202503LST0001", posted["voucher_no"])
	assert.Equal(t, float64(1), posted["seq_no"])

	w = env.do(t, postRequest(t, "/api/v1/ledgers/2025/3/entries", uploadWorkbook(t, "1000"), headerFields), env.staff)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body, _ := json.Marshal(map[string]string{"voucher_no": "VIN202503LST0001", "reason": "wrong cedant"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledgers/2025/3/cancellations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = env.do(t, req, env.staff)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	cancelled := decode[struct {
		Original ledger.Entry `json:"original"`
		Reversal ledger.Entry `json:"reversal"`
	}](t, w)
	assert.Equal(t, ledger.StatusCanceled, cancelled.Original.Status)
	assert.Equal(t, "VIN202503LST0003", cancelled.Reversal.VoucherNo)
	assert.Equal(t, "VIN202503LST0001", cancelled.Reversal.CancelOfVIN)
	assert.Equal(t, "ani", cancelled.Reversal.CreatedBy)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ledgers/2025/3/entries?status=posted", nil), env.staff)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Items      []ledger.Entry `json:"items"`
		TotalCount int            `json:"totalCount"`
	}](t, w)
	require.Equal(t, 1, list.TotalCount)
	assert.Equal(t, "VIN202503LST0002", list.Items[0].VoucherNo)
	assert.Equal(t, "USD", list.Items[0].Curr)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ledgers/2025/3/verify", nil), env.staff)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode[map[string]any](t, w)["ok"])

	// Cancelling again is a 404.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/ledgers/2025/3/cancellations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = env.do(t, req, env.staff)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode[map[string]any](t, w)["code"])
}

func TestRouter_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, postRequest(t, "/api/v1/ledgers/2025/3/entries", uploadWorkbook(t, "-1000"), headerFields), env.staff)
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, "VALIDATION_ERROR", resp["code"])

	w = env.do(t, postRequest(t, "/api/v1/ledgers/2025/3/entries", nil, headerFields), env.staff)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, postRequest(t, "/api/v1/ledgers/2025/13/entries", uploadWorkbook(t, "1000"), headerFields), env.staff)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ledgers/2025/3/entries?status=BOGUS", nil), env.staff)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_LockHeldAndOperatorClear(t *testing.T) {
	env := newTestEnv(t)

	// Another submission holds the March lock.
	_, err := env.locks.Acquire(t.Context(), types.Period{Year: 2025, Month: 3})
	require.NoError(t, err)

	w := env.do(t, postRequest(t, "/api/v1/ledgers/2025/3/entries", uploadWorkbook(t, "1000"), headerFields), env.staff)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	assert.Equal(t, "LOCK_HELD", decode[map[string]any](t, w)["code"])

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ledgers/2025/3/lock", nil), env.staff)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[map[string]any](t, w)
	assert.Equal(t, true, st["held"])
	assert.Equal(t, "test", st["holder"])
	assert.NotContains(t, st, "token")

	w = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/ledgers/2025/3/lock", nil), env.staff)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/ledgers/2025/3/lock", nil), env.operator)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, postRequest(t, "/api/v1/ledgers/2025/3/entries", uploadWorkbook(t, "1000"), headerFields), env.staff)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestRouter_AuthAndHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ledgers/2025/3/entries", nil), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/ledgers/2025/3/entries", nil), "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/health/live", nil), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "prodlog_http_requests_total")
}
