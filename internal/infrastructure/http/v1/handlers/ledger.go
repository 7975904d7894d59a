package handlers

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"prodlog/internal/core/apperror"
	"prodlog/internal/core/types"
	"prodlog/internal/domain/ledger"
	"prodlog/internal/domain/voucher"
	"prodlog/internal/infrastructure/codec/xlsx"
	"prodlog/internal/infrastructure/http/v1/dto"
)

// DefaultMaxUpload bounds uploaded data files.
const DefaultMaxUpload = 20 << 20

// LedgerService is the part of ledger.Service the handlers use.
type LedgerService interface {
	PostEntry(ctx context.Context, sess ledger.Session, req ledger.PostRequest) (ledger.Allocation, error)
	CancelEntry(ctx context.Context, sess ledger.Session, req ledger.CancelRequest) (ledger.CancelResult, error)
	List(ctx context.Context, period types.Period, status ledger.Status) ([]ledger.Entry, error)
	Verify(ctx context.Context, period types.Period) ([]ledger.Problem, error)
}

var _ LedgerService = (*ledger.Service)(nil)

// LedgerHandler serves period ledgers: posting, listing, cancelling.
type LedgerHandler struct {
	*BaseHandler
	service   LedgerService
	validator voucher.Validator
	rates     voucher.Rates
	maxUpload int64
}

// NewLedgerHandler creates a ledger handler.
func NewLedgerHandler(base *BaseHandler, service LedgerService, validator voucher.Validator, rates voucher.Rates) *LedgerHandler {
	return &LedgerHandler{
		BaseHandler: base,
		service:     service,
		validator:   validator,
		rates:       rates,
		maxUpload:   DefaultMaxUpload,
	}
}

// PostEntry validates an uploaded data file and posts it as a new voucher.
// POST /api/v1/ledgers/:year/:month/entries (multipart: file + header fields)
func (h *LedgerHandler) PostEntry(c *gin.Context) {
	sess, ok := h.Session(c)
	if !ok {
		return
	}

	var header voucher.Header
	if err := c.ShouldBind(&header); err != nil {
		h.Error(c, apperror.NewValidation("invalid form").WithDetail("error", err.Error()))
		return
	}
	if err := header.Validate(); err != nil {
		h.Error(c, err)
		return
	}

	data, err := h.readUpload(c)
	if err != nil {
		h.Error(c, err)
		return
	}

	sheet, err := xlsx.ReadSheet(data)
	if err != nil {
		h.Error(c, err)
		return
	}
	if err := h.validator.Validate(sheet, strings.TrimSpace(header.BizType)).Err(); err != nil {
		h.Error(c, err)
		return
	}
	sum, err := voucher.Summarize(sheet, strings.TrimSpace(header.BizType), header.AccountWith, sess.Period, h.rates)
	if err != nil {
		h.Error(c, err)
		return
	}

	alloc, err := h.service.PostEntry(c.Request.Context(), sess, ledger.PostRequest{
		Cedant:   header.CedantCompany,
		DataFile: data,
		Build:    voucher.BuildEntry(header, sum),
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	h.Created(c, dto.PostEntryResponse{
		SeqNo:     alloc.SeqNo,
		VoucherNo: alloc.VoucherNo,
		Period:    alloc.Period.String(),
		Rows:      sum.Rows,
	})
}

func (h *LedgerHandler) readUpload(c *gin.Context) ([]byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, apperror.NewValidation("file is required")
	}
	if fh.Size > h.maxUpload {
		return nil, apperror.NewValidation(fmt.Sprintf("file exceeds %d bytes", h.maxUpload))
	}
	f, err := fh.Open()
	if err != nil {
		return nil, apperror.NewValidation("cannot open uploaded file").WithCause(err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		return nil, apperror.NewValidation("cannot read uploaded file").WithCause(err)
	}
	if int64(len(data)) > h.maxUpload {
		return nil, apperror.NewValidation(fmt.Sprintf("file exceeds %d bytes", h.maxUpload))
	}
	return data, nil
}

// ListEntries returns the period ledger, optionally filtered by status.
// GET /api/v1/ledgers/:year/:month/entries?status=POSTED
func (h *LedgerHandler) ListEntries(c *gin.Context) {
	period, ok := h.Period(c)
	if !ok {
		return
	}
	var q dto.ListEntriesQuery
	if !h.BindQuery(c, &q) {
		return
	}

	entries, err := h.service.List(c.Request.Context(), period, ledger.Status(strings.ToUpper(q.Status)))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NewListResponse(entries))
}

// Cancel reverses a posted voucher into the path period.
// POST /api/v1/ledgers/:year/:month/cancellations
func (h *LedgerHandler) Cancel(c *gin.Context) {
	sess, ok := h.Session(c)
	if !ok {
		return
	}
	var req dto.CancelRequest
	if !h.BindJSON(c, &req) {
		return
	}

	res, err := h.service.CancelEntry(c.Request.Context(), sess, ledger.CancelRequest{
		VoucherNo: req.VoucherNo,
		Reason:    req.Reason,
	})
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromCancelResult(res))
}

// Verify checks the period ledger invariants.
// GET /api/v1/ledgers/:year/:month/verify
func (h *LedgerHandler) Verify(c *gin.Context) {
	period, ok := h.Period(c)
	if !ok {
		return
	}
	problems, err := h.service.Verify(c.Request.Context(), period)
	if err != nil {
		h.Error(c, err)
		return
	}
	if problems == nil {
		problems = []ledger.Problem{}
	}
	h.OK(c, dto.VerifyResponse{Period: period.String(), OK: len(problems) == 0, Problems: problems})
}

// SetMaxUpload overrides the upload size limit.
func (h *LedgerHandler) SetMaxUpload(n int64) {
	h.maxUpload = n
}
