package dto

import (
	"time"

	"prodlog/internal/core/lock"
	"prodlog/internal/domain/ledger"
)

// PostEntryResponse is returned after a voucher is posted.
type PostEntryResponse struct {
	SeqNo     int64  `json:"seq_no"`
	VoucherNo string `json:"voucher_no"`
	Period    string `json:"period"`
	Rows      int    `json:"rows"`
}

// ListEntriesQuery filters a ledger listing.
type ListEntriesQuery struct {
	Status string `form:"status"`
}

// CancelRequest asks to cancel a posted voucher.
type CancelRequest struct {
	VoucherNo string `json:"voucher_no" binding:"required"`
	Reason    string `json:"reason" binding:"required"`
}

// CancelResponse reports the cancelled original and its reversing entry.
type CancelResponse struct {
	Original    ledger.Entry `json:"original"`
	Reversal    ledger.Entry `json:"reversal"`
	CrossPeriod bool         `json:"cross_period"`
}

// FromCancelResult converts a domain result.
func FromCancelResult(r ledger.CancelResult) CancelResponse {
	return CancelResponse{Original: r.Original, Reversal: r.Reversal, CrossPeriod: r.CrossPeriod}
}

// VerifyResponse lists ledger invariant violations.
type VerifyResponse struct {
	Period   string           `json:"period"`
	OK       bool             `json:"ok"`
	Problems []ledger.Problem `json:"problems"`
}

// LockStatusResponse describes a period lock.
type LockStatusResponse struct {
	Period     string     `json:"period"`
	Held       bool       `json:"held"`
	Holder     string     `json:"holder,omitempty"`
	AcquiredAt *time.Time `json:"acquired_at,omitempty"`
	TTLSeconds int64      `json:"ttl_seconds,omitempty"`
	Stale      bool       `json:"stale"`
}

// FromLockStatus converts a lock status. The token is deliberately omitted.
func FromLockStatus(s lock.Status) LockStatusResponse {
	resp := LockStatusResponse{
		Period:     s.Period.String(),
		Held:       s.Held,
		Holder:     s.Holder,
		TTLSeconds: int64(s.TTL.Seconds()),
		Stale:      s.Stale,
	}
	if !s.AcquiredAt.IsZero() {
		t := s.AcquiredAt
		resp.AcquiredAt = &t
	}
	return resp
}
