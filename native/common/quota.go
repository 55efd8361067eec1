package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded    = errors.New("quota requests exceeded")
	ErrQuotaOutstandingExceeded = errors.New("quota outstanding records exceeded")
	ErrQuotaCounterOverflow     = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	ReqCount    uint32
	Outstanding uint32
	EpochID     uint64
}

// Quota defines the limits enforced for a module interaction per address. The
// request limit resets every epoch; the outstanding cap bounds live records
// (e.g. open bids) regardless of epoch.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxOutstanding      uint32
	EpochSeconds        uint32
}

// CheckQuota verifies whether the additional request and outstanding-record
// usage fit within the configured quota. The returned QuotaNow reflects the
// updated counters when the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq, addOutstanding uint32) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch, Outstanding: prev.Outstanding}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addOutstanding > 0 {
		if next.Outstanding > math.MaxUint32-addOutstanding {
			return prev, ErrQuotaCounterOverflow
		}
		next.Outstanding += addOutstanding
	}
	if q.MaxOutstanding > 0 && next.Outstanding > q.MaxOutstanding {
		return prev, ErrQuotaOutstandingExceeded
	}

	return next, nil
}
