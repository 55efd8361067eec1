package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAsset(t *testing.T) {
	got, err := NormalizeAsset(" znhb ")
	require.NoError(t, err)
	require.Equal(t, "ZNHB", got)

	_, err = NormalizeAsset("")
	require.Error(t, err)
	_, err = NormalizeAsset("TOOLONGSYMBOL")
	require.Error(t, err)
	_, err = NormalizeAsset("bad-sym")
	require.Error(t, err)
}

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	require.NoError(t, Guard(nil, "escrow"))
	require.NoError(t, Guard(pauseMap{}, "escrow"))
	require.ErrorIs(t, Guard(pauseMap{"escrow": true}, "escrow"), ErrModulePaused)
	require.NoError(t, Guard(pauseMap{"escrow": true}, "auction"))
}

func TestCheckQuotaRequests(t *testing.T) {
	quota := Quota{MaxRequestsPerEpoch: 2}

	now, err := CheckQuota(quota, 0, QuotaNow{}, 1, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), now.ReqCount)

	now, err = CheckQuota(quota, 0, now, 1, 0)
	require.NoError(t, err)

	_, err = CheckQuota(quota, 0, now, 1, 0)
	require.ErrorIs(t, err, ErrQuotaRequestsExceeded)

	// A new epoch resets the request counter.
	reset, err := CheckQuota(quota, 1, now, 1, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), reset.ReqCount)
}

func TestCheckQuotaOutstanding(t *testing.T) {
	quota := Quota{MaxOutstanding: 1}

	now, err := CheckQuota(quota, 0, QuotaNow{}, 0, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), now.Outstanding)

	_, err = CheckQuota(quota, 0, now, 0, 1)
	require.ErrorIs(t, err, ErrQuotaOutstandingExceeded)

	// Outstanding records survive epoch rollover.
	next, err := CheckQuota(quota, 5, now, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), next.Outstanding)
}
