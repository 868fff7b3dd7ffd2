package rewards

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEstimateAPY(t *testing.T) {
	cases := []struct {
		name        string
		rate        *big.Int
		total       *big.Int
		rewardPrice *big.Int
		stakePrice  *big.Int
		wantBps     string
		wantOK      bool
	}{
		{name: "empty_pool", rate: big.NewInt(1), total: big.NewInt(0), wantBps: "0", wantOK: false},
		{name: "nil_total", rate: big.NewInt(1), total: nil, wantBps: "0", wantOK: false},
		{name: "zero_rate", rate: big.NewInt(0), total: big.NewInt(10), wantBps: "0", wantOK: true},
		{name: "parity", rate: big.NewInt(1), total: big.NewInt(secondsPerYear), wantBps: "10000", wantOK: true},
		{
			name:        "priced",
			rate:        big.NewInt(1),
			total:       big.NewInt(secondsPerYear),
			rewardPrice: big.NewInt(1),
			stakePrice:  big.NewInt(4),
			wantBps:     "2500",
			wantOK:      true,
		},
		{
			name:        "zero_price_is_parity",
			rate:        big.NewInt(2),
			total:       big.NewInt(secondsPerYear),
			rewardPrice: big.NewInt(0),
			stakePrice:  big.NewInt(3),
			wantBps:     "20000",
			wantOK:      true,
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			bps, ok := EstimateAPY(tc.rate, tc.total, tc.rewardPrice, tc.stakePrice)
			require.Equal(t, tc.wantOK, ok)
			require.Equal(t, tc.wantBps, bps.String())
		})
	}
}

func TestFormatPercent(t *testing.T) {
	require.Equal(t, "12.34", FormatPercent(big.NewInt(1234)))
	require.Equal(t, "0.05", FormatPercent(big.NewInt(5)))
	require.Equal(t, "0.00", FormatPercent(nil))
	require.Equal(t, "315360000.00", FormatPercent(big.NewInt(31_536_000_000)))
}
