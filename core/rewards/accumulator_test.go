package rewards

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func Test_Settle_AdvancesWithElapsedTime(t *testing.T) {
	acc := NewAccumulator(1_700_000_000)

	emitted := acc.Settle(1_700_000_010, big.NewInt(1), big.NewInt(100))
	if emitted.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("unexpected emission: got %s want 10", emitted)
	}
	expected := new(big.Int).Quo(IndexUnit(), big.NewInt(10))
	if acc.RewardPerStake.Cmp(expected) != 0 {
		t.Fatalf("unexpected index: got %s want %s", acc.RewardPerStake, expected)
	}
	if acc.LastUpdate != 1_700_000_010 {
		t.Fatalf("last update mismatch: %d", acc.LastUpdate)
	}

	// Settling again at the same timestamp is a no-op.
	emitted = acc.Settle(1_700_000_010, big.NewInt(1), big.NewInt(100))
	require.Zero(t, emitted.Sign())
	require.Equal(t, 0, acc.RewardPerStake.Cmp(expected))
}

func Test_Settle_EmptyPoolDiscardsEmission(t *testing.T) {
	acc := NewAccumulator(100)

	emitted := acc.Settle(200, big.NewInt(5), big.NewInt(0))
	require.Zero(t, emitted.Sign())
	require.Zero(t, acc.RewardPerStake.Sign())
	require.EqualValues(t, 200, acc.LastUpdate)
}

func Test_Settle_IgnoresClockRegression(t *testing.T) {
	acc := NewAccumulator(500)
	acc.Settle(600, big.NewInt(1), big.NewInt(10))
	before := acc.Index()

	emitted := acc.Settle(550, big.NewInt(1), big.NewInt(10))
	require.Zero(t, emitted.Sign())
	require.EqualValues(t, 600, acc.LastUpdate)
	require.Equal(t, 0, acc.RewardPerStake.Cmp(before))
}

func Test_Pending_MatchesSettle(t *testing.T) {
	cases := []struct {
		name  string
		rate  int64
		total int64
		span  uint64
	}{
		{name: "even", rate: 2, total: 200, span: 10},
		{name: "odd_total", rate: 7, total: 3, span: 13},
		{name: "zero_rate", rate: 0, total: 50, span: 40},
		{name: "empty", rate: 9, total: 0, span: 5},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			acc := NewAccumulator(1_000)
			pending := acc.Pending(1_000+tc.span, big.NewInt(tc.rate), big.NewInt(tc.total))
			require.Zero(t, acc.RewardPerStake.Sign(), "pending must not mutate")
			acc.Settle(1_000+tc.span, big.NewInt(tc.rate), big.NewInt(tc.total))
			require.Equal(t, 0, pending.Cmp(acc.RewardPerStake))
		})
	}
}

func Test_SettleAccount_CatchesUpToIndex(t *testing.T) {
	pool := NewPool(0, big.NewInt(1))
	account := NewAccount(common.HexToAddress("0x01"))
	account.StakeAmount = big.NewInt(100)
	pool.TotalStaked = big.NewInt(100)

	index := pool.Settle(10)
	delta := SettleAccount(account, index)
	require.Equal(t, "10", delta.String())
	require.Equal(t, "10", account.Rewards.String())
	require.Equal(t, 0, account.RewardPerStakePaid.Cmp(index))

	// A second settlement at the same index credits nothing.
	delta = SettleAccount(account, index)
	require.Zero(t, delta.Sign())
	require.Equal(t, "10", account.Rewards.String())
}

func Test_Earned_DoesNotMutate(t *testing.T) {
	account := NewAccount(common.HexToAddress("0x02"))
	account.StakeAmount = big.NewInt(50)
	account.Rewards = big.NewInt(3)
	index := new(big.Int).Mul(IndexUnit(), big.NewInt(2))

	earned := Earned(account, index)
	require.Equal(t, "103", earned.String())
	require.Equal(t, "3", account.Rewards.String())
	require.Zero(t, account.RewardPerStakePaid.Sign())
}

func Test_Pool_OutstandingTracksPayouts(t *testing.T) {
	pool := NewPool(0, big.NewInt(4))
	pool.TotalStaked = big.NewInt(8)
	pool.Settle(5)
	require.Equal(t, "20", pool.RewardsEmitted.String())

	pool.RewardsPaid = big.NewInt(6)
	require.Equal(t, "14", pool.Outstanding().String())

	clone := pool.Clone()
	clone.RewardsPaid.SetInt64(20)
	require.Equal(t, "6", pool.RewardsPaid.String(), "clone must not alias")
}
