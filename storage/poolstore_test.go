package storage

import (
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"stakepool/core/rewards"
)

func samplePool() *rewards.Pool {
	pool := rewards.NewPool(1_700_000_000, big.NewInt(7))
	pool.TotalStaked = big.NewInt(300)
	pool.Accumulator.RewardPerStake = new(big.Int).Mul(rewards.IndexUnit(), big.NewInt(3))
	pool.Accumulator.LastUpdate = 1_700_000_123
	pool.RewardsEmitted = big.NewInt(900)
	pool.RewardsPaid = big.NewInt(40)
	pool.Paused = true
	return pool
}

func sampleAccount(hex string, stake int64) *rewards.Account {
	account := rewards.NewAccount(common.HexToAddress(hex))
	account.StakeAmount = big.NewInt(stake)
	account.RewardPerStakePaid = rewards.IndexUnit()
	account.Rewards = big.NewInt(11)
	account.StakeTimestamp = 1_700_000_050
	return account
}

func requirePoolEqual(t *testing.T, want, got *rewards.Pool) {
	t.Helper()
	require.NotNil(t, got)
	require.Equal(t, want.TotalStaked.String(), got.TotalStaked.String())
	require.Equal(t, want.RewardRate.String(), got.RewardRate.String())
	require.Equal(t, want.Accumulator.RewardPerStake.String(), got.Accumulator.RewardPerStake.String())
	require.Equal(t, want.Accumulator.LastUpdate, got.Accumulator.LastUpdate)
	require.Equal(t, want.RewardsEmitted.String(), got.RewardsEmitted.String())
	require.Equal(t, want.RewardsPaid.String(), got.RewardsPaid.String())
	require.Equal(t, want.Paused, got.Paused)
}

func TestPoolStoreMissingRecords(t *testing.T) {
	store := NewPoolStore(NewMemDB())

	pool, err := store.GetPool()
	require.NoError(t, err)
	require.Nil(t, pool)

	account, err := store.GetAccount(common.HexToAddress("0x01"))
	require.NoError(t, err)
	require.Nil(t, account)
}

func TestPoolStoreCommitRoundTrip(t *testing.T) {
	store := NewPoolStore(NewMemDB())
	pool := samplePool()
	alice := sampleAccount("0x0a", 100)
	bob := sampleAccount("0x0b", 200)

	require.NoError(t, store.Commit(pool, alice, nil, bob))

	loaded, err := store.GetPool()
	require.NoError(t, err)
	requirePoolEqual(t, pool, loaded)

	got, err := store.GetAccount(alice.Address)
	require.NoError(t, err)
	require.Equal(t, alice.Address, got.Address)
	require.Equal(t, "100", got.StakeAmount.String())
	require.Equal(t, rewards.IndexUnit().String(), got.RewardPerStakePaid.String())
	require.Equal(t, "11", got.Rewards.String())
	require.EqualValues(t, 1_700_000_050, got.StakeTimestamp)

	var seen []common.Address
	require.NoError(t, store.ForEachAccount(func(acc *rewards.Account) error {
		seen = append(seen, acc.Address)
		return nil
	}))
	require.Equal(t, []common.Address{alice.Address, bob.Address}, seen)
}

func TestPoolStoreZeroAccountSurvives(t *testing.T) {
	store := NewPoolStore(NewMemDB())
	empty := rewards.NewAccount(common.HexToAddress("0x0c"))
	empty.StakeAmount = nil

	require.NoError(t, store.Commit(rewards.NewPool(0, nil), empty))

	got, err := store.GetAccount(empty.Address)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Zero(t, got.StakeAmount.Sign())
}

func TestPoolStoreForEachStopsOnError(t *testing.T) {
	store := NewPoolStore(NewMemDB())
	require.NoError(t, store.Commit(samplePool(), sampleAccount("0x01", 1), sampleAccount("0x02", 2)))

	stop := errors.New("stop")
	calls := 0
	err := store.ForEachAccount(func(*rewards.Account) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 1, calls)
}

func TestPoolStoreLevelDBRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pool")
	db, err := NewLevelDB(path)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	pool := samplePool()
	account := sampleAccount("0x0d", 300)
	if err := NewPoolStore(db).Commit(pool, account); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	store := NewPoolStore(reopened)
	loaded, err := store.GetPool()
	require.NoError(t, err)
	requirePoolEqual(t, pool, loaded)

	got, err := store.GetAccount(account.Address)
	require.NoError(t, err)
	require.Equal(t, "300", got.StakeAmount.String())
}

func TestMemDBBatchAndIterate(t *testing.T) {
	db := NewMemDB()
	require.NoError(t, db.Put([]byte("a/2"), []byte("two")))
	batch := NewBatch()
	batch.Put([]byte("a/1"), []byte("one"))
	batch.Put([]byte("b/1"), []byte("other"))
	batch.Delete([]byte("a/2"))
	require.Equal(t, 3, batch.Len())
	require.NoError(t, db.Write(batch))

	_, err := db.Get([]byte("a/2"))
	require.ErrorIs(t, err, ErrNotFound)

	var keys []string
	require.NoError(t, db.Iterate([]byte("a/"), func(key, _ []byte) error {
		keys = append(keys, string(key))
		return nil
	}))
	require.Equal(t, []string{"a/1"}, keys)
}
