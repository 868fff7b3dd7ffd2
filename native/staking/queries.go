package staking

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stakepool/core/rewards"
)

// Position summarises one participant.
type Position struct {
	Address        common.Address
	Stake          *big.Int
	Earned         *big.Int
	StakeTimestamp uint64
	UnlockAt       uint64
	Locked         bool
}

// Snapshot summarises the pool.
type Snapshot struct {
	TotalStaked    *big.Int
	RewardRate     *big.Int
	RewardPerStake *big.Int
	LastUpdate     uint64
	RewardsEmitted *big.Int
	RewardsPaid    *big.Int
	Outstanding    *big.Int
	Reserve        *big.Int
	Paused         bool
	StakeAsset     string
	RewardAsset    string
	LockDuration   time.Duration
	PoolAddress    common.Address
	Controller     common.Address
}

// InvariantReport carries the sums gathered by CheckInvariants.
type InvariantReport struct {
	Accounts       int
	SumStake       *big.Int
	SumRewards     *big.Int
	RewardsEmitted *big.Int
	RewardsPaid    *big.Int
	// Dust is the emitted reward not yet attributed to any account.
	Dust *big.Int
}

func (e *Engine) readPool() (*rewards.Pool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadPool()
}

// BalanceOf returns addr's stake. Unknown addresses hold zero.
func (e *Engine) BalanceOf(addr common.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	account, err := e.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(account.StakeAmount), nil
}

// Earned returns the reward addr could claim right now, including accrual
// since the last settlement. It never mutates state.
func (e *Engine) Earned(addr common.Address) (*big.Int, error) {
	position, err := e.Position(addr)
	if err != nil {
		return nil, err
	}
	return position.Earned, nil
}

// TotalStaked returns the pool's total stake.
func (e *Engine) TotalStaked() (*big.Int, error) {
	pool, err := e.readPool()
	if err != nil {
		return nil, err
	}
	return pool.TotalStaked, nil
}

// RewardRate returns the current emission rate per second.
func (e *Engine) RewardRate() (*big.Int, error) {
	pool, err := e.readPool()
	if err != nil {
		return nil, err
	}
	return pool.RewardRate, nil
}

// APY estimates the annual yield in basis points. ok is false when nothing is
// staked. Nil prices are treated as parity.
func (e *Engine) APY(rewardPrice, stakePrice *big.Int) (bps *big.Int, ok bool, err error) {
	pool, err := e.readPool()
	if err != nil {
		return nil, false, err
	}
	bps, ok = rewards.EstimateAPY(pool.RewardRate, pool.TotalStaked, rewardPrice, stakePrice)
	return bps, ok, nil
}

// Position returns addr's stake, claimable reward and lock status.
func (e *Engine) Position(addr common.Address) (Position, error) {
	if e == nil || e.state == nil {
		return Position{}, ErrNilState
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	pool, err := e.loadPool()
	if err != nil {
		return Position{}, err
	}
	account, err := e.loadAccount(addr)
	if err != nil {
		return Position{}, err
	}
	now := e.now()
	unlockAt := account.UnlockAt(e.params.lockSeconds())
	return Position{
		Address:        addr,
		Stake:          account.StakeAmount,
		Earned:         rewards.Earned(account, pool.PendingIndex(now)),
		StakeTimestamp: account.StakeTimestamp,
		UnlockAt:       unlockAt,
		Locked:         account.StakeAmount.Sign() > 0 && now < unlockAt,
	}, nil
}

// RewardReserve reports the reward asset held by the pool. When the stake and
// reward assets coincide the staked principal is excluded.
func (e *Engine) RewardReserve(ctx context.Context) (*big.Int, error) {
	pool, err := e.readPool()
	if err != nil {
		return nil, err
	}
	return e.reserve(ctx, pool)
}

func (e *Engine) reserve(ctx context.Context, pool *rewards.Pool) (*big.Int, error) {
	balance, err := e.rewardToken.BalanceOf(ctx, e.params.PoolAddress)
	if err != nil {
		return nil, fmt.Errorf("staking: reward reserve: %w", err)
	}
	if e.params.sharedAsset() {
		balance = new(big.Int).Sub(balance, pool.TotalStaked)
		if balance.Sign() < 0 {
			balance.SetInt64(0)
		}
	}
	return balance, nil
}

// Snapshot returns the pool totals together with the reward reserve.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	pool, err := e.readPool()
	if err != nil {
		return Snapshot{}, err
	}
	reserve, err := e.reserve(ctx, pool)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		TotalStaked:    pool.TotalStaked,
		RewardRate:     pool.RewardRate,
		RewardPerStake: pool.Accumulator.Index(),
		LastUpdate:     pool.Accumulator.LastUpdate,
		RewardsEmitted: pool.RewardsEmitted,
		RewardsPaid:    pool.RewardsPaid,
		Outstanding:    pool.Outstanding(),
		Reserve:        reserve,
		Paused:         pool.Paused,
		StakeAsset:     e.stakeToken.Symbol(),
		RewardAsset:    e.rewardToken.Symbol(),
		LockDuration:   e.params.LockDuration,
		PoolAddress:    e.params.PoolAddress,
		Controller:     e.params.Controller,
	}, nil
}

// CheckInvariants walks every stored account and verifies the pool totals
// against them. It is a validation helper and visits the whole account set.
func (e *Engine) CheckInvariants() (InvariantReport, error) {
	if e == nil || e.state == nil {
		return InvariantReport{}, ErrNilState
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	pool, err := e.loadPool()
	if err != nil {
		return InvariantReport{}, err
	}
	report := InvariantReport{
		SumStake:       big.NewInt(0),
		SumRewards:     big.NewInt(0),
		RewardsEmitted: new(big.Int).Set(pool.RewardsEmitted),
		RewardsPaid:    new(big.Int).Set(pool.RewardsPaid),
	}
	index := pool.Accumulator.Index()
	err = e.state.ForEachAccount(func(account *rewards.Account) error {
		report.Accounts++
		report.SumStake.Add(report.SumStake, account.StakeAmount)
		// Accrual up to the stored index has been emitted already even when
		// the account has not been settled since.
		report.SumRewards.Add(report.SumRewards, rewards.Earned(account, index))
		return nil
	})
	if err != nil {
		return report, err
	}
	if report.SumStake.Cmp(pool.TotalStaked) != 0 {
		return report, fmt.Errorf("%w: total staked %s, accounts hold %s", ErrInvariantViolated, pool.TotalStaked, report.SumStake)
	}
	attributed := new(big.Int).Add(report.SumRewards, pool.RewardsPaid)
	report.Dust = new(big.Int).Sub(pool.RewardsEmitted, attributed)
	if report.Dust.Sign() < 0 {
		return report, fmt.Errorf("%w: rewards attributed %s exceed emitted %s", ErrInvariantViolated, attributed, pool.RewardsEmitted)
	}
	return report, nil
}
