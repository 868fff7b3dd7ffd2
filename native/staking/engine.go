package staking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stakepool/core/events"
	"stakepool/core/rewards"
	"stakepool/native/bank"
	nativecommon "stakepool/native/common"
	"stakepool/observability"
)

const moduleName = "staking"

// Engine owns the pool accounting. Every mutation settles the accumulator
// with the stake that was in force before the call, settles the caller, then
// moves value through the ledger. A single lock serialises all mutations.
type Engine struct {
	mu          sync.RWMutex
	state       State
	params      Params
	stakeToken  bank.Token
	rewardToken bank.Token
	pauses      nativecommon.PauseView
	emitter     events.Emitter
	metrics     *observability.StakingMetrics
	logger      *slog.Logger
	nowFunc     func() time.Time
}

// NewEngine constructs an engine. Bootstrap must run before the first
// mutation.
func NewEngine(params Params, state State, stakeToken, rewardToken bank.Token) *Engine {
	return &Engine{
		state:       state,
		params:      params,
		stakeToken:  stakeToken,
		rewardToken: rewardToken,
		emitter:     events.NoopEmitter{},
		logger:      slog.Default(),
		nowFunc:     time.Now,
	}
}

// SetEmitter configures the sink for pool events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetPauses wires an operator pause switch checked before new stakes.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetMetrics enables Prometheus instrumentation.
func (e *Engine) SetMetrics(m *observability.StakingMetrics) {
	if e == nil {
		return
	}
	e.metrics = m
}

// SetLogger overrides the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// SetClock overrides the engine clock, primarily for deterministic testing.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.nowFunc = now
}

// Params returns the engine configuration.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) now() uint64 {
	ts := e.nowFunc().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// Bootstrap creates the pool record with initialRate when none exists. An
// existing pool is left untouched so restarts resume from persisted state.
func (e *Engine) Bootstrap(initialRate *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := e.params.Validate(); err != nil {
		return err
	}
	if e.stakeToken == nil || e.rewardToken == nil {
		return errors.New("staking: ledger tokens not configured")
	}
	if initialRate == nil {
		initialRate = big.NewInt(0)
	}
	if initialRate.Sign() < 0 {
		return ErrInvalidRate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	existing, err := e.state.GetPool()
	if err != nil {
		return err
	}
	if existing != nil {
		e.logger.Info("staking: resumed pool",
			slog.String("totalStaked", existing.TotalStaked.String()),
			slog.String("rewardRate", existing.RewardRate.String()),
			slog.Uint64("lastUpdate", existing.Accumulator.LastUpdate))
		e.metrics.SetPoolGauges(existing.TotalStaked, existing.RewardRate)
		return nil
	}
	pool := rewards.NewPool(e.now(), initialRate)
	if err := e.state.Commit(pool); err != nil {
		return fmt.Errorf("staking: create pool: %w", err)
	}
	e.logger.Info("staking: created pool", slog.String("rewardRate", pool.RewardRate.String()))
	e.metrics.SetPoolGauges(pool.TotalStaked, pool.RewardRate)
	return nil
}

func (e *Engine) loadPool() (*rewards.Pool, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pool, err := e.state.GetPool()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotInitialised
	}
	pool = pool.Clone()
	pool.Normalize()
	return pool, nil
}

func (e *Engine) loadAccount(addr common.Address) (*rewards.Account, error) {
	account, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return rewards.NewAccount(addr), nil
	}
	account = account.Clone()
	account.Normalize()
	account.Address = addr
	return account, nil
}

func (e *Engine) observe(operation string, start time.Time, err error) {
	e.metrics.ObserveOperation(operation, err, time.Since(start))
	if err != nil {
		e.logger.Debug("staking: operation rejected",
			slog.String("operation", operation),
			slog.String("error", err.Error()))
	}
}

// commit persists the working copies and counts failures.
func (e *Engine) commit(pool *rewards.Pool, accounts ...*rewards.Account) error {
	if err := e.state.Commit(pool, accounts...); err != nil {
		e.metrics.RecordPersistFailure()
		return fmt.Errorf("staking: commit: %w", err)
	}
	e.metrics.SetPoolGauges(pool.TotalStaked, pool.RewardRate)
	return nil
}

// restore rewrites the pre-transition snapshot after an outbound transfer
// failed so the bookkeeping matches the ledger again.
func (e *Engine) restore(operation string, pool *rewards.Pool, account *rewards.Account) error {
	if err := e.state.Commit(pool, account); err != nil {
		e.metrics.RecordPersistFailure()
		e.logger.Error("staking: failed to restore state after transfer failure",
			slog.String("operation", operation),
			slog.String("addr", account.Address.Hex()),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

func isPositive(amount *big.Int) bool {
	return amount != nil && amount.Sign() > 0
}

// Stake pulls amount of the stake asset from caller into the pool. The
// caller's lock restarts for the whole balance.
func (e *Engine) Stake(ctx context.Context, caller common.Address, amount *big.Int) (err error) {
	start := time.Now()
	defer func() { e.observe("stake", start, err) }()

	if !isPositive(amount) {
		return ErrInvalidAmount
	}
	if guardErr := nativecommon.Guard(e.pauses, moduleName); guardErr != nil {
		return fmt.Errorf("%w: %w", ErrPaused, guardErr)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if pool.Paused {
		return ErrPaused
	}
	account, err := e.loadAccount(caller)
	if err != nil {
		return err
	}
	now := e.now()
	index := pool.Settle(now)
	rewards.SettleAccount(account, index)
	account.StakeAmount.Add(account.StakeAmount, amount)
	account.StakeTimestamp = now
	pool.TotalStaked.Add(pool.TotalStaked, amount)

	poolAddr := e.params.PoolAddress
	if err := e.stakeToken.TransferFrom(ctx, poolAddr, caller, poolAddr, amount); err != nil {
		return transferFailed(err)
	}
	if err := e.commit(pool, account); err != nil {
		refundErr := e.stakeToken.Transfer(context.WithoutCancel(ctx), poolAddr, caller, amount)
		e.metrics.RecordCompensation("stake", refundErr)
		if refundErr != nil {
			e.logger.Error("staking: stake refund failed",
				slog.String("addr", caller.Hex()),
				slog.String("amount", amount.String()),
				slog.String("error", refundErr.Error()))
			return errors.Join(err, refundErr)
		}
		return err
	}

	e.emitter.Emit(events.PoolStaked{
		Account:     caller,
		Amount:      new(big.Int).Set(amount),
		NewStake:    new(big.Int).Set(account.StakeAmount),
		TotalStaked: new(big.Int).Set(pool.TotalStaked),
		Timestamp:   now,
	})
	e.logger.Info("staking: stake applied",
		slog.String("addr", caller.Hex()),
		slog.String("amount", amount.String()),
		slog.String("totalStaked", pool.TotalStaked.String()))
	return nil
}

// Withdraw returns amount of the caller's stake once the lock has elapsed.
// Accrued rewards stay claimable.
func (e *Engine) Withdraw(ctx context.Context, caller common.Address, amount *big.Int) (err error) {
	start := time.Now()
	defer func() { e.observe("withdraw", start, err) }()

	if !isPositive(amount) {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	account, err := e.loadAccount(caller)
	if err != nil {
		return err
	}
	if account.StakeAmount.Cmp(amount) < 0 {
		return ErrInsufficientStake
	}
	now := e.now()
	if now < account.UnlockAt(e.params.lockSeconds()) {
		return ErrLockPeriodActive
	}

	priorPool, priorAccount := pool.Clone(), account.Clone()
	index := pool.Settle(now)
	rewards.SettleAccount(account, index)
	account.StakeAmount.Sub(account.StakeAmount, amount)
	pool.TotalStaked.Sub(pool.TotalStaked, amount)

	if err := e.commit(pool, account); err != nil {
		return err
	}
	if err := e.stakeToken.Transfer(ctx, e.params.PoolAddress, caller, amount); err != nil {
		if restoreErr := e.restore("withdraw", priorPool, priorAccount); restoreErr != nil {
			return errors.Join(transferFailed(err), restoreErr)
		}
		e.metrics.SetPoolGauges(priorPool.TotalStaked, priorPool.RewardRate)
		return transferFailed(err)
	}

	e.emitter.Emit(events.PoolWithdrawn{
		Account:     caller,
		Amount:      new(big.Int).Set(amount),
		NewStake:    new(big.Int).Set(account.StakeAmount),
		TotalStaked: new(big.Int).Set(pool.TotalStaked),
		Timestamp:   now,
	})
	e.logger.Info("staking: withdrawal applied",
		slog.String("addr", caller.Hex()),
		slog.String("amount", amount.String()),
		slog.String("totalStaked", pool.TotalStaked.String()))
	return nil
}

// ClaimReward pays the caller's entire accrued reward and returns the amount
// paid. A caller with nothing accrued receives zero and no transfer happens.
func (e *Engine) ClaimReward(ctx context.Context, caller common.Address) (paid *big.Int, err error) {
	start := time.Now()
	defer func() { e.observe("claim", start, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	account, err := e.loadAccount(caller)
	if err != nil {
		return nil, err
	}
	priorPool, priorAccount := pool.Clone(), account.Clone()
	now := e.now()
	index := pool.Settle(now)
	rewards.SettleAccount(account, index)
	amount := new(big.Int).Set(account.Rewards)
	if amount.Sign() == 0 {
		return amount, nil
	}
	// With a shared asset the ledger balance includes staked principal, so the
	// transfer alone cannot tell reward reserve from other stakers' deposits.
	if e.params.sharedAsset() {
		reserve, err := e.reserve(ctx, pool)
		if err != nil {
			return nil, err
		}
		if amount.Cmp(reserve) > 0 {
			return nil, transferFailed(bank.ErrInsufficientBalance)
		}
	}
	account.Rewards = big.NewInt(0)
	pool.RewardsPaid.Add(pool.RewardsPaid, amount)

	if err := e.commit(pool, account); err != nil {
		return nil, err
	}
	if err := e.rewardToken.Transfer(ctx, e.params.PoolAddress, caller, amount); err != nil {
		if restoreErr := e.restore("claim", priorPool, priorAccount); restoreErr != nil {
			return nil, errors.Join(transferFailed(err), restoreErr)
		}
		return nil, transferFailed(err)
	}

	e.metrics.AddRewardsPaid(amount)
	e.emitter.Emit(events.PoolRewardPaid{
		Account:   caller,
		Asset:     e.rewardToken.Symbol(),
		Amount:    new(big.Int).Set(amount),
		Timestamp: now,
	})
	e.logger.Info("staking: reward paid",
		slog.String("addr", caller.Hex()),
		slog.String("amount", amount.String()))
	return amount, nil
}

// SetRewardRate settles accrual at the old rate and then switches to rate.
// Only the controller may call it.
func (e *Engine) SetRewardRate(ctx context.Context, caller common.Address, rate *big.Int) (err error) {
	start := time.Now()
	defer func() { e.observe("set_rate", start, err) }()

	if caller != e.params.Controller {
		return ErrUnauthorized
	}
	if rate == nil || rate.Sign() < 0 {
		return ErrInvalidRate
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	now := e.now()
	index := pool.Settle(now)
	previous := new(big.Int).Set(pool.RewardRate)
	pool.RewardRate = new(big.Int).Set(rate)
	if err := e.commit(pool); err != nil {
		return err
	}

	e.emitter.Emit(events.PoolRewardRateUpdated{
		Controller:     caller,
		PreviousRate:   previous,
		NewRate:        new(big.Int).Set(rate),
		RewardPerStake: index,
		Timestamp:      now,
	})
	e.logger.Info("staking: reward rate updated",
		slog.String("previousRate", previous.String()),
		slog.String("newRate", rate.String()))
	return nil
}

// FundRewards pulls amount of the reward asset from funder into the pool's
// reserve. Any identity may fund the pool.
func (e *Engine) FundRewards(ctx context.Context, funder common.Address, amount *big.Int) (err error) {
	start := time.Now()
	defer func() { e.observe("fund", start, err) }()

	if !isPositive(amount) {
		return ErrInvalidAmount
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.loadPool(); err != nil {
		return err
	}
	poolAddr := e.params.PoolAddress
	if err := e.rewardToken.TransferFrom(ctx, poolAddr, funder, poolAddr, amount); err != nil {
		return transferFailed(err)
	}
	e.emitter.Emit(events.PoolFunded{
		Funder:    funder,
		Asset:     e.rewardToken.Symbol(),
		Amount:    new(big.Int).Set(amount),
		Timestamp: e.now(),
	})
	e.logger.Info("staking: reward reserve funded",
		slog.String("addr", funder.Hex()),
		slog.String("amount", amount.String()))
	return nil
}

// SetPaused stops or resumes new stakes. Withdrawals and claims are never
// paused. Only the controller may call it.
func (e *Engine) SetPaused(ctx context.Context, caller common.Address, paused bool) (err error) {
	start := time.Now()
	defer func() { e.observe("set_paused", start, err) }()

	if caller != e.params.Controller {
		return ErrUnauthorized
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	if pool.Paused == paused {
		return nil
	}
	pool.Paused = paused
	if err := e.commit(pool); err != nil {
		return err
	}
	e.emitter.Emit(events.PoolPauseToggled{Controller: caller, Paused: paused, Timestamp: e.now()})
	e.logger.Warn("staking: pause toggled", slog.Bool("paused", paused))
	return nil
}
