package rewards

import "math/big"

// Pool captures the process-wide staking state: the total stake, the emission
// rate and the reward accumulator, plus running emission and payout tallies.
type Pool struct {
	TotalStaked    *big.Int
	RewardRate     *big.Int
	Accumulator    *Accumulator
	RewardsEmitted *big.Int
	RewardsPaid    *big.Int
	Paused         bool
}

// NewPool returns a pool anchored at genesis with the supplied emission rate.
func NewPool(genesis uint64, rate *big.Int) *Pool {
	return &Pool{
		TotalStaked:    big.NewInt(0),
		RewardRate:     copyBigInt(rate),
		Accumulator:    NewAccumulator(genesis),
		RewardsEmitted: big.NewInt(0),
		RewardsPaid:    big.NewInt(0),
	}
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	return &Pool{
		TotalStaked:    copyBigInt(p.TotalStaked),
		RewardRate:     copyBigInt(p.RewardRate),
		Accumulator:    p.Accumulator.Clone(),
		RewardsEmitted: copyBigInt(p.RewardsEmitted),
		RewardsPaid:    copyBigInt(p.RewardsPaid),
		Paused:         p.Paused,
	}
}

// Normalize replaces nil fields with zero values.
func (p *Pool) Normalize() {
	if p == nil {
		return
	}
	if p.TotalStaked == nil {
		p.TotalStaked = big.NewInt(0)
	}
	if p.RewardRate == nil {
		p.RewardRate = big.NewInt(0)
	}
	if p.Accumulator == nil {
		p.Accumulator = NewAccumulator(0)
	}
	p.Accumulator.ensureIndex()
	if p.RewardsEmitted == nil {
		p.RewardsEmitted = big.NewInt(0)
	}
	if p.RewardsPaid == nil {
		p.RewardsPaid = big.NewInt(0)
	}
}

// Settle advances the accumulator to now with the current rate and total
// stake, records the emitted reward and returns a copy of the new index.
func (p *Pool) Settle(now uint64) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	p.Normalize()
	emitted := p.Accumulator.Settle(now, p.RewardRate, p.TotalStaked)
	p.RewardsEmitted.Add(p.RewardsEmitted, emitted)
	return p.Accumulator.Index()
}

// PendingIndex returns the index the pool would hold after settling at now.
func (p *Pool) PendingIndex(now uint64) *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	return p.Accumulator.Pending(now, p.RewardRate, p.TotalStaked)
}

// Outstanding returns the reward emitted but not yet paid out.
func (p *Pool) Outstanding() *big.Int {
	if p == nil {
		return big.NewInt(0)
	}
	outstanding := copyBigInt(p.RewardsEmitted)
	outstanding.Sub(outstanding, copyBigInt(p.RewardsPaid))
	if outstanding.Sign() < 0 {
		return big.NewInt(0)
	}
	return outstanding
}
