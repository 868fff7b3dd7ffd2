package rewards

import "math/big"

// Accumulator tracks the global reward-per-stake index and the timestamp of
// its most recent settlement. The index is a fixed-point value scaled by
// IndexUnit and only ever grows.
type Accumulator struct {
	RewardPerStake *big.Int
	LastUpdate     uint64
}

// NewAccumulator constructs an accumulator anchored at the genesis timestamp.
func NewAccumulator(genesis uint64) *Accumulator {
	return &Accumulator{RewardPerStake: big.NewInt(0), LastUpdate: genesis}
}

// Clone returns a deep copy of the accumulator state.
func (a *Accumulator) Clone() *Accumulator {
	if a == nil {
		return NewAccumulator(0)
	}
	return &Accumulator{RewardPerStake: copyBigInt(a.RewardPerStake), LastUpdate: a.LastUpdate}
}

// Index returns a copy of the stored reward-per-stake value.
func (a *Accumulator) Index() *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	return copyBigInt(a.RewardPerStake)
}

// Settle advances the index to now using the emission rate and the total
// stake that was in force since the last update. When nothing is staked the
// index stays put while the timestamp still moves, so emission during empty
// periods is discarded. Timestamps at or before LastUpdate are ignored.
//
// The returned value is the reward emitted over the settled interval, which is
// zero whenever the pool was empty or the rate was zero.
func (a *Accumulator) Settle(now uint64, rate, totalStaked *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	a.ensureIndex()
	if now <= a.LastUpdate {
		return big.NewInt(0)
	}
	elapsed := now - a.LastUpdate
	a.LastUpdate = now
	if !isPositive(rate) || !isPositive(totalStaked) {
		return big.NewInt(0)
	}
	emitted := new(big.Int).Mul(new(big.Int).SetUint64(elapsed), rate)
	a.RewardPerStake.Add(a.RewardPerStake, indexIncrement(emitted, totalStaked))
	return emitted
}

// Pending returns the index Settle would produce at now without mutating the
// accumulator.
func (a *Accumulator) Pending(now uint64, rate, totalStaked *big.Int) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	index := copyBigInt(a.RewardPerStake)
	if now <= a.LastUpdate || !isPositive(rate) || !isPositive(totalStaked) {
		return index
	}
	emitted := new(big.Int).Mul(new(big.Int).SetUint64(now-a.LastUpdate), rate)
	return index.Add(index, indexIncrement(emitted, totalStaked))
}

func (a *Accumulator) ensureIndex() {
	if a.RewardPerStake == nil || a.RewardPerStake.Sign() < 0 {
		a.RewardPerStake = big.NewInt(0)
	}
}

func indexIncrement(emitted, totalStaked *big.Int) *big.Int {
	increment := new(big.Int).Mul(emitted, indexScale)
	return increment.Quo(increment, totalStaked)
}
