package rewards

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Account is the per-participant staking snapshot.
type Account struct {
	Address            common.Address
	StakeAmount        *big.Int
	RewardPerStakePaid *big.Int
	Rewards            *big.Int
	StakeTimestamp     uint64
}

// NewAccount returns an empty account for addr.
func NewAccount(addr common.Address) *Account {
	return &Account{
		Address:            addr,
		StakeAmount:        big.NewInt(0),
		RewardPerStakePaid: big.NewInt(0),
		Rewards:            big.NewInt(0),
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	return &Account{
		Address:            a.Address,
		StakeAmount:        copyBigInt(a.StakeAmount),
		RewardPerStakePaid: copyBigInt(a.RewardPerStakePaid),
		Rewards:            copyBigInt(a.Rewards),
		StakeTimestamp:     a.StakeTimestamp,
	}
}

// Normalize replaces nil amounts with zero values.
func (a *Account) Normalize() {
	if a == nil {
		return
	}
	if a.StakeAmount == nil {
		a.StakeAmount = big.NewInt(0)
	}
	if a.RewardPerStakePaid == nil {
		a.RewardPerStakePaid = big.NewInt(0)
	}
	if a.Rewards == nil {
		a.Rewards = big.NewInt(0)
	}
}

// UnlockAt returns the first timestamp at which the account may withdraw.
func (a *Account) UnlockAt(lockSeconds uint64) uint64 {
	if a == nil {
		return 0
	}
	return a.StakeTimestamp + lockSeconds
}

// SettleAccount credits the reward accrued since the account's last
// settlement and snapshots the supplied index. The credited delta is returned.
func SettleAccount(acc *Account, rewardPerStake *big.Int) *big.Int {
	if acc == nil {
		return big.NewInt(0)
	}
	acc.Normalize()
	delta := scaledShare(acc.StakeAmount, acc.RewardPerStakePaid, rewardPerStake)
	acc.Rewards.Add(acc.Rewards, delta)
	if rewardPerStake != nil {
		acc.RewardPerStakePaid = new(big.Int).Set(rewardPerStake)
	}
	return delta
}

// Earned reports the rewards owed to acc at the supplied index without
// mutating the account.
func Earned(acc *Account, rewardPerStake *big.Int) *big.Int {
	if acc == nil {
		return big.NewInt(0)
	}
	earned := copyBigInt(acc.Rewards)
	return earned.Add(earned, scaledShare(acc.StakeAmount, acc.RewardPerStakePaid, rewardPerStake))
}
