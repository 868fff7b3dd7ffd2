package staking

import (
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// DefaultLockDuration is the minimum time stake must stay in the pool.
	DefaultLockDuration = 24 * time.Hour
	// DefaultStakeAsset is the symbol of the staked asset.
	DefaultStakeAsset = "STK"
	// DefaultRewardAsset is the symbol of the reward asset.
	DefaultRewardAsset = "RWD"
)

// DefaultPoolAddress derives the custody address holding staked funds and the
// reward reserve.
func DefaultPoolAddress() common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("stakepool/custody"))[12:])
}

// Params configures a pool engine.
type Params struct {
	// Controller is the only identity allowed to change the reward rate or
	// pause new stakes.
	Controller   common.Address
	PoolAddress  common.Address
	LockDuration time.Duration
	StakeAsset   string
	RewardAsset  string
}

// DefaultParams returns parameters with the default lock and asset symbols.
// The controller must still be provided.
func DefaultParams() Params {
	return Params{
		PoolAddress:  DefaultPoolAddress(),
		LockDuration: DefaultLockDuration,
		StakeAsset:   DefaultStakeAsset,
		RewardAsset:  DefaultRewardAsset,
	}
}

// Validate reports configuration errors.
func (p Params) Validate() error {
	if p.Controller == (common.Address{}) {
		return errors.New("staking: controller address required")
	}
	if p.PoolAddress == (common.Address{}) {
		return errors.New("staking: pool address required")
	}
	if p.PoolAddress == p.Controller {
		return errors.New("staking: pool address must differ from controller")
	}
	if p.LockDuration < 0 {
		return errors.New("staking: lock duration must not be negative")
	}
	if strings.TrimSpace(p.StakeAsset) == "" || strings.TrimSpace(p.RewardAsset) == "" {
		return errors.New("staking: asset symbols required")
	}
	return nil
}

func (p Params) lockSeconds() uint64 {
	if p.LockDuration <= 0 {
		return 0
	}
	return uint64(p.LockDuration / time.Second)
}

func (p Params) sharedAsset() bool {
	return strings.EqualFold(strings.TrimSpace(p.StakeAsset), strings.TrimSpace(p.RewardAsset))
}
