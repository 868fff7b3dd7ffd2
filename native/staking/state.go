package staking

import (
	"github.com/ethereum/go-ethereum/common"

	"stakepool/core/rewards"
)

// State is the persistence the engine requires. Getters return (nil, nil)
// for records that have never been written. Commit must apply the pool and
// all supplied accounts atomically.
type State interface {
	GetPool() (*rewards.Pool, error)
	GetAccount(addr common.Address) (*rewards.Account, error)
	Commit(pool *rewards.Pool, accounts ...*rewards.Account) error
	ForEachAccount(fn func(*rewards.Account) error) error
}
