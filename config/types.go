package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stakepool/native/staking"
)

// Pauses lists operator switches applied at startup.
type Pauses struct {
	Staking bool `toml:"Staking"`
}

// PausedModules returns the module names that start paused.
func (p Pauses) PausedModules() []string {
	var modules []string
	if p.Staking {
		modules = append(modules, "staking")
	}
	return modules
}

// Params converts the file representation into engine parameters.
func (c *Config) Params() (staking.Params, error) {
	params := staking.DefaultParams()
	if c.Controller == "" {
		return params, fmt.Errorf("config: Controller address required")
	}
	controller, err := parseAddress(c.Controller)
	if err != nil {
		return params, fmt.Errorf("config: Controller: %w", err)
	}
	params.Controller = controller
	if c.PoolAddress != "" {
		pool, err := parseAddress(c.PoolAddress)
		if err != nil {
			return params, fmt.Errorf("config: PoolAddress: %w", err)
		}
		params.PoolAddress = pool
	}
	lock, err := time.ParseDuration(strings.TrimSpace(c.LockDuration))
	if err != nil {
		return params, fmt.Errorf("config: LockDuration: %w", err)
	}
	params.LockDuration = lock
	params.StakeAsset = c.StakeAsset
	params.RewardAsset = c.RewardAsset
	return params, params.Validate()
}

// RewardRate parses InitialRewardRate.
func (c *Config) RewardRate() (*big.Int, error) {
	return parseUintAmount(c.InitialRewardRate)
}

func parseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid hex address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}

func parseUintAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}
