package config

import (
	"fmt"
	"math/big"
	"strings"
)

// ParseAmount parses a non-negative base-10 integer.
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

// Faucet returns the per-call faucet amount, nil when the faucet is disabled.
func (c Config) Faucet() *big.Int {
	if c.FaucetAmount == "" {
		return nil
	}
	amount, _ := ParseAmount(c.FaucetAmount)
	return amount
}

// PriceInputs returns the configured prices, nil when unset.
func (p PriceConfig) PriceInputs() (reward, stake *big.Int) {
	if strings.TrimSpace(p.Reward) != "" {
		reward, _ = ParseAmount(p.Reward)
	}
	if strings.TrimSpace(p.Stake) != "" {
		stake, _ = ParseAmount(p.Stake)
	}
	return reward, stake
}
