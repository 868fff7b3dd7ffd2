package config

import (
	"fmt"
	"strings"
	"time"
)

// MaxLockDuration bounds the configurable lock period.
var MaxLockDuration = 365 * 24 * time.Hour

func ValidateConfig(c *Config) error {
	lock, err := time.ParseDuration(strings.TrimSpace(c.LockDuration))
	if err != nil {
		return fmt.Errorf("lock_duration: %w", err)
	}
	if lock < 0 || lock > MaxLockDuration {
		return fmt.Errorf("lock_duration: %s outside [0, %s]", lock, MaxLockDuration)
	}
	if _, err := c.RewardRate(); err != nil {
		return fmt.Errorf("initial_reward_rate: %w", err)
	}
	if c.Controller != "" {
		if _, err := parseAddress(c.Controller); err != nil {
			return fmt.Errorf("controller: %w", err)
		}
	}
	if c.PoolAddress != "" {
		if _, err := parseAddress(c.PoolAddress); err != nil {
			return fmt.Errorf("pool_address: %w", err)
		}
	}
	return nil
}
