package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	defaultLockDuration = "24h"
	defaultStakeAsset   = "STK"
	defaultRewardAsset  = "RWD"
)

// Config holds the pool parameters that are fixed for the lifetime of a
// deployment.
type Config struct {
	Controller        string `toml:"Controller"`
	PoolAddress       string `toml:"PoolAddress"`
	LockDuration      string `toml:"LockDuration"`
	InitialRewardRate string `toml:"InitialRewardRate"`
	StakeAsset        string `toml:"StakeAsset"`
	RewardAsset       string `toml:"RewardAsset"`
	Pauses            Pauses `toml:"pauses"`
}

// Load loads the configuration from the given path. A missing file is
// created with defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}
	cfg.applyDefaults()
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Controller = strings.TrimSpace(c.Controller)
	c.PoolAddress = strings.TrimSpace(c.PoolAddress)
	if strings.TrimSpace(c.LockDuration) == "" {
		c.LockDuration = defaultLockDuration
	}
	if strings.TrimSpace(c.InitialRewardRate) == "" {
		c.InitialRewardRate = "0"
	}
	if strings.TrimSpace(c.StakeAsset) == "" {
		c.StakeAsset = defaultStakeAsset
	}
	if strings.TrimSpace(c.RewardAsset) == "" {
		c.RewardAsset = defaultRewardAsset
	}
	c.StakeAsset = strings.ToUpper(strings.TrimSpace(c.StakeAsset))
	c.RewardAsset = strings.ToUpper(strings.TrimSpace(c.RewardAsset))
}

// createDefault creates and saves a default configuration file. The
// controller is left empty and must be filled in before the pool can start.
func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
