package main

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"stakepool/native/bank"
	"stakepool/services/stakingd/config"
	"stakepool/storage"
)

var genesisMarkerKey = []byte("stakingd/genesis-applied")

// applyGenesis credits the configured allocations the first time a data
// directory is used. It reports whether anything was minted.
func applyGenesis(db storage.Database, ledger *bank.Ledger, allocations []config.Allocation) (bool, error) {
	if len(allocations) == 0 {
		return false, nil
	}
	if _, err := db.Get(genesisMarkerKey); err == nil {
		return false, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("read genesis marker: %w", err)
	}
	for i, alloc := range allocations {
		amount, err := config.ParseAmount(alloc.Amount)
		if err != nil {
			return false, fmt.Errorf("genesis[%d]: %w", i, err)
		}
		if err := ledger.Mint(alloc.Asset, common.HexToAddress(alloc.Address), amount); err != nil {
			return false, fmt.Errorf("genesis[%d]: mint %s: %w", i, alloc.Asset, err)
		}
	}
	if err := db.Put(genesisMarkerKey, []byte{1}); err != nil {
		return false, fmt.Errorf("write genesis marker: %w", err)
	}
	return true, nil
}
