package storage

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"stakepool/core/rewards"
)

var (
	poolKey          = crypto.Keccak256([]byte("stakepool/pool"))
	accountKeyPrefix = []byte("stakepool/account/")
)

var errNilDatabase = errors.New("storage: database not configured")

type poolRecord struct {
	TotalStaked    *big.Int
	RewardRate     *big.Int
	RewardPerStake *big.Int
	LastUpdate     uint64
	RewardsEmitted *big.Int
	RewardsPaid    *big.Int
	Paused         bool
}

type accountRecord struct {
	StakeAmount        *big.Int
	RewardPerStakePaid *big.Int
	Rewards            *big.Int
	StakeTimestamp     uint64
}

// PoolStore persists the pool and its accounts as RLP records on top of a
// key-value Database. Every Commit lands as one write batch.
type PoolStore struct {
	db Database
}

// NewPoolStore wraps db.
func NewPoolStore(db Database) *PoolStore {
	return &PoolStore{db: db}
}

func accountKey(addr common.Address) []byte {
	key := make([]byte, 0, len(accountKeyPrefix)+common.AddressLength)
	key = append(key, accountKeyPrefix...)
	return append(key, addr.Bytes()...)
}

// GetPool loads the pool record. A missing record yields (nil, nil).
func (s *PoolStore) GetPool() (*rewards.Pool, error) {
	if s == nil || s.db == nil {
		return nil, errNilDatabase
	}
	raw, err := s.db.Get(poolKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	var record poolRecord
	if err := rlp.DecodeBytes(raw, &record); err != nil {
		return nil, fmt.Errorf("decode pool: %w", err)
	}
	pool := &rewards.Pool{
		TotalStaked:    record.TotalStaked,
		RewardRate:     record.RewardRate,
		Accumulator:    &rewards.Accumulator{RewardPerStake: record.RewardPerStake, LastUpdate: record.LastUpdate},
		RewardsEmitted: record.RewardsEmitted,
		RewardsPaid:    record.RewardsPaid,
		Paused:         record.Paused,
	}
	pool.Normalize()
	return pool, nil
}

// GetAccount loads the account for addr. A missing record yields (nil, nil).
func (s *PoolStore) GetAccount(addr common.Address) (*rewards.Account, error) {
	if s == nil || s.db == nil {
		return nil, errNilDatabase
	}
	raw, err := s.db.Get(accountKey(addr))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", addr.Hex(), err)
	}
	return decodeAccount(addr, raw)
}

// Commit writes the pool and every supplied account in one atomic batch.
func (s *PoolStore) Commit(pool *rewards.Pool, accounts ...*rewards.Account) error {
	if s == nil || s.db == nil {
		return errNilDatabase
	}
	if pool == nil {
		return errors.New("storage: pool required")
	}
	batch := NewBatch()
	snapshot := pool.Clone()
	snapshot.Normalize()
	encoded, err := rlp.EncodeToBytes(&poolRecord{
		TotalStaked:    snapshot.TotalStaked,
		RewardRate:     snapshot.RewardRate,
		RewardPerStake: snapshot.Accumulator.Index(),
		LastUpdate:     snapshot.Accumulator.LastUpdate,
		RewardsEmitted: snapshot.RewardsEmitted,
		RewardsPaid:    snapshot.RewardsPaid,
		Paused:         snapshot.Paused,
	})
	if err != nil {
		return fmt.Errorf("encode pool: %w", err)
	}
	batch.Put(poolKey, encoded)
	for _, account := range accounts {
		if account == nil {
			continue
		}
		acc := account.Clone()
		acc.Normalize()
		encoded, err := rlp.EncodeToBytes(&accountRecord{
			StakeAmount:        acc.StakeAmount,
			RewardPerStakePaid: acc.RewardPerStakePaid,
			Rewards:            acc.Rewards,
			StakeTimestamp:     acc.StakeTimestamp,
		})
		if err != nil {
			return fmt.Errorf("encode account %s: %w", acc.Address.Hex(), err)
		}
		batch.Put(accountKey(acc.Address), encoded)
	}
	if err := s.db.Write(batch); err != nil {
		return fmt.Errorf("commit pool: %w", err)
	}
	return nil
}

// ForEachAccount visits every stored account in key order.
func (s *PoolStore) ForEachAccount(fn func(*rewards.Account) error) error {
	if s == nil || s.db == nil {
		return errNilDatabase
	}
	return s.db.Iterate(accountKeyPrefix, func(key, value []byte) error {
		suffix := key[len(accountKeyPrefix):]
		if len(suffix) != common.AddressLength {
			return fmt.Errorf("storage: malformed account key %x", key)
		}
		account, err := decodeAccount(common.BytesToAddress(suffix), value)
		if err != nil {
			return err
		}
		return fn(account)
	})
}

func decodeAccount(addr common.Address, raw []byte) (*rewards.Account, error) {
	var record accountRecord
	if err := rlp.DecodeBytes(raw, &record); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", addr.Hex(), err)
	}
	account := &rewards.Account{
		Address:            addr,
		StakeAmount:        record.StakeAmount,
		RewardPerStakePaid: record.RewardPerStakePaid,
		Rewards:            record.Rewards,
		StakeTimestamp:     record.StakeTimestamp,
	}
	account.Normalize()
	return account, nil
}
