package bank

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakepool/storage"
)

var (
	balancePrefix   = []byte("bank/balance/")
	allowancePrefix = []byte("bank/allowance/")
)

// Ledger is a multi-asset balance book backed by a key-value database.
// Balances and allowances are stored as 32-byte big-endian words and every
// mutation is written as a single batch.
type Ledger struct {
	mu     sync.Mutex
	db     storage.Database
	assets map[string]struct{}
}

// NewLedger returns a ledger tracking the supplied asset symbols.
func NewLedger(db storage.Database, symbols ...string) *Ledger {
	if db == nil {
		db = storage.NewMemDB()
	}
	assets := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		if normalized := normalizeSymbol(symbol); normalized != "" {
			assets[normalized] = struct{}{}
		}
	}
	return &Ledger{db: db, assets: assets}
}

// Token returns the handle for symbol.
func (l *Ledger) Token(symbol string) (*AssetToken, error) {
	normalized := normalizeSymbol(symbol)
	if _, ok := l.assets[normalized]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAsset, symbol)
	}
	return &AssetToken{ledger: l, symbol: normalized}, nil
}

// Mint credits amount of symbol to owner. It exists for genesis funding and
// development faucets.
func (l *Ledger) Mint(symbol string, owner common.Address, amount *big.Int) error {
	normalized := normalizeSymbol(symbol)
	if _, ok := l.assets[normalized]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAsset, symbol)
	}
	value, err := toWord(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := balanceKey(normalized, owner)
	current, err := l.load(key)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(current, value)
	if overflow {
		return ErrOverflow
	}
	batch := storage.NewBatch()
	putWord(batch, key, next)
	return l.db.Write(batch)
}

func (l *Ledger) balance(symbol string, owner common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	value, err := l.load(balanceKey(symbol, owner))
	if err != nil {
		return nil, err
	}
	return value.ToBig(), nil
}

func (l *Ledger) allowance(symbol string, owner, spender common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	value, err := l.load(allowanceKey(symbol, owner, spender))
	if err != nil {
		return nil, err
	}
	return value.ToBig(), nil
}

func (l *Ledger) approve(symbol string, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return ErrOverflow
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := storage.NewBatch()
	putWord(batch, allowanceKey(symbol, owner, spender), value)
	return l.db.Write(batch)
}

// move debits from and credits to, optionally consuming spender's allowance.
func (l *Ledger) move(symbol string, spender *common.Address, from, to common.Address, amount *big.Int) error {
	value, err := toWord(amount)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := storage.NewBatch()
	if spender != nil {
		key := allowanceKey(symbol, from, *spender)
		allowed, err := l.load(key)
		if err != nil {
			return err
		}
		if allowed.Lt(value) {
			return ErrInsufficientAllowance
		}
		putWord(batch, key, new(uint256.Int).Sub(allowed, value))
	}

	fromKey := balanceKey(symbol, from)
	fromBalance, err := l.load(fromKey)
	if err != nil {
		return err
	}
	if fromBalance.Lt(value) {
		return ErrInsufficientBalance
	}
	if from == to {
		return l.db.Write(batch)
	}
	toKey := balanceKey(symbol, to)
	toBalance, err := l.load(toKey)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBalance, value)
	if overflow {
		return ErrOverflow
	}
	putWord(batch, fromKey, new(uint256.Int).Sub(fromBalance, value))
	putWord(batch, toKey, credited)
	return l.db.Write(batch)
}

func (l *Ledger) load(key []byte) (*uint256.Int, error) {
	raw, err := l.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("bank: load %q: %w", key, err)
	}
	return new(uint256.Int).SetBytes(raw), nil
}

func putWord(batch *storage.Batch, key []byte, value *uint256.Int) {
	word := value.Bytes32()
	batch.Put(key, word[:])
}

func toWord(amount *big.Int) (*uint256.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return value, nil
}

func balanceKey(symbol string, owner common.Address) []byte {
	key := make([]byte, 0, len(balancePrefix)+len(symbol)+1+common.AddressLength)
	key = append(key, balancePrefix...)
	key = append(key, symbol...)
	key = append(key, '/')
	return append(key, owner.Bytes()...)
}

func allowanceKey(symbol string, owner, spender common.Address) []byte {
	key := make([]byte, 0, len(allowancePrefix)+len(symbol)+1+2*common.AddressLength)
	key = append(key, allowancePrefix...)
	key = append(key, symbol...)
	key = append(key, '/')
	key = append(key, owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// AssetToken is the Token view of one ledger asset.
type AssetToken struct {
	ledger *Ledger
	symbol string
}

// Symbol returns the upper-case asset symbol.
func (t *AssetToken) Symbol() string { return t.symbol }

func (t *AssetToken) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.ledger.balance(t.symbol, owner)
}

func (t *AssetToken) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.ledger.move(t.symbol, nil, from, to, amount)
}

func (t *AssetToken) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.ledger.move(t.symbol, &spender, from, to, amount)
}

func (t *AssetToken) Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.ledger.approve(t.symbol, owner, spender, amount)
}

func (t *AssetToken) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t.ledger.allowance(t.symbol, owner, spender)
}
