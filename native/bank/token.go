package bank

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidAmount         = errors.New("bank: amount must be positive")
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrOverflow              = errors.New("bank: amount exceeds 256 bits")
	ErrUnknownAsset          = errors.New("bank: unknown asset")
)

// Token moves a single fungible asset between addresses. Implementations must
// either apply a transfer completely or leave balances untouched.
type Token interface {
	Symbol() string
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	// Transfer moves amount from the from address to the to address.
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	// TransferFrom moves amount out of from on behalf of spender, consuming
	// the allowance from granted to spender.
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
}
