package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"stakepool/core/types"
)

const (
	// TypePoolStaked is emitted when a participant deposits stake.
	TypePoolStaked = "pool.staked"
	// TypePoolWithdrawn is emitted when a participant withdraws stake.
	TypePoolWithdrawn = "pool.withdrawn"
	// TypePoolRewardPaid is emitted when accrued rewards are paid out.
	TypePoolRewardPaid = "pool.rewardPaid"
	// TypePoolRewardRateUpdated is emitted when the controller changes the emission rate.
	TypePoolRewardRateUpdated = "pool.rewardRateUpdated"
	// TypePoolFunded is emitted when reward asset is deposited into the reserve.
	TypePoolFunded = "pool.funded"
	// TypePoolPauseToggled is emitted when new stakes are paused or resumed.
	TypePoolPauseToggled = "pool.pauseToggled"
)

// PoolStaked captures a stake deposit.
type PoolStaked struct {
	Account     common.Address
	Amount      *big.Int
	NewStake    *big.Int
	TotalStaked *big.Int
	Timestamp   uint64
}

// EventType satisfies the Event interface.
func (PoolStaked) EventType() string { return TypePoolStaked }

// Event converts the structured payload into a broadcastable event.
func (e PoolStaked) Event() *types.Event {
	return &types.Event{Type: TypePoolStaked, Attributes: map[string]string{
		"addr":        formatAddress(e.Account),
		"amount":      formatAmount(e.Amount),
		"newStake":    formatAmount(e.NewStake),
		"totalStaked": formatAmount(e.TotalStaked),
		"timestamp":   uintToString(e.Timestamp),
	}}
}

// PoolWithdrawn captures a stake withdrawal.
type PoolWithdrawn struct {
	Account     common.Address
	Amount      *big.Int
	NewStake    *big.Int
	TotalStaked *big.Int
	Timestamp   uint64
}

// EventType satisfies the Event interface.
func (PoolWithdrawn) EventType() string { return TypePoolWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e PoolWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypePoolWithdrawn, Attributes: map[string]string{
		"addr":        formatAddress(e.Account),
		"amount":      formatAmount(e.Amount),
		"newStake":    formatAmount(e.NewStake),
		"totalStaked": formatAmount(e.TotalStaked),
		"timestamp":   uintToString(e.Timestamp),
	}}
}

// PoolRewardPaid captures a reward payout.
type PoolRewardPaid struct {
	Account   common.Address
	Asset     string
	Amount    *big.Int
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (PoolRewardPaid) EventType() string { return TypePoolRewardPaid }

// Event converts the structured payload into a broadcastable event.
func (e PoolRewardPaid) Event() *types.Event {
	attrs := map[string]string{
		"addr":      formatAddress(e.Account),
		"amount":    formatAmount(e.Amount),
		"timestamp": uintToString(e.Timestamp),
	}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	return &types.Event{Type: TypePoolRewardPaid, Attributes: attrs}
}

// PoolRewardRateUpdated captures an emission rate change.
type PoolRewardRateUpdated struct {
	Controller     common.Address
	PreviousRate   *big.Int
	NewRate        *big.Int
	RewardPerStake *big.Int
	Timestamp      uint64
}

// EventType satisfies the Event interface.
func (PoolRewardRateUpdated) EventType() string { return TypePoolRewardRateUpdated }

// Event converts the structured payload into a broadcastable event.
func (e PoolRewardRateUpdated) Event() *types.Event {
	return &types.Event{Type: TypePoolRewardRateUpdated, Attributes: map[string]string{
		"controller":     formatAddress(e.Controller),
		"previousRate":   formatAmount(e.PreviousRate),
		"newRate":        formatAmount(e.NewRate),
		"rewardPerStake": formatAmount(e.RewardPerStake),
		"timestamp":      uintToString(e.Timestamp),
	}}
}

// PoolFunded captures a reward reserve deposit.
type PoolFunded struct {
	Funder    common.Address
	Asset     string
	Amount    *big.Int
	Timestamp uint64
}

// EventType satisfies the Event interface.
func (PoolFunded) EventType() string { return TypePoolFunded }

// Event converts the structured payload into a broadcastable event.
func (e PoolFunded) Event() *types.Event {
	attrs := map[string]string{
		"funder":    formatAddress(e.Funder),
		"amount":    formatAmount(e.Amount),
		"timestamp": uintToString(e.Timestamp),
	}
	if asset := normalizeAsset(e.Asset); asset != "" {
		attrs["asset"] = asset
	}
	return &types.Event{Type: TypePoolFunded, Attributes: attrs}
}

// PoolPauseToggled captures a pause state change.
type PoolPauseToggled struct {
	Controller common.Address
	Paused     bool
	Timestamp  uint64
}

// EventType satisfies the Event interface.
func (PoolPauseToggled) EventType() string { return TypePoolPauseToggled }

// Event converts the structured payload into a broadcastable event.
func (e PoolPauseToggled) Event() *types.Event {
	paused := "false"
	if e.Paused {
		paused = "true"
	}
	return &types.Event{Type: TypePoolPauseToggled, Attributes: map[string]string{
		"controller": formatAddress(e.Controller),
		"paused":     paused,
		"timestamp":  uintToString(e.Timestamp),
	}}
}
