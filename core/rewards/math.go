package rewards

import "math/big"

const (
	secondsPerYear   = 365 * 24 * 60 * 60
	basisPointsDenom = 10_000
)

var (
	indexScale        = mustBigInt("1000000000000000000") // 1e18 precision
	basisPoints       = big.NewInt(basisPointsDenom)
	secondsPerYearBig = big.NewInt(secondsPerYear)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// IndexUnit returns the fixed-point scale applied to reward-per-stake values.
func IndexUnit() *big.Int {
	return new(big.Int).Set(indexScale)
}

// SecondsPerYear exposes the annualisation period used by the APY estimator.
func SecondsPerYear() uint64 { return secondsPerYear }

func copyBigInt(value *big.Int) *big.Int {
	if value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(value)
}

func isPositive(value *big.Int) bool {
	return value != nil && value.Sign() > 0
}

// scaledShare returns amount * (to - from) / indexScale, clamped at zero when
// the index has not advanced.
func scaledShare(amount, from, to *big.Int) *big.Int {
	if !isPositive(amount) || to == nil {
		return big.NewInt(0)
	}
	delta := new(big.Int).Set(to)
	if from != nil {
		delta.Sub(delta, from)
	}
	if delta.Sign() <= 0 {
		return big.NewInt(0)
	}
	share := delta.Mul(delta, amount)
	return share.Quo(share, indexScale)
}
