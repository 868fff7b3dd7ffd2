package rewards

import (
	"fmt"
	"math/big"
)

// EstimateAPY annualises the emission rate against the staked total and
// returns the yield in basis points. Prices convert reward and stake units
// into a common denomination; nil or zero prices are treated as parity. The
// boolean is false when nothing is staked, in which case the yield is
// undefined and zero is returned.
func EstimateAPY(rate, totalStaked, rewardPrice, stakePrice *big.Int) (*big.Int, bool) {
	if !isPositive(totalStaked) {
		return big.NewInt(0), false
	}
	if !isPositive(rate) {
		return big.NewInt(0), true
	}
	numerator := new(big.Int).Mul(rate, secondsPerYearBig)
	numerator.Mul(numerator, basisPoints)
	denominator := new(big.Int).Set(totalStaked)
	if isPositive(rewardPrice) && isPositive(stakePrice) {
		numerator.Mul(numerator, rewardPrice)
		denominator.Mul(denominator, stakePrice)
	}
	return numerator.Quo(numerator, denominator), true
}

// FormatPercent renders a basis point value as a percentage with two
// decimals, e.g. 1234 -> "12.34".
func FormatPercent(bps *big.Int) string {
	if bps == nil || bps.Sign() <= 0 {
		return "0.00"
	}
	whole, frac := new(big.Int).QuoRem(bps, big.NewInt(100), new(big.Int))
	return fmt.Sprintf("%s.%02d", whole.String(), frac.Int64())
}
