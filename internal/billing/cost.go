// Package billing converts provider-reported USD costs into local-currency
// amounts and internal tokens. Cost math deliberately propagates "unknown"
// (nil) instead of coercing to zero: some providers simply do not report
// cost, and an unknown cost must never be billed as free.
package billing

import "math"

// ComputeCost converts a USD cost into local (RUB) amounts. A nil or
// non-finite input yields nil outputs. No rounding happens here; rounding
// for token deduction is TokensToDeduct's job.
func ComputeCost(costUSD *float64, rate, multiplier float64) (costRub, costRubFinal *float64) {
	if costUSD == nil || math.IsNaN(*costUSD) || math.IsInf(*costUSD, 0) {
		return nil, nil
	}
	rub := *costUSD * rate
	final := rub * multiplier
	return &rub, &final
}

// TokensToDeduct converts a USD cost into an integer token count, rounding
// up so any positive cost deducts at least one token.
func TokensToDeduct(costUSD, usdToTokensRate float64) int {
	if costUSD <= 0 || usdToTokensRate <= 0 {
		return 0
	}
	return int(math.Ceil(costUSD * usdToTokensRate))
}
