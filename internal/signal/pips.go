package signal

import (
	"fmt"
	"math"
	"strings"
)

// PipMultiplier returns the price-to-pip conversion factor for a symbol:
// 10 for metals (one pip = 0.1), 100 for JPY-quoted pairs (0.01), 10000
// for standard forex pairs (0.0001).
func PipMultiplier(symbol string) float64 {
	s := strings.ToUpper(symbol)
	switch {
	case strings.Contains(s, "XAU"), strings.Contains(s, "GOLD"), strings.Contains(s, "GC"):
		return 10
	case strings.Contains(s, "JPY"):
		return 100
	default:
		return 10000
	}
}

// Pips converts an entry/exit pair into signed pips for the trade
// direction, rounded to one decimal. Positive is profit. A WAIT decision
// yields zero.
func Pips(entry, exit float64, symbol string, decision Decision) float64 {
	var diff float64
	switch decision {
	case DecisionBuy:
		diff = exit - entry
	case DecisionSell:
		diff = entry - exit
	default:
		return 0
	}
	return math.Round(diff*PipMultiplier(symbol)*10) / 10
}

// MinRiskReward is the minimum reward:risk ratio a BUY/SELL plan should
// carry. Plans below it are logged, not rejected.
const MinRiskReward = 1.5

// VerifyRiskReward computes the reward:risk ratio of a price plan and
// whether it meets MinRiskReward. The string form is "X.X:1".
func VerifyRiskReward(entry, stop, target float64) (ok bool, ratio float64, formatted string) {
	risk := math.Abs(entry - stop)
	reward := math.Abs(target - entry)
	if risk == 0 {
		return false, 0, "0:0"
	}
	ratio = reward / risk
	return ratio >= MinRiskReward, ratio, fmt.Sprintf("%.1f:1", ratio)
}
