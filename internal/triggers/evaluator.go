package triggers

import (
	"fmt"
	"math"

	"ai-trading-server/internal/signal"
)

// slopPips is the tolerance band, in pips, for "price touching a level"
// conditions. Converted to price units per symbol at evaluation time.
const slopPips = 0.5

// Evaluate checks a trigger definition against the latest price for the
// symbol. Only the current price is consulted; bar confirmation counts are
// stored but not evaluated. Returns whether the condition is met and a
// human-readable explanation either way.
func Evaluate(def Definition, symbol string, price float64) (bool, string) {
	level := def.Level
	slop := slopPips / signal.PipMultiplier(symbol)

	switch def.Type {
	case TypeLevelBreak:
		if def.Direction == DirectionAbove && price > level {
			return true, fmt.Sprintf("Price at %.5f is above %g", price, level)
		}
		if def.Direction == DirectionBelow && price < level {
			return true, fmt.Sprintf("Price at %.5f is below %g", price, level)
		}

	case TypeRetestHold:
		atLevel := math.Abs(price-level) <= slop
		if def.Direction == DirectionBullish && atLevel && price >= level {
			return true, fmt.Sprintf("Price at %.5f retesting %g (bullish)", price, level)
		}
		if def.Direction == DirectionBearish && atLevel && price <= level {
			return true, fmt.Sprintf("Price at %.5f retesting %g (bearish)", price, level)
		}

	case TypeRangeEdgeReject:
		if math.Abs(price-level) <= slop {
			if def.Direction == DirectionBullish {
				return true, fmt.Sprintf("Price at %.5f near support %g", price, level)
			}
			return true, fmt.Sprintf("Price at %.5f near resistance %g", price, level)
		}

	case TypeEMARetouch:
		if math.Abs(price-level) <= slop {
			return true, fmt.Sprintf("Price at %.5f touching EMA %g", price, level)
		}
	}

	return false, fmt.Sprintf("Condition not met (price: %.5f, level: %g)", price, level)
}
