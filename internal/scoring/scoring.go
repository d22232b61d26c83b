// Package scoring turns temperature fit, price and flight duration into 0-100 scores.
//
// Every function is a pure function of its arguments. Invalid inputs (non-finite,
// or non-positive where a positive value is required) score 0 so a single bad row
// never aborts ranking of the rest.
package scoring

import "math"

// Composite weights.
const (
	WeightPrice       = 0.4
	WeightTemperature = 0.3
	WeightDuration    = 0.3
)

const (
	maxPenalty = 95.0
	minScore   = 5.0

	// minTempRange keeps narrow preference bands from making every degree catastrophic.
	minTempRange = 5.0

	// belowBudgetFloor is the score of a price approaching zero.
	belowBudgetFloor = 70.0
)

// TemperatureScore is 100 inside [min, max]. Outside, the penalty is the distance to
// the nearest bound over max(max-min, 5), times 50, capped at 95.
func TemperatureScore(avg, min, max float64) float64 {
	if !finite(avg) || !finite(min) || !finite(max) {
		return 0
	}
	if min > max {
		min, max = max, min
	}
	if avg >= min && avg <= max {
		return 100
	}
	dist := min - avg
	if avg > max {
		dist = avg - max
	}
	normalized := dist / math.Max(max-min, minTempRange)
	return penalize(normalized * 50)
}

// PriceScore is 100 at budget. Below budget it falls linearly toward 70 as the price
// approaches zero; a suspiciously cheap match is not rewarded over a realistic one.
// Above budget the penalty is the overage ratio times 100 up to 50% over, then
// 50 + (ratio-0.5)*90, capped at 95.
func PriceScore(price, budget float64) float64 {
	if !positive(price) || !positive(budget) {
		return 0
	}
	if price == budget {
		return 100
	}
	if price < budget {
		return belowBudgetFloor + (100-belowBudgetFloor)*(price/budget)
	}
	overage := (price - budget) / budget
	var penalty float64
	if overage <= 0.5 {
		penalty = overage * 100
	} else {
		penalty = 50 + (overage-0.5)*90
	}
	return penalize(penalty)
}

// DurationScore is 100 for the shortest duration in the compared set. Longer flights
// are penalized by the ratio over the shortest: ratio*80 up to 50% longer, then
// 40 + (ratio-0.5)*100, capped at 95.
func DurationScore(minutes, shortest float64) float64 {
	if !positive(minutes) || !positive(shortest) {
		return 0
	}
	if minutes <= shortest {
		return 100
	}
	ratio := (minutes - shortest) / shortest
	var penalty float64
	if ratio <= 0.5 {
		penalty = ratio * 80
	} else {
		penalty = 40 + (ratio-0.5)*100
	}
	return penalize(penalty)
}

// RankScore is the ordinal variant of DurationScore for when only a 1-based rank among
// total entries is known: round(100*(total-rank+1)/total), so 1st/2nd/3rd of three
// score 100/67/33.
func RankScore(rank, total int) float64 {
	if total <= 0 || rank < 1 || rank > total {
		return 0
	}
	return math.Round(100 * float64(total-rank+1) / float64(total))
}

// Composite combines the sub-scores: 40% price, 30% temperature, 30% duration.
func Composite(price, temperature, duration float64) float64 {
	return WeightPrice*price + WeightTemperature*temperature + WeightDuration*duration
}

func penalize(penalty float64) float64 {
	return math.Max(100-math.Min(penalty, maxPenalty), minScore)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func positive(v float64) bool {
	return finite(v) && v > 0
}
