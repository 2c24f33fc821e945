package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of decimal places amounts are stored with.
const MoneyScale = 2

// HasMoneyScale reports whether d is representable at MoneyScale without rounding.
// Trailing zeros are fine: 110.500 is 110.50.
func HasMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// IncrementTier is a price band: from Floor upwards a raise must be at least Step.
type IncrementTier struct {
	Floor decimal.Decimal
	Step  decimal.Decimal
}

// IncrementPolicy resolves the minimum raise for a given standing bid.
// A single tier at floor 0 is a fixed increment.
type IncrementPolicy struct {
	tiers []IncrementTier
}

func NewIncrementPolicy(tiers []IncrementTier) IncrementPolicy {
	sorted := make([]IncrementTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Floor.LessThan(sorted[j].Floor) })
	return IncrementPolicy{tiers: sorted}
}

func FixedIncrement(step decimal.Decimal) IncrementPolicy {
	return NewIncrementPolicy([]IncrementTier{{Floor: decimal.Zero, Step: step}})
}

// MinIncrement returns the step of the highest band whose floor is at or below current.
// Below the lowest floor the lowest band applies. An empty policy requires no increment
// beyond the strict raise.
func (p IncrementPolicy) MinIncrement(current decimal.Decimal) decimal.Decimal {
	if len(p.tiers) == 0 {
		return decimal.Zero
	}
	step := p.tiers[0].Step
	for _, t := range p.tiers {
		if t.Floor.GreaterThan(current) {
			break
		}
		step = t.Step
	}
	return step
}

// NextMinimum is the lowest amount that passes the increment check against current.
// With an empty policy it equals current, and the strict raise check still applies.
func (p IncrementPolicy) NextMinimum(current decimal.Decimal) decimal.Decimal {
	return current.Add(p.MinIncrement(current))
}

// BidPolicy is the configurable part of bid admission.
type BidPolicy struct {
	Increment       IncrementPolicy
	AllowSelfOutbid bool
}
