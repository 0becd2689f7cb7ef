package loyalty

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Tier is a named band of cumulative points with its earning multiplier.
type Tier struct {
	Name       string
	Rank       int
	MinPoints  int64
	Multiplier decimal.Decimal
}

// TierSchedule maps a cumulative point total to a tier. Thresholds are
// inclusive lower bounds in ascending order; the first threshold is zero.
type TierSchedule struct {
	tiers []Tier
}

// NewTierSchedule validates a schedule. Ranks are assigned from position.
func NewTierSchedule(tiers []Tier) (TierSchedule, error) {
	if len(tiers) == 0 {
		return TierSchedule{}, fmt.Errorf("%w: no tiers", ErrInvalidTierSchedule)
	}
	if tiers[0].MinPoints != 0 {
		return TierSchedule{}, fmt.Errorf("%w: first threshold must be 0, got %d", ErrInvalidTierSchedule, tiers[0].MinPoints)
	}
	normalized := make([]Tier, len(tiers))
	for index, tier := range tiers {
		name := strings.TrimSpace(tier.Name)
		if name == "" {
			return TierSchedule{}, fmt.Errorf("%w: tier %d has empty name", ErrInvalidTierSchedule, index)
		}
		if index > 0 && tier.MinPoints <= tiers[index-1].MinPoints {
			return TierSchedule{}, fmt.Errorf("%w: thresholds must strictly ascend at %q", ErrInvalidTierSchedule, name)
		}
		if !tier.Multiplier.IsPositive() {
			return TierSchedule{}, fmt.Errorf("%w: tier %q multiplier must be positive", ErrInvalidTierSchedule, name)
		}
		normalized[index] = Tier{
			Name:       name,
			Rank:       index,
			MinPoints:  tier.MinPoints,
			Multiplier: tier.Multiplier,
		}
	}
	return TierSchedule{tiers: normalized}, nil
}

// DefaultTierSchedule returns the stock Bronze/Silver/Gold/VIP bands.
func DefaultTierSchedule() TierSchedule {
	schedule, err := NewTierSchedule([]Tier{
		{Name: "Bronze", MinPoints: 0, Multiplier: decimal.NewFromFloat(1.0)},
		{Name: "Silver", MinPoints: 500, Multiplier: decimal.NewFromFloat(1.25)},
		{Name: "Gold", MinPoints: 1500, Multiplier: decimal.NewFromFloat(1.5)},
		{Name: "VIP", MinPoints: 4000, Multiplier: decimal.NewFromFloat(2.0)},
	})
	if err != nil {
		panic(err)
	}
	return schedule
}

// TierFor maps a cumulative total to its tier. Negative totals (possible after
// manual adjustments) map to the base tier.
func (schedule TierSchedule) TierFor(totalPoints int64) Tier {
	if totalPoints < 0 {
		totalPoints = 0
	}
	current := schedule.tiers[0]
	for _, tier := range schedule.tiers[1:] {
		if totalPoints < tier.MinPoints {
			break
		}
		current = tier
	}
	return current
}

// PointsToNextTier returns the distance to the next threshold, or 0 at the top.
func (schedule TierSchedule) PointsToNextTier(totalPoints int64) int64 {
	if totalPoints < 0 {
		totalPoints = 0
	}
	for _, tier := range schedule.tiers {
		if totalPoints < tier.MinPoints {
			return tier.MinPoints - totalPoints
		}
	}
	return 0
}

// Tiers returns the schedule in ascending threshold order.
func (schedule TierSchedule) Tiers() []Tier {
	out := make([]Tier, len(schedule.tiers))
	copy(out, schedule.tiers)
	return out
}

// ParseTierSchedule parses the compact "min:name:multiplier,..." flag form,
// e.g. "0:Bronze:1.0,500:Silver:1.25,1500:Gold:1.5,4000:VIP:2.0".
func ParseTierSchedule(raw string) (TierSchedule, error) {
	parts := strings.Split(raw, ",")
	tiers := make([]Tier, 0, len(parts))
	for _, part := range parts {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			return TierSchedule{}, fmt.Errorf("%w: band %q is not min:name:multiplier", ErrInvalidTierSchedule, part)
		}
		minPoints, err := decimal.NewFromString(fields[0])
		if err != nil || !minPoints.IsInteger() {
			return TierSchedule{}, fmt.Errorf("%w: band %q has a non-integer threshold", ErrInvalidTierSchedule, part)
		}
		multiplier, err := decimal.NewFromString(fields[2])
		if err != nil {
			return TierSchedule{}, fmt.Errorf("%w: band %q has an invalid multiplier", ErrInvalidTierSchedule, part)
		}
		tiers = append(tiers, Tier{
			Name:       fields[1],
			MinPoints:  minPoints.IntPart(),
			Multiplier: multiplier,
		})
	}
	return NewTierSchedule(tiers)
}
