package loyalty

// Calculator maps an order amount to a point award under a Policy.
// Every intermediate rounding floors, so the award is monotonic in the amount
// and reproducible regardless of evaluation order.
type Calculator struct {
	policy Policy
}

// NewCalculator wires a Calculator over a validated policy.
func NewCalculator(policy Policy) (Calculator, error) {
	if err := policy.Validate(); err != nil {
		return Calculator{}, err
	}
	return Calculator{policy: policy}, nil
}

// Award computes the points for an order amount at the account's current tier.
// Amounts below the qualifying minimum earn nothing on any channel.
func (calculator Calculator) Award(amount MonetaryAmount, tier Tier, bonusChannel bool) int64 {
	value := amount.Decimal()
	if value.LessThan(calculator.policy.MinQualifyingAmount) {
		return 0
	}
	base := value.Mul(calculator.policy.PointsPerUnit).Floor()
	tiered := base.Mul(tier.Multiplier).Floor()
	if !bonusChannel {
		return tiered.IntPart()
	}
	return tiered.Mul(calculator.policy.BonusMultiplier).Floor().IntPart()
}
