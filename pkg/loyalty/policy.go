package loyalty

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Policy is the immutable earning configuration read once at process start.
// Changing it never rewrites points already recorded in the ledger.
type Policy struct {
	PointsPerUnit       decimal.Decimal
	BonusMultiplier     decimal.Decimal
	MinQualifyingAmount decimal.Decimal
	Currency            string
	Tiers               TierSchedule
}

// DefaultPolicy returns the stock earning policy: 2 points per currency unit,
// 1.5x bonus channels, orders under 5 earn nothing, USD only.
func DefaultPolicy() Policy {
	return Policy{
		PointsPerUnit:       decimal.NewFromInt(2),
		BonusMultiplier:     decimal.NewFromFloat(1.5),
		MinQualifyingAmount: decimal.NewFromInt(5),
		Currency:            "USD",
		Tiers:               DefaultTierSchedule(),
	}
}

// Validate ensures the policy contains sane values.
func (policy Policy) Validate() error {
	if !policy.PointsPerUnit.IsPositive() {
		return fmt.Errorf("%w: points per unit must be positive", ErrInvalidPolicy)
	}
	if !policy.BonusMultiplier.IsPositive() {
		return fmt.Errorf("%w: bonus multiplier must be positive", ErrInvalidPolicy)
	}
	if policy.MinQualifyingAmount.IsNegative() {
		return fmt.Errorf("%w: minimum qualifying amount must not be negative", ErrInvalidPolicy)
	}
	if strings.TrimSpace(policy.Currency) == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidPolicy)
	}
	if len(policy.Tiers.tiers) == 0 {
		return fmt.Errorf("%w: tier schedule is required", ErrInvalidPolicy)
	}
	return nil
}
