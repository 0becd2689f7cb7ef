package loyalty

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func mustCalculator(test *testing.T) Calculator {
	test.Helper()
	calculator, err := NewCalculator(DefaultPolicy())
	if err != nil {
		test.Fatalf("calculator init: %v", err)
	}
	return calculator
}

func TestAwardBaseTierNoBonus(test *testing.T) {
	test.Parallel()
	calculator := mustCalculator(test)
	schedule := DefaultTierSchedule()

	// 29.99 at 2 points/unit floors to 59 before and after the x1.0 multiplier.
	award := calculator.Award(mustAmount(test, "29.99"), schedule.TierFor(0), false)
	if award != 59 {
		test.Fatalf("expected 59 points, got %d", award)
	}
}

func TestAwardSilverTierWithBonus(test *testing.T) {
	test.Parallel()
	calculator := mustCalculator(test)
	schedule := DefaultTierSchedule()

	// base 59, floor(59*1.25)=73, floor(73*1.5)=109.
	award := calculator.Award(mustAmount(test, "29.99"), schedule.TierFor(600), true)
	if award != 109 {
		test.Fatalf("expected 109 points, got %d", award)
	}
}

func TestAwardBelowQualifyingMinimum(test *testing.T) {
	test.Parallel()
	calculator := mustCalculator(test)
	schedule := DefaultTierSchedule()

	for _, tier := range schedule.Tiers() {
		for _, bonus := range []bool{false, true} {
			if award := calculator.Award(mustAmount(test, "2.99"), tier, bonus); award != 0 {
				test.Fatalf("tier %s bonus=%v: expected 0 points, got %d", tier.Name, bonus, award)
			}
		}
	}
}

func TestAwardZeroAmount(test *testing.T) {
	test.Parallel()
	calculator := mustCalculator(test)
	schedule := DefaultTierSchedule()

	if award := calculator.Award(ZeroMonetaryAmount(), schedule.TierFor(0), false); award != 0 {
		test.Fatalf("expected 0 points for zero amount, got %d", award)
	}
}

func TestAwardMonotonicInAmount(test *testing.T) {
	test.Parallel()
	calculator := mustCalculator(test)
	tier := DefaultTierSchedule().TierFor(2000)

	previous := int64(-1)
	for cents := int64(0); cents <= 10000; cents += 7 {
		amount, err := NewMonetaryAmount(decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)))
		if err != nil {
			test.Fatalf("amount from %d cents: %v", cents, err)
		}
		award := calculator.Award(amount, tier, true)
		if award < previous {
			test.Fatalf("award decreased at %s: %d -> %d", amount, previous, award)
		}
		previous = award
	}
}

func TestNegativeAmountRejected(test *testing.T) {
	test.Parallel()
	if _, err := ParseMonetaryAmount("-1.00"); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := NewMonetaryAmount(decimal.NewFromInt(-5)); !errors.Is(err, ErrInvalidAmount) {
		test.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestNewCalculatorRejectsInvalidPolicy(test *testing.T) {
	test.Parallel()
	policy := DefaultPolicy()
	policy.PointsPerUnit = decimal.Zero
	if _, err := NewCalculator(policy); !errors.Is(err, ErrInvalidPolicy) {
		test.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}
