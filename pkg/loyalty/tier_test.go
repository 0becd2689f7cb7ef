package loyalty

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestTierForBoundaries(test *testing.T) {
	test.Parallel()
	schedule := DefaultTierSchedule()
	testCases := []struct {
		totalPoints int64
		wantTier    string
	}{
		{totalPoints: -250, wantTier: "Bronze"},
		{totalPoints: 0, wantTier: "Bronze"},
		{totalPoints: 499, wantTier: "Bronze"},
		{totalPoints: 500, wantTier: "Silver"},
		{totalPoints: 1499, wantTier: "Silver"},
		{totalPoints: 1500, wantTier: "Gold"},
		{totalPoints: 3999, wantTier: "Gold"},
		{totalPoints: 4000, wantTier: "VIP"},
		{totalPoints: 100000, wantTier: "VIP"},
	}
	for _, testCase := range testCases {
		got := schedule.TierFor(testCase.totalPoints)
		if got.Name != testCase.wantTier {
			test.Fatalf("TierFor(%d) = %s, want %s", testCase.totalPoints, got.Name, testCase.wantTier)
		}
	}
}

func TestTierRankNeverDecreases(test *testing.T) {
	test.Parallel()
	schedule := DefaultTierSchedule()
	previousRank := schedule.TierFor(-1).Rank
	for totalPoints := int64(0); totalPoints <= 5000; totalPoints++ {
		rank := schedule.TierFor(totalPoints).Rank
		if rank < previousRank {
			test.Fatalf("rank decreased at total %d: %d -> %d", totalPoints, previousRank, rank)
		}
		previousRank = rank
	}
}

func TestPointsToNextTier(test *testing.T) {
	test.Parallel()
	schedule := DefaultTierSchedule()
	testCases := []struct {
		totalPoints int64
		want        int64
	}{
		{totalPoints: 0, want: 500},
		{totalPoints: 499, want: 1},
		{totalPoints: 500, want: 1000},
		{totalPoints: 4000, want: 0},
		{totalPoints: 9999, want: 0},
		{totalPoints: -40, want: 500},
	}
	for _, testCase := range testCases {
		if got := schedule.PointsToNextTier(testCase.totalPoints); got != testCase.want {
			test.Fatalf("PointsToNextTier(%d) = %d, want %d", testCase.totalPoints, got, testCase.want)
		}
	}
}

func TestNewTierScheduleRejectsBadInput(test *testing.T) {
	test.Parallel()
	one := decimal.NewFromInt(1)
	testCases := []struct {
		name  string
		tiers []Tier
	}{
		{name: "empty schedule", tiers: nil},
		{name: "nonzero first threshold", tiers: []Tier{{Name: "Bronze", MinPoints: 10, Multiplier: one}}},
		{name: "descending thresholds", tiers: []Tier{
			{Name: "Bronze", MinPoints: 0, Multiplier: one},
			{Name: "Silver", MinPoints: 0, Multiplier: one},
		}},
		{name: "blank name", tiers: []Tier{{Name: "  ", MinPoints: 0, Multiplier: one}}},
		{name: "non-positive multiplier", tiers: []Tier{{Name: "Bronze", MinPoints: 0, Multiplier: decimal.Zero}}},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if _, err := NewTierSchedule(testCase.tiers); !errors.Is(err, ErrInvalidTierSchedule) {
				test.Fatalf("expected ErrInvalidTierSchedule, got %v", err)
			}
		})
	}
}

func TestParseTierSchedule(test *testing.T) {
	test.Parallel()
	schedule, err := ParseTierSchedule("0:Member:1.0,1000:Elite:1.75")
	if err != nil {
		test.Fatalf("parse: %v", err)
	}
	tiers := schedule.Tiers()
	if len(tiers) != 2 {
		test.Fatalf("expected 2 tiers, got %d", len(tiers))
	}
	if tiers[1].Name != "Elite" || tiers[1].MinPoints != 1000 {
		test.Fatalf("unexpected second tier: %+v", tiers[1])
	}
	if !tiers[1].Multiplier.Equal(decimal.NewFromFloat(1.75)) {
		test.Fatalf("unexpected multiplier: %s", tiers[1].Multiplier)
	}
}

func TestParseTierScheduleRejectsMalformedBands(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"", "0:Bronze", "x:Bronze:1.0", "0.5:Bronze:1.0", "0:Bronze:abc"} {
		if _, err := ParseTierSchedule(raw); !errors.Is(err, ErrInvalidTierSchedule) {
			test.Fatalf("ParseTierSchedule(%q): expected ErrInvalidTierSchedule, got %v", raw, err)
		}
	}
}
