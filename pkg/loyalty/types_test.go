package loyalty

import (
	"errors"
	"testing"
)

func TestNewEmailNormalizes(test *testing.T) {
	test.Parallel()
	email, err := NewEmail("  Shopper@Example.COM ")
	if err != nil {
		test.Fatalf("email: %v", err)
	}
	if email.String() != "shopper@example.com" {
		test.Fatalf("unexpected normalization: %q", email.String())
	}
}

func TestNewEmailRejectsMalformed(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"", "   ", "no-at-sign", "@leading", "trailing@"} {
		if _, err := NewEmail(raw); !errors.Is(err, ErrInvalidEmail) {
			test.Fatalf("NewEmail(%q): expected ErrInvalidEmail, got %v", raw, err)
		}
	}
}

func TestOrderIdempotencyKeyComposition(test *testing.T) {
	test.Parallel()
	key := OrderIdempotencyKey(mustOrderID(test, "SHOP-778"), ChannelQRScan)
	if key.String() != "SHOP-778:qr_scan" {
		test.Fatalf("unexpected key %q", key.String())
	}
}

func TestParseChannel(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"platform_order", "qr_scan", "manual_adjustment", "bonus"} {
		if _, err := ParseChannel(raw); err != nil {
			test.Fatalf("ParseChannel(%q): %v", raw, err)
		}
	}
	if _, err := ParseChannel("sms"); !errors.Is(err, ErrInvalidChannel) {
		test.Fatalf("expected ErrInvalidChannel, got %v", err)
	}
}

func TestChannelBonusEligibility(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		channel Channel
		want    bool
	}{
		{channel: ChannelPlatformOrder, want: false},
		{channel: ChannelQRScan, want: true},
		{channel: ChannelManualAdjustment, want: false},
		{channel: ChannelBonus, want: true},
	}
	for _, testCase := range testCases {
		if got := testCase.channel.Bonus(); got != testCase.want {
			test.Fatalf("%s.Bonus() = %v, want %v", testCase.channel, got, testCase.want)
		}
	}
}

func TestNewMetadataJSON(test *testing.T) {
	test.Parallel()
	metadata, err := NewMetadataJSON("")
	if err != nil {
		test.Fatalf("empty metadata: %v", err)
	}
	if metadata.String() != "{}" {
		test.Fatalf("expected empty object default, got %q", metadata.String())
	}
	if _, err := NewMetadataJSON(`{"tag":`); !errors.Is(err, ErrInvalidMetadataJSON) {
		test.Fatalf("expected ErrInvalidMetadataJSON, got %v", err)
	}
}

func TestNewAdjustmentPointsRejectsZero(test *testing.T) {
	test.Parallel()
	if _, err := NewAdjustmentPoints(0); !errors.Is(err, ErrInvalidAdjustment) {
		test.Fatalf("expected ErrInvalidAdjustment, got %v", err)
	}
	points, err := NewAdjustmentPoints(-42)
	if err != nil {
		test.Fatalf("negative delta: %v", err)
	}
	if points.Int64() != -42 {
		test.Fatalf("expected -42, got %d", points.Int64())
	}
}

func TestIdentifierNewtypesRejectBlank(test *testing.T) {
	test.Parallel()
	if _, err := NewAccountID("   "); !errors.Is(err, ErrInvalidAccountID) {
		test.Fatalf("expected ErrInvalidAccountID, got %v", err)
	}
	if _, err := NewExternalOrderID(""); !errors.Is(err, ErrInvalidOrderID) {
		test.Fatalf("expected ErrInvalidOrderID, got %v", err)
	}
	if _, err := NewIdempotencyKey("\t"); !errors.Is(err, ErrInvalidIdempotencyKey) {
		test.Fatalf("expected ErrInvalidIdempotencyKey, got %v", err)
	}
}
