package loyalty

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AccountID identifies a stored account.
type AccountID struct {
	value string
}

// Email identifies an account owner before an account exists.
type Email struct {
	value string
}

// ExternalOrderID is the order identifier assigned by the commerce platform.
type ExternalOrderID struct {
	value string
}

// IdempotencyKey scopes duplicate detection.
type IdempotencyKey struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// MonetaryAmount is a non-negative order amount in the supported currency.
type MonetaryAmount struct {
	value decimal.Decimal
}

// Channel is the source category of a points-earning event.
type Channel string

const (
	ChannelPlatformOrder    Channel = "platform_order"
	ChannelQRScan           Channel = "qr_scan"
	ChannelManualAdjustment Channel = "manual_adjustment"
	ChannelBonus            Channel = "bonus"
)

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// NewEmail validates and normalizes an email address.
func NewEmail(raw string) (Email, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return Email{}, fmt.Errorf("%w: empty value", ErrInvalidEmail)
	}
	at := strings.Index(normalized, "@")
	if at <= 0 || at == len(normalized)-1 {
		return Email{}, fmt.Errorf("%w: %q", ErrInvalidEmail, raw)
	}
	return Email{value: normalized}, nil
}

// String returns the normalized address.
func (email Email) String() string {
	return email.value
}

// AccountRef names an account either by its stored id or by owner email.
// The email path creates the account on first use; the id path never does.
type AccountRef struct {
	accountID AccountID
	email     Email
	byEmail   bool
}

// RefByID references an existing account by id.
func RefByID(accountID AccountID) AccountRef {
	return AccountRef{accountID: accountID}
}

// RefByEmail references an account by owner email, creating it if unseen.
func RefByEmail(email Email) AccountRef {
	return AccountRef{email: email, byEmail: true}
}

// ByEmail reports whether the reference resolves through the email path.
func (ref AccountRef) ByEmail() bool {
	return ref.byEmail
}

// AccountID returns the referenced account id (id path only).
func (ref AccountRef) AccountID() AccountID {
	return ref.accountID
}

// Email returns the referenced owner email (email path only).
func (ref AccountRef) Email() Email {
	return ref.email
}

// String returns the human-readable reference for logging.
func (ref AccountRef) String() string {
	if ref.byEmail {
		return ref.email.String()
	}
	return ref.accountID.String()
}

func (ref AccountRef) validate() error {
	if ref.byEmail {
		if ref.email.value == "" {
			return fmt.Errorf("%w: empty email", ErrInvalidAccountRef)
		}
		return nil
	}
	if ref.accountID.value == "" {
		return fmt.Errorf("%w: empty account id", ErrInvalidAccountRef)
	}
	return nil
}

// NewExternalOrderID validates and normalizes a platform order id.
func NewExternalOrderID(raw string) (ExternalOrderID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ExternalOrderID{}, fmt.Errorf("%w: empty value", ErrInvalidOrderID)
	}
	return ExternalOrderID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ExternalOrderID) String() string {
	return id.value
}

// ParseChannel validates a channel value.
func ParseChannel(raw string) (Channel, error) {
	switch Channel(raw) {
	case ChannelPlatformOrder, ChannelQRScan, ChannelManualAdjustment, ChannelBonus:
		return Channel(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChannel, raw)
}

// String returns the channel value.
func (channel Channel) String() string {
	return string(channel)
}

// Bonus reports whether the channel earns the bonus multiplier.
func (channel Channel) Bonus() bool {
	return channel == ChannelQRScan || channel == ChannelBonus
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// OrderIdempotencyKey derives the key that makes (order, channel) credit at most once.
func OrderIdempotencyKey(orderID ExternalOrderID, channel Channel) IdempotencyKey {
	return IdempotencyKey{value: orderID.String() + idempotencyKeyDelimiter + channel.String()}
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// NewMonetaryAmount validates an order amount. Negative amounts are a caller
// error, never clamped.
func NewMonetaryAmount(value decimal.Decimal) (MonetaryAmount, error) {
	if value.IsNegative() {
		return MonetaryAmount{}, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	return MonetaryAmount{value: value}, nil
}

// ParseMonetaryAmount validates a decimal string form of an order amount.
func ParseMonetaryAmount(raw string) (MonetaryAmount, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return MonetaryAmount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return NewMonetaryAmount(value)
}

// ZeroMonetaryAmount returns the zero amount used by non-purchase channels.
func ZeroMonetaryAmount() MonetaryAmount {
	return MonetaryAmount{value: decimal.Zero}
}

// Decimal returns the underlying decimal value.
func (amount MonetaryAmount) Decimal() decimal.Decimal {
	return amount.value
}

// String returns the decimal string form.
func (amount MonetaryAmount) String() string {
	return amount.value.String()
}

// AdjustmentPoints is a signed, non-zero manual point delta.
type AdjustmentPoints int64

// NewAdjustmentPoints validates a manual adjustment delta.
func NewAdjustmentPoints(raw int64) (AdjustmentPoints, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: must not be zero", ErrInvalidAdjustment)
	}
	return AdjustmentPoints(raw), nil
}

// Int64 returns the signed delta.
func (points AdjustmentPoints) Int64() int64 {
	return int64(points)
}

// A single immutable line in the ledger.
type Entry struct {
	EntryID           string
	AccountID         string
	Channel           Channel
	Points            int64
	Amount            decimal.Decimal
	Currency          string
	IdempotencyKey    string
	MetadataJSON      string
	OccurredAtUnixUTC int64
}

// Summary is the derived aggregate view of one account's ledger.
type Summary struct {
	AccountID             string
	TotalPoints           int64
	Tier                  string
	OrderCount            int64
	TotalSpent            decimal.Decimal
	LastActivityAtUnixUTC int64
}

// Store is the persistence contract used by Service.
//
// InsertEntry must enforce idempotency-key uniqueness inside the storage layer
// (unique constraint or equivalent) and report a violation as
// ErrDuplicateIdempotencyKey; the service treats that as success, not failure.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateAccountIDByEmail(ctx context.Context, email Email) (string, error)
	LookupAccountID(ctx context.Context, accountID AccountID) (string, error)
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	GetEntryByIdempotencyKey(ctx context.Context, key IdempotencyKey) (Entry, error)
	GetSummary(ctx context.Context, accountID string) (Summary, error)
	UpsertSummary(ctx context.Context, summary Summary) error
	ListEntries(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]Entry, error)
	ListAllEntries(ctx context.Context, accountID string) ([]Entry, error)
}
