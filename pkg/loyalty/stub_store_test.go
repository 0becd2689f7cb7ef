package loyalty

import (
	"context"
	"fmt"
	"sort"
	"testing"
)

// stubStore is the in-memory Store used by service tests. WithTx runs the
// callback directly; rollback behavior is covered by the storage tests.
type stubStore struct {
	accountsByEmail map[string]string
	knownAccounts   map[string]bool
	entries         []Entry
	entriesByKey    map[string]Entry
	summaries       map[string]Summary
	accountCounter  int
	entryCounter    int

	createAccountError error
	lookupAccountError error
	getSummaryError    error
	insertEntryError   error
	upsertSummaryError error
	getEntryError      error
	listEntriesError   error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accountsByEmail: map[string]string{},
		knownAccounts:   map[string]bool{},
		entriesByKey:    map[string]Entry{},
		summaries:       map[string]Summary{},
	}
}

func (store *stubStore) addAccount(test *testing.T, accountID string) {
	test.Helper()
	store.knownAccounts[accountID] = true
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetOrCreateAccountIDByEmail(_ context.Context, email Email) (string, error) {
	if store.createAccountError != nil {
		return "", store.createAccountError
	}
	if accountID, ok := store.accountsByEmail[email.String()]; ok {
		return accountID, nil
	}
	store.accountCounter++
	accountID := fmt.Sprintf("acct-%d", store.accountCounter)
	store.accountsByEmail[email.String()] = accountID
	store.knownAccounts[accountID] = true
	return accountID, nil
}

func (store *stubStore) LookupAccountID(_ context.Context, accountID AccountID) (string, error) {
	if store.lookupAccountError != nil {
		return "", store.lookupAccountError
	}
	if !store.knownAccounts[accountID.String()] {
		return "", ErrUnknownAccount
	}
	return accountID.String(), nil
}

func (store *stubStore) InsertEntry(_ context.Context, entry Entry) (Entry, error) {
	if store.insertEntryError != nil {
		return Entry{}, store.insertEntryError
	}
	if _, exists := store.entriesByKey[entry.IdempotencyKey]; exists {
		return Entry{}, ErrDuplicateIdempotencyKey
	}
	store.entryCounter++
	entry.EntryID = fmt.Sprintf("entry-%d", store.entryCounter)
	store.entries = append(store.entries, entry)
	store.entriesByKey[entry.IdempotencyKey] = entry
	return entry, nil
}

func (store *stubStore) GetEntryByIdempotencyKey(_ context.Context, key IdempotencyKey) (Entry, error) {
	if store.getEntryError != nil {
		return Entry{}, store.getEntryError
	}
	entry, ok := store.entriesByKey[key.String()]
	if !ok {
		return Entry{}, ErrUnknownEntry
	}
	return entry, nil
}

func (store *stubStore) GetSummary(_ context.Context, accountID string) (Summary, error) {
	if store.getSummaryError != nil {
		return Summary{}, store.getSummaryError
	}
	summary, ok := store.summaries[accountID]
	if !ok {
		return Summary{AccountID: accountID}, nil
	}
	return summary, nil
}

func (store *stubStore) UpsertSummary(_ context.Context, summary Summary) error {
	if store.upsertSummaryError != nil {
		return store.upsertSummaryError
	}
	store.summaries[summary.AccountID] = summary
	return nil
}

func (store *stubStore) ListEntries(_ context.Context, accountID string, beforeUnixUTC int64, limit int) ([]Entry, error) {
	if store.listEntriesError != nil {
		return nil, store.listEntriesError
	}
	matched := make([]Entry, 0)
	for _, entry := range store.entries {
		if entry.AccountID != accountID {
			continue
		}
		if beforeUnixUTC != 0 && entry.OccurredAtUnixUTC >= beforeUnixUTC {
			continue
		}
		matched = append(matched, entry)
	}
	sort.SliceStable(matched, func(left, right int) bool {
		return matched[left].OccurredAtUnixUTC > matched[right].OccurredAtUnixUTC
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (store *stubStore) ListAllEntries(_ context.Context, accountID string) ([]Entry, error) {
	if store.listEntriesError != nil {
		return nil, store.listEntriesError
	}
	matched := make([]Entry, 0)
	for _, entry := range store.entries {
		if entry.AccountID == accountID {
			matched = append(matched, entry)
		}
	}
	return matched, nil
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, DefaultPolicy(), func() int64 { return 1700000000 }, options...)
	if err != nil {
		test.Fatalf("service init: %v", err)
	}
	return service
}

func mustEmail(test *testing.T, raw string) Email {
	test.Helper()
	email, err := NewEmail(raw)
	if err != nil {
		test.Fatalf("email %q: %v", raw, err)
	}
	return email
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	accountID, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id %q: %v", raw, err)
	}
	return accountID
}

func mustOrderID(test *testing.T, raw string) ExternalOrderID {
	test.Helper()
	orderID, err := NewExternalOrderID(raw)
	if err != nil {
		test.Fatalf("order id %q: %v", raw, err)
	}
	return orderID
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	key, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key %q: %v", raw, err)
	}
	return key
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata %q: %v", raw, err)
	}
	return metadata
}

func mustAmount(test *testing.T, raw string) MonetaryAmount {
	test.Helper()
	amount, err := ParseMonetaryAmount(raw)
	if err != nil {
		test.Fatalf("amount %q: %v", raw, err)
	}
	return amount
}

func mustAdjustment(test *testing.T, raw int64) AdjustmentPoints {
	test.Helper()
	points, err := NewAdjustmentPoints(raw)
	if err != nil {
		test.Fatalf("adjustment %d: %v", raw, err)
	}
	return points
}
