package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON = "{}"
	driverPostgres      = "postgres"

	errorOperationStore = "store"
	errorSubjectAccount = "account"
	errorSubjectEntry   = "entry"
	errorSubjectSummary = "summary"
	errorCodeDuplicate  = "duplicate"
	errorCodeGet        = "get"
	errorCodeInsert     = "insert"
	errorCodeList       = "list"
	errorCodeLookup     = "lookup"
	errorCodeUpsert     = "upsert"
)

// Store implements loyalty.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema on drivers without managed migrations.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &LedgerEntry{}, &AccountSummary{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore loyalty.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// withRowLock adds FOR UPDATE on drivers with row-level locks. Two appends for
// the same account must not read the same summary base; sqlite already
// serializes writers, so the clause applies to postgres only.
func (store *Store) withRowLock(query *gorm.DB) *gorm.DB {
	if store.db.Dialector.Name() == driverPostgres {
		return query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query
}

func (store *Store) GetOrCreateAccountIDByEmail(ctx context.Context, email loyalty.Email) (string, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "email"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"email": clause.Expr{SQL: "excluded.email"},
			}),
		}).
		FirstOrCreate(&account, Account{Email: email.String()}).Error
	if err != nil {
		return "", wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return account.AccountID, nil
}

func (store *Store) LookupAccountID(ctx context.Context, accountID loyalty.AccountID) (string, error) {
	var account Account
	err := store.withRowLock(store.db.WithContext(ctx)).
		Where("account_id = ?", accountID.String()).
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", wrapStoreError(errorSubjectAccount, errorCodeLookup, loyalty.ErrUnknownAccount)
		}
		return "", wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return account.AccountID, nil
}

func (store *Store) InsertEntry(ctx context.Context, entry loyalty.Entry) (loyalty.Entry, error) {
	model := LedgerEntry{
		AccountID:      entry.AccountID,
		Channel:        entry.Channel.String(),
		Points:         entry.Points,
		Amount:         entry.Amount,
		Currency:       entry.Currency,
		IdempotencyKey: entry.IdempotencyKey,
		Metadata:       datatypesJSON(entry.MetadataJSON),
		OccurredAt:     time.Unix(entry.OccurredAtUnixUTC, 0).UTC(),
	}
	if model.OccurredAt.IsZero() {
		model.OccurredAt = time.Now().UTC()
	}
	// Insert-or-ignore keeps a duplicate delivery from erroring the statement:
	// a failed INSERT aborts the surrounding postgres transaction, and the
	// caller still has to read the prior entry inside it.
	result := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(&model)
	if result.Error != nil {
		return loyalty.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, result.Error)
	}
	if result.RowsAffected == 0 {
		return loyalty.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, loyalty.ErrDuplicateIdempotencyKey)
	}
	return mapLedgerEntry(model), nil
}

func (store *Store) GetEntryByIdempotencyKey(ctx context.Context, key loyalty.IdempotencyKey) (loyalty.Entry, error) {
	var model LedgerEntry
	err := store.db.WithContext(ctx).
		Where("idempotency_key = ?", key.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return loyalty.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, loyalty.ErrUnknownEntry)
		}
		return loyalty.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	return mapLedgerEntry(model), nil
}

func (store *Store) GetSummary(ctx context.Context, accountID string) (loyalty.Summary, error) {
	var model AccountSummary
	err := store.withRowLock(store.db.WithContext(ctx)).
		Where("account_id = ?", accountID).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return loyalty.Summary{AccountID: accountID}, nil
		}
		return loyalty.Summary{}, wrapStoreError(errorSubjectSummary, errorCodeGet, err)
	}
	return mapSummary(model), nil
}

func (store *Store) UpsertSummary(ctx context.Context, summary loyalty.Summary) error {
	model := AccountSummary{
		AccountID:      summary.AccountID,
		TotalPoints:    summary.TotalPoints,
		Tier:           summary.Tier,
		OrderCount:     summary.OrderCount,
		TotalSpent:     summary.TotalSpent,
		LastActivityAt: time.Unix(summary.LastActivityAtUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectSummary, errorCodeUpsert, err)
	}
	return nil
}

func (store *Store) ListEntries(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]loyalty.Entry, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND occurred_at < ?", accountID, before).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows), nil
}

func (store *Store) ListAllEntries(ctx context.Context, accountID string) ([]loyalty.Entry, error) {
	var rows []LedgerEntry
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("occurred_at ASC, entry_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows), nil
}

func wrapStoreError(subject string, code string, err error) error {
	return loyalty.WrapError(errorOperationStore, subject, code, err)
}

func mapLedgerEntry(row LedgerEntry) loyalty.Entry {
	return loyalty.Entry{
		EntryID:           row.EntryID,
		AccountID:         row.AccountID,
		Channel:           loyalty.Channel(row.Channel),
		Points:            row.Points,
		Amount:            row.Amount,
		Currency:          row.Currency,
		IdempotencyKey:    row.IdempotencyKey,
		MetadataJSON:      string(row.Metadata),
		OccurredAtUnixUTC: row.OccurredAt.Unix(),
	}
}

func mapLedgerEntries(rows []LedgerEntry) []loyalty.Entry {
	entries := make([]loyalty.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, mapLedgerEntry(row))
	}
	return entries
}

func mapSummary(row AccountSummary) loyalty.Summary {
	return loyalty.Summary{
		AccountID:             row.AccountID,
		TotalPoints:           row.TotalPoints,
		Tier:                  row.Tier,
		OrderCount:            row.OrderCount,
		TotalSpent:            row.TotalSpent,
		LastActivityAtUnixUTC: row.LastActivityAt.Unix(),
	}
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

