package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectEntry       = "entry"
	errorSubjectSummary     = "summary"
	errorSubjectTransaction = "transaction"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeUpsert         = "upsert"

	sqlInsertOrGetAccountByEmail = `
		insert into accounts(account_id, email, created_at) values(gen_random_uuid(), $1, now())
		on conflict (email) do update set email = excluded.email
		returning account_id::text
	`

	sqlLookupAccount = `
		select account_id::text from accounts where account_id = $1
		for update
	`

	sqlInsertEntry = `
		insert into ledger_entries(
			entry_id, account_id, channel, points, amount, currency, idempotency_key, metadata, occurred_at
		)
		values(
			gen_random_uuid(), $1, $2, $3, $4, $5, $6,
			coalesce(nullif($7,''),'{}')::jsonb,
			to_timestamp($8)
		)
		on conflict (idempotency_key) do nothing
		returning entry_id::text
	`

	sqlSelectEntryByKey = `
		select
			entry_id::text,
			account_id::text,
			channel,
			points,
			amount::text,
			currency,
			idempotency_key,
			coalesce(metadata::text,'{}'),
			extract(epoch from occurred_at)::bigint
		from ledger_entries
		where idempotency_key = $1
	`

	sqlSelectSummary = `
		select
			account_id::text,
			total_points,
			tier,
			order_count,
			total_spent::text,
			extract(epoch from last_activity_at)::bigint
		from account_summaries
		where account_id = $1
		for update
	`

	sqlUpsertSummary = `
		insert into account_summaries(account_id, total_points, tier, order_count, total_spent, last_activity_at, updated_at)
		values($1, $2, $3, $4, $5, to_timestamp($6), now())
		on conflict (account_id) do update set
			total_points = excluded.total_points,
			tier = excluded.tier,
			order_count = excluded.order_count,
			total_spent = excluded.total_spent,
			last_activity_at = excluded.last_activity_at,
			updated_at = now()
	`

	sqlListEntriesBefore = `
		select
			entry_id::text,
			account_id::text,
			channel,
			points,
			amount::text,
			currency,
			idempotency_key,
			coalesce(metadata::text,'{}'),
			extract(epoch from occurred_at)::bigint
		from ledger_entries
		where account_id = $1 and occurred_at < to_timestamp($2)
		order by occurred_at desc
		limit $3
	`

	sqlListAllEntries = `
		select
			entry_id::text,
			account_id::text,
			channel,
			points,
			amount::text,
			currency,
			idempotency_key,
			coalesce(metadata::text,'{}'),
			extract(epoch from occurred_at)::bigint
		from ledger_entries
		where account_id = $1
		order by occurred_at asc, entry_id asc
	`
)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements loyalty.Store using a pgx connection pool (autocommit).
type Store struct {
	pool *pgxpool.Pool
}

// TxStore implements loyalty.Store for an active transaction.
type TxStore struct {
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore loyalty.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetOrCreateAccountIDByEmail(ctx context.Context, email loyalty.Email) (string, error) {
	return getOrCreateAccountIDByEmail(ctx, store.pool, email)
}

func (store *Store) LookupAccountID(ctx context.Context, accountID loyalty.AccountID) (string, error) {
	return lookupAccountID(ctx, store.pool, accountID)
}

func (store *Store) InsertEntry(ctx context.Context, entry loyalty.Entry) (loyalty.Entry, error) {
	return insertEntry(ctx, store.pool, entry)
}

func (store *Store) GetEntryByIdempotencyKey(ctx context.Context, key loyalty.IdempotencyKey) (loyalty.Entry, error) {
	return getEntryByIdempotencyKey(ctx, store.pool, key)
}

func (store *Store) GetSummary(ctx context.Context, accountID string) (loyalty.Summary, error) {
	return getSummary(ctx, store.pool, accountID)
}

func (store *Store) UpsertSummary(ctx context.Context, summary loyalty.Summary) error {
	return upsertSummary(ctx, store.pool, summary)
}

func (store *Store) ListEntries(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]loyalty.Entry, error) {
	return listEntries(ctx, store.pool, accountID, beforeUnixUTC, limit)
}

func (store *Store) ListAllEntries(ctx context.Context, accountID string) ([]loyalty.Entry, error) {
	return listAllEntries(ctx, store.pool, accountID)
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore loyalty.Store) error) error {
	// Already inside a transaction; nested calls share it.
	return fn(ctx, store)
}

func (store *TxStore) GetOrCreateAccountIDByEmail(ctx context.Context, email loyalty.Email) (string, error) {
	return getOrCreateAccountIDByEmail(ctx, store.tx, email)
}

func (store *TxStore) LookupAccountID(ctx context.Context, accountID loyalty.AccountID) (string, error) {
	return lookupAccountID(ctx, store.tx, accountID)
}

func (store *TxStore) InsertEntry(ctx context.Context, entry loyalty.Entry) (loyalty.Entry, error) {
	return insertEntry(ctx, store.tx, entry)
}

func (store *TxStore) GetEntryByIdempotencyKey(ctx context.Context, key loyalty.IdempotencyKey) (loyalty.Entry, error) {
	return getEntryByIdempotencyKey(ctx, store.tx, key)
}

func (store *TxStore) GetSummary(ctx context.Context, accountID string) (loyalty.Summary, error) {
	return getSummary(ctx, store.tx, accountID)
}

func (store *TxStore) UpsertSummary(ctx context.Context, summary loyalty.Summary) error {
	return upsertSummary(ctx, store.tx, summary)
}

func (store *TxStore) ListEntries(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]loyalty.Entry, error) {
	return listEntries(ctx, store.tx, accountID, beforeUnixUTC, limit)
}

func (store *TxStore) ListAllEntries(ctx context.Context, accountID string) ([]loyalty.Entry, error) {
	return listAllEntries(ctx, store.tx, accountID)
}

func getOrCreateAccountIDByEmail(ctx context.Context, runner querier, email loyalty.Email) (string, error) {
	var accountID string
	err := runner.QueryRow(ctx, sqlInsertOrGetAccountByEmail, email.String()).Scan(&accountID)
	if err != nil {
		return "", wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return accountID, nil
}

func lookupAccountID(ctx context.Context, runner querier, accountID loyalty.AccountID) (string, error) {
	var resolved string
	err := runner.QueryRow(ctx, sqlLookupAccount, accountID.String()).Scan(&resolved)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", wrapStoreError(errorSubjectAccount, errorCodeLookup, loyalty.ErrUnknownAccount)
	}
	if err != nil {
		return "", wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return resolved, nil
}

func insertEntry(ctx context.Context, runner querier, entry loyalty.Entry) (loyalty.Entry, error) {
	var entryID string
	err := runner.QueryRow(ctx, sqlInsertEntry,
		entry.AccountID,
		entry.Channel.String(),
		entry.Points,
		entry.Amount.String(),
		entry.Currency,
		entry.IdempotencyKey,
		entry.MetadataJSON,
		entry.OccurredAtUnixUTC,
	).Scan(&entryID)
	// do nothing on conflict returns no row instead of erroring; an errored
	// statement would abort the transaction before the prior entry is read.
	if errors.Is(err, pgx.ErrNoRows) {
		return loyalty.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeDuplicate, loyalty.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return loyalty.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	stored := entry
	stored.EntryID = entryID
	return stored, nil
}

func getEntryByIdempotencyKey(ctx context.Context, runner querier, key loyalty.IdempotencyKey) (loyalty.Entry, error) {
	entry, err := scanEntry(runner.QueryRow(ctx, sqlSelectEntryByKey, key.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return loyalty.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, loyalty.ErrUnknownEntry)
	}
	if err != nil {
		return loyalty.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	return entry, nil
}

func getSummary(ctx context.Context, runner querier, accountID string) (loyalty.Summary, error) {
	var (
		summary        loyalty.Summary
		totalSpentText string
	)
	err := runner.QueryRow(ctx, sqlSelectSummary, accountID).Scan(
		&summary.AccountID,
		&summary.TotalPoints,
		&summary.Tier,
		&summary.OrderCount,
		&totalSpentText,
		&summary.LastActivityAtUnixUTC,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return loyalty.Summary{AccountID: accountID}, nil
	}
	if err != nil {
		return loyalty.Summary{}, wrapStoreError(errorSubjectSummary, errorCodeGet, err)
	}
	totalSpent, err := decimal.NewFromString(totalSpentText)
	if err != nil {
		return loyalty.Summary{}, wrapStoreError(errorSubjectSummary, errorCodeGet, err)
	}
	summary.TotalSpent = totalSpent
	return summary, nil
}

func upsertSummary(ctx context.Context, runner querier, summary loyalty.Summary) error {
	_, err := runner.Exec(ctx, sqlUpsertSummary,
		summary.AccountID,
		summary.TotalPoints,
		summary.Tier,
		summary.OrderCount,
		summary.TotalSpent.String(),
		summary.LastActivityAtUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectSummary, errorCodeUpsert, err)
	}
	return nil
}

func listEntries(ctx context.Context, runner querier, accountID string, beforeUnixUTC int64, limit int) ([]loyalty.Entry, error) {
	if beforeUnixUTC == 0 {
		beforeUnixUTC = time.Now().UTC().Add(time.Second).Unix()
	}
	rows, err := runner.Query(ctx, sqlListEntriesBefore, accountID, beforeUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func listAllEntries(ctx context.Context, runner querier, accountID string) ([]loyalty.Entry, error) {
	rows, err := runner.Query(ctx, sqlListAllEntries, accountID)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

func collectEntries(rows pgx.Rows) ([]loyalty.Entry, error) {
	entries := make([]loyalty.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (loyalty.Entry, error) {
	var (
		entry      loyalty.Entry
		channel    string
		amountText string
	)
	err := row.Scan(
		&entry.EntryID,
		&entry.AccountID,
		&channel,
		&entry.Points,
		&amountText,
		&entry.Currency,
		&entry.IdempotencyKey,
		&entry.MetadataJSON,
		&entry.OccurredAtUnixUTC,
	)
	if err != nil {
		return loyalty.Entry{}, err
	}
	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return loyalty.Entry{}, err
	}
	entry.Channel = loyalty.Channel(channel)
	entry.Amount = amount
	return entry, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return loyalty.WrapError(errorOperationStore, subject, code, err)
}
