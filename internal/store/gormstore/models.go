package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table. Rows are created implicitly on the
// first points-earning event for an unseen email.
type Account struct {
	AccountID string    `gorm:"type:uuid;primaryKey"`
	Email     string    `gorm:"not null;uniqueIndex:uniq_accounts_email"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// LedgerEntry mirrors the ledger_entries table. Rows are append-only; the
// unique idempotency key is the single cross-request synchronization point.
type LedgerEntry struct {
	EntryID        string          `gorm:"type:uuid;primaryKey"`
	AccountID      string          `gorm:"type:uuid;not null;index:idx_ledger_account_occurred,priority:1"`
	Channel        string          `gorm:"not null"`
	Points         int64           `gorm:"not null"`
	Amount         decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Currency       string          `gorm:"not null"`
	IdempotencyKey string          `gorm:"not null;uniqueIndex:uniq_ledger_idempotency_key"`
	Metadata       datatypes.JSON  `gorm:"type:jsonb;not null"`
	OccurredAt     time.Time       `gorm:"not null;index:idx_ledger_account_occurred,priority:2"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (entry *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// AccountSummary mirrors the account_summaries table: one derived row per
// account, updated in the same transaction as the entry insert.
type AccountSummary struct {
	AccountID      string          `gorm:"type:uuid;primaryKey"`
	TotalPoints    int64           `gorm:"not null"`
	Tier           string          `gorm:"not null"`
	OrderCount     int64           `gorm:"not null"`
	TotalSpent     decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	LastActivityAt time.Time       `gorm:"not null"`
	UpdatedAt      time.Time       `gorm:"not null"`
}

func (AccountSummary) TableName() string { return "account_summaries" }
