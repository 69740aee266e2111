package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidUser         = errors.New("invalid_user")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidEntryType    = errors.New("invalid_entry_type")
	ErrInvalidRelatedID    = errors.New("invalid_related_id")
	ErrInsufficientBalance = errors.New("insufficient_balance")

	// ErrBalanceConflict is an internal optimistic-concurrency miss on the
	// balance column. Apply retries it; callers posting inside their own
	// transaction surface it as retryable contention.
	ErrBalanceConflict = errors.New("balance_conflict")
)

// ApplyRequest describes one atomic balance mutation.
type ApplyRequest struct {
	UserID    snowflake.ID
	Currency  string
	Amount    int64 // signed, minor units
	EntryType EntryType
	RelatedID snowflake.ID
	Note      string

	// AllowNegative lifts the zero floor, e.g. for bomb-hit debits when
	// debt is policy-permitted.
	AllowNegative bool
}

// Service is the single choke point for balance mutation: every change
// persists the new balance and its ledger entry in one atomic operation.
// Apply is idempotent per (user, entry type, related id): a replay returns
// the previously written entry without moving the balance again.
type Service interface {
	Apply(ctx context.Context, req ApplyRequest) (*LedgerEntry, error)

	// ApplyTx posts within the caller's transaction so that, for example, a
	// claim row and its credit commit or roll back together.
	ApplyTx(ctx context.Context, tx *gorm.DB, req ApplyRequest) (*LedgerEntry, error)

	Balance(ctx context.Context, userID snowflake.ID, currency string) (int64, error)
	History(ctx context.Context, userID snowflake.ID, currency string, limit int) ([]LedgerEntry, error)
}
