package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryType classifies the business event behind a balance mutation.
type EntryType string

const (
	EntryTypePacketSend       EntryType = "packet_send"       // sender debit at creation
	EntryTypePacketClaim      EntryType = "packet_claim"      // claimer credit (negative for a bomb hit)
	EntryTypeExpiryRefund     EntryType = "expiry_refund"     // unclaimed remainder back to sender
	EntryTypeInviteBonus      EntryType = "invite_bonus"      // one-time bind bonus
	EntryTypeInviteCommission EntryType = "invite_commission" // percentage of an invitee's claim
	EntryTypeInviteMilestone  EntryType = "invite_milestone"  // invite-count threshold bonus
	EntryTypeDeposit          EntryType = "deposit"           // external top-up
)

// Account holds one user's balance in one currency. The balance column is
// the only mutable numeric field in the system and is written exclusively
// by the ledger service.
type Account struct {
	UserID    snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Currency  string       `gorm:"primaryKey;type:text"`
	Balance   int64        `gorm:"not null"`
	UpdatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// LedgerEntry is the immutable record of one balance mutation, with
// before/after snapshots. Entries are append-only; the ordered sequence of
// entries for a user reconstructs the balance exactly.
type LedgerEntry struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	UserID        snowflake.ID `gorm:"not null;index;uniqueIndex:ux_ledger_entries_user_type_related,priority:1"`
	Currency      string       `gorm:"type:text;not null"`
	Amount        int64        `gorm:"not null"`
	BalanceBefore int64        `gorm:"not null"`
	BalanceAfter  int64        `gorm:"not null"`
	EntryType     EntryType    `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_user_type_related,priority:2"`
	RelatedID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_ledger_entries_user_type_related,priority:3"`
	Note          string       `gorm:"type:text"`
	CreatedAt     time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (LedgerEntry) TableName() string { return "ledger_entries" }
