package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Policy selects how a packet's total is split into shares.
type Policy string

const (
	PolicyEven   Policy = "even"
	PolicyRandom Policy = "random"
	PolicyBomb   Policy = "bomb"
	PolicyLucky  Policy = "lucky"
)

// VariantFlag marks how a share behaves when claimed.
type VariantFlag string

const (
	VariantNormal   VariantFlag = "normal"
	VariantBombHit  VariantFlag = "bomb_hit"
	VariantLuckyMax VariantFlag = "lucky_max"
)

// Status is a packet's lifecycle state. Packets are never deleted, only
// transitioned; history lives in claims and ledger entries.
type Status string

const (
	StatusActive          Status = "active"
	StatusDepleted        Status = "depleted"
	StatusExpiredRefunded Status = "expired_refunded"
)

// Packet is one distribution unit. RemainingShares and RemainingAmount are
// written only by the claim path and the expiry reaper, always under the
// same compare-and-swap guard.
type Packet struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	SenderID        snowflake.ID `gorm:"not null;index"`
	Currency        string       `gorm:"type:text;not null"`
	TotalAmount     int64        `gorm:"not null"`
	ShareCount      int          `gorm:"not null"`
	Policy          Policy       `gorm:"type:text;not null"`
	RemainingAmount int64        `gorm:"not null"`
	RemainingShares int          `gorm:"not null"`
	Message         string       `gorm:"type:text"`
	Status          Status       `gorm:"type:text;not null;index"`
	CreatedAt       time.Time    `gorm:"not null"`
	ExpiresAt       time.Time    `gorm:"not null;index"`
}

// TableName sets the database table name.
func (Packet) TableName() string { return "packets" }

// PacketShare is one pre-drawn amount in a packet's sequence. Shares are
// drawn once at creation and consumed in Seq order, first-committed-first-
// served; which claimant gets which share is decided by commit order alone.
type PacketShare struct {
	PacketID    snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	Seq         int          `gorm:"primaryKey;autoIncrement:false"`
	Amount      int64        `gorm:"not null"`
	VariantFlag VariantFlag  `gorm:"type:text;not null"`
}

// TableName sets the database table name.
func (PacketShare) TableName() string { return "packet_shares" }

// Claim records one user's successful draw. Unique on (packet, claimer):
// a user claims a given packet at most once, enforced by the database.
type Claim struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	PacketID    snowflake.ID `gorm:"not null;uniqueIndex:ux_claims_packet_claimer,priority:1"`
	ClaimerID   snowflake.ID `gorm:"not null;index;uniqueIndex:ux_claims_packet_claimer,priority:2"`
	Amount      int64        `gorm:"not null"`
	VariantFlag VariantFlag  `gorm:"type:text;not null"`
	ClaimedAt   time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (Claim) TableName() string { return "claims" }
