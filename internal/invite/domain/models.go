package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidInvitee   = errors.New("invalid_invitee")
	ErrInvalidInviter   = errors.New("invalid_inviter")
	ErrSelfInvite       = errors.New("self_invite")
	ErrAlreadyBound     = errors.New("already_bound")
	ErrRelationNotFound = errors.New("relation_not_found")
)

// InviteRelation maps an invitee to the inviter who recruited them.
// Set at most once per invitee, immutable after first set.
type InviteRelation struct {
	InviteeID snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	InviterID snowflake.ID `gorm:"not null;index"`
	CreatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (InviteRelation) TableName() string { return "invite_relations" }

// InviteMilestone records a threshold bonus that has been paid. The unique
// (inviter, threshold) key is what makes milestone payment at-most-once
// even when counter checks race: the second insert is rejected, not re-paid.
type InviteMilestone struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	InviterID snowflake.ID `gorm:"not null;uniqueIndex:ux_invite_milestones_inviter_threshold,priority:1"`
	Threshold int          `gorm:"not null;uniqueIndex:ux_invite_milestones_inviter_threshold,priority:2"`
	Bonus     int64        `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null"`
}

// TableName sets the database table name.
func (InviteMilestone) TableName() string { return "invite_milestones" }

// Service reacts to qualifying actions with derived ledger entries:
// bind bonuses, claim commissions and milestone payouts.
type Service interface {
	// Bind sets the invite relation once, pays the one-time bonuses and
	// settles any milestone the inviter's counter just crossed.
	Bind(ctx context.Context, inviteeID, inviterID snowflake.ID) (*InviteRelation, error)

	// InviterOf resolves a user's inviter, ErrRelationNotFound if unset.
	InviterOf(ctx context.Context, userID snowflake.ID) (snowflake.ID, error)

	InviteCount(ctx context.Context, inviterID snowflake.ID) (int, error)
}
