package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidSender        = errors.New("invalid_sender")
	ErrInvalidCurrency      = errors.New("invalid_currency")
	ErrInvalidPolicy        = errors.New("invalid_policy")
	ErrInvalidShareCount    = errors.New("invalid_share_count")
	ErrInvalidTotalAmount   = errors.New("invalid_total_amount")
	ErrMessageTooLong       = errors.New("message_too_long")
	ErrBombCountNotEligible = errors.New("bomb_count_not_eligible")

	ErrPacketNotFound = errors.New("packet_not_found")
	ErrPacketExpired  = errors.New("packet_expired")
	ErrPacketDepleted = errors.New("packet_depleted")
	ErrAlreadyClaimed = errors.New("already_claimed")

	// ErrContention is a retryable transactional conflict: the claim lost
	// the packet guard on every bounded retry. No partial state was
	// written.
	ErrContention = errors.New("contention")
)

// CreateRequest is the inbound packet-creation contract, validated against
// configured bounds before any allocation or state change.
type CreateRequest struct {
	SenderID    snowflake.ID
	Currency    string
	TotalAmount int64
	ShareCount  int
	Policy      Policy
	Message     string
}

// Service owns packet creation and the concurrency-critical claim path.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Packet, error)

	// Claim admits or rejects one claim attempt. On success the claim row,
	// the packet decrement and the claimer's ledger credit commit as one
	// unit; downstream reward/notification effects are best-effort and
	// never unwind the commit.
	Claim(ctx context.Context, packetID, userID snowflake.ID) (*Claim, error)

	Get(ctx context.Context, packetID snowflake.ID) (*Packet, error)
	ListClaims(ctx context.Context, packetID snowflake.ID) ([]Claim, error)
}
