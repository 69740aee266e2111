package notify

import (
	"context"

	"github.com/bwmarrin/snowflake"
	packetdomain "github.com/smallbiznis/hongbao/internal/packet/domain"
	"go.uber.org/zap"
)

// Gateway is the engine-facing notification contract. Every call is
// fire-and-forget: at-least-once delivery is acceptable and a failure is
// logged and swallowed, never propagated into the ledger path.
type Gateway interface {
	NotifyBalanceChange(ctx context.Context, userID snowflake.ID, currency string, delta int64, reason string, newBalance int64) error
	NotifyClaim(ctx context.Context, claimerID, senderID, packetID snowflake.ID, amount int64, variant packetdomain.VariantFlag) error
	NotifyPacketDepleted(ctx context.Context, senderID, packetID snowflake.ID, totalClaims int, totalAmount int64) error
}

// LogGateway writes notifications to the structured log. It stands in for
// a chat/push transport, which stays outside the engine.
type LogGateway struct {
	log *zap.Logger
}

func NewLogGateway(log *zap.Logger) *LogGateway {
	return &LogGateway{log: log.Named("notify.gateway")}
}

func (g *LogGateway) NotifyBalanceChange(ctx context.Context, userID snowflake.ID, currency string, delta int64, reason string, newBalance int64) error {
	g.log.Info("balance change",
		zap.String("user_id", userID.String()),
		zap.String("currency", currency),
		zap.Int64("delta", delta),
		zap.String("reason", reason),
		zap.Int64("new_balance", newBalance),
	)
	return nil
}

func (g *LogGateway) NotifyClaim(ctx context.Context, claimerID, senderID, packetID snowflake.ID, amount int64, variant packetdomain.VariantFlag) error {
	g.log.Info("claim",
		zap.String("claimer_id", claimerID.String()),
		zap.String("sender_id", senderID.String()),
		zap.String("packet_id", packetID.String()),
		zap.Int64("amount", amount),
		zap.String("variant", string(variant)),
	)
	return nil
}

func (g *LogGateway) NotifyPacketDepleted(ctx context.Context, senderID, packetID snowflake.ID, totalClaims int, totalAmount int64) error {
	g.log.Info("packet depleted",
		zap.String("sender_id", senderID.String()),
		zap.String("packet_id", packetID.String()),
		zap.Int("total_claims", totalClaims),
		zap.Int64("total_amount", totalAmount),
	)
	return nil
}
