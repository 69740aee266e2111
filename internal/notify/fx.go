package notify

import (
	"context"

	"github.com/smallbiznis/hongbao/internal/events"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func subscribe(dispatcher *events.Dispatcher, gateway Gateway, log *zap.Logger) {
	log = log.Named("notify")

	dispatcher.SubscribeClaim(func(ctx context.Context, ev events.ClaimSettled) {
		if err := gateway.NotifyClaim(ctx, ev.Claim.ClaimerID, ev.Packet.SenderID, ev.Packet.ID, ev.Claim.Amount, ev.Claim.VariantFlag); err != nil {
			log.Warn("claim notification failed", zap.Error(err))
		}
		if err := gateway.NotifyBalanceChange(ctx, ev.Claim.ClaimerID, ev.Packet.Currency, ev.Entry.Amount, string(ev.Entry.EntryType), ev.Entry.BalanceAfter); err != nil {
			log.Warn("balance notification failed", zap.Error(err))
		}
		if ev.Depleted {
			if err := gateway.NotifyPacketDepleted(ctx, ev.Packet.SenderID, ev.Packet.ID, ev.Packet.ShareCount, ev.Packet.TotalAmount); err != nil {
				log.Warn("depletion notification failed", zap.Error(err))
			}
		}
	})

	dispatcher.SubscribeRefund(func(ctx context.Context, ev events.PacketRefunded) {
		if err := gateway.NotifyBalanceChange(ctx, ev.Packet.SenderID, ev.Packet.Currency, ev.Entry.Amount, string(ev.Entry.EntryType), ev.Entry.BalanceAfter); err != nil {
			log.Warn("refund notification failed", zap.Error(err))
		}
	})
}

var Module = fx.Module("notify",
	fx.Provide(func(log *zap.Logger) Gateway { return NewLogGateway(log) }),
	fx.Invoke(subscribe),
)
