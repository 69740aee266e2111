package events

import (
	"context"
	"sync"

	ledgerdomain "github.com/smallbiznis/hongbao/internal/ledger/domain"
	packetdomain "github.com/smallbiznis/hongbao/internal/packet/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ClaimSettled is published after a claim's transaction has committed. The
// ledger state it references is final; subscribers run best-effort and can
// never unwind it.
type ClaimSettled struct {
	Packet   packetdomain.Packet
	Claim    packetdomain.Claim
	Entry    ledgerdomain.LedgerEntry
	Depleted bool
}

// PacketRefunded is published after the reaper refunds an expired packet.
type PacketRefunded struct {
	Packet packetdomain.Packet
	Entry  ledgerdomain.LedgerEntry
}

type ClaimHandler func(ctx context.Context, ev ClaimSettled)
type RefundHandler func(ctx context.Context, ev PacketRefunded)

// Dispatcher fans committed ledger events out to in-process subscribers
// (reward engine, notification gateway, metrics). Handler panics are
// recovered and logged so one subscriber cannot break another.
type Dispatcher struct {
	log *zap.Logger

	mu             sync.RWMutex
	claimHandlers  []ClaimHandler
	refundHandlers []RefundHandler
}

func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{log: log.Named("events.dispatcher")}
}

func (d *Dispatcher) SubscribeClaim(h ClaimHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.claimHandlers = append(d.claimHandlers, h)
}

func (d *Dispatcher) SubscribeRefund(h RefundHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refundHandlers = append(d.refundHandlers, h)
}

func (d *Dispatcher) PublishClaimSettled(ctx context.Context, ev ClaimSettled) {
	d.mu.RLock()
	handlers := d.claimHandlers
	d.mu.RUnlock()
	for _, h := range handlers {
		d.run(ctx, "claim_settled", func(ctx context.Context) { h(ctx, ev) })
	}
}

func (d *Dispatcher) PublishPacketRefunded(ctx context.Context, ev PacketRefunded) {
	d.mu.RLock()
	handlers := d.refundHandlers
	d.mu.RUnlock()
	for _, h := range handlers {
		d.run(ctx, "packet_refunded", func(ctx context.Context) { h(ctx, ev) })
	}
}

func (d *Dispatcher) run(ctx context.Context, event string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("event handler panicked",
				zap.String("event", event),
				zap.Any("panic", r),
			)
		}
	}()
	fn(ctx)
}

var Module = fx.Module("events",
	fx.Provide(NewDispatcher),
)
