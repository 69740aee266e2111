package reaper

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/hongbao/internal/clock"
	"github.com/smallbiznis/hongbao/internal/events"
	ledgerdomain "github.com/smallbiznis/hongbao/internal/ledger/domain"
	packetdomain "github.com/smallbiznis/hongbao/internal/packet/domain"
	"github.com/smallbiznis/hongbao/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const leaderLockKey = "hongbao:reaper:leader"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	LedgerSvc  ledgerdomain.Service
	Dispatcher *events.Dispatcher
	Locker     *ratelimit.Locker `optional:"true"`
	Config     Config            `optional:"true"`
}

// Reaper sweeps expired active packets and refunds their unclaimed
// remainder to the sender, exactly once. It runs on its own schedule,
// independent of claim traffic.
type Reaper struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	clock      clock.Clock
	ledgerSvc  ledgerdomain.Service
	dispatcher *events.Dispatcher
	locker     *ratelimit.Locker
}

func New(p Params) *Reaper {
	return &Reaper{
		db:         p.DB,
		log:        p.Log.Named("reaper"),
		cfg:        p.Config.withDefaults(),
		clock:      p.Clock,
		ledgerSvc:  p.LedgerSvc,
		dispatcher: p.Dispatcher,
		locker:     p.Locker,
	}
}

func (r *Reaper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := r.RunOnce(ctx); err != nil {
			r.log.Warn("sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Reaper) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, r.cfg.SweepTimeout)
	defer cancel()

	if r.locker != nil {
		token, ok, err := r.locker.TryLock(ctx, leaderLockKey, r.cfg.RunInterval)
		if err != nil {
			r.log.Warn("leader lock unavailable, sweeping unguarded", zap.Error(err))
		} else if !ok {
			return nil
		} else {
			defer func() {
				if err := r.locker.Release(ctx, leaderLockKey, token); err != nil {
					r.log.Warn("leader lock release failed", zap.Error(err))
				}
			}()
		}
	}

	var sweepErr error
	for {
		if ctx.Err() != nil {
			return errors.Join(sweepErr, ctx.Err())
		}

		processed, err := r.sweepBatch(ctx)
		if err != nil {
			sweepErr = errors.Join(sweepErr, err)
		}
		if processed == 0 {
			break
		}
	}
	return sweepErr
}

func (r *Reaper) sweepBatch(ctx context.Context) (int, error) {
	now := r.clock.Now()

	var packets []packetdomain.Packet
	err := r.db.WithContext(ctx).Raw(
		`SELECT * FROM packets
		 WHERE status = ? AND expires_at <= ?
		 ORDER BY expires_at
		 LIMIT ?`,
		string(packetdomain.StatusActive), now, r.cfg.BatchSize,
	).Scan(&packets).Error
	if err != nil {
		return 0, err
	}
	if len(packets) == 0 {
		return 0, nil
	}

	processed := 0
	var batchErr error
	for _, packet := range packets {
		if ctx.Err() != nil {
			batchErr = errors.Join(batchErr, ctx.Err())
			break
		}
		refunded, err := r.refund(ctx, packet)
		if err != nil {
			batchErr = errors.Join(batchErr, err)
			r.log.Warn("refund failed",
				zap.String("packet_id", packet.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if refunded {
			processed++
		}
	}
	return processed, batchErr
}

// refund transitions one packet to expired_refunded and credits the
// unclaimed remainder back to the sender, as one transaction. The guard on
// (status, remaining_shares) excludes races with a last-second claim and
// with concurrent sweeps: a packet transitioned elsewhere is skipped.
func (r *Reaper) refund(ctx context.Context, stale packetdomain.Packet) (bool, error) {
	var ev *events.PacketRefunded

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var packet packetdomain.Packet
		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM packets WHERE id = ? LIMIT 1`,
			stale.ID,
		).Scan(&packet).Error; err != nil {
			return err
		}
		if packet.ID == 0 || packet.Status != packetdomain.StatusActive {
			return nil
		}
		if packet.ExpiresAt.After(r.clock.Now()) {
			return nil
		}

		guard := tx.WithContext(ctx).Exec(
			`UPDATE packets SET status = ?, remaining_shares = 0
			 WHERE id = ? AND status = ? AND remaining_shares = ?`,
			string(packetdomain.StatusExpiredRefunded),
			packet.ID, string(packetdomain.StatusActive), packet.RemainingShares,
		)
		if guard.Error != nil {
			return guard.Error
		}
		if guard.RowsAffected == 0 {
			// Lost to a last-second claim or another sweep.
			return nil
		}

		if packet.RemainingAmount <= 0 {
			return nil
		}

		entry, err := r.ledgerSvc.ApplyTx(ctx, tx, ledgerdomain.ApplyRequest{
			UserID:    packet.SenderID,
			Currency:  packet.Currency,
			Amount:    packet.RemainingAmount,
			EntryType: ledgerdomain.EntryTypeExpiryRefund,
			RelatedID: packet.ID,
			Note:      "expired packet refund",
		})
		if err != nil {
			return err
		}

		refunded := packet
		refunded.Status = packetdomain.StatusExpiredRefunded
		refunded.RemainingShares = 0
		ev = &events.PacketRefunded{Packet: refunded, Entry: *entry}
		return nil
	})
	if err != nil {
		return false, err
	}
	if ev == nil {
		return false, nil
	}

	r.dispatcher.PublishPacketRefunded(ctx, *ev)
	r.log.Info("packet refunded",
		zap.String("packet_id", ev.Packet.ID.String()),
		zap.String("sender_id", ev.Packet.SenderID.String()),
		zap.Int64("amount", ev.Entry.Amount),
	)
	return true, nil
}
