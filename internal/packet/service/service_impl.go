package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hongbao/internal/clock"
	"github.com/smallbiznis/hongbao/internal/config"
	"github.com/smallbiznis/hongbao/internal/events"
	ledgerdomain "github.com/smallbiznis/hongbao/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/hongbao/internal/observability/metrics"
	"github.com/smallbiznis/hongbao/internal/packet/allocator"
	packetdomain "github.com/smallbiznis/hongbao/internal/packet/domain"
	"github.com/smallbiznis/hongbao/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errGuardMiss is an internal compare-and-swap miss on the packet row. The
// enclosing transaction rolls back and the attempt is retried; callers only
// ever see ErrContention.
var errGuardMiss = errors.New("packet_guard_miss")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.EngineConfig
	LedgerSvc  ledgerdomain.Service
	Dispatcher *events.Dispatcher
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	cfg        config.EngineConfig
	ledgerSvc  ledgerdomain.Service
	dispatcher *events.Dispatcher
	metrics    *obsmetrics.Metrics
}

func NewService(p Params) packetdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("packet.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Cfg,
		ledgerSvc:  p.LedgerSvc,
		dispatcher: p.Dispatcher,
		metrics:    p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req packetdomain.CreateRequest) (*packetdomain.Packet, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	shares, err := allocator.Allocate(req.TotalAmount, req.ShareCount, req.Policy, allocator.Config{
		MinShare:           s.cfg.MinShareAmount,
		BombEligibleCounts: s.cfg.BombEligibleCounts,
		BombsPerPacket:     s.cfg.BombsPerPacket,
		BombPenaltyBps:     s.cfg.BombPenaltyBps,
		BombMaxMultiple:    s.cfg.BombMaxMultiple,
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	packet := &packetdomain.Packet{
		ID:              s.genID.Generate(),
		SenderID:        req.SenderID,
		Currency:        strings.TrimSpace(req.Currency),
		TotalAmount:     req.TotalAmount,
		ShareCount:      req.ShareCount,
		Policy:          req.Policy,
		RemainingAmount: req.TotalAmount,
		RemainingShares: req.ShareCount,
		Message:         req.Message,
		Status:          packetdomain.StatusActive,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.cfg.PacketTTL),
	}

	// The funding debit can lose the balance compare-and-swap to a
	// concurrent posting on the same sender account; the transaction is
	// retried whole, like a claim losing the packet guard.
	for attempt := 0; attempt < s.retries(); attempt++ {
		err = s.createOnce(ctx, packet, shares)
		if !errors.Is(err, ledgerdomain.ErrBalanceConflict) {
			break
		}
	}
	if errors.Is(err, ledgerdomain.ErrBalanceConflict) {
		return nil, packetdomain.ErrContention
	}
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordPacketCreated(string(packet.Policy))
	}
	s.log.Info("packet created",
		zap.String("packet_id", packet.ID.String()),
		zap.String("sender_id", packet.SenderID.String()),
		zap.String("policy", string(packet.Policy)),
		zap.Int64("total_amount", packet.TotalAmount),
		zap.Int("share_count", packet.ShareCount),
	)
	return packet, nil
}

func (s *Service) createOnce(ctx context.Context, packet *packetdomain.Packet, shares []allocator.Share) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ledgerSvc.ApplyTx(ctx, tx, ledgerdomain.ApplyRequest{
			UserID:    packet.SenderID,
			Currency:  packet.Currency,
			Amount:    -packet.TotalAmount,
			EntryType: ledgerdomain.EntryTypePacketSend,
			RelatedID: packet.ID,
			Note:      "packet created",
		}); err != nil {
			return err
		}

		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO packets (
				id, sender_id, currency, total_amount, share_count, policy,
				remaining_amount, remaining_shares, message, status, created_at, expires_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			packet.ID, packet.SenderID, packet.Currency, packet.TotalAmount,
			packet.ShareCount, string(packet.Policy),
			packet.RemainingAmount, packet.RemainingShares,
			packet.Message, string(packet.Status), packet.CreatedAt, packet.ExpiresAt,
		).Error; err != nil {
			return err
		}

		for seq, share := range shares {
			if err := tx.WithContext(ctx).Exec(
				`INSERT INTO packet_shares (packet_id, seq, amount, variant_flag)
				 VALUES (?, ?, ?, ?)`,
				packet.ID, seq, share.Amount, string(share.Variant),
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) Claim(ctx context.Context, packetID, userID snowflake.ID) (*packetdomain.Claim, error) {
	if packetID == 0 {
		return nil, packetdomain.ErrPacketNotFound
	}
	if userID == 0 {
		return nil, packetdomain.ErrInvalidSender
	}

	for attempt := 0; attempt < s.retries(); attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		claim, ev, err := s.claimOnce(ctx, packetID, userID)
		if err == nil {
			// The claim is committed; the fan-out must not die with the
			// request that triggered it.
			s.dispatcher.PublishClaimSettled(context.WithoutCancel(ctx), *ev)
			return claim, nil
		}
		if errors.Is(err, errGuardMiss) || errors.Is(err, ledgerdomain.ErrBalanceConflict) {
			continue
		}
		s.recordRejection(err)
		return nil, err
	}
	s.recordRejection(packetdomain.ErrContention)
	return nil, packetdomain.ErrContention
}

func (s *Service) retries() int {
	if s.cfg.ClaimRetries <= 0 {
		return 5
	}
	return s.cfg.ClaimRetries
}

func (s *Service) recordRejection(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, packetdomain.ErrAlreadyClaimed),
		errors.Is(err, packetdomain.ErrPacketExpired),
		errors.Is(err, packetdomain.ErrPacketDepleted),
		errors.Is(err, packetdomain.ErrContention),
		errors.Is(err, packetdomain.ErrPacketNotFound):
		s.metrics.RecordClaimRejected(err.Error())
	}
}

// claimOnce runs one claim attempt as a single atomic unit: claim insert,
// packet decrement and ledger credit commit together or not at all.
func (s *Service) claimOnce(ctx context.Context, packetID, userID snowflake.ID) (*packetdomain.Claim, *events.ClaimSettled, error) {
	var claim *packetdomain.Claim
	var ev *events.ClaimSettled

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		packet, err := s.findPacket(ctx, tx, packetID)
		if err != nil {
			return err
		}

		switch packet.Status {
		case packetdomain.StatusDepleted:
			return packetdomain.ErrPacketDepleted
		case packetdomain.StatusExpiredRefunded:
			return packetdomain.ErrPacketExpired
		}
		if !s.clock.Now().Before(packet.ExpiresAt) {
			return packetdomain.ErrPacketExpired
		}
		if packet.RemainingShares <= 0 {
			return packetdomain.ErrPacketDepleted
		}

		share, err := s.findShare(ctx, tx, packetID, packet.ShareCount-packet.RemainingShares)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		claim = &packetdomain.Claim{
			ID:          s.genID.Generate(),
			PacketID:    packetID,
			ClaimerID:   userID,
			Amount:      share.Amount,
			VariantFlag: share.VariantFlag,
			ClaimedAt:   now,
		}
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO claims (id, packet_id, claimer_id, amount, variant_flag, claimed_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			claim.ID, claim.PacketID, claim.ClaimerID, claim.Amount,
			string(claim.VariantFlag), claim.ClaimedAt,
		).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return packetdomain.ErrAlreadyClaimed
			}
			return err
		}

		newShares := packet.RemainingShares - 1
		newAmount := packet.RemainingAmount - share.Amount
		newStatus := packetdomain.StatusActive
		if newShares == 0 {
			newStatus = packetdomain.StatusDepleted
		}

		// The remaining_shares predicate is the concurrency guard: two
		// racers both read k shares, only one update matches.
		guard := tx.WithContext(ctx).Exec(
			`UPDATE packets
			 SET remaining_shares = ?, remaining_amount = ?, status = ?
			 WHERE id = ? AND remaining_shares = ? AND status = ?`,
			newShares, newAmount, string(newStatus),
			packetID, packet.RemainingShares, string(packetdomain.StatusActive),
		)
		if guard.Error != nil {
			return guard.Error
		}
		if guard.RowsAffected == 0 {
			return errGuardMiss
		}

		entry, err := s.ledgerSvc.ApplyTx(ctx, tx, ledgerdomain.ApplyRequest{
			UserID:        userID,
			Currency:      packet.Currency,
			Amount:        share.Amount,
			EntryType:     ledgerdomain.EntryTypePacketClaim,
			RelatedID:     claim.ID,
			Note:          string(share.VariantFlag),
			AllowNegative: share.VariantFlag == packetdomain.VariantBombHit && s.cfg.AllowBombDebt,
		})
		if err != nil {
			return err
		}

		settled := *packet
		settled.RemainingShares = newShares
		settled.RemainingAmount = newAmount
		settled.Status = newStatus
		ev = &events.ClaimSettled{
			Packet:   settled,
			Claim:    *claim,
			Entry:    *entry,
			Depleted: newStatus == packetdomain.StatusDepleted,
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return claim, ev, nil
}

func (s *Service) Get(ctx context.Context, packetID snowflake.ID) (*packetdomain.Packet, error) {
	return s.findPacket(ctx, s.db, packetID)
}

func (s *Service) ListClaims(ctx context.Context, packetID snowflake.ID) ([]packetdomain.Claim, error) {
	var claims []packetdomain.Claim
	err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM claims WHERE packet_id = ? ORDER BY claimed_at, id`,
		packetID,
	).Scan(&claims).Error
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Service) findPacket(ctx context.Context, tx *gorm.DB, packetID snowflake.ID) (*packetdomain.Packet, error) {
	var packet packetdomain.Packet
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM packets WHERE id = ? LIMIT 1`,
		packetID,
	).Scan(&packet).Error
	if err != nil {
		return nil, err
	}
	if packet.ID == 0 {
		return nil, packetdomain.ErrPacketNotFound
	}
	return &packet, nil
}

func (s *Service) findShare(ctx context.Context, tx *gorm.DB, packetID snowflake.ID, seq int) (*packetdomain.PacketShare, error) {
	var share packetdomain.PacketShare
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM packet_shares WHERE packet_id = ? AND seq = ? LIMIT 1`,
		packetID, seq,
	).Scan(&share).Error
	if err != nil {
		return nil, err
	}
	if share.PacketID == 0 {
		return nil, packetdomain.ErrPacketNotFound
	}
	return &share, nil
}

func (s *Service) validateCreate(req packetdomain.CreateRequest) error {
	if req.SenderID == 0 {
		return packetdomain.ErrInvalidSender
	}
	if strings.TrimSpace(req.Currency) == "" {
		return packetdomain.ErrInvalidCurrency
	}
	switch req.Policy {
	case packetdomain.PolicyEven, packetdomain.PolicyRandom, packetdomain.PolicyBomb, packetdomain.PolicyLucky:
	default:
		return packetdomain.ErrInvalidPolicy
	}
	if req.ShareCount < 1 || req.ShareCount > s.cfg.MaxShareCount {
		return packetdomain.ErrInvalidShareCount
	}
	if req.TotalAmount < int64(req.ShareCount)*s.cfg.MinShareAmount {
		return packetdomain.ErrInvalidTotalAmount
	}
	if len(req.Message) > s.cfg.MaxMessageLen {
		return packetdomain.ErrMessageTooLong
	}
	return nil
}
