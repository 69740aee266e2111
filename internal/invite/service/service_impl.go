package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hongbao/internal/clock"
	"github.com/smallbiznis/hongbao/internal/config"
	"github.com/smallbiznis/hongbao/internal/events"
	invitedomain "github.com/smallbiznis/hongbao/internal/invite/domain"
	ledgerdomain "github.com/smallbiznis/hongbao/internal/ledger/domain"
	"github.com/smallbiznis/hongbao/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const bindRetries = 3

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.EngineConfig
	LedgerSvc  ledgerdomain.Service
	Dispatcher *events.Dispatcher
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	cfg       config.EngineConfig
	ledgerSvc ledgerdomain.Service
}

func NewService(p Params) invitedomain.Service {
	s := &Service{
		db:        p.DB,
		log:       p.Log.Named("invite.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		cfg:       p.Cfg,
		ledgerSvc: p.LedgerSvc,
	}
	p.Dispatcher.SubscribeClaim(s.onClaimSettled)
	return s
}

func (s *Service) Bind(ctx context.Context, inviteeID, inviterID snowflake.ID) (*invitedomain.InviteRelation, error) {
	if inviteeID == 0 {
		return nil, invitedomain.ErrInvalidInvitee
	}
	if inviterID == 0 {
		return nil, invitedomain.ErrInvalidInviter
	}
	if inviteeID == inviterID {
		return nil, invitedomain.ErrSelfInvite
	}

	relation := &invitedomain.InviteRelation{
		InviteeID: inviteeID,
		InviterID: inviterID,
		CreatedAt: s.clock.Now(),
	}

	// Bonus credits land on hot accounts (one inviter, many invitees), so
	// a balance compare-and-swap miss inside the transaction is retried
	// the same way ledger.Apply retries it.
	var err error
	for attempt := 0; attempt < bindRetries; attempt++ {
		err = s.bindOnce(ctx, relation)
		if !errors.Is(err, ledgerdomain.ErrBalanceConflict) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	s.log.Info("invite bound",
		zap.String("invitee_id", inviteeID.String()),
		zap.String("inviter_id", inviterID.String()),
	)
	return relation, nil
}

func (s *Service) bindOnce(ctx context.Context, relation *invitedomain.InviteRelation) error {
	inviteeID := relation.InviteeID
	inviterID := relation.InviterID

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO invite_relations (invitee_id, inviter_id, created_at)
			 VALUES (?, ?, ?)`,
			relation.InviteeID, relation.InviterID, relation.CreatedAt,
		).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				return invitedomain.ErrAlreadyBound
			}
			return err
		}

		if s.cfg.InviterBonus > 0 {
			if _, err := s.ledgerSvc.ApplyTx(ctx, tx, ledgerdomain.ApplyRequest{
				UserID:    inviterID,
				Currency:  s.cfg.RewardCurrency,
				Amount:    s.cfg.InviterBonus,
				EntryType: ledgerdomain.EntryTypeInviteBonus,
				RelatedID: inviteeID,
				Note:      "invite bonus (inviter)",
			}); err != nil {
				return err
			}
		}
		if s.cfg.InviteeBonus > 0 {
			if _, err := s.ledgerSvc.ApplyTx(ctx, tx, ledgerdomain.ApplyRequest{
				UserID:    inviteeID,
				Currency:  s.cfg.RewardCurrency,
				Amount:    s.cfg.InviteeBonus,
				EntryType: ledgerdomain.EntryTypeInviteBonus,
				RelatedID: inviteeID,
				Note:      "invite bonus (invitee)",
			}); err != nil {
				return err
			}
		}

		return s.settleMilestones(ctx, tx, inviterID)
	})
}

func (s *Service) InviterOf(ctx context.Context, userID snowflake.ID) (snowflake.ID, error) {
	if userID == 0 {
		return 0, invitedomain.ErrInvalidInvitee
	}
	var inviterID snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT inviter_id FROM invite_relations WHERE invitee_id = ?`,
		userID,
	).Scan(&inviterID).Error
	if err != nil {
		return 0, err
	}
	if inviterID == 0 {
		return 0, invitedomain.ErrRelationNotFound
	}
	return inviterID, nil
}

func (s *Service) InviteCount(ctx context.Context, inviterID snowflake.ID) (int, error) {
	var count int
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM invite_relations WHERE inviter_id = ?`,
		inviterID,
	).Scan(&count).Error
	return count, err
}

// settleMilestones pays every threshold the counter has reached and not yet
// paid. The insert's unique key absorbs races: losing a race means the
// milestone was paid by the other transaction.
func (s *Service) settleMilestones(ctx context.Context, tx *gorm.DB, inviterID snowflake.ID) error {
	var count int
	if err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM invite_relations WHERE inviter_id = ?`,
		inviterID,
	).Scan(&count).Error; err != nil {
		return err
	}

	for _, milestone := range s.cfg.Milestones {
		if count < milestone.Threshold || milestone.Bonus <= 0 {
			continue
		}

		rowID := s.genID.Generate()
		result := tx.WithContext(ctx).Exec(
			`INSERT INTO invite_milestones (id, inviter_id, threshold, bonus, created_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (inviter_id, threshold) DO NOTHING`,
			rowID, inviterID, milestone.Threshold, milestone.Bonus, s.clock.Now(),
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			continue
		}

		if _, err := s.ledgerSvc.ApplyTx(ctx, tx, ledgerdomain.ApplyRequest{
			UserID:    inviterID,
			Currency:  s.cfg.RewardCurrency,
			Amount:    milestone.Bonus,
			EntryType: ledgerdomain.EntryTypeInviteMilestone,
			RelatedID: rowID,
			Note:      "invite milestone",
		}); err != nil {
			return err
		}
		s.log.Info("invite milestone paid",
			zap.String("inviter_id", inviterID.String()),
			zap.Int("threshold", milestone.Threshold),
			zap.Int64("bonus", milestone.Bonus),
		)
	}
	return nil
}

// onClaimSettled pays claim commissions up to two inviter tiers. It runs
// post-commit and best-effort: failures are logged, never retried in place,
// and safe to recompute because commission entries are keyed by claim id.
func (s *Service) onClaimSettled(ctx context.Context, ev events.ClaimSettled) {
	if ev.Claim.Amount <= 0 {
		return
	}

	inviterID, err := s.InviterOf(ctx, ev.Claim.ClaimerID)
	if err != nil {
		if err != invitedomain.ErrRelationNotFound {
			s.log.Warn("commission inviter lookup failed", zap.Error(err))
		}
		return
	}

	s.payCommission(ctx, inviterID, ev, s.cfg.CommissionTier1Bps, "claim commission")

	grandInviterID, err := s.InviterOf(ctx, inviterID)
	if err != nil {
		if err != invitedomain.ErrRelationNotFound {
			s.log.Warn("commission inviter lookup failed", zap.Error(err))
		}
		return
	}
	if grandInviterID == ev.Claim.ClaimerID {
		return
	}
	s.payCommission(ctx, grandInviterID, ev, s.cfg.CommissionTier2Bps, "claim commission (tier 2)")
}

func (s *Service) payCommission(ctx context.Context, beneficiaryID snowflake.ID, ev events.ClaimSettled, bps int64, note string) {
	amount := ev.Claim.Amount * bps / 10000
	if amount <= 0 {
		return
	}

	if _, err := s.ledgerSvc.Apply(ctx, ledgerdomain.ApplyRequest{
		UserID:    beneficiaryID,
		Currency:  ev.Packet.Currency,
		Amount:    amount,
		EntryType: ledgerdomain.EntryTypeInviteCommission,
		RelatedID: ev.Claim.ID,
		Note:      note,
	}); err != nil {
		s.log.Warn("commission payout failed",
			zap.String("beneficiary_id", beneficiaryID.String()),
			zap.String("claim_id", ev.Claim.ID.String()),
			zap.Error(err),
		)
	}
}
