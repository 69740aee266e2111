package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/hongbao/internal/clock"
	ledgerdomain "github.com/smallbiznis/hongbao/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const applyRetries = 3

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (s *Service) Apply(ctx context.Context, req ledgerdomain.ApplyRequest) (*ledgerdomain.LedgerEntry, error) {
	var entry *ledgerdomain.LedgerEntry
	var err error
	for attempt := 0; attempt < applyRetries; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var txErr error
			entry, txErr = s.ApplyTx(ctx, tx, req)
			return txErr
		})
		if err != ledgerdomain.ErrBalanceConflict {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Service) ApplyTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.ApplyRequest) (*ledgerdomain.LedgerEntry, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	if err := s.ensureAccount(ctx, tx, req.UserID, req.Currency); err != nil {
		return nil, err
	}

	var balance int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT balance FROM accounts WHERE user_id = ? AND currency = ?`,
		req.UserID, req.Currency,
	).Scan(&balance).Error; err != nil {
		return nil, err
	}

	after := balance + req.Amount
	if after < 0 && !req.AllowNegative {
		return nil, ledgerdomain.ErrInsufficientBalance
	}

	now := s.clock.Now()
	entry := &ledgerdomain.LedgerEntry{
		ID:            s.genID.Generate(),
		UserID:        req.UserID,
		Currency:      req.Currency,
		Amount:        req.Amount,
		BalanceBefore: balance,
		BalanceAfter:  after,
		EntryType:     req.EntryType,
		RelatedID:     req.RelatedID,
		Note:          req.Note,
		CreatedAt:     now,
	}

	result := tx.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (
			id, user_id, currency, amount, balance_before, balance_after,
			entry_type, related_id, note, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, entry_type, related_id) DO NOTHING`,
		entry.ID, entry.UserID, entry.Currency, entry.Amount,
		entry.BalanceBefore, entry.BalanceAfter,
		string(entry.EntryType), entry.RelatedID, entry.Note, entry.CreatedAt,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		// Replay of an already-posted mutation: return what was written
		// the first time and leave the balance untouched.
		existing, err := s.findEntry(ctx, tx, req.UserID, req.EntryType, req.RelatedID)
		if err != nil {
			return nil, err
		}
		s.log.Debug("ledger entry replayed",
			zap.String("user_id", req.UserID.String()),
			zap.String("entry_type", string(req.EntryType)),
			zap.String("related_id", req.RelatedID.String()),
		)
		return existing, nil
	}

	update := tx.WithContext(ctx).Exec(
		`UPDATE accounts SET balance = ?, updated_at = ?
		 WHERE user_id = ? AND currency = ? AND balance = ?`,
		after, now, req.UserID, req.Currency, balance,
	)
	if update.Error != nil {
		return nil, update.Error
	}
	if update.RowsAffected == 0 {
		return nil, ledgerdomain.ErrBalanceConflict
	}

	return entry, nil
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID, currency string) (int64, error) {
	if userID == 0 {
		return 0, ledgerdomain.ErrInvalidUser
	}
	currency = strings.TrimSpace(currency)
	if currency == "" {
		return 0, ledgerdomain.ErrInvalidCurrency
	}

	var balance int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT balance FROM accounts WHERE user_id = ? AND currency = ?`,
		userID, currency,
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *Service) History(ctx context.Context, userID snowflake.ID, currency string, limit int) ([]ledgerdomain.LedgerEntry, error) {
	if userID == 0 {
		return nil, ledgerdomain.ErrInvalidUser
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT * FROM ledger_entries WHERE user_id = ?`
	args := []any{userID}
	currency = strings.TrimSpace(currency)
	if currency != "" {
		query += ` AND currency = ?`
		args = append(args, currency)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	var entries []ledgerdomain.LedgerEntry
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) ensureAccount(ctx context.Context, tx *gorm.DB, userID snowflake.ID, currency string) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO accounts (user_id, currency, balance, updated_at)
		 VALUES (?, ?, 0, ?)
		 ON CONFLICT (user_id, currency) DO NOTHING`,
		userID, currency, s.clock.Now(),
	).Error
}

func (s *Service) findEntry(ctx context.Context, tx *gorm.DB, userID snowflake.ID, entryType ledgerdomain.EntryType, relatedID snowflake.ID) (*ledgerdomain.LedgerEntry, error) {
	var entry ledgerdomain.LedgerEntry
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM ledger_entries
		 WHERE user_id = ? AND entry_type = ? AND related_id = ?
		 LIMIT 1`,
		userID, string(entryType), relatedID,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &entry, nil
}

func validate(req ledgerdomain.ApplyRequest) error {
	if req.UserID == 0 {
		return ledgerdomain.ErrInvalidUser
	}
	if strings.TrimSpace(req.Currency) == "" {
		return ledgerdomain.ErrInvalidCurrency
	}
	if req.Amount == 0 {
		return ledgerdomain.ErrInvalidAmount
	}
	if req.EntryType == "" {
		return ledgerdomain.ErrInvalidEntryType
	}
	if req.RelatedID == 0 {
		return ledgerdomain.ErrInvalidRelatedID
	}
	return nil
}
