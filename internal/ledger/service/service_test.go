package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/hongbao/internal/clock"
	ledgerdomain "github.com/smallbiznis/hongbao/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, gdb.AutoMigrate(
		&ledgerdomain.Account{},
		&ledgerdomain.LedgerEntry{},
	))
	return gdb
}

func newTestService(t *testing.T) (ledgerdomain.Service, *snowflake.Node) {
	t.Helper()

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    newTestDB(t),
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewSystemClock(),
	})
	return svc, node
}

func TestApplyStampsEntriesWithClock(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	frozen := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	svc := NewService(Params{
		DB:    newTestDB(t),
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(frozen),
	})

	entry, err := svc.Apply(context.Background(), ledgerdomain.ApplyRequest{
		UserID:    node.Generate(),
		Currency:  "CNY",
		Amount:    700,
		EntryType: ledgerdomain.EntryTypeDeposit,
		RelatedID: node.Generate(),
	})
	require.NoError(t, err)
	assert.True(t, entry.CreatedAt.Equal(frozen))
}

func TestApplyCreditCreatesAccount(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()

	entry, err := svc.Apply(ctx, ledgerdomain.ApplyRequest{
		UserID:    userID,
		Currency:  "CNY",
		Amount:    1500,
		EntryType: ledgerdomain.EntryTypeDeposit,
		RelatedID: node.Generate(),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), entry.BalanceBefore)
	assert.Equal(t, int64(1500), entry.BalanceAfter)

	balance, err := svc.Balance(ctx, userID, "CNY")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), balance)
}

func TestApplyDebitBelowFloorRejected(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()

	_, err := svc.Apply(ctx, ledgerdomain.ApplyRequest{
		UserID:    userID,
		Currency:  "CNY",
		Amount:    1000,
		EntryType: ledgerdomain.EntryTypeDeposit,
		RelatedID: node.Generate(),
	})
	require.NoError(t, err)

	_, err = svc.Apply(ctx, ledgerdomain.ApplyRequest{
		UserID:    userID,
		Currency:  "CNY",
		Amount:    -1001,
		EntryType: ledgerdomain.EntryTypePacketSend,
		RelatedID: node.Generate(),
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrInsufficientBalance)

	// The failed debit must leave the balance untouched.
	balance, err := svc.Balance(ctx, userID, "CNY")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)
}

func TestApplyAllowNegativeOverridesFloor(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()

	entry, err := svc.Apply(ctx, ledgerdomain.ApplyRequest{
		UserID:        userID,
		Currency:      "CNY",
		Amount:        -300,
		EntryType:     ledgerdomain.EntryTypePacketClaim,
		RelatedID:     node.Generate(),
		AllowNegative: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-300), entry.BalanceAfter)

	balance, err := svc.Balance(ctx, userID, "CNY")
	require.NoError(t, err)
	assert.Equal(t, int64(-300), balance)
}

func TestApplyIdempotentReplay(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()
	relatedID := node.Generate()

	req := ledgerdomain.ApplyRequest{
		UserID:    userID,
		Currency:  "CNY",
		Amount:    800,
		EntryType: ledgerdomain.EntryTypeInviteBonus,
		RelatedID: relatedID,
	}

	first, err := svc.Apply(ctx, req)
	require.NoError(t, err)

	second, err := svc.Apply(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.BalanceAfter, second.BalanceAfter)

	balance, err := svc.Balance(ctx, userID, "CNY")
	require.NoError(t, err)
	assert.Equal(t, int64(800), balance)
}

func TestHistoryReconstructsBalance(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()
	userID := node.Generate()

	amounts := []int64{500, -200, 1000, -50}
	for _, amount := range amounts {
		_, err := svc.Apply(ctx, ledgerdomain.ApplyRequest{
			UserID:        userID,
			Currency:      "CNY",
			Amount:        amount,
			EntryType:     ledgerdomain.EntryTypePacketClaim,
			RelatedID:     node.Generate(),
			AllowNegative: true,
		})
		require.NoError(t, err)
	}

	entries, err := svc.History(ctx, userID, "CNY", 10)
	require.NoError(t, err)
	require.Len(t, entries, len(amounts))

	// Newest first; each snapshot chains onto the previous one.
	var replayed int64
	for i := len(entries) - 1; i >= 0; i-- {
		assert.Equal(t, replayed, entries[i].BalanceBefore)
		replayed += entries[i].Amount
		assert.Equal(t, replayed, entries[i].BalanceAfter)
	}

	balance, err := svc.Balance(ctx, userID, "CNY")
	require.NoError(t, err)
	assert.Equal(t, replayed, balance)
}

func TestApplyValidation(t *testing.T) {
	svc, node := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  ledgerdomain.ApplyRequest
		want error
	}{
		{
			name: "missing user",
			req: ledgerdomain.ApplyRequest{
				Currency: "CNY", Amount: 100,
				EntryType: ledgerdomain.EntryTypeDeposit, RelatedID: node.Generate(),
			},
			want: ledgerdomain.ErrInvalidUser,
		},
		{
			name: "missing currency",
			req: ledgerdomain.ApplyRequest{
				UserID: node.Generate(), Amount: 100,
				EntryType: ledgerdomain.EntryTypeDeposit, RelatedID: node.Generate(),
			},
			want: ledgerdomain.ErrInvalidCurrency,
		},
		{
			name: "zero amount",
			req: ledgerdomain.ApplyRequest{
				UserID: node.Generate(), Currency: "CNY",
				EntryType: ledgerdomain.EntryTypeDeposit, RelatedID: node.Generate(),
			},
			want: ledgerdomain.ErrInvalidAmount,
		},
		{
			name: "missing entry type",
			req: ledgerdomain.ApplyRequest{
				UserID: node.Generate(), Currency: "CNY", Amount: 100,
				RelatedID: node.Generate(),
			},
			want: ledgerdomain.ErrInvalidEntryType,
		},
		{
			name: "missing related id",
			req: ledgerdomain.ApplyRequest{
				UserID: node.Generate(), Currency: "CNY", Amount: 100,
				EntryType: ledgerdomain.EntryTypeDeposit,
			},
			want: ledgerdomain.ErrInvalidRelatedID,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Apply(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
