package reaper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/hongbao/internal/clock"
	"github.com/smallbiznis/hongbao/internal/config"
	"github.com/smallbiznis/hongbao/internal/events"
	ledgerdomain "github.com/smallbiznis/hongbao/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/hongbao/internal/ledger/service"
	packetdomain "github.com/smallbiznis/hongbao/internal/packet/domain"
	packetservice "github.com/smallbiznis/hongbao/internal/packet/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	reaper     *Reaper
	packets    packetdomain.Service
	ledger     ledgerdomain.Service
	dispatcher *events.Dispatcher
	clk        *clock.FakeClock
	node       *snowflake.Node
	ttl        time.Duration
}

func newFixture(t *testing.T) *fixture {
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
		&packetdomain.Packet{},
		&packetdomain.PacketShare{},
		&packetdomain.Claim{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	log := zap.NewNop()
	clk := clock.NewFakeClock(time.Date(2026, 2, 17, 12, 0, 0, 0, time.UTC))
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:    gdb,
		Log:   log,
		GenID: node,
		Clock: clk,
	})
	dispatcher := events.NewDispatcher(log)
	ttl := 24 * time.Hour

	packetSvc := packetservice.NewService(packetservice.Params{
		DB:    gdb,
		Log:   log,
		GenID: node,
		Clock: clk,
		Cfg: config.EngineConfig{
			MaxShareCount:  100,
			MinShareAmount: 1,
			MaxMessageLen:  256,
			PacketTTL:      ttl,
			RewardCurrency: "CNY",
			ClaimRetries:   5,
		},
		LedgerSvc:  ledgerSvc,
		Dispatcher: dispatcher,
	})

	r := New(Params{
		DB:         gdb,
		Log:        log,
		Clock:      clk,
		LedgerSvc:  ledgerSvc,
		Dispatcher: dispatcher,
		Config:     Config{BatchSize: 10},
	})

	return &fixture{
		reaper:     r,
		packets:    packetSvc,
		ledger:     ledgerSvc,
		dispatcher: dispatcher,
		clk:        clk,
		node:       node,
		ttl:        ttl,
	}
}

func (f *fixture) deposit(t *testing.T, userID snowflake.ID, amount int64) {
	t.Helper()
	_, err := f.ledger.Apply(context.Background(), ledgerdomain.ApplyRequest{
		UserID:    userID,
		Currency:  "CNY",
		Amount:    amount,
		EntryType: ledgerdomain.EntryTypeDeposit,
		RelatedID: f.node.Generate(),
	})
	require.NoError(t, err)
}

func (f *fixture) balance(t *testing.T, userID snowflake.ID) int64 {
	t.Helper()
	balance, err := f.ledger.Balance(context.Background(), userID, "CNY")
	require.NoError(t, err)
	return balance
}

func TestRefundAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.node.Generate()
	f.deposit(t, sender, 10000)

	packet, err := f.packets.Create(ctx, packetdomain.CreateRequest{
		SenderID:    sender,
		Currency:    "CNY",
		TotalAmount: 6000,
		ShareCount:  3,
		Policy:      packetdomain.PolicyEven,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4000), f.balance(t, sender))

	var refunds int
	f.dispatcher.SubscribeRefund(func(_ context.Context, ev events.PacketRefunded) {
		refunds++
		assert.Equal(t, int64(6000), ev.Entry.Amount)
	})

	f.clk.Advance(f.ttl + time.Minute)
	require.NoError(t, f.reaper.RunOnce(ctx))

	assert.Equal(t, int64(10000), f.balance(t, sender))
	assert.Equal(t, 1, refunds)

	updated, err := f.packets.Get(ctx, packet.ID)
	require.NoError(t, err)
	assert.Equal(t, packetdomain.StatusExpiredRefunded, updated.Status)
	assert.Equal(t, 0, updated.RemainingShares)
}

func TestRefundIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.node.Generate()
	f.deposit(t, sender, 10000)

	_, err := f.packets.Create(ctx, packetdomain.CreateRequest{
		SenderID:    sender,
		Currency:    "CNY",
		TotalAmount: 6000,
		ShareCount:  3,
		Policy:      packetdomain.PolicyEven,
	})
	require.NoError(t, err)

	f.clk.Advance(f.ttl + time.Minute)
	require.NoError(t, f.reaper.RunOnce(ctx))
	require.NoError(t, f.reaper.RunOnce(ctx))

	assert.Equal(t, int64(10000), f.balance(t, sender))
}

func TestRefundOnlyUnclaimedRemainder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.node.Generate()
	claimer := f.node.Generate()
	f.deposit(t, sender, 10000)

	packet, err := f.packets.Create(ctx, packetdomain.CreateRequest{
		SenderID:    sender,
		Currency:    "CNY",
		TotalAmount: 6000,
		ShareCount:  3,
		Policy:      packetdomain.PolicyEven,
	})
	require.NoError(t, err)

	_, err = f.packets.Claim(ctx, packet.ID, claimer)
	require.NoError(t, err)

	f.clk.Advance(f.ttl + time.Minute)
	require.NoError(t, f.reaper.RunOnce(ctx))

	// One 2000 share claimed, 4000 comes back.
	assert.Equal(t, int64(8000), f.balance(t, sender))
	assert.Equal(t, int64(2000), f.balance(t, claimer))
}

func TestNoRefundBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.node.Generate()
	f.deposit(t, sender, 10000)

	packet, err := f.packets.Create(ctx, packetdomain.CreateRequest{
		SenderID:    sender,
		Currency:    "CNY",
		TotalAmount: 6000,
		ShareCount:  3,
		Policy:      packetdomain.PolicyEven,
	})
	require.NoError(t, err)

	require.NoError(t, f.reaper.RunOnce(ctx))

	assert.Equal(t, int64(4000), f.balance(t, sender))
	updated, err := f.packets.Get(ctx, packet.ID)
	require.NoError(t, err)
	assert.Equal(t, packetdomain.StatusActive, updated.Status)
}

func TestNoRefundAfterDepletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.node.Generate()
	f.deposit(t, sender, 10000)

	packet, err := f.packets.Create(ctx, packetdomain.CreateRequest{
		SenderID:    sender,
		Currency:    "CNY",
		TotalAmount: 6000,
		ShareCount:  3,
		Policy:      packetdomain.PolicyEven,
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.packets.Claim(ctx, packet.ID, f.node.Generate())
		require.NoError(t, err)
	}

	f.clk.Advance(f.ttl + time.Minute)
	require.NoError(t, f.reaper.RunOnce(ctx))

	assert.Equal(t, int64(4000), f.balance(t, sender))
	updated, err := f.packets.Get(ctx, packet.ID)
	require.NoError(t, err)
	assert.Equal(t, packetdomain.StatusDepleted, updated.Status)
}

func TestConcurrentReaperAndClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sender := f.node.Generate()
	f.deposit(t, sender, 10000)

	packet, err := f.packets.Create(ctx, packetdomain.CreateRequest{
		SenderID:    sender,
		Currency:    "CNY",
		TotalAmount: 6000,
		ShareCount:  3,
		Policy:      packetdomain.PolicyEven,
	})
	require.NoError(t, err)

	f.clk.Advance(f.ttl + time.Minute)

	var wg sync.WaitGroup
	start := make(chan struct{})
	claimed := make([]bool, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		assert.NoError(t, f.reaper.RunOnce(ctx))
	}()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			if _, err := f.packets.Claim(ctx, packet.ID, f.node.Generate()); err == nil {
				claimed[i] = true
			}
		}(i)
	}
	close(start)
	wg.Wait()

	// Past expiry no claim may land, and whatever the interleaving, money
	// is conserved: the sender ends whole.
	for i, ok := range claimed {
		assert.False(t, ok, "claim %d landed after expiry", i)
	}
	assert.Equal(t, int64(10000), f.balance(t, sender))

	updated, err := f.packets.Get(ctx, packet.ID)
	require.NoError(t, err)
	assert.Equal(t, packetdomain.StatusExpiredRefunded, updated.Status)
}
