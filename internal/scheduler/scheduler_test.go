package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autotrade-core/internal/events"
	"autotrade-core/internal/monitor"
	"autotrade-core/internal/order"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/crypto"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/exchanges/common"
	"autotrade-core/pkg/exchanges/paper"
	"autotrade-core/pkg/market"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	ticker *fakeTicker
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.ticker = &fakeTicker{ch: make(chan time.Time, 1)}
	return c.ticker
}

type fakeTicker struct{ ch chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

type priceFeed struct {
	mu    sync.Mutex
	price float64
}

func (f *priceFeed) set(p float64) {
	f.mu.Lock()
	f.price = p
	f.mu.Unlock()
}

func (f *priceFeed) Ticker(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.price, nil
}

func (f *priceFeed) Candles(context.Context, string, market.Resolution, int) ([]market.Candle, error) {
	return nil, nil
}

type fixture struct {
	sched *Scheduler
	db    *db.Database
	feed  *priceFeed
	clock *fakeClock
	bus   *events.Bus
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	feed := &priceFeed{price: 100000}
	f := newFixtureWithFeed(t, feed)
	f.feed = feed
	return f
}

func newFixtureWithFeed(t testing.TB, data common.MarketData) *fixture {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.ApplyMigrations(database))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sealer, err := crypto.NewSealer(map[int][]byte{1: key})
	require.NoError(t, err)

	gw := paper.New(data, paper.Config{InitialBalance: 1_000_000, FeeRate: 0.0005})
	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()
	clock := &fakeClock{now: time.Now()}

	executor := order.NewExecutor(database, gw, bus, metrics)
	sched := New(Config{
		DB:        database,
		Sealer:    sealer,
		Gateway:   gw,
		Evaluator: strategy.NewEvaluator(nil),
		Executor:  executor,
		Bus:       bus,
		Metrics:   metrics,
		Clock:     clock,
	})
	return &fixture{sched: sched, db: database, clock: clock, bus: bus}
}

func (f *fixture) addUser(t testing.TB, userID, strategyName string, withCreds bool) {
	t.Helper()
	ctx := context.Background()
	active := true
	_, err := f.db.Settings().UpdateSettings(ctx, userID, db.SettingsPatch{Active: &active, Strategy: &strategyName})
	require.NoError(t, err)
	if withCreds {
		require.NoError(t, f.db.Credentials(f.sched.cfg.Sealer).Save(ctx, userID,
			common.Credentials{AccessKey: "ak-" + userID, SecretKey: "sk-" + userID}))
	}
}

func TestTickPercentLifecycle(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "percent", true)
	ctx := context.Background()

	// First cycle only records the reference price.
	rep := f.sched.Tick(ctx)
	require.Len(t, rep.Users, 1)
	assert.Zero(t, rep.Users[0].Orders)
	ms, err := f.db.Settings().GetMarketState(ctx, "u1", "KRW-BTC")
	require.NoError(t, err)
	assert.Equal(t, 100000.0, ms.ReferencePrice)

	// 1% drop buys.
	f.feed.set(99000)
	f.clock.Advance(10 * time.Second)
	rep = f.sched.Tick(ctx)
	assert.Equal(t, 1, rep.Users[0].Orders)
	assert.Empty(t, rep.Users[0].Error)

	// Still inside the 30s cooldown.
	f.feed.set(98000)
	f.clock.Advance(time.Second)
	rep = f.sched.Tick(ctx)
	assert.Zero(t, rep.Users[0].Orders)

	f.clock.Advance(31 * time.Second)
	rep = f.sched.Tick(ctx)
	assert.Equal(t, 1, rep.Users[0].Orders)

	logs, err := f.db.TradeLogs().List(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
	for _, e := range logs {
		assert.Equal(t, db.StatusSuccess, e.Status)
		assert.Equal(t, db.SideBid, e.Side)
	}
}

func TestExecutorStampsSchedulerClock(t *testing.T) {
	f := newFixture(t)
	f.clock.now = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	f.addUser(t, "u1", "percent", true)
	ctx := context.Background()

	f.sched.Tick(ctx)
	f.feed.set(99000)
	f.clock.Advance(10 * time.Second)
	rep := f.sched.Tick(ctx)
	require.Equal(t, 1, rep.Users[0].Orders)

	ms, err := f.db.Settings().GetMarketState(ctx, "u1", "KRW-BTC")
	require.NoError(t, err)
	assert.True(t, f.clock.Now().Equal(ms.LastTradeAt), "last_trade_at %v, clock %v", ms.LastTradeAt, f.clock.Now())
}

func TestTickIsolatesFailingUsers(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "broken", "martingale", true)
	f.addUser(t, "nokeys", "percent", false)
	f.addUser(t, "ok", "percent", true)

	rep := f.sched.Tick(context.Background())
	require.Len(t, rep.Users, 3)
	byUser := map[string]UserReport{}
	for _, u := range rep.Users {
		byUser[u.UserID] = u
	}
	assert.NotEmpty(t, byUser["broken"].Error)
	assert.Empty(t, byUser["nokeys"].Error)
	assert.Zero(t, byUser["nokeys"].Markets)
	assert.Equal(t, 1, byUser["ok"].Markets)

	ms, err := f.db.Settings().GetMarketState(context.Background(), "ok", "KRW-BTC")
	require.NoError(t, err)
	assert.Equal(t, 100000.0, ms.ReferencePrice)
}

func TestTickSkipsWhenBusy(t *testing.T) {
	f := newFixture(t)
	f.sched.inFlight.Store(true)
	rep := f.sched.Tick(context.Background())
	assert.True(t, rep.Skipped)
	assert.Equal(t, uint64(1), f.sched.cfg.Metrics.GetSnapshot().TicksSkipped)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "u1", "percent", true)
	stream, unsub := f.bus.Subscribe(4, events.EventTickCompleted)
	defer unsub()

	f.sched.Start(context.Background())
	f.clock.ticker.ch <- time.Now()

	select {
	case msg := <-stream:
		rep, ok := msg.Payload.(TickReport)
		require.True(t, ok)
		assert.Len(t, rep.Users, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not run")
	}
	f.sched.Stop()
	assert.False(t, f.sched.Running())
}
