package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"autotrade-core/internal/events"
	"autotrade-core/internal/fee"
	"autotrade-core/internal/monitor"
	"autotrade-core/internal/order"
	"autotrade-core/internal/portfolio"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/crypto"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/exchanges/common"
	"autotrade-core/pkg/logger"
	"autotrade-core/pkg/market"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultUserTimeout = 30 * time.Second
)

// Config wires the scheduler's collaborators.
type Config struct {
	DB          *db.Database
	Sealer      *crypto.Sealer
	Gateway     common.Gateway
	Evaluator   *strategy.Evaluator
	Executor    *order.Executor
	Bus         *events.Bus
	Metrics     *monitor.SystemMetrics
	Clock       Clock
	Interval    time.Duration
	UserTimeout time.Duration
}

// Scheduler evaluates every active user on a fixed interval.
type Scheduler struct {
	cfg      Config
	inFlight atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// TickReport summarizes one pass over all active users.
type TickReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Skipped   bool          `json:"skipped"`
	Users     []UserReport  `json:"users"`
}

// UserReport is the per-user part of a TickReport.
type UserReport struct {
	UserID  string `json:"user_id"`
	Markets int    `json:"markets"`
	Signals int    `json:"signals"`
	Orders  int    `json:"orders"`
	Failed  int    `json:"failed"`
	Error   string `json:"error,omitempty"`
}

func New(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.UserTimeout <= 0 {
		cfg.UserTimeout = DefaultUserTimeout
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = strategy.NewEvaluator(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = monitor.NewSystemMetrics()
	}
	// Cooldowns compare against last_trade_at, so both sides read one clock.
	if cfg.Executor != nil {
		cfg.Executor.SetClock(cfg.Clock.Now)
	}
	return &Scheduler{cfg: cfg}
}

// Start runs ticks until Stop or ctx cancellation. Each tick runs in its own
// goroutine; a tick that finds the previous one still running is skipped.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					s.Tick(ctx)
				}()
			}
		}
	}()
	logger.Infof("scheduler started (interval: %v, user timeout: %v)", s.cfg.Interval, s.cfg.UserTimeout)
}

// Stop cancels the loop and waits for in-flight ticks to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	logger.Infof("scheduler stopped")
}

// Running reports whether a tick is currently in flight.
func (s *Scheduler) Running() bool { return s.inFlight.Load() }

// Tick runs one pass. Users are processed sequentially, each under its own
// timeout; a failing user never stops the others.
func (s *Scheduler) Tick(ctx context.Context) TickReport {
	report := TickReport{StartedAt: s.cfg.Clock.Now()}
	if !s.inFlight.CompareAndSwap(false, true) {
		s.cfg.Metrics.IncrementSkippedTicks()
		logger.Warnf("previous tick still running; skipping")
		report.Skipped = true
		return report
	}
	defer s.inFlight.Store(false)
	s.cfg.Metrics.IncrementTicks()
	start := time.Now()

	active, err := s.cfg.DB.Settings().GetActiveSettings(ctx)
	if err != nil {
		logger.Errorf("load active settings: %v", err)
		return report
	}
	for _, st := range active {
		if ctx.Err() != nil {
			break
		}
		report.Users = append(report.Users, s.runUser(ctx, st))
	}

	report.Duration = time.Since(start)
	s.cfg.Metrics.TickLatency.RecordDuration(report.Duration)
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(events.EventTickCompleted, "", report)
	}
	return report
}

func (s *Scheduler) runUser(parent context.Context, st db.TradingSettings) (ur UserReport) {
	ur.UserID = st.UserID
	log := logger.With("user", st.UserID)
	ctx, cancel := context.WithTimeout(parent, s.cfg.UserTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.cfg.Metrics.IncrementUserErrors()
			ur.Error = fmt.Sprintf("panic: %v", r)
			log.Errorf("recovered from panic: %v", r)
		}
	}()

	if err := s.processUser(ctx, log, st, &ur); err != nil {
		s.cfg.Metrics.IncrementUserErrors()
		ur.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) || common.IsTransient(err) {
			log.Warnf("cycle aborted: %v", err)
		} else {
			log.Errorf("cycle failed: %v", err)
		}
	}
	return ur
}

func (s *Scheduler) processUser(ctx context.Context, log *zap.SugaredLogger, st db.TradingSettings, ur *UserReport) error {
	creds, err := s.cfg.DB.Credentials(s.cfg.Sealer).Get(ctx, st.UserID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && creds.Empty()) {
		log.Debugf("no credentials; skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	kind, err := strategy.ParseKind(st.Strategy)
	if err != nil {
		return err
	}

	plan := portfolio.Allocate(st.TargetAmount, st.Market, portfolio.Pair(st.PortfolioMarkets, st.PortfolioAllocations))
	if len(plan) == 0 {
		log.Warnf("no market meets the minimum order of %.0f %s", market.MinOrderValue, market.QuoteCurrency)
		return nil
	}
	krw, err := s.cfg.Gateway.Balance(ctx, creds, market.QuoteCurrency)
	if err != nil {
		return fmt.Errorf("fetch %s balance: %w", market.QuoteCurrency, err)
	}

	u := userRun{
		settings: st,
		creds:    creds,
		kind:     kind,
		preset:   s.cfg.Evaluator.Preset(kind),
		fee:      fee.New(st.FeeRate),
		krw:      krw,
	}
	for _, alloc := range plan {
		ur.Markets++
		if err := s.processMarket(ctx, &u, alloc, ur); err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.With("market", alloc.Market).Warnf("skip market: %v", err)
		}
	}
	return nil
}

// userRun carries per-user state across that user's markets within one tick.
type userRun struct {
	settings db.TradingSettings
	creds    common.Credentials
	kind     strategy.Kind
	preset   strategy.Preset
	fee      fee.Model
	krw      float64
}

func (s *Scheduler) processMarket(ctx context.Context, u *userRun, alloc portfolio.Allocation, ur *UserReport) error {
	st := u.settings
	log := logger.With("user", st.UserID, "market", alloc.Market)
	ms, err := s.cfg.DB.Settings().GetMarketState(ctx, st.UserID, alloc.Market)
	if err != nil {
		return err
	}

	fetchStart := time.Now()
	price, err := s.cfg.Gateway.Ticker(ctx, alloc.Market)
	if err != nil {
		return fmt.Errorf("ticker: %w", err)
	}
	var candles []market.Candle
	if u.preset.CandleCount > 0 {
		candles, err = s.cfg.Gateway.Candles(ctx, alloc.Market, u.preset.Resolution, u.preset.CandleCount)
		if err != nil {
			return fmt.Errorf("candles: %w", err)
		}
	}
	holdings, err := s.cfg.Gateway.Balance(ctx, u.creds, market.Currency(alloc.Market))
	if err != nil {
		return fmt.Errorf("asset balance: %w", err)
	}
	s.cfg.Metrics.GatewayLatency.RecordDuration(time.Since(fetchStart))

	in := strategy.Input{
		Kind: u.kind,
		Params: strategy.Params{
			BuyThreshold:      st.BuyThreshold,
			SellThreshold:     st.SellThreshold,
			TargetAmount:      alloc.Amount,
			GridStepPercent:   st.GridStepPercent,
			StopLossPercent:   st.StopLossPercent,
			TakeProfitPercent: st.TakeProfitPercent,
		},
		State: strategy.State{
			Market:         alloc.Market,
			ReferencePrice: ms.ReferencePrice,
			EntryPrice:     ms.EntryPrice,
			LastTradeAt:    ms.LastTradeAt,
			KRWBalance:     u.krw,
			AssetBalance:   holdings,
		},
		Price:   price,
		Candles: candles,
		Fee:     u.fee,
		Now:     s.cfg.Clock.Now(),
	}
	sig, delta := s.cfg.Evaluator.Evaluate(in)
	s.cfg.Metrics.IncrementEvaluations()

	if delta.InitializeOnly {
		if _, err := s.cfg.DB.Settings().InitializeReference(ctx, st.UserID, alloc.Market, delta.ReferencePrice); err != nil {
			return err
		}
		log.Infof("reference initialized at %.8g", delta.ReferencePrice)
		return nil
	}
	if sig.Action == strategy.ActionHold {
		log.Debugf("hold: %s %s", sig.Reason, sig.Note)
		return nil
	}

	ur.Signals++
	s.cfg.Metrics.IncrementSignals()
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(events.EventSignal, st.UserID, events.SignalPayload{
			Market:   alloc.Market,
			Strategy: string(u.kind),
			Action:   string(sig.Action),
			Amount:   sig.Amount,
			Volume:   sig.Volume,
			Reason:   sig.Reason,
			Price:    price,
		})
	}

	if s.cfg.Executor == nil {
		return errors.New("no executor configured")
	}
	_, err = s.cfg.Executor.Execute(ctx, order.Request{
		UserID:      st.UserID,
		Credentials: u.creds,
		Market:      alloc.Market,
		Strategy:    string(u.kind),
		Signal:      sig,
		Delta:       delta,
		Price:       price,
		FeeRate:     u.fee.Rate,
		Holdings:    holdings,
		LastTradeAt: ms.LastTradeAt,
	})
	if errors.Is(err, order.ErrSlotTaken) {
		return nil
	}
	ur.Orders++
	if err != nil {
		ur.Failed++
		return err
	}
	if sig.Action == strategy.ActionBuy {
		u.krw -= sig.Amount + u.fee.Fee(sig.Amount)
	}
	return nil
}
