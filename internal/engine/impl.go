package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"autotrade-core/internal/backtest"
	"autotrade-core/internal/data"
	"autotrade-core/internal/fee"
	"autotrade-core/internal/indicators"
	"autotrade-core/internal/order"
	"autotrade-core/internal/stats"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/crypto"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/exchanges/common"
	"autotrade-core/pkg/logger"
	"autotrade-core/pkg/market"
)

const (
	maxBacktestDays       = 30
	indicatorCandleCount  = 60
	maxFeeRate            = 0.01
	manualTradeStrategy   = "manual"
	defaultTradeListLimit = 50
)

// Impl implements Service on top of the stores, the gateway and the executor.
type Impl struct {
	db        *db.Database
	sealer    *crypto.Sealer
	gateway   common.Gateway
	evaluator *strategy.Evaluator
	executor  *order.Executor
	history   *data.HistoricalDataService

	meta SystemStatus
}

// Config holds the configuration for creating an engine implementation.
type Config struct {
	DB        *db.Database
	Sealer    *crypto.Sealer
	Gateway   common.Gateway
	Evaluator *strategy.Evaluator
	Executor  *order.Executor
	Meta      SystemStatus
}

var _ Service = (*Impl)(nil)

// NewImpl creates a new engine implementation.
func NewImpl(cfg Config) *Impl {
	if cfg.Evaluator == nil {
		cfg.Evaluator = strategy.NewEvaluator(nil)
	}
	return &Impl{
		db:        cfg.DB,
		sealer:    cfg.Sealer,
		gateway:   cfg.Gateway,
		evaluator: cfg.Evaluator,
		executor:  cfg.Executor,
		history:   data.NewHistoricalDataService(cfg.Gateway),
		meta:      cfg.Meta,
	}
}

// --- Settings ---

// GetSettings returns the stored settings, or the defaults for a user who never saved any.
func (e *Impl) GetSettings(ctx context.Context, userID string) (*db.TradingSettings, error) {
	s, err := e.db.Settings().GetSettings(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		def := db.DefaultSettings(userID)
		return &def, nil
	}
	return s, err
}

func (e *Impl) UpdateSettings(ctx context.Context, userID string, patch db.SettingsPatch) (*db.TradingSettings, error) {
	cur, err := e.GetSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	if patch.Market != nil {
		m := market.Normalize(*patch.Market)
		patch.Market = &m
	}
	if patch.PortfolioMarkets != nil {
		ms := make([]string, len(*patch.PortfolioMarkets))
		for i, m := range *patch.PortfolioMarkets {
			ms[i] = market.Normalize(m)
		}
		patch.PortfolioMarkets = &ms
	}

	strategyChanged := patch.Strategy != nil && *patch.Strategy != cur.Strategy
	if strategyChanged {
		kind, err := strategy.ParseKind(*patch.Strategy)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
		}
		// Thresholds are kind specific; take the new kind's defaults unless given.
		preset := e.evaluator.Preset(kind)
		if patch.BuyThreshold == nil && preset.BuyThreshold > 0 {
			patch.BuyThreshold = &preset.BuyThreshold
		}
		if patch.SellThreshold == nil && preset.SellThreshold > 0 {
			patch.SellThreshold = &preset.SellThreshold
		}
	}

	next := *cur
	patch.Apply(&next)
	if err := validateSettings(next); err != nil {
		return nil, err
	}

	updated, err := e.db.Settings().UpdateSettings(ctx, userID, patch)
	if err != nil {
		return nil, err
	}
	if needsReset(*cur, *updated) {
		if err := e.db.Settings().ResetMarketStates(ctx, userID); err != nil {
			return nil, err
		}
		logger.Infof("user %s: market states reset after settings change", userID)
	}
	return updated, nil
}

// needsReset reports whether the reference prices of old no longer apply to next.
func needsReset(old, next db.TradingSettings) bool {
	if old.Strategy != next.Strategy || old.Market != next.Market || (!old.Active && next.Active) {
		return true
	}
	return strings.Join(old.PortfolioMarkets, ",") != strings.Join(next.PortfolioMarkets, ",")
}

func validateSettings(s db.TradingSettings) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, fmt.Sprintf(format, args...))
	}
	kind, err := strategy.ParseKind(s.Strategy)
	if err != nil {
		return invalid("%v", err)
	}
	if !market.Valid(s.Market) {
		return invalid("market %q is not a %s market", s.Market, market.QuoteCurrency)
	}
	if s.BuyThreshold <= 0 || s.BuyThreshold > 100 || s.SellThreshold <= 0 || s.SellThreshold > 100 {
		return invalid("thresholds must be in (0, 100]")
	}
	if kind == strategy.KindRSI && s.BuyThreshold >= s.SellThreshold {
		return invalid("rsi buy level %.1f must be below sell level %.1f", s.BuyThreshold, s.SellThreshold)
	}
	if s.TargetAmount < market.MinOrderValue {
		return invalid("target amount must be at least %.0f %s", market.MinOrderValue, market.QuoteCurrency)
	}
	if s.FeeRate < 0 || s.FeeRate > maxFeeRate {
		return invalid("fee rate must be in [0, %g]", maxFeeRate)
	}
	for name, v := range map[string]float64{
		"stop loss":   s.StopLossPercent,
		"take profit": s.TakeProfitPercent,
		"grid step":   s.GridStepPercent,
	} {
		if v < 0 || v >= 100 || math.IsNaN(v) {
			return invalid("%s percent must be in [0, 100)", name)
		}
	}
	if len(s.PortfolioAllocations) > 0 && len(s.PortfolioAllocations) != len(s.PortfolioMarkets) {
		return invalid("%d allocations for %d portfolio markets", len(s.PortfolioAllocations), len(s.PortfolioMarkets))
	}
	for _, m := range s.PortfolioMarkets {
		if !market.Valid(m) {
			return invalid("portfolio market %q is not a %s market", m, market.QuoteCurrency)
		}
	}
	for _, w := range s.PortfolioAllocations {
		if w < 0 || math.IsNaN(w) {
			return invalid("portfolio allocations must be non-negative")
		}
	}
	return nil
}

// --- Credentials ---

// SaveCredentials stores creds once the exchange accepts them.
func (e *Impl) SaveCredentials(ctx context.Context, userID string, creds common.Credentials) (common.Verification, error) {
	creds.AccessKey, creds.SecretKey = strings.TrimSpace(creds.AccessKey), strings.TrimSpace(creds.SecretKey)
	if creds.Empty() {
		return common.Verification{Message: "access key and secret key are required"}, fmt.Errorf("%w: missing keys", ErrInvalidRequest)
	}
	v := e.gateway.VerifyCredentials(ctx, creds)
	if !v.Valid {
		return v, ErrInvalidCredentials
	}
	if err := e.db.Credentials(e.sealer).Save(ctx, userID, creds); err != nil {
		return v, err
	}
	return v, nil
}

func (e *Impl) VerifyCredentials(ctx context.Context, userID string) (common.Verification, error) {
	creds, err := e.credentials(ctx, userID)
	if errors.Is(err, ErrNoCredentials) {
		return common.Verification{Valid: false, Message: err.Error()}, nil
	}
	if err != nil {
		return common.Verification{}, err
	}
	return e.gateway.VerifyCredentials(ctx, creds), nil
}

func (e *Impl) credentials(ctx context.Context, userID string) (common.Credentials, error) {
	creds, err := e.db.Credentials(e.sealer).Get(ctx, userID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && creds.Empty()) {
		return common.Credentials{}, ErrNoCredentials
	}
	return creds, err
}

// --- Trading ---

// ManualTrade places a market order outside the scheduler. It follows the
// automated sizing rules but skips the cooldown and keeps the reference price.
func (e *Impl) ManualTrade(ctx context.Context, userID string, req ManualTradeRequest) (*db.TradeLogEntry, error) {
	creds, err := e.credentials(ctx, userID)
	if err != nil {
		return nil, err
	}
	settings, err := e.GetSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	mkt := settings.Market
	if req.Market != "" {
		mkt = market.Normalize(req.Market)
	}
	if !market.Valid(mkt) {
		return nil, fmt.Errorf("%w: market %q", ErrInvalidRequest, mkt)
	}

	price, err := e.gateway.Ticker(ctx, mkt)
	if err != nil {
		return nil, err
	}
	holdings, err := e.gateway.Balance(ctx, creds, market.Currency(mkt))
	if err != nil {
		return nil, err
	}

	var sig strategy.Signal
	switch strings.ToLower(req.Side) {
	case "buy", string(common.SideBid):
		amount := math.Floor(req.Amount)
		if amount == 0 {
			amount = math.Floor(settings.TargetAmount)
		}
		if amount < market.MinOrderValue {
			return nil, fmt.Errorf("%w: %.0f < %.0f", ErrBelowMinimum, amount, market.MinOrderValue)
		}
		krw, err := e.gateway.Balance(ctx, creds, market.QuoteCurrency)
		if err != nil {
			return nil, err
		}
		if krw < amount {
			return nil, fmt.Errorf("%w: have %.0f %s, need %.0f", ErrInsufficientBalance, krw, market.QuoteCurrency, amount)
		}
		sig = strategy.Signal{Action: strategy.ActionBuy, Amount: amount, Reason: strategy.ReasonManual}
	case "sell", string(common.SideAsk):
		volume := req.Volume
		if volume <= 0 || volume > holdings {
			volume = holdings
		}
		if volume*price < market.MinOrderValue {
			return nil, fmt.Errorf("%w: %.8f %s is worth %.0f", ErrBelowMinimum, volume, market.Currency(mkt), volume*price)
		}
		sig = strategy.Signal{Action: strategy.ActionSell, Volume: volume, Reason: strategy.ReasonManual}
	default:
		return nil, fmt.Errorf("%w: side must be buy or sell", ErrInvalidRequest)
	}

	ms, err := e.db.Settings().GetMarketState(ctx, userID, mkt)
	if err != nil {
		return nil, err
	}
	entry, err := e.executor.Execute(ctx, order.Request{
		UserID:      userID,
		Credentials: creds,
		Market:      mkt,
		Strategy:    manualTradeStrategy,
		Signal:      sig,
		Price:       price,
		FeeRate:     fee.New(settings.FeeRate).Rate,
		Holdings:    holdings,
		LastTradeAt: ms.LastTradeAt,
		Manual:      true,
	})
	if entry.UserID == "" {
		return nil, err
	}
	return &entry, err
}

func (e *Impl) ListTrades(ctx context.Context, userID string, limit int) ([]db.TradeLogEntry, error) {
	if limit <= 0 {
		limit = defaultTradeListLimit
	}
	return e.db.TradeLogs().List(ctx, userID, limit)
}

// --- Analysis ---

func (e *Impl) RunBacktest(ctx context.Context, userID string, req BacktestRequest) (*backtest.Result, error) {
	if req.Days < 1 || req.Days > maxBacktestDays {
		return nil, fmt.Errorf("%w: days must be between 1 and %d", ErrInvalidRequest, maxBacktestDays)
	}
	settings, err := e.GetSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	mkt := settings.Market
	if req.Market != "" {
		mkt = market.Normalize(req.Market)
	}
	if !market.Valid(mkt) {
		return nil, fmt.Errorf("%w: market %q", ErrInvalidRequest, mkt)
	}
	name := settings.Strategy
	if req.Strategy != "" {
		name = req.Strategy
	}
	kind, err := strategy.ParseKind(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	params := paramsOf(*settings)
	if req.Params != nil {
		params = *req.Params
	}

	candles, err := e.history.GetCandles(ctx, mkt, market.Minute60, req.Days)
	if err != nil {
		return nil, fmt.Errorf("load candles: %w", err)
	}
	res, err := backtest.Run(e.evaluator, candles, backtest.Request{
		Market:         mkt,
		Kind:           kind,
		Params:         params,
		InitialBalance: req.InitialBalance,
		FeeRate:        fee.New(settings.FeeRate).Rate,
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (e *Impl) GetStatistics(ctx context.Context, userID string) (*stats.Report, error) {
	entries, err := e.db.TradeLogs().ListAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	rep := stats.Aggregate(entries)
	return &rep, nil
}

// --- Status ---

// GetStatus assembles the dashboard. Exchange failures on the account side are
// reported in AccountError instead of failing the whole call.
func (e *Impl) GetStatus(ctx context.Context, userID string) (*Status, error) {
	settings, err := e.GetSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	st := &Status{
		UserID:     userID,
		Active:     settings.Active,
		Strategy:   settings.Strategy,
		Market:     settings.Market,
		Holdings:   []Holding{},
		ServerTime: time.Now().UTC(),
	}

	if st.MarketStates, err = e.db.Settings().ListMarketStates(ctx, userID); err != nil {
		return nil, err
	}
	if st.TradeCount, err = e.db.TradeLogs().CountSuccessful(ctx, userID); err != nil {
		return nil, err
	}
	entries, err := e.db.TradeLogs().ListAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	report := stats.Aggregate(entries)
	st.RealizedPnL = report.TotalProfit

	prices := map[string]float64{}
	if p, err := e.gateway.Ticker(ctx, settings.Market); err == nil {
		st.Price = p
		prices[settings.Market] = p
	} else {
		logger.Warnf("status ticker %s: %v", settings.Market, err)
	}
	if candles, err := e.gateway.Candles(ctx, settings.Market, market.Minute1, indicatorCandleCount); err == nil && len(candles) > 0 {
		st.Indicators = snapshot(candles)
	}

	creds, err := e.credentials(ctx, userID)
	switch {
	case errors.Is(err, ErrNoCredentials):
	case err != nil:
		return nil, err
	default:
		st.HasCredentials = true
		e.fillAccount(ctx, st, creds, settings, prices)
	}
	st.UnrealizedPnL = stats.Unrealized(report.OpenLots, prices)
	return st, nil
}

func (e *Impl) fillAccount(ctx context.Context, st *Status, creds common.Credentials, settings *db.TradingSettings, prices map[string]float64) {
	krw, err := e.gateway.Balance(ctx, creds, market.QuoteCurrency)
	if err != nil {
		st.AccountError = common.Failed(err).Message
		return
	}
	st.KRWBalance = krw
	st.TotalAssetValue = krw

	entries := map[string]float64{}
	for _, ms := range st.MarketStates {
		entries[ms.Market] = ms.EntryPrice
	}
	for _, mkt := range trackedMarkets(settings) {
		vol, err := e.gateway.Balance(ctx, creds, market.Currency(mkt))
		if err != nil {
			st.AccountError = common.Failed(err).Message
			continue
		}
		if vol <= 0 {
			continue
		}
		price, ok := prices[mkt]
		if !ok {
			if price, err = e.gateway.Ticker(ctx, mkt); err != nil {
				continue
			}
			prices[mkt] = price
		}
		h := Holding{Market: mkt, Currency: market.Currency(mkt), Volume: vol, Price: price, Value: vol * price, EntryPrice: entries[mkt]}
		st.Holdings = append(st.Holdings, h)
		st.TotalAssetValue += h.Value
	}
}

func (e *Impl) GetSystemStatus(ctx context.Context) *SystemStatus {
	meta := e.meta
	meta.ServerTime = time.Now().UTC()
	return &meta
}

func snapshot(candles []market.Candle) *IndicatorSnapshot {
	closes := indicators.Closes(candles)
	return &IndicatorSnapshot{
		RSI:        indicators.RSI(closes, 14),
		MACD:       indicators.MACD(closes, 12, 26, 9),
		Stochastic: indicators.Stochastic(candles, 14, 3, 3),
		Bollinger:  indicators.Bollinger(closes, 20, 2),
		ATRPercent: indicators.ATRPercent(candles, 14),
	}
}

// trackedMarkets is the default market followed by the portfolio markets, deduplicated.
func trackedMarkets(s *db.TradingSettings) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range append([]string{s.Market}, s.PortfolioMarkets...) {
		m = market.Normalize(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func paramsOf(s db.TradingSettings) strategy.Params {
	return strategy.Params{
		BuyThreshold:      s.BuyThreshold,
		SellThreshold:     s.SellThreshold,
		TargetAmount:      s.TargetAmount,
		GridStepPercent:   s.GridStepPercent,
		StopLossPercent:   s.StopLossPercent,
		TakeProfitPercent: s.TakeProfitPercent,
	}
}
