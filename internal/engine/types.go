package engine

import (
	"time"

	"autotrade-core/internal/indicators"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/db"
)

// Status is the user's dashboard view.
type Status struct {
	UserID          string             `json:"user_id"`
	Active          bool               `json:"is_active"`
	Strategy        string             `json:"strategy"`
	Market          string             `json:"market"`
	Price           float64            `json:"price"`
	KRWBalance      float64            `json:"krw_balance"`
	Holdings        []Holding          `json:"holdings"`
	TotalAssetValue float64            `json:"total_asset_value"`
	RealizedPnL     float64            `json:"realized_pnl"`
	UnrealizedPnL   float64            `json:"unrealized_pnl"`
	TradeCount      int                `json:"trade_count"`
	HasCredentials  bool               `json:"has_credentials"`
	AccountError    string             `json:"account_error,omitempty"`
	Indicators      *IndicatorSnapshot `json:"indicators,omitempty"`
	MarketStates    []db.MarketState   `json:"market_states"`
	ServerTime      time.Time          `json:"server_time"`
}

// Holding is one asset position valued at the current ticker.
type Holding struct {
	Market     string  `json:"market"`
	Currency   string  `json:"currency"`
	Volume     float64 `json:"volume"`
	Price      float64 `json:"price"`
	Value      float64 `json:"value"`
	EntryPrice float64 `json:"entry_price,omitempty"`
}

// IndicatorSnapshot is computed over the default market's recent one-minute candles.
type IndicatorSnapshot struct {
	RSI        float64                     `json:"rsi"`
	MACD       indicators.MACDResult       `json:"macd"`
	Stochastic indicators.StochasticResult `json:"stochastic"`
	Bollinger  indicators.Bands            `json:"bollinger"`
	ATRPercent float64                     `json:"atr_percent"`
}

// ManualTradeRequest is a user-initiated market order. Side is "buy" or "sell".
// A zero Amount buys the configured target amount; a zero Volume sells everything.
type ManualTradeRequest struct {
	Market string  `json:"market"`
	Side   string  `json:"side"`
	Amount float64 `json:"amount"`
	Volume float64 `json:"volume"`
}

// BacktestRequest selects the replay window. Empty fields fall back to the user's settings.
type BacktestRequest struct {
	Market         string           `json:"market"`
	Strategy       string           `json:"strategy"`
	Days           int              `json:"days"`
	Params         *strategy.Params `json:"params,omitempty"`
	InitialBalance float64          `json:"initial_balance"`
}

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	DryRun           bool      `json:"dry_run"`
	Venue            string    `json:"venue"`
	SchedulerEnabled bool      `json:"scheduler_enabled"`
	TickInterval     string    `json:"tick_interval"`
	Version          string    `json:"version"`
	ServerTime       time.Time `json:"server_time"`
}
