package db

import "time"

// TradingSettings is one user's automation configuration.
type TradingSettings struct {
	UserID               string    `json:"user_id"`
	Active               bool      `json:"is_active"`
	Market               string    `json:"market"`
	Strategy             string    `json:"strategy"`
	BuyThreshold         float64   `json:"buy_threshold"`
	SellThreshold        float64   `json:"sell_threshold"`
	TargetAmount         float64   `json:"target_amount"`
	FeeRate              float64   `json:"fee_rate"`
	StopLossPercent      float64   `json:"stop_loss_percent"`
	TakeProfitPercent    float64   `json:"take_profit_percent"`
	GridStepPercent      float64   `json:"grid_step_percent"`
	PortfolioMarkets     []string  `json:"portfolio_markets"`
	PortfolioAllocations []float64 `json:"portfolio_allocations"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// DefaultSettings is the record created on a user's first write.
func DefaultSettings(userID string) TradingSettings {
	return TradingSettings{
		UserID:               userID,
		Market:               "KRW-BTC",
		Strategy:             "percent",
		BuyThreshold:         0.5,
		SellThreshold:        0.5,
		TargetAmount:         10000,
		FeeRate:              0.0005,
		PortfolioMarkets:     []string{},
		PortfolioAllocations: []float64{},
	}
}

// SettingsPatch is a partial update; nil fields are left unchanged.
type SettingsPatch struct {
	Active               *bool      `json:"is_active,omitempty"`
	Market               *string    `json:"market,omitempty"`
	Strategy             *string    `json:"strategy,omitempty"`
	BuyThreshold         *float64   `json:"buy_threshold,omitempty"`
	SellThreshold        *float64   `json:"sell_threshold,omitempty"`
	TargetAmount         *float64   `json:"target_amount,omitempty"`
	FeeRate              *float64   `json:"fee_rate,omitempty"`
	StopLossPercent      *float64   `json:"stop_loss_percent,omitempty"`
	TakeProfitPercent    *float64   `json:"take_profit_percent,omitempty"`
	GridStepPercent      *float64   `json:"grid_step_percent,omitempty"`
	PortfolioMarkets     *[]string  `json:"portfolio_markets,omitempty"`
	PortfolioAllocations *[]float64 `json:"portfolio_allocations,omitempty"`
}

// Apply copies the set fields of p onto s.
func (p SettingsPatch) Apply(s *TradingSettings) {
	if p.Active != nil {
		s.Active = *p.Active
	}
	if p.Market != nil {
		s.Market = *p.Market
	}
	if p.Strategy != nil {
		s.Strategy = *p.Strategy
	}
	setFloat(&s.BuyThreshold, p.BuyThreshold)
	setFloat(&s.SellThreshold, p.SellThreshold)
	setFloat(&s.TargetAmount, p.TargetAmount)
	setFloat(&s.FeeRate, p.FeeRate)
	setFloat(&s.StopLossPercent, p.StopLossPercent)
	setFloat(&s.TakeProfitPercent, p.TakeProfitPercent)
	setFloat(&s.GridStepPercent, p.GridStepPercent)
	if p.PortfolioMarkets != nil {
		s.PortfolioMarkets = append([]string{}, (*p.PortfolioMarkets)...)
	}
	if p.PortfolioAllocations != nil {
		s.PortfolioAllocations = append([]float64{}, (*p.PortfolioAllocations)...)
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// MarketState is the per (user, market) trading state.
type MarketState struct {
	UserID         string    `json:"user_id"`
	Market         string    `json:"market"`
	ReferencePrice float64   `json:"reference_price"`
	EntryPrice     float64   `json:"entry_price"`
	LastTradeAt    time.Time `json:"last_trade_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Trade log sides and statuses.
const (
	SideBid = "bid"
	SideAsk = "ask"

	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// TradeLogEntry records one order attempt. Entries are never updated.
type TradeLogEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Market    string    `json:"market"`
	Side      string    `json:"side"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Amount    float64   `json:"amount"`
	Fee       float64   `json:"fee"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Strategy  string    `json:"strategy"`
	OrderID   string    `json:"order_id"`
	CreatedAt time.Time `json:"created_at"`
}
