package strategy

import (
	"fmt"
	"strings"
	"time"

	"autotrade-core/internal/fee"
	"autotrade-core/pkg/market"
)

// Kind identifies one of the supported trading policies.
type Kind string

const (
	KindPercent   Kind = "percent"
	KindGrid      Kind = "grid"
	KindDCA       Kind = "dca"
	KindRSI       Kind = "rsi"
	KindMA        Kind = "ma"
	KindBollinger Kind = "bollinger"
)

// Kinds lists every supported kind in display order.
var Kinds = []Kind{KindPercent, KindGrid, KindDCA, KindRSI, KindMA, KindBollinger}

// ParseKind validates a strategy name.
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q", name)
}

// Action is the decision carried by a Signal.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Reason codes attached to signals.
const (
	ReasonReferenceInitialized = "reference_initialized"
	ReasonNoPrice              = "no_price"
	ReasonCooldown             = "cooldown"
	ReasonNoSignal             = "no_signal"
	ReasonInsufficientHistory  = "insufficient_history"
	ReasonInsufficientKRW      = "insufficient_krw"
	ReasonInsufficientHoldings = "insufficient_holdings"
	ReasonBelowMinimum         = "below_min_order"
	ReasonStopLoss             = "stop_loss"
	ReasonTakeProfit           = "take_profit"
	ReasonPriceDrop            = "price_drop"
	ReasonPriceRise            = "price_rise"
	ReasonGridDown             = "grid_down"
	ReasonGridUp               = "grid_up"
	ReasonDCAInterval          = "dca_interval"
	ReasonDCAAboveAverage      = "dca_above_average"
	ReasonRSIOversold          = "rsi_oversold"
	ReasonRSIOverbought        = "rsi_overbought"
	ReasonGoldenCross          = "golden_cross"
	ReasonDeathCross           = "death_cross"
	ReasonLowerBand            = "lower_band"
	ReasonUpperBand            = "upper_band"
	ReasonBandTooNarrow        = "band_too_narrow"
	ReasonManual               = "manual"
)

// Signal is a sized decision. Buys carry Amount (KRW), sells carry Volume (asset units).
type Signal struct {
	Action Action  `json:"action"`
	Amount float64 `json:"amount,omitempty"`
	Volume float64 `json:"volume,omitempty"`
	Reason string  `json:"reason"`
	Note   string  `json:"note,omitempty"`
}

// Hold builds a HOLD signal.
func Hold(reason, note string) Signal {
	return Signal{Action: ActionHold, Reason: reason, Note: note}
}

// Delta is the state change to persist alongside a signal.
// ReferencePrice > 0 replaces the stored reference. InitializeOnly deltas are
// applied without any order; all others only after a successful order.
type Delta struct {
	ReferencePrice float64 `json:"reference_price,omitempty"`
	InitializeOnly bool    `json:"initialize_only,omitempty"`
}

// Params are the user-configured knobs shared by all kinds. Threshold units
// depend on the kind: percent for percent/grid, RSI levels for rsi.
type Params struct {
	BuyThreshold      float64 `json:"buy_threshold"`
	SellThreshold     float64 `json:"sell_threshold"`
	TargetAmount      float64 `json:"target_amount"`
	GridStepPercent   float64 `json:"grid_step_percent,omitempty"`
	StopLossPercent   float64 `json:"stop_loss_percent,omitempty"`
	TakeProfitPercent float64 `json:"take_profit_percent,omitempty"`
}

// State is the read-only per-market snapshot for one evaluation.
type State struct {
	Market         string
	ReferencePrice float64
	EntryPrice     float64
	LastTradeAt    time.Time
	KRWBalance     float64
	AssetBalance   float64
}

// Input bundles everything one evaluation needs. Candles are oldest first.
type Input struct {
	Kind    Kind
	Params  Params
	State   State
	Price   float64
	Candles []market.Candle
	Fee     fee.Model
	Now     time.Time
}
