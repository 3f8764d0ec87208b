package strategy

import (
	"fmt"

	"autotrade-core/internal/indicators"
)

// rsiPolicy buys oversold and sells overbought. Thresholds are RSI levels.
// The fee buffer is not a gate; the expected fee is only reported.
type rsiPolicy struct{}

func (rsiPolicy) Kind() Kind { return KindRSI }

func (rsiPolicy) Decide(in Input, preset Preset) (Signal, Delta) {
	c := closes(in, preset)
	if len(c) < 2 {
		return Hold(ReasonInsufficientHistory, fmt.Sprintf("%d closes", len(c))), Delta{}
	}
	period := preset.Period
	if len(c) < period+1 {
		period = len(c) - 1
	}
	buyAt, sellAt := rsiLevels(in.Params, preset)

	rsi := indicators.RSI(c, period)
	note := fmt.Sprintf("rsi(%d) %.2f, buy<%.0f sell>%.0f, expected fee %.0f",
		period, rsi, buyAt, sellAt, in.Fee.Fee(in.Params.TargetAmount))
	switch {
	case rsi < buyAt:
		return Signal{Action: ActionBuy, Amount: in.Params.TargetAmount, Reason: ReasonRSIOversold, Note: note}, Delta{}
	case rsi > sellAt:
		return Signal{Action: ActionSell, Volume: in.State.AssetBalance, Reason: ReasonRSIOverbought, Note: note}, Delta{}
	}
	return Hold(ReasonNoSignal, note), Delta{}
}

// rsiLevels falls back to preset levels when the configured ones are not valid RSI values.
func rsiLevels(p Params, preset Preset) (buy, sell float64) {
	buy, sell = p.BuyThreshold, p.SellThreshold
	if buy <= 0 || buy >= 100 {
		buy = preset.BuyThreshold
	}
	if sell <= 0 || sell >= 100 {
		sell = preset.SellThreshold
	}
	if buy >= sell {
		buy, sell = preset.BuyThreshold, preset.SellThreshold
	}
	return buy, sell
}
