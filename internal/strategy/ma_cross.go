package strategy

import (
	"fmt"

	"autotrade-core/internal/indicators"
)

// maCrossPolicy trades short/long SMA crossovers on one-minute closes.
// Golden cross buys, death cross sells the position.
type maCrossPolicy struct{}

func (maCrossPolicy) Kind() Kind { return KindMA }

func (maCrossPolicy) Decide(in Input, preset Preset) (Signal, Delta) {
	c := closes(in, preset)
	if len(c) < preset.LongPeriod+1 {
		return Hold(ReasonInsufficientHistory, fmt.Sprintf("%d closes, need %d", len(c), preset.LongPeriod+1)), Delta{}
	}
	prev := c[:len(c)-1]
	fast, slow := indicators.SMA(c, preset.ShortPeriod), indicators.SMA(c, preset.LongPeriod)
	oldFast, oldSlow := indicators.SMA(prev, preset.ShortPeriod), indicators.SMA(prev, preset.LongPeriod)
	note := fmt.Sprintf("MA%d %.8g / MA%d %.8g (prev %.8g / %.8g)",
		preset.ShortPeriod, fast, preset.LongPeriod, slow, oldFast, oldSlow)

	// Golden cross: fast MA crosses above slow MA
	if oldFast <= oldSlow && fast > slow {
		return Signal{Action: ActionBuy, Amount: in.Params.TargetAmount, Reason: ReasonGoldenCross, Note: note}, Delta{}
	}
	// Death cross: fast MA crosses below slow MA
	if oldFast >= oldSlow && fast < slow {
		return Signal{Action: ActionSell, Volume: in.State.AssetBalance, Reason: ReasonDeathCross, Note: note}, Delta{}
	}
	return Hold(ReasonNoSignal, note), Delta{}
}
