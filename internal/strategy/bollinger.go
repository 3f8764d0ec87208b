package strategy

import (
	"fmt"

	"autotrade-core/internal/indicators"
)

// bollingerPolicy buys at the lower band and sells at the upper band, but only
// when the band is wide enough to cover a round trip's fees.
type bollingerPolicy struct{}

func (bollingerPolicy) Kind() Kind { return KindBollinger }

func (bollingerPolicy) Decide(in Input, preset Preset) (Signal, Delta) {
	c := closes(in, preset)
	if len(c) < preset.Period {
		return Hold(ReasonInsufficientHistory, fmt.Sprintf("%d closes, need %d", len(c), preset.Period)), Delta{}
	}
	bands := indicators.Bollinger(c, preset.Period, preset.StdDev)
	width, minWidth := bands.Width(), 2*in.Fee.Buffer()
	note := fmt.Sprintf("lower %.8g mid %.8g upper %.8g width %.4f", bands.Lower, bands.Middle, bands.Upper, width)
	if width < minWidth {
		return Hold(ReasonBandTooNarrow, fmt.Sprintf("%s < %.4f", note, minWidth)), Delta{}
	}
	switch {
	case in.Price <= bands.Lower:
		return Signal{Action: ActionBuy, Amount: in.Params.TargetAmount, Reason: ReasonLowerBand, Note: note}, Delta{}
	case in.Price >= bands.Upper:
		return Signal{Action: ActionSell, Volume: in.State.AssetBalance, Reason: ReasonUpperBand, Note: note}, Delta{}
	}
	return Hold(ReasonNoSignal, note), Delta{}
}
