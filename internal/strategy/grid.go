package strategy

import (
	"fmt"
	"math"
)

// gridLevelEpsilon absorbs float error so an exact 2.0-step move counts as two levels.
const gridLevelEpsilon = 1e-9

// gridPolicy buys one target amount per grid level crossed downward and sells
// a quarter of holdings per level crossed upward. The reference moves by the
// consumed levels only, so any partial level carries over.
type gridPolicy struct{}

func (gridPolicy) Kind() Kind { return KindGrid }

func (gridPolicy) Decide(in Input, _ Preset) (Signal, Delta) {
	step := in.Params.GridStepPercent
	if step <= 0 {
		step = in.Params.BuyThreshold
	}
	step = in.Fee.Effective(step)

	change := priceChangePercent(in)
	levels := int(math.Floor(math.Abs(change)/step + gridLevelEpsilon))
	note := fmt.Sprintf("change %.3f%%, step %.3f%%, levels %d", change, step, levels)
	if levels < 1 {
		return Hold(ReasonNoSignal, note), Delta{}
	}

	ref := in.State.ReferencePrice
	if change < 0 {
		target := in.Params.TargetAmount
		if target <= 0 {
			return Hold(ReasonBelowMinimum, note), Delta{}
		}
		if affordable := int(math.Floor(in.State.KRWBalance / (target * (1 + in.Fee.Rate)))); affordable < levels {
			levels = affordable
		}
		if levels < 1 {
			return Hold(ReasonInsufficientKRW, note), Delta{}
		}
		return Signal{Action: ActionBuy, Amount: float64(levels) * target, Reason: ReasonGridDown, Note: note},
			Delta{ReferencePrice: ref * (1 - float64(levels)*step/100)}
	}

	portion := math.Min(float64(levels)*0.25, 1)
	return Signal{Action: ActionSell, Volume: in.State.AssetBalance * portion, Reason: ReasonGridUp, Note: note},
		Delta{ReferencePrice: ref * (1 + float64(levels)*step/100)}
}
