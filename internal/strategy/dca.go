package strategy

import (
	"fmt"

	"autotrade-core/internal/indicators"
)

// dcaPolicy buys a fixed amount once per cooldown interval unless price trades
// too far above its recent average, in which case the buy is deferred to the next cycle.
type dcaPolicy struct{}

func (dcaPolicy) Kind() Kind { return KindDCA }

func (dcaPolicy) Decide(in Input, preset Preset) (Signal, Delta) {
	avg := in.Price
	if c := closes(in, preset); len(c) > 0 {
		avg = indicators.SMA(c, preset.AveragePeriod)
	}
	limit := avg * (1 + preset.MaxPremiumPercent/100)
	note := fmt.Sprintf("price %.8g, avg %.8g, limit %.8g", in.Price, avg, limit)
	if in.Price > limit {
		return Hold(ReasonDCAAboveAverage, note), Delta{}
	}
	return Signal{Action: ActionBuy, Amount: in.Params.TargetAmount, Reason: ReasonDCAInterval, Note: note}, Delta{}
}
