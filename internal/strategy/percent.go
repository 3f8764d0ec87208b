package strategy

import "fmt"

// percentPolicy trades fixed moves away from the reference price and
// re-anchors the reference after every trade.
type percentPolicy struct{}

func (percentPolicy) Kind() Kind { return KindPercent }

func (percentPolicy) Decide(in Input, _ Preset) (Signal, Delta) {
	change := priceChangePercent(in)
	buyAt := in.Fee.Effective(in.Params.BuyThreshold)
	sellAt := in.Fee.Effective(in.Params.SellThreshold)
	note := fmt.Sprintf("change %.3f%% (buy -%.3f%%, sell +%.3f%%)", change, buyAt, sellAt)

	switch {
	case change <= -buyAt:
		return Signal{Action: ActionBuy, Amount: in.Params.TargetAmount, Reason: ReasonPriceDrop, Note: note},
			Delta{ReferencePrice: in.Price}
	case change >= sellAt:
		return Signal{Action: ActionSell, Volume: in.Params.TargetAmount / in.Price, Reason: ReasonPriceRise, Note: note},
			Delta{ReferencePrice: in.Price}
	}
	return Hold(ReasonNoSignal, note), Delta{}
}
