package strategy

import (
	"fmt"
	"math"
	"time"

	"autotrade-core/pkg/market"
)

// Policy is the kind-specific rule. It sees an already-gated Input and
// proposes a signal; sizing against balances happens afterwards in Evaluate.
type Policy interface {
	Kind() Kind
	Decide(in Input, preset Preset) (Signal, Delta)
}

// Evaluator dispatches an Input to the policy for its kind.
// It is stateless apart from the immutable presets and safe for concurrent use.
type Evaluator struct {
	presets  Presets
	policies map[Kind]Policy
}

// NewEvaluator wires every policy with the given presets (nil means defaults).
func NewEvaluator(presets Presets) *Evaluator {
	if presets == nil {
		presets = DefaultPresets()
	}
	e := &Evaluator{presets: presets, policies: make(map[Kind]Policy, len(Kinds))}
	for _, p := range []Policy{percentPolicy{}, gridPolicy{}, dcaPolicy{}, rsiPolicy{}, maCrossPolicy{}, bollingerPolicy{}} {
		e.policies[p.Kind()] = p
	}
	return e
}

// Preset returns the preset used for kind.
func (e *Evaluator) Preset(kind Kind) Preset {
	return e.presets.For(kind)
}

// Evaluate runs the universal gates and the kind's policy. The input is never mutated.
//
// Gate order: reference initialization, cooldown, stop loss / take profit,
// policy rule, then balance and minimum-order checks.
func (e *Evaluator) Evaluate(in Input) (Signal, Delta) {
	policy, ok := e.policies[in.Kind]
	if !ok {
		return Hold(ReasonNoSignal, fmt.Sprintf("unsupported strategy %q", in.Kind)), Delta{}
	}
	if in.Price <= 0 || math.IsNaN(in.Price) {
		return Hold(ReasonNoPrice, ""), Delta{}
	}
	if in.State.ReferencePrice <= 0 {
		return Hold(ReasonReferenceInitialized, fmt.Sprintf("reference set to %.8g", in.Price)),
			Delta{ReferencePrice: in.Price, InitializeOnly: true}
	}

	preset := e.presets.For(in.Kind)
	if !in.State.LastTradeAt.IsZero() {
		if elapsed := in.Now.Sub(in.State.LastTradeAt); elapsed < preset.Cooldown {
			return Hold(ReasonCooldown, fmt.Sprintf("%s of %s elapsed", elapsed.Truncate(time.Second), preset.Cooldown)), Delta{}
		}
	}

	if sig, ok := protectiveExit(in); ok {
		return sig, Delta{}
	}

	sig, delta := policy.Decide(in, preset)
	switch sig.Action {
	case ActionBuy:
		sig = gateBuy(in, sig)
	case ActionSell:
		sig = gateSell(in, sig)
	}
	if sig.Action == ActionHold {
		return sig, Delta{}
	}
	return sig, delta
}

// protectiveExit sells the whole position when price crosses the configured
// stop loss or take profit relative to the entry price.
func protectiveExit(in Input) (Signal, bool) {
	entry := in.State.EntryPrice
	if entry <= 0 || in.State.AssetBalance*in.Price < market.MinOrderValue {
		return Signal{}, false
	}
	change := (in.Price - entry) / entry * 100
	if sl := in.Params.StopLossPercent; sl > 0 && change <= -sl {
		return Signal{Action: ActionSell, Volume: in.State.AssetBalance, Reason: ReasonStopLoss,
			Note: fmt.Sprintf("%.2f%% from entry %.8g", change, entry)}, true
	}
	if tp := in.Params.TakeProfitPercent; tp > 0 && change >= tp {
		return Signal{Action: ActionSell, Volume: in.State.AssetBalance, Reason: ReasonTakeProfit,
			Note: fmt.Sprintf("%.2f%% from entry %.8g", change, entry)}, true
	}
	return Signal{}, false
}

func gateBuy(in Input, sig Signal) Signal {
	sig.Amount = math.Floor(sig.Amount)
	if sig.Amount < market.MinOrderValue {
		return Hold(ReasonBelowMinimum, fmt.Sprintf("%s: buy %.0f below minimum %.0f", sig.Reason, sig.Amount, market.MinOrderValue))
	}
	// The exchange debits the fee on top of the order value.
	if need := sig.Amount + in.Fee.Fee(sig.Amount); in.State.KRWBalance < need {
		return Hold(ReasonInsufficientKRW, fmt.Sprintf("%s: need %.0f, have %.0f", sig.Reason, need, in.State.KRWBalance))
	}
	return sig
}

func gateSell(in Input, sig Signal) Signal {
	holdings := in.State.AssetBalance
	if holdings*in.Price < market.MinOrderValue {
		return Hold(ReasonInsufficientHoldings, fmt.Sprintf("%s: holdings worth %.0f", sig.Reason, holdings*in.Price))
	}
	vol := math.Min(sig.Volume, holdings)
	// A remainder too small to sell later goes out with this order.
	if (holdings-vol)*in.Price < market.MinOrderValue {
		vol = holdings
	}
	if vol*in.Price < market.MinOrderValue {
		return Hold(ReasonBelowMinimum, fmt.Sprintf("%s: sell %.0f below minimum %.0f", sig.Reason, vol*in.Price, market.MinOrderValue))
	}
	sig.Volume = vol
	return sig
}

// priceChangePercent is the move from the reference price, in percent.
func priceChangePercent(in Input) float64 {
	return (in.Price - in.State.ReferencePrice) / in.State.ReferencePrice * 100
}

// closes returns the close series limited to the preset window.
func closes(in Input, preset Preset) []float64 {
	candles := in.Candles
	if preset.CandleCount > 0 && len(candles) > preset.CandleCount {
		candles = candles[len(candles)-preset.CandleCount:]
	}
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
