// Package portfolio splits a base order amount across weighted markets.
package portfolio

import (
	"math"

	"autotrade-core/pkg/market"
)

// Weight is a raw (un-normalized) allocation for one market.
type Weight struct {
	Market string
	Weight float64
}

// Allocation is the order size planned for one market in a cycle.
type Allocation struct {
	Market string  `json:"market"`
	Amount float64 `json:"amount"`
	Weight float64 `json:"weight"` // normalized percent
}

// Pair zips parallel market/weight slices. Missing weights are recorded as 0,
// which triggers the equal split in Normalize.
func Pair(markets []string, weights []float64) []Weight {
	out := make([]Weight, 0, len(markets))
	for i, m := range markets {
		w := 0.0
		if i < len(weights) {
			w = weights[i]
		}
		out = append(out, Weight{Market: m, Weight: w})
	}
	return out
}

// Normalize rescales weights to sum to 100. Any non-positive weight, or a
// non-positive total, falls back to an equal split.
func Normalize(weights []float64) []float64 {
	if len(weights) == 0 {
		return nil
	}
	out := make([]float64, len(weights))
	sum := 0.0
	equal := false
	for _, w := range weights {
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			equal = true
			break
		}
		sum += w
	}
	if equal || sum <= 0 {
		for i := range out {
			out[i] = 100 / float64(len(out))
		}
		return out
	}
	for i, w := range weights {
		out[i] = w / sum * 100
	}
	return out
}

// Allocate returns the per-market plan for base. With no weights the whole
// base goes to defaultMarket. Markets whose floored amount is below the
// exchange minimum are dropped, never rounded up.
func Allocate(base float64, defaultMarket string, weights []Weight) []Allocation {
	if base <= 0 {
		return nil
	}

	weights = dedupe(weights)
	if len(weights) == 0 {
		amount := math.Floor(base)
		if amount < market.MinOrderValue || defaultMarket == "" {
			return nil
		}
		return []Allocation{{Market: market.Normalize(defaultMarket), Amount: amount, Weight: 100}}
	}

	raw := make([]float64, len(weights))
	for i, w := range weights {
		raw[i] = w.Weight
	}
	norm := Normalize(raw)

	plan := make([]Allocation, 0, len(weights))
	for i, w := range weights {
		amount := math.Floor(base * norm[i] / 100)
		if amount < market.MinOrderValue {
			continue
		}
		plan = append(plan, Allocation{Market: w.Market, Amount: amount, Weight: norm[i]})
	}
	return plan
}

// dedupe normalizes market codes and keeps the first occurrence of each.
func dedupe(weights []Weight) []Weight {
	seen := make(map[string]struct{}, len(weights))
	out := make([]Weight, 0, len(weights))
	for _, w := range weights {
		m := market.Normalize(w.Market)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, Weight{Market: m, Weight: w.Weight})
	}
	return out
}
