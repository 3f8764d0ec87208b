// Package backtest replays historical candles through the live strategy
// evaluator against a single-position ledger.
package backtest

import (
	"errors"
	"math"
	"time"

	"autotrade-core/internal/fee"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/market"
)

const DefaultInitialBalance = 1_000_000

var ErrNoCandles = errors.New("backtest: no candles")

// Request configures one run.
type Request struct {
	Market         string          `json:"market"`
	Kind           strategy.Kind   `json:"strategy"`
	Params         strategy.Params `json:"params"`
	InitialBalance float64         `json:"initial_balance"`
	FeeRate        float64         `json:"fee_rate"`
}

// Trade is one simulated fill.
type Trade struct {
	Time   time.Time `json:"time"`
	Side   string    `json:"side"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`
	Amount float64   `json:"amount"`
	Fee    float64   `json:"fee"`
	Profit float64   `json:"profit,omitempty"`
	Reason string    `json:"reason"`
}

// Result summarizes a run. TotalTrades counts closed round trips.
type Result struct {
	TotalTrades  int     `json:"total_trades"`
	WinTrades    int     `json:"win_trades"`
	LossTrades   int     `json:"loss_trades"`
	WinRate      float64 `json:"win_rate"`
	TotalProfit  float64 `json:"total_profit"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	FinalBalance float64 `json:"final_balance"`
	PeakBalance  float64 `json:"peak_balance"`
	Trades       []Trade `json:"trades"`
}

type ledger struct {
	cash     float64
	position float64
	cost     float64
	state    strategy.State
}

// Run evaluates every candle in order. The evaluator sees the same candle
// window the live scheduler would fetch, ending at the current candle.
func Run(ev *strategy.Evaluator, candles []market.Candle, req Request) (Result, error) {
	if len(candles) == 0 {
		return Result{}, ErrNoCandles
	}
	if ev == nil {
		ev = strategy.NewEvaluator(nil)
	}
	initial := req.InitialBalance
	if initial <= 0 {
		initial = DefaultInitialBalance
	}
	fm := fee.New(req.FeeRate)
	window := ev.Preset(req.Kind).CandleCount

	l := ledger{cash: initial, state: strategy.State{Market: req.Market}}
	res := Result{Trades: []Trade{}, PeakBalance: initial}

	for i, c := range candles {
		price := c.Close
		l.state.KRWBalance, l.state.AssetBalance = l.cash, l.position
		in := strategy.Input{
			Kind:   req.Kind,
			Params: req.Params,
			State:  l.state,
			Price:  price,
			Fee:    fm,
			Now:    c.Time,
		}
		if window > 0 {
			in.Candles = candles[max(0, i+1-window) : i+1]
		}

		sig, delta := ev.Evaluate(in)
		switch {
		case delta.InitializeOnly:
			l.state.ReferencePrice = delta.ReferencePrice
		case sig.Action == strategy.ActionBuy && l.position == 0 && l.cash >= sig.Amount+fm.Fee(sig.Amount):
			amount := sig.Amount
			f := fm.Fee(amount)
			l.cash -= amount + f
			l.position = amount / price
			l.cost = amount + f
			l.state.EntryPrice = price
			l.state.LastTradeAt = c.Time
			if delta.ReferencePrice > 0 {
				l.state.ReferencePrice = delta.ReferencePrice
			}
			res.Trades = append(res.Trades, Trade{Time: c.Time, Side: "buy", Price: price, Volume: l.position, Amount: amount, Fee: f, Reason: sig.Reason})
		case sig.Action == strategy.ActionSell && l.position > 0:
			proceeds := l.position * price
			f := fm.Fee(proceeds)
			profit := proceeds - f - l.cost
			res.Trades = append(res.Trades, Trade{Time: c.Time, Side: "sell", Price: price, Volume: l.position, Amount: proceeds, Fee: f, Profit: profit, Reason: sig.Reason})
			l.cash += proceeds - f
			l.position, l.cost = 0, 0
			l.state.EntryPrice = 0
			l.state.LastTradeAt = c.Time
			if delta.ReferencePrice > 0 {
				l.state.ReferencePrice = delta.ReferencePrice
			}
			res.TotalTrades++
			res.TotalProfit += profit
			if profit > 0 {
				res.WinTrades++
			} else {
				res.LossTrades++
			}
		}

		equity := l.cash + l.position*price
		if equity > res.PeakBalance {
			res.PeakBalance = equity
		}
		if res.PeakBalance > 0 {
			res.MaxDrawdown = math.Max(res.MaxDrawdown, (res.PeakBalance-equity)/res.PeakBalance*100)
		}
	}

	res.FinalBalance = l.cash + l.position*candles[len(candles)-1].Close
	if res.TotalTrades > 0 {
		res.WinRate = float64(res.WinTrades) / float64(res.TotalTrades) * 100
	}
	return res, nil
}
