// Package stats reduces the trade log into round-trip performance figures.
package stats

import (
	"fmt"
	"sort"
	"time"

	"autotrade-core/pkg/db"
)

// ProfitFactorSentinel stands in for an infinite profit factor (no losing trades).
const ProfitFactorSentinel = 999.99

const volumeEpsilon = 1e-12

// RoundTrip is one sell matched FIFO against earlier buys of the same market.
type RoundTrip struct {
	Market    string    `json:"market"`
	OpenedAt  time.Time `json:"opened_at"`
	ClosedAt  time.Time `json:"closed_at"`
	Volume    float64   `json:"volume"`
	BuyPrice  float64   `json:"buy_price"`
	SellPrice float64   `json:"sell_price"`
	Fees      float64   `json:"fees"`
	Profit    float64   `json:"profit"`
}

// Lot is an unmatched part of a buy.
type Lot struct {
	Market string    `json:"market"`
	At     time.Time `json:"at"`
	Volume float64   `json:"volume"`
	Price  float64   `json:"price"`
	Fee    float64   `json:"fee"`
}

// Bucket aggregates round trips closed within one period.
type Bucket struct {
	Period string  `json:"period"`
	Trades int     `json:"trades"`
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
	Profit float64 `json:"profit"`
}

type Report struct {
	TotalTrades  int         `json:"total_trades"`
	WinTrades    int         `json:"win_trades"`
	LossTrades   int         `json:"loss_trades"`
	WinRate      float64     `json:"win_rate"`
	TotalProfit  float64     `json:"total_profit"`
	GrossProfit  float64     `json:"gross_profit"`
	GrossLoss    float64     `json:"gross_loss"`
	AverageWin   float64     `json:"average_win"`
	AverageLoss  float64     `json:"average_loss"`
	ProfitFactor float64     `json:"profit_factor"`
	TotalFees    float64     `json:"total_fees"`
	Best         *RoundTrip  `json:"best,omitempty"`
	Worst        *RoundTrip  `json:"worst,omitempty"`
	Daily        []Bucket    `json:"daily"`
	Weekly       []Bucket    `json:"weekly"`
	Monthly      []Bucket    `json:"monthly"`
	RoundTrips   []RoundTrip `json:"round_trips"`
	OpenLots     []Lot       `json:"open_lots"`
}

// Aggregate matches successful entries FIFO per market. Failed entries are
// ignored, as are sells with no earlier buy to match. Fees are apportioned to
// the matched volume on both sides.
func Aggregate(entries []db.TradeLogEntry) Report {
	ok := make([]db.TradeLogEntry, 0, len(entries))
	for _, e := range entries {
		if e.Status == db.StatusSuccess && e.Volume > 0 {
			ok = append(ok, e)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].CreatedAt.Before(ok[j].CreatedAt) })

	rep := Report{RoundTrips: []RoundTrip{}, OpenLots: []Lot{}}
	queues := make(map[string][]Lot)
	var markets []string

	for _, e := range ok {
		rep.TotalFees += e.Fee
		if _, seen := queues[e.Market]; !seen {
			queues[e.Market] = nil
			markets = append(markets, e.Market)
		}
		if e.Side == db.SideBid {
			queues[e.Market] = append(queues[e.Market], Lot{Market: e.Market, At: e.CreatedAt, Volume: e.Volume, Price: e.Price, Fee: e.Fee})
			continue
		}
		if trip, matched := match(queues, e); matched {
			rep.RoundTrips = append(rep.RoundTrips, trip)
		}
	}
	for _, m := range markets {
		rep.OpenLots = append(rep.OpenLots, queues[m]...)
	}

	summarize(&rep)
	return rep
}

func match(queues map[string][]Lot, sell db.TradeLogEntry) (RoundTrip, bool) {
	q := queues[sell.Market]
	remaining := sell.Volume
	sellFeePerUnit := sell.Fee / sell.Volume
	trip := RoundTrip{Market: sell.Market, ClosedAt: sell.CreatedAt, SellPrice: sell.Price}
	var cost float64

	for remaining > volumeEpsilon && len(q) > 0 {
		lot := &q[0]
		if trip.OpenedAt.IsZero() {
			trip.OpenedAt = lot.At
		}
		m := min(lot.Volume, remaining)
		buyFee := lot.Fee * m / lot.Volume
		fees := buyFee + sellFeePerUnit*m

		trip.Volume += m
		trip.Fees += fees
		trip.Profit += m*(sell.Price-lot.Price) - fees
		cost += m * lot.Price

		lot.Volume -= m
		lot.Fee -= buyFee
		remaining -= m
		if lot.Volume <= volumeEpsilon {
			q = q[1:]
		}
	}
	queues[sell.Market] = q
	if trip.Volume == 0 {
		return RoundTrip{}, false
	}
	trip.BuyPrice = cost / trip.Volume
	return trip, true
}

func summarize(rep *Report) {
	daily := map[string]*Bucket{}
	weekly := map[string]*Bucket{}
	monthly := map[string]*Bucket{}

	for i := range rep.RoundTrips {
		t := rep.RoundTrips[i]
		rep.TotalTrades++
		rep.TotalProfit += t.Profit
		if t.Profit > 0 {
			rep.WinTrades++
			rep.GrossProfit += t.Profit
		} else {
			rep.LossTrades++
			rep.GrossLoss += -t.Profit
		}
		if rep.Best == nil || t.Profit > rep.Best.Profit {
			rep.Best = &rep.RoundTrips[i]
		}
		if rep.Worst == nil || t.Profit < rep.Worst.Profit {
			rep.Worst = &rep.RoundTrips[i]
		}

		closed := t.ClosedAt.UTC()
		year, week := closed.ISOWeek()
		add(daily, closed.Format("2006-01-02"), t.Profit)
		add(weekly, fmt.Sprintf("%d-W%02d", year, week), t.Profit)
		add(monthly, closed.Format("2006-01"), t.Profit)
	}

	if rep.TotalTrades > 0 {
		rep.WinRate = float64(rep.WinTrades) / float64(rep.TotalTrades) * 100
	}
	if rep.WinTrades > 0 {
		rep.AverageWin = rep.GrossProfit / float64(rep.WinTrades)
	}
	if rep.LossTrades > 0 {
		rep.AverageLoss = rep.GrossLoss / float64(rep.LossTrades)
	}
	switch {
	case rep.GrossLoss > 0:
		rep.ProfitFactor = rep.GrossProfit / rep.GrossLoss
	case rep.GrossProfit > 0:
		rep.ProfitFactor = ProfitFactorSentinel
	}

	rep.Daily = sorted(daily)
	rep.Weekly = sorted(weekly)
	rep.Monthly = sorted(monthly)
}

func add(buckets map[string]*Bucket, period string, profit float64) {
	b, ok := buckets[period]
	if !ok {
		b = &Bucket{Period: period}
		buckets[period] = b
	}
	b.Trades++
	b.Profit += profit
	if profit > 0 {
		b.Wins++
	} else {
		b.Losses++
	}
}

func sorted(buckets map[string]*Bucket) []Bucket {
	out := make([]Bucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

// Unrealized values open lots at prices (by market), net of their buy fees.
// Markets without a price are skipped.
func Unrealized(lots []Lot, prices map[string]float64) float64 {
	var total float64
	for _, l := range lots {
		p, ok := prices[l.Market]
		if !ok || p <= 0 {
			continue
		}
		total += l.Volume*(p-l.Price) - l.Fee
	}
	return total
}
