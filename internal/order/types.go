package order

import (
	"errors"
	"time"

	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/exchanges/common"
)

var (
	// ErrNothingToExecute is returned for HOLD signals.
	ErrNothingToExecute = errors.New("order: signal is not actionable")
	// ErrSlotTaken means another writer traded the market since the state snapshot.
	ErrSlotTaken = errors.New("order: trade slot already claimed")
)

// Request is one order intent produced by an evaluation or a manual trade.
type Request struct {
	UserID      string
	Credentials common.Credentials
	Market      string
	Strategy    string
	Signal      strategy.Signal
	Delta       strategy.Delta
	// Price is the ticker price the signal was computed against.
	Price   float64
	FeeRate float64
	// Holdings is the asset balance before the order; used for the entry price.
	Holdings float64
	// LastTradeAt is the snapshot the cooldown was checked against.
	LastTradeAt time.Time
	// Manual orders skip the cooldown claim and never move the reference price.
	Manual bool
}

func (r Request) side() common.Side {
	if r.Signal.Action == strategy.ActionSell {
		return common.SideAsk
	}
	return common.SideBid
}

func (r Request) orderRequest() common.OrderRequest {
	if r.Signal.Action == strategy.ActionSell {
		return common.OrderRequest{Market: r.Market, Side: common.SideAsk, Mode: common.SizeByVolume, Value: r.Signal.Volume}
	}
	return common.OrderRequest{Market: r.Market, Side: common.SideBid, Mode: common.SizeByValue, Value: r.Signal.Amount}
}
