package order

import (
	"context"
	"fmt"
	"time"

	"autotrade-core/internal/events"
	"autotrade-core/internal/monitor"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/exchanges/common"
	"autotrade-core/pkg/logger"
	"autotrade-core/pkg/market"
)

// Executor sends orders to the gateway, records every attempt in the trade log
// and applies the resulting market state change.
type Executor struct {
	DB      *db.Database
	Gateway common.Gateway
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics

	now func() time.Time
}

func NewExecutor(database *db.Database, gw common.Gateway, bus *events.Bus, metrics *monitor.SystemMetrics) *Executor {
	return &Executor{DB: database, Gateway: gw, Bus: bus, Metrics: metrics, now: time.Now}
}

// SetClock replaces the time source used for trade timestamps.
func (e *Executor) SetClock(now func() time.Time) { e.now = now }

// Execute places req and returns the logged entry. A failed order still
// yields its entry, together with the gateway error. There are no retries.
func (e *Executor) Execute(ctx context.Context, req Request) (db.TradeLogEntry, error) {
	if req.Signal.Action != strategy.ActionBuy && req.Signal.Action != strategy.ActionSell {
		return db.TradeLogEntry{}, ErrNothingToExecute
	}
	log := logger.With("user", req.UserID, "market", req.Market)
	settings := e.DB.Settings()
	now := e.now()

	if !req.Manual {
		ok, err := settings.ClaimTradeSlot(ctx, req.UserID, req.Market, req.LastTradeAt, now)
		if err != nil {
			return db.TradeLogEntry{}, err
		}
		if !ok {
			log.Warnf("skip %s: %v", req.Signal.Action, ErrSlotTaken)
			return db.TradeLogEntry{}, ErrSlotTaken
		}
	}

	start := time.Now()
	res, placeErr := e.Gateway.PlaceOrder(ctx, req.Credentials, req.orderRequest())
	if e.Metrics != nil {
		e.Metrics.RecordOrder(placeErr == nil && res.Success, time.Since(start))
	}
	if placeErr == nil && !res.Success {
		placeErr = fmt.Errorf("order rejected: %s", res.Message)
	}

	entry := buildEntry(req, res, placeErr)
	entry.CreatedAt = now
	stored, err := e.DB.TradeLogs().Append(ctx, entry)
	if err != nil {
		log.Errorf("append trade log: %v", err)
	} else {
		entry = stored
	}
	if e.Bus != nil {
		e.Bus.Publish(events.EventTradeLogged, req.UserID, entry)
	}

	if placeErr != nil {
		if common.IsTransient(placeErr) {
			log.Warnf("%s %s failed: %v", req.Signal.Action, req.Market, placeErr)
		} else {
			log.Errorf("%s %s failed: %v", req.Signal.Action, req.Market, placeErr)
		}
		if !req.Manual {
			if err := settings.ReleaseTradeSlot(ctx, req.UserID, req.Market, now, req.LastTradeAt); err != nil {
				log.Errorf("release trade slot: %v", err)
			}
		}
		return entry, placeErr
	}

	_, err = settings.UpdateMarketState(ctx, req.UserID, req.Market, func(ms *db.MarketState) error {
		ms.LastTradeAt = now
		if !req.Manual && req.Delta.ReferencePrice > 0 {
			ms.ReferencePrice = req.Delta.ReferencePrice
		}
		ms.EntryPrice = nextEntryPrice(ms.EntryPrice, req.Holdings, entry)
		return nil
	})
	if err != nil {
		return entry, fmt.Errorf("apply state after %s: %w", entry.Side, err)
	}
	log.Infof("%s %s amount=%.0f volume=%.8f @ %.2f (%s)", entry.Side, entry.Market, entry.Amount, entry.Volume, entry.Price, req.Signal.Reason)
	return entry, nil
}

func buildEntry(req Request, res common.OrderResult, placeErr error) db.TradeLogEntry {
	price := req.Price
	if res.Price > 0 {
		price = res.Price
	}
	entry := db.TradeLogEntry{
		UserID:   req.UserID,
		Market:   req.Market,
		Side:     string(req.side()),
		Price:    price,
		Strategy: req.Strategy,
		OrderID:  res.OrderID,
		Status:   db.StatusSuccess,
		Message:  res.Message,
	}
	if req.Signal.Action == strategy.ActionBuy {
		entry.Amount = req.Signal.Amount
		entry.Volume = res.Volume
		if entry.Volume == 0 && price > 0 {
			entry.Volume = entry.Amount / price
		}
	} else {
		entry.Volume = req.Signal.Volume
		if res.Volume > 0 {
			entry.Volume = res.Volume
		}
		entry.Amount = entry.Volume * price
	}
	entry.Fee = entry.Amount * req.FeeRate
	if placeErr != nil {
		entry.Status = db.StatusFailed
		entry.OrderID = ""
		if entry.Message == "" {
			entry.Message = placeErr.Error()
		}
	}
	return entry
}

// nextEntryPrice keeps a volume weighted average across buys and clears it
// once the remaining position is below the minimum order value.
func nextEntryPrice(entryPrice, holdings float64, e db.TradeLogEntry) float64 {
	if e.Side == db.SideBid {
		if entryPrice <= 0 || holdings <= 0 {
			return e.Price
		}
		return (entryPrice*holdings + e.Price*e.Volume) / (holdings + e.Volume)
	}
	if (holdings-e.Volume)*e.Price < market.MinOrderValue {
		return 0
	}
	return entryPrice
}
