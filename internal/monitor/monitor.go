package monitor

import (
	"context"
	"fmt"

	"autotrade-core/internal/events"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/logger"
)

// Monitor watches the trade log stream and raises an alert for every failed order.
type Monitor struct {
	Bus     *events.Bus
	AlertFn func(string)
}

// Start consumes events until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil || m.AlertFn == nil {
		logger.Warnf("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.Subscribe(64, events.EventTradeLogged)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				if alert, ok := formatAlert(msg); ok {
					m.AlertFn(alert)
				}
			}
		}
	}()
}

func formatAlert(msg events.Message) (string, bool) {
	entry, ok := msg.Payload.(db.TradeLogEntry)
	if !ok || entry.Status != db.StatusFailed {
		return "", false
	}
	return fmt.Sprintf("[%s] order failed user=%s market=%s side=%s: %s",
		msg.At.Format("2006-01-02T15:04:05Z07:00"), entry.UserID, entry.Market, entry.Side, entry.Message), true
}
