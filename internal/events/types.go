package events

import "time"

// Event enumerates high-level topics inside the trading core.
type Event string

const (
	// EventTradeLogged carries a db.TradeLogEntry after every order attempt.
	EventTradeLogged Event = "trade.logged"
	// EventSignal carries a SignalPayload for every non-hold evaluation.
	EventSignal Event = "strategy.signal"
	// EventTickCompleted carries the scheduler's per-tick report.
	EventTickCompleted Event = "scheduler.tick"
)

// Message is what subscribers receive. UserID is empty for system-wide events.
type Message struct {
	Event   Event     `json:"event"`
	UserID  string    `json:"user_id,omitempty"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// SignalPayload describes a decision before it is executed.
type SignalPayload struct {
	Market   string  `json:"market"`
	Strategy string  `json:"strategy"`
	Action   string  `json:"action"`
	Amount   float64 `json:"amount,omitempty"`
	Volume   float64 `json:"volume,omitempty"`
	Reason   string  `json:"reason"`
	Price    float64 `json:"price"`
}
