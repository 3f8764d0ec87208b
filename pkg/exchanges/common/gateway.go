package common

import (
	"context"

	"autotrade-core/pkg/market"
)

// MarketData is the unauthenticated half of a venue.
type MarketData interface {
	Ticker(ctx context.Context, market string) (float64, error)
	// Candles returns up to count bars, oldest first.
	Candles(ctx context.Context, market string, res market.Resolution, count int) ([]market.Candle, error)
}

// Gateway abstracts a trading venue. Every authenticated call is signed per request with creds.
type Gateway interface {
	MarketData
	Balance(ctx context.Context, creds Credentials, currency string) (float64, error)
	// PlaceOrder never panics on venue errors: a failed order returns Success=false
	// with the venue's message, together with the classified error.
	PlaceOrder(ctx context.Context, creds Credentials, req OrderRequest) (OrderResult, error)
	VerifyCredentials(ctx context.Context, creds Credentials) Verification
}
