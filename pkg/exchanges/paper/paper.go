// Package paper simulates order execution against live market data without touching real funds.
package paper

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"autotrade-core/pkg/exchanges/common"
	"autotrade-core/pkg/logger"
	"autotrade-core/pkg/market"
)

// Config tunes the simulation.
type Config struct {
	InitialBalance float64 // KRW credited to each new account
	FeeRate        float64 // decimal, e.g. 0.0005 = 5 bps
	SlippageBps    float64 // worst-case adverse slippage applied on fills
	Seed           int64
}

// Gateway fills market orders at the current ticker price. Accounts are keyed
// by access key and created on first use.
type Gateway struct {
	common.MarketData
	cfg Config

	mu       sync.Mutex
	accounts map[string]map[string]float64
	rng      *rand.Rand
}

var _ common.Gateway = (*Gateway)(nil)

func New(data common.MarketData, cfg Config) *Gateway {
	return &Gateway{
		MarketData: data,
		cfg:        cfg,
		accounts:   make(map[string]map[string]float64),
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}
}

func (g *Gateway) account(creds common.Credentials) map[string]float64 {
	acct, ok := g.accounts[creds.AccessKey]
	if !ok {
		acct = map[string]float64{market.QuoteCurrency: g.cfg.InitialBalance}
		g.accounts[creds.AccessKey] = acct
	}
	return acct
}

func (g *Gateway) Balance(_ context.Context, creds common.Credentials, currency string) (float64, error) {
	if creds.AccessKey == "" {
		return 0, fmt.Errorf("paper: %w: access key required", common.ErrAuth)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.account(creds)[currency], nil
}

func (g *Gateway) PlaceOrder(ctx context.Context, creds common.Credentials, req common.OrderRequest) (common.OrderResult, error) {
	if creds.AccessKey == "" {
		err := fmt.Errorf("paper: %w: access key required", common.ErrAuth)
		return common.Failed(err), err
	}
	price, err := g.Ticker(ctx, req.Market)
	if err != nil {
		return common.Failed(err), err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	slip := 0.0
	if g.cfg.SlippageBps > 0 {
		slip = g.rng.Float64() * g.cfg.SlippageBps / 10000
	}
	acct := g.account(creds)
	asset := market.Currency(req.Market)

	var volume float64
	switch req.Side {
	case common.SideBid:
		fill := price * (1 + slip)
		cost := req.Value * (1 + g.cfg.FeeRate)
		if acct[market.QuoteCurrency] < cost {
			err := fmt.Errorf("paper: %w: insufficient KRW (have %.0f, need %.0f)", common.ErrValidation, acct[market.QuoteCurrency], cost)
			return common.Failed(err), err
		}
		volume = req.Value / fill
		acct[market.QuoteCurrency] -= cost
		acct[asset] += volume
		price = fill
	case common.SideAsk:
		fill := price * (1 - slip)
		if acct[asset] < req.Value {
			err := fmt.Errorf("paper: %w: insufficient %s (have %.8f, need %.8f)", common.ErrValidation, asset, acct[asset], req.Value)
			return common.Failed(err), err
		}
		volume = req.Value
		acct[asset] -= volume
		acct[market.QuoteCurrency] += volume * fill * (1 - g.cfg.FeeRate)
		price = fill
	default:
		err := fmt.Errorf("paper: %w: unknown side %q", common.ErrValidation, req.Side)
		return common.Failed(err), err
	}

	id := uuid.NewString()
	logger.Debugf("paper fill %s %s %s vol=%.8f @ %.2f", id, req.Market, req.Side, volume, price)
	return common.OrderResult{Success: true, OrderID: id, Message: "filled", Price: price, Volume: volume}, nil
}

func (g *Gateway) VerifyCredentials(_ context.Context, creds common.Credentials) common.Verification {
	if creds.AccessKey == "" {
		return common.Verification{Valid: false, Message: "access key is required"}
	}
	return common.Verification{Valid: true, Message: "paper trading account"}
}
