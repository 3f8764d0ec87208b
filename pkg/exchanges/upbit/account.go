package upbit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"autotrade-core/pkg/exchanges/common"
)

type accountResponse struct {
	Currency    string `json:"currency"`
	Balance     string `json:"balance"`
	Locked      string `json:"locked"`
	AvgBuyPrice string `json:"avg_buy_price"`
}

type orderResponse struct {
	UUID    string `json:"uuid"`
	Side    string `json:"side"`
	OrdType string `json:"ord_type"`
	State   string `json:"state"`
	Market  string `json:"market"`
}

// volumePrecision is the number of decimals the exchange accepts for volumes.
const volumePrecision = 8

// Balance returns the free balance of currency; a currency with no account row is 0.
func (c *Client) Balance(ctx context.Context, creds common.Credentials, currency string) (float64, error) {
	accounts, err := c.accounts(ctx, creds)
	if err != nil {
		return 0, err
	}
	for _, a := range accounts {
		if strings.EqualFold(a.Currency, currency) {
			d, err := decimal.NewFromString(a.Balance)
			if err != nil {
				return 0, fmt.Errorf("upbit balance %s: %w", currency, err)
			}
			return d.InexactFloat64(), nil
		}
	}
	return 0, nil
}

func (c *Client) accounts(ctx context.Context, creds common.Credentials) ([]accountResponse, error) {
	var out []accountResponse
	if err := c.doSigned(ctx, creds, http.MethodGet, "/v1/accounts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PlaceOrder submits a market order. Buys spend a KRW value, sells a volume.
func (c *Client) PlaceOrder(ctx context.Context, creds common.Credentials, req common.OrderRequest) (common.OrderResult, error) {
	params, err := orderParams(req)
	if err != nil {
		return common.Failed(err), err
	}
	var out orderResponse
	if err := c.doSigned(ctx, creds, http.MethodPost, "/v1/orders", params, &out); err != nil {
		return common.Failed(err), err
	}
	return common.OrderResult{Success: true, OrderID: out.UUID, Message: out.State}, nil
}

func orderParams(req common.OrderRequest) (url.Values, error) {
	if req.Market == "" || req.Value <= 0 {
		return nil, fmt.Errorf("upbit order: %w: market and positive value required", common.ErrValidation)
	}
	params := url.Values{"market": {req.Market}, "side": {string(req.Side)}}
	switch {
	case req.Side == common.SideBid && req.Mode == common.SizeByValue:
		params.Set("ord_type", "price")
		params.Set("price", decimal.NewFromFloat(req.Value).Truncate(0).String())
	case req.Side == common.SideAsk && req.Mode == common.SizeByVolume:
		params.Set("ord_type", "market")
		params.Set("volume", decimal.NewFromFloat(req.Value).Truncate(volumePrecision).String())
	default:
		return nil, fmt.Errorf("upbit order: %w: unsupported %s/%s", common.ErrValidation, req.Side, req.Mode)
	}
	return params, nil
}

// VerifyCredentials checks the key pair by listing accounts. Exchange messages
// (e.g. IP not allow-listed) are passed through verbatim.
func (c *Client) VerifyCredentials(ctx context.Context, creds common.Credentials) common.Verification {
	if creds.Empty() {
		return common.Verification{Valid: false, Message: "access key and secret key are required"}
	}
	if _, err := c.accounts(ctx, creds); err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			return common.Verification{Valid: false, Message: apiErr.Message}
		}
		return common.Verification{Valid: false, Message: err.Error()}
	}
	return common.Verification{Valid: true, Message: "credentials verified"}
}
