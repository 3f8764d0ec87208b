// Package upbit is a REST client for the Upbit KRW spot exchange.
package upbit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"autotrade-core/pkg/exchanges/common"
)

const (
	DefaultBaseURL = "https://api.upbit.com"

	// maxCandlesPerRequest is the page size limit of the candle endpoints.
	maxCandlesPerRequest = 200

	groupQuotation = "candles"
	groupOrder     = "order"
)

// Config holds client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// QuotationRPS / ExchangeRPS pace public and private requests.
	QuotationRPS float64
	ExchangeRPS  float64
}

// Client is an Upbit REST client. It holds no credentials; every private
// call is signed with the credentials passed in.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	quotation   *rate.Limiter
	exchange    *rate.Limiter
	rateLimiter *common.RateLimiter
}

var _ common.Gateway = (*Client)(nil)

// New builds a client with sane defaults for zero fields.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.QuotationRPS <= 0 {
		cfg.QuotationRPS = 10
	}
	if cfg.ExchangeRPS <= 0 {
		cfg.ExchangeRPS = 8
	}
	return &Client{
		baseURL:     cfg.BaseURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		quotation:   rate.NewLimiter(rate.Limit(cfg.QuotationRPS), int(cfg.QuotationRPS)),
		exchange:    rate.NewLimiter(rate.Limit(cfg.ExchangeRPS), int(cfg.ExchangeRPS)),
		rateLimiter: common.NewRateLimiter(1),
	}
}

type errorResponse struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// doPublic performs an unauthenticated GET.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values, out interface{}) error {
	if err := c.wait(ctx, c.quotation, groupQuotation); err != nil {
		return err
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

// doSigned performs an authenticated request. GET params go in the query
// string, POST params in a JSON body; both are covered by the token's query hash.
func (c *Client) doSigned(ctx context.Context, creds common.Credentials, method, path string, params url.Values, out interface{}) error {
	if creds.Empty() {
		return fmt.Errorf("upbit: %w: access/secret key required", common.ErrAuth)
	}
	if err := c.wait(ctx, c.exchange, groupOrder); err != nil {
		return err
	}
	token, err := signToken(creds, params)
	if err != nil {
		return fmt.Errorf("upbit: sign request: %w", err)
	}

	endpoint := c.baseURL + path
	var body io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		if len(params) > 0 {
			endpoint += "?" + params.Encode()
		}
	default:
		payload := make(map[string]string, len(params))
		for k := range params {
			payload[k] = params.Get(k)
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out interface{}) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upbit %s %s: %w: %v", req.Method, req.URL.Path, common.ErrTransient, err)
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("Remaining-Req"))

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		var er errorResponse
		_ = json.Unmarshal(body, &er)
		msg := er.Error.Message
		if msg == "" {
			msg = string(body)
		}
		return fmt.Errorf("upbit %s %s: %w", req.Method, req.URL.Path, common.NewAPIError(res.StatusCode, er.Error.Name, msg))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("upbit %s %s: decode response: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

// wait paces a request and backs off when the venue reports an exhausted budget.
func (c *Client) wait(ctx context.Context, l *rate.Limiter, group string) error {
	if c.rateLimiter.ShouldDelay(group) {
		timer := time.NewTimer(time.Second)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("upbit: %w: %v", common.ErrTransient, err)
	}
	return nil
}
