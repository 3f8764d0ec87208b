package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"autotrade-core/internal/backtest"
	"autotrade-core/internal/engine"
	"autotrade-core/internal/events"
	"autotrade-core/internal/monitor"
	"autotrade-core/internal/stats"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/exchanges/common"
)

const testSecret = "test-secret"

type fakeEngine struct {
	lastUser  string
	lastLimit int
}

func (f *fakeEngine) GetStatus(_ context.Context, userID string) (*engine.Status, error) {
	f.lastUser = userID
	return &engine.Status{UserID: userID}, nil
}
func (f *fakeEngine) GetSettings(_ context.Context, userID string) (*db.TradingSettings, error) {
	f.lastUser = userID
	s := db.DefaultSettings(userID)
	return &s, nil
}
func (f *fakeEngine) UpdateSettings(_ context.Context, userID string, patch db.SettingsPatch) (*db.TradingSettings, error) {
	if patch.Strategy != nil && *patch.Strategy == "martingale" {
		return nil, fmt.Errorf("%w: unknown strategy", engine.ErrInvalidSettings)
	}
	s := db.DefaultSettings(userID)
	patch.Apply(&s)
	return &s, nil
}
func (f *fakeEngine) SaveCredentials(_ context.Context, _ string, creds common.Credentials) (common.Verification, error) {
	if creds.AccessKey == "bad" {
		return common.Verification{Message: "This is not a verified IP."}, engine.ErrInvalidCredentials
	}
	return common.Verification{Valid: true, Message: "ok"}, nil
}
func (f *fakeEngine) VerifyCredentials(context.Context, string) (common.Verification, error) {
	return common.Verification{}, nil
}
func (f *fakeEngine) ManualTrade(context.Context, string, engine.ManualTradeRequest) (*db.TradeLogEntry, error) {
	return nil, engine.ErrNoCredentials
}
func (f *fakeEngine) ListTrades(_ context.Context, _ string, limit int) ([]db.TradeLogEntry, error) {
	f.lastLimit = limit
	return []db.TradeLogEntry{}, nil
}
func (f *fakeEngine) RunBacktest(context.Context, string, engine.BacktestRequest) (*backtest.Result, error) {
	return nil, backtest.ErrNoCandles
}
func (f *fakeEngine) GetStatistics(context.Context, string) (*stats.Report, error) {
	return &stats.Report{}, nil
}
func (f *fakeEngine) GetSystemStatus(context.Context) *engine.SystemStatus {
	return &engine.SystemStatus{Venue: "paper"}
}

func newTestAPIServer(t *testing.T) (*httptest.Server, *fakeEngine, *events.Bus) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eng := &fakeEngine{}
	bus := events.NewBus()
	server := NewServer(eng, bus, monitor.NewSystemMetrics(), testSecret)
	httpServer := httptest.NewServer(server.Router)
	t.Cleanup(httpServer.Close)
	return httpServer, eng, bus
}

func generateToken(userID, secret string, expiresAt time.Time) (string, error) {
	claims := UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	tok, err := generateToken(userID, testSecret, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func doJSONRequest(t *testing.T, client *http.Client, method, url, token string, payload any, out any) int {
	t.Helper()

	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func TestAuthRequired(t *testing.T) {
	ts, _, _ := newTestAPIServer(t)
	client := ts.Client()

	var resp errorBody
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/status", "", nil, &resp); status != http.StatusUnauthorized || resp.Code != "MISSING_TOKEN" {
		t.Fatalf("expected MISSING_TOKEN, got status=%d code=%s", status, resp.Code)
	}

	expired, err := generateToken("u1", testSecret, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	wrongKey, err := generateToken("u1", "other-secret", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	for name, tok := range map[string]string{"expired": expired, "wrong key": wrongKey, "garbage": "abc"} {
		t.Run(name, func(t *testing.T) {
			var resp errorBody
			status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/status", tok, nil, &resp)
			if status != http.StatusUnauthorized || resp.Code != "INVALID_TOKEN" {
				t.Fatalf("expected INVALID_TOKEN, got status=%d code=%s", status, resp.Code)
			}
		})
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	ts, eng, _ := newTestAPIServer(t)
	client := ts.Client()
	token := tokenFor(t, "user-42")

	var settings db.TradingSettings
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/settings", token, nil, &settings); status != http.StatusOK {
		t.Fatalf("get settings status=%d", status)
	}
	if eng.lastUser != "user-42" || settings.UserID != "user-42" {
		t.Fatalf("engine called for %q, settings for %q", eng.lastUser, settings.UserID)
	}

	status := doJSONRequest(t, client, http.MethodPut, ts.URL+"/api/settings", token, map[string]any{
		"strategy": "grid", "grid_step_percent": 1.5,
	}, &settings)
	if status != http.StatusOK || settings.Strategy != "grid" || settings.GridStepPercent != 1.5 {
		t.Fatalf("update settings status=%d settings=%+v", status, settings)
	}

	var resp errorBody
	status = doJSONRequest(t, client, http.MethodPut, ts.URL+"/api/settings", token, map[string]any{"strategy": "martingale"}, &resp)
	if status != http.StatusBadRequest || resp.Code != "INVALID_SETTINGS" {
		t.Fatalf("expected INVALID_SETTINGS, got status=%d code=%s", status, resp.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	ts, _, _ := newTestAPIServer(t)
	client := ts.Client()
	token := tokenFor(t, "u1")

	cases := []struct {
		method, path string
		body         any
		status       int
		code         string
	}{
		{http.MethodPost, "/api/trade", map[string]any{"side": "buy"}, http.StatusPreconditionFailed, "NO_CREDENTIALS"},
		{http.MethodPost, "/api/backtest", map[string]any{"days": 7}, http.StatusUnprocessableEntity, "NO_DATA"},
		{http.MethodPut, "/api/credentials", map[string]any{"access_key": "bad", "secret_key": "x"}, http.StatusBadRequest, "INVALID_CREDENTIALS"},
		{http.MethodPut, "/api/credentials", map[string]any{"access_key": "only"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{http.MethodGet, "/api/trades?limit=0", nil, http.StatusBadRequest, "INVALID_REQUEST"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			var resp errorBody
			status := doJSONRequest(t, client, tc.method, ts.URL+tc.path, token, tc.body, &resp)
			if status != tc.status || resp.Code != tc.code {
				t.Fatalf("got status=%d code=%s, want %d %s", status, resp.Code, tc.status, tc.code)
			}
		})
	}
}

func TestListTradesLimit(t *testing.T) {
	ts, eng, _ := newTestAPIServer(t)
	var trades []db.TradeLogEntry
	status := doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/api/trades?limit=5", tokenFor(t, "u1"), nil, &trades)
	if status != http.StatusOK || eng.lastLimit != 5 {
		t.Fatalf("status=%d limit=%d", status, eng.lastLimit)
	}
}

func TestPublicEndpoints(t *testing.T) {
	ts, _, _ := newTestAPIServer(t)
	client := ts.Client()

	var health map[string]string
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/health", "", nil, &health); status != http.StatusOK || health["status"] != "ok" {
		t.Fatalf("health status=%d body=%v", status, health)
	}
	var metrics struct {
		Metrics monitor.MetricsSnapshot `json:"metrics"`
	}
	if status := doJSONRequest(t, client, http.MethodGet, ts.URL+"/api/metrics", "", nil, &metrics); status != http.StatusOK {
		t.Fatalf("metrics status=%d", status)
	}
	if metrics.Metrics.APIRequests == 0 {
		t.Fatalf("expected the health request to be counted")
	}
}

func TestWebsocketFiltersByUser(t *testing.T) {
	ts, _, bus := newTestAPIServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + tokenFor(t, "u1")

	if _, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil); err == nil {
		t.Fatal("expected dial without token to fail")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Subscription happens after the upgrade; retry until the first event lands.
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	received := make(chan events.Message, 4)
	go func() {
		for {
			var msg events.Message
			if err := conn.ReadJSON(&msg); err != nil {
				close(received)
				return
			}
			received <- msg
		}
	}()

	for time.Now().Before(deadline) {
		bus.Publish(events.EventTradeLogged, "u2", db.TradeLogEntry{UserID: "u2"})
		bus.Publish(events.EventTradeLogged, "u1", db.TradeLogEntry{UserID: "u1", Market: "KRW-BTC"})
		select {
		case msg, ok := <-received:
			if !ok {
				t.Fatal("connection closed before any event")
			}
			if msg.UserID != "u1" {
				t.Fatalf("received event for %q", msg.UserID)
			}
			return
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("no event received")
}
