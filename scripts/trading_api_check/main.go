package main

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"autotrade-core/pkg/config"
	"autotrade-core/pkg/exchanges/common"
	"autotrade-core/pkg/exchanges/upbit"
	"autotrade-core/pkg/market"
)

// trading_api_check/main.go
//
// Quick check that the wrapped Upbit REST client works end to end.
//
// Usage (live exchange, start with a small or empty account):
//
//   go run ./scripts/trading_api_check
//
// Environment:
//   UPBIT_ACCESS_KEY / UPBIT_SECRET_KEY   key pair to check
//   CHECK_MARKET                          (default "KRW-BTC")
//   TRADING_CHECK_PLACE_ORDERS            (default "false")
//        - false: only quotation and account queries
//        - true : also sends a minimum-size market buy and sells it back
//
// Order checks can fill for real when the account has funds.

func main() {
	log.Println("=== Trading API check starting ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	placeOrders := getenv("TRADING_CHECK_PLACE_ORDERS", "false") == "true"
	mkt := market.Normalize(getenv("CHECK_MARKET", "KRW-BTC"))
	log.Printf("Config: baseURL=%s market=%s placeOrders=%v", cfg.UpbitBaseURL, mkt, placeOrders)

	client := upbit.New(upbit.Config{BaseURL: cfg.UpbitBaseURL})
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	checkQuotation(ctx, client, mkt)

	creds := common.Credentials{
		AccessKey: os.Getenv("UPBIT_ACCESS_KEY"),
		SecretKey: os.Getenv("UPBIT_SECRET_KEY"),
	}
	if creds.Empty() {
		log.Println("[ACCOUNT] UPBIT_ACCESS_KEY/SECRET_KEY empty, skipping account checks")
		log.Println("=== Trading API check finished ===")
		return
	}
	checkAccount(ctx, client, creds, mkt, placeOrders)
	log.Println("=== Trading API check finished ===")
}

func checkQuotation(ctx context.Context, c *upbit.Client, mkt string) {
	price, err := c.Ticker(ctx, mkt)
	if err != nil {
		log.Printf("[QUOTATION] ticker error: %v", err)
		return
	}
	log.Printf("[QUOTATION] %s ticker: %.2f", mkt, price)

	candles, err := c.Candles(ctx, mkt, market.Minute1, 250)
	if err != nil {
		log.Printf("[QUOTATION] candles error: %v", err)
		return
	}
	if len(candles) == 0 {
		log.Printf("[QUOTATION] candles: empty response")
		return
	}
	log.Printf("[QUOTATION] %d one-minute candles %s .. %s, last close %.2f",
		len(candles), candles[0].Time.Format(time.RFC3339), candles[len(candles)-1].Time.Format(time.RFC3339),
		candles[len(candles)-1].Close)
}

func checkAccount(ctx context.Context, c *upbit.Client, creds common.Credentials, mkt string, placeOrders bool) {
	v := c.VerifyCredentials(ctx, creds)
	log.Printf("[ACCOUNT] verify: valid=%v message=%q", v.Valid, v.Message)
	if !v.Valid {
		return
	}

	krw, err := c.Balance(ctx, creds, market.QuoteCurrency)
	if err != nil {
		log.Printf("[ACCOUNT] KRW balance error: %v", err)
		return
	}
	asset := market.Currency(mkt)
	before, err := c.Balance(ctx, creds, asset)
	if err != nil {
		log.Printf("[ACCOUNT] %s balance error: %v", asset, err)
		return
	}
	log.Printf("[ACCOUNT] balances: KRW=%.0f %s=%.8f", krw, asset, before)

	if !placeOrders {
		log.Println("[ORDER] TRADING_CHECK_PLACE_ORDERS=false, skipping order checks")
		return
	}
	amount := market.MinOrderValue * 1.1
	if krw < amount {
		log.Printf("[ORDER] KRW balance %.0f below test amount %.0f, skipping", krw, amount)
		return
	}

	buy, err := c.PlaceOrder(ctx, creds, common.OrderRequest{Market: mkt, Side: common.SideBid, Mode: common.SizeByValue, Value: amount})
	log.Printf("[ORDER] buy %.0f KRW: success=%v id=%s message=%q err=%v", amount, buy.Success, buy.OrderID, buy.Message, err)
	if err != nil || !buy.Success {
		return
	}

	// Market orders settle asynchronously.
	time.Sleep(2 * time.Second)
	after, err := c.Balance(ctx, creds, asset)
	if err != nil {
		log.Printf("[ORDER] %s balance error: %v", asset, err)
		return
	}
	bought := after - before
	if bought <= 0 {
		log.Printf("[ORDER] no %s credited yet, leaving position as is", asset)
		return
	}
	sell, err := c.PlaceOrder(ctx, creds, common.OrderRequest{Market: mkt, Side: common.SideAsk, Mode: common.SizeByVolume, Value: bought})
	log.Printf("[ORDER] sell %s %s: success=%v id=%s message=%q err=%v",
		strconv.FormatFloat(bought, 'f', 8, 64), asset, sell.Success, sell.OrderID, sell.Message, err)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
