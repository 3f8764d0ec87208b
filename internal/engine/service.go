// Package engine is the boundary between the trading core and the API layer.
// Handlers talk to the core only through Service.
package engine

import (
	"context"
	"errors"

	"autotrade-core/internal/backtest"
	"autotrade-core/internal/stats"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/exchanges/common"
)

var (
	ErrInvalidSettings     = errors.New("invalid settings")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrNoCredentials       = errors.New("no exchange credentials saved")
	ErrInvalidCredentials  = errors.New("exchange rejected credentials")
	ErrBelowMinimum        = errors.New("order value below exchange minimum")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Service defines the operations exposed to the API layer. Every call is scoped to one user.
type Service interface {
	// Account
	GetStatus(ctx context.Context, userID string) (*Status, error)
	GetSettings(ctx context.Context, userID string) (*db.TradingSettings, error)
	UpdateSettings(ctx context.Context, userID string, patch db.SettingsPatch) (*db.TradingSettings, error)
	SaveCredentials(ctx context.Context, userID string, creds common.Credentials) (common.Verification, error)
	VerifyCredentials(ctx context.Context, userID string) (common.Verification, error)

	// Trading
	ManualTrade(ctx context.Context, userID string, req ManualTradeRequest) (*db.TradeLogEntry, error)
	ListTrades(ctx context.Context, userID string, limit int) ([]db.TradeLogEntry, error)

	// Analysis
	RunBacktest(ctx context.Context, userID string, req BacktestRequest) (*backtest.Result, error)
	GetStatistics(ctx context.Context, userID string) (*stats.Report, error)

	// System
	GetSystemStatus(ctx context.Context) *SystemStatus
}
