package reconciliation

import (
	"context"
	"errors"
	"sync"
	"time"

	"autotrade-core/pkg/crypto"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/exchanges/common"
	"autotrade-core/pkg/logger"
	"autotrade-core/pkg/market"
)

// DefaultInterval is used when the configured interval is not positive.
const DefaultInterval = 5 * time.Minute

// Service periodically compares stored positions with exchange holdings.
type Service struct {
	database *db.Database
	sealer   *crypto.Sealer
	exchange common.Gateway
	interval time.Duration
	autoSync bool
	mu       sync.Mutex
}

// Report contains reconciliation results.
type Report struct {
	Timestamp     time.Time      `json:"timestamp"`
	PositionDiffs []PositionDiff `json:"position_diffs"`
	HasDiffs      bool           `json:"has_diffs"`
	SyncedCount   int            `json:"synced_count"`
}

// PositionDiff is a market whose stored entry price disagrees with the exchange.
type PositionDiff struct {
	UserID     string  `json:"user_id"`
	Market     string  `json:"market"`
	EntryPrice float64 `json:"entry_price"`
	Holdings   float64 `json:"holdings"`
	Value      float64 `json:"value"`
	Synced     bool    `json:"synced"`
}

// NewService creates a new reconciliation service.
func NewService(database *db.Database, sealer *crypto.Sealer, exchange common.Gateway, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{
		database: database,
		sealer:   sealer,
		exchange: exchange,
		interval: interval,
		autoSync: true,
	}
}

// SetAutoSync enables or disables clearing stale entry prices.
func (s *Service) SetAutoSync(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoSync = enabled
	logger.Infof("reconciliation auto-sync: %v", enabled)
}

// Start runs Reconcile on every interval until ctx is done.
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report, err := s.Reconcile(ctx)
				if err != nil {
					logger.Errorf("reconciliation: %v", err)
					continue
				}
				s.handleReport(report)
			case <-ctx.Done():
				return
			}
		}
	}()

	s.mu.Lock()
	autoSync := s.autoSync
	s.mu.Unlock()
	logger.Infof("reconciliation started (interval: %v, auto-sync: %v)", s.interval, autoSync)
}

// Reconcile checks every market state of every active user. A stored entry
// price whose position is no longer held (sold outside the bot) is a diff and
// is cleared when auto-sync is on. Holdings without an entry price are
// reported but left alone, since the cost basis is unknown.
func (s *Service) Reconcile(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{Timestamp: time.Now(), PositionDiffs: []PositionDiff{}}

	active, err := s.database.Settings().GetActiveSettings(ctx)
	if err != nil {
		return nil, err
	}
	for _, st := range active {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if err := s.reconcileUser(ctx, st.UserID, report); err != nil {
			logger.With("user", st.UserID).Warnf("reconciliation skipped: %v", err)
		}
	}
	report.HasDiffs = len(report.PositionDiffs) > 0
	return report, nil
}

func (s *Service) reconcileUser(ctx context.Context, userID string, report *Report) error {
	creds, err := s.database.Credentials(s.sealer).Get(ctx, userID)
	if errors.Is(err, db.ErrNotFound) || (err == nil && creds.Empty()) {
		return nil
	}
	if err != nil {
		return err
	}
	states, err := s.database.Settings().ListMarketStates(ctx, userID)
	if err != nil {
		return err
	}

	for _, ms := range states {
		holdings, err := s.exchange.Balance(ctx, creds, market.Currency(ms.Market))
		if err != nil {
			return err
		}
		price, err := s.exchange.Ticker(ctx, ms.Market)
		if err != nil {
			return err
		}
		value := holdings * price
		held := value >= market.MinOrderValue
		if held == (ms.EntryPrice > 0) {
			continue
		}

		diff := PositionDiff{
			UserID:     userID,
			Market:     ms.Market,
			EntryPrice: ms.EntryPrice,
			Holdings:   holdings,
			Value:      value,
		}
		if !held && s.autoSync {
			diff.Synced = s.clearEntry(ctx, userID, ms)
			if diff.Synced {
				report.SyncedCount++
			}
		}
		report.PositionDiffs = append(report.PositionDiffs, diff)
	}
	return nil
}

// errEntryChanged aborts a clear when the state moved after holdings were read.
var errEntryChanged = errors.New("market state changed during reconciliation")

// clearEntry drops the stored entry price of snap's market, provided no trade
// touched the state since snap was read.
func (s *Service) clearEntry(ctx context.Context, userID string, snap db.MarketState) bool {
	log := logger.With("user", userID, "market", snap.Market)
	_, err := s.database.Settings().UpdateMarketState(ctx, userID, snap.Market, func(ms *db.MarketState) error {
		if ms.EntryPrice != snap.EntryPrice || !ms.LastTradeAt.Equal(snap.LastTradeAt) {
			return errEntryChanged
		}
		ms.EntryPrice = 0
		return nil
	})
	if errors.Is(err, errEntryChanged) {
		log.Infof("entry price left as is: %v", err)
		return false
	}
	if err != nil {
		log.Errorf("clear entry price: %v", err)
		return false
	}
	log.Infof("cleared entry price, position no longer held")
	return true
}

func (s *Service) handleReport(report *Report) {
	if !report.HasDiffs {
		logger.Debugf("reconciliation ok, all positions match")
		return
	}
	for _, diff := range report.PositionDiffs {
		logger.With("user", diff.UserID, "market", diff.Market).Warnf(
			"position mismatch: entry=%.8g holdings=%.8f value=%.0f synced=%v",
			diff.EntryPrice, diff.Holdings, diff.Value, diff.Synced)
	}
	if report.SyncedCount > 0 {
		logger.Infof("reconciliation synced %d positions", report.SyncedCount)
	}
}
