package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"autotrade-core/internal/backtest"
	"autotrade-core/internal/engine"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/exchanges/common"
)

const maxTradeListLimit = 500

type credentialsRequest struct {
	AccessKey string `json:"access_key" binding:"required"`
	SecretKey string `json:"secret_key" binding:"required"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondEngineError maps engine, store and exchange errors to HTTP responses.
func respondEngineError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, engine.ErrInvalidSettings):
		status, code = http.StatusBadRequest, "INVALID_SETTINGS"
	case errors.Is(err, engine.ErrInvalidRequest):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, engine.ErrBelowMinimum):
		status, code = http.StatusBadRequest, "BELOW_MINIMUM"
	case errors.Is(err, engine.ErrInsufficientBalance):
		status, code = http.StatusBadRequest, "INSUFFICIENT_BALANCE"
	case errors.Is(err, engine.ErrNoCredentials):
		status, code = http.StatusPreconditionFailed, "NO_CREDENTIALS"
	case errors.Is(err, engine.ErrInvalidCredentials):
		status, code = http.StatusBadRequest, "INVALID_CREDENTIALS"
	case errors.Is(err, backtest.ErrNoCandles):
		status, code = http.StatusUnprocessableEntity, "NO_DATA"
	case errors.Is(err, db.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, common.ErrAuth):
		status, code = http.StatusBadGateway, "EXCHANGE_AUTH"
	case errors.Is(err, common.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "EXCHANGE_RATE_LIMITED"
	case errors.Is(err, common.ErrValidation):
		status, code = http.StatusBadRequest, "EXCHANGE_REJECTED"
	case errors.Is(err, common.ErrTransient):
		status, code = http.StatusBadGateway, "EXCHANGE_UNAVAILABLE"
	}
	respondError(c, status, code, err.Error())
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_DISABLED", "metrics not configured")
		return
	}
	var dropped int64
	if s.Bus != nil {
		dropped = s.Bus.Dropped()
	}
	c.JSON(http.StatusOK, gin.H{
		"metrics":        s.Metrics.GetSnapshot(),
		"events_dropped": dropped,
	})
}

func (s *Server) getStatus(c *gin.Context) {
	st, err := s.Engine.GetStatus(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getSettings(c *gin.Context) {
	settings, err := s.Engine.GetSettings(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) updateSettings(c *gin.Context) {
	var patch db.SettingsPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	settings, err := s.Engine.UpdateSettings(c.Request.Context(), CurrentUserID(c), patch)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (s *Server) saveCredentials(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "access_key and secret_key are required")
		return
	}
	v, err := s.Engine.SaveCredentials(c.Request.Context(), CurrentUserID(c),
		common.Credentials{AccessKey: req.AccessKey, SecretKey: req.SecretKey})
	if errors.Is(err, engine.ErrInvalidCredentials) {
		// The exchange's message is shown to the user as is.
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_CREDENTIALS", "error": v.Message, "valid": false})
		return
	}
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) verifyCredentials(c *gin.Context) {
	v, err := s.Engine.VerifyCredentials(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) manualTrade(c *gin.Context) {
	var req engine.ManualTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	entry, err := s.Engine.ManualTrade(c.Request.Context(), CurrentUserID(c), req)
	if err != nil {
		if entry != nil {
			// The attempt was logged as failed; return it with the reason.
			c.JSON(http.StatusBadGateway, gin.H{"code": "ORDER_FAILED", "error": entry.Message, "trade": entry})
			return
		}
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) runBacktest(c *gin.Context) {
	var req engine.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	res, err := s.Engine.RunBacktest(c.Request.Context(), CurrentUserID(c), req)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getStatistics(c *gin.Context) {
	rep, err := s.Engine.GetStatistics(c.Request.Context(), CurrentUserID(c))
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) listTrades(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTradeListLimit {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "limit must be between 1 and 500")
			return
		}
		limit = n
	}
	trades, err := s.Engine.ListTrades(c.Request.Context(), CurrentUserID(c), limit)
	if err != nil {
		respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}
