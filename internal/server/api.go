package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rickgao/cryptodash/internal/cache"
	"github.com/rickgao/cryptodash/internal/model"
	"github.com/rickgao/cryptodash/internal/version"
)

const pingTimeout = 2 * time.Second

// Dependency states reported by the health endpoint.
const (
	depOK       = "ok"
	depDown     = "down"
	depDisabled = "disabled"
)

// -----------------------------------------------------------------------------
// Read endpoints
// -----------------------------------------------------------------------------

func (s *Server) getHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), pingTimeout)
	defer cancel()

	redisStatus, dbStatus := depDisabled, depDisabled
	if s.deps.Cache != nil {
		redisStatus = ping(ctx, s.deps.Cache)
	}
	if s.deps.DB != nil {
		dbStatus = ping(ctx, s.deps.DB)
	}

	status := "ok"
	if redisStatus == depDown || dbStatus == depDown {
		status = "degraded"
	}

	stats := s.deps.Hub.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"version":     version.Get(),
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"connections": s.Sessions(),
		"channels":    stats.Channels,
		"redis":       redisStatus,
		"database":    dbStatus,
	})
}

func ping(ctx context.Context, p Pinger) string {
	if err := p.Ping(ctx); err != nil {
		return depDown
	}
	return depOK
}

func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Hub.Stats())
}

type exchangeInfo struct {
	ID     string `json:"id"`
	Driver string `json:"driver"`
	Mode   string `json:"mode"`
	Live   bool   `json:"live"`
}

func (s *Server) getExchanges(c *gin.Context) {
	cfgs := s.deps.Exchanges.Configs()
	out := make([]exchangeInfo, 0, len(cfgs))
	for _, cfg := range cfgs {
		out = append(out, exchangeInfo{
			ID:     cfg.ID,
			Driver: cfg.Driver,
			Mode:   cfg.Mode,
			Live:   cfg.HasCredentials(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"exchanges": out, "timeframes": timeframes()})
}

// timeframes lists supported kline timeframes, shortest first.
func timeframes() []string {
	out := make([]string, 0, len(model.Timeframes))
	for tf := range model.Timeframes {
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool { return model.Timeframes[out[i]] < model.Timeframes[out[j]] })
	return out
}

// getLatest answers from the live channel first, then the cache.
func (s *Server) getLatest(c *gin.Context) {
	key := model.ChannelKey{
		Type:       model.ChannelType(c.Query("type")),
		Exchange:   c.Query("exchange"),
		Symbol:     c.Query("symbol"),
		Timeframe:  c.Query("timeframe"),
		StrategyID: c.Query("strategyId"),
		UserID:     c.Query("userId"),
	}.Normalize()
	if err := key.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if ev, ok := s.deps.Hub.Latest(key); ok {
		c.JSON(http.StatusOK, model.NewEnvelope(ev))
		return
	}

	if s.deps.Cache != nil {
		raw, err := s.deps.Cache.Get(c.Request.Context(), key)
		switch {
		case err == nil:
			c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
			return
		case !errors.Is(err, cache.ErrNotFound):
			s.logger.Warn("cache lookup failed", "channel", key.String(), "error", err)
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no data for %s", key)})
}

// -----------------------------------------------------------------------------
// Push endpoints
// -----------------------------------------------------------------------------

type signalRequest struct {
	StrategyID string  `json:"strategyId" binding:"required"`
	Symbol     string  `json:"symbol"`
	Signal     string  `json:"signal" binding:"required,oneof=buy sell hold"`
	Strength   float64 `json:"strength"`
	Price      float64 `json:"price"`
	Ts         int64   `json:"ts"`
}

func (s *Server) postSignal(c *gin.Context) {
	if s.deps.Push == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push disabled"})
		return
	}

	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Ts == 0 {
		req.Ts = time.Now().UnixMilli()
	}

	// A signal reaches strategy-wide subscribers and, when it names a
	// symbol, the per-symbol channel as well.
	keys := []model.ChannelKey{{Type: model.ChannelSignal, StrategyID: req.StrategyID}}
	if req.Symbol != "" {
		keys = append(keys, model.ChannelKey{Type: model.ChannelSignal, StrategyID: req.StrategyID, Symbol: req.Symbol})
	}

	events := make([]model.Event, 0, len(keys))
	for _, key := range keys {
		key = key.Normalize()
		if err := key.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events = append(events, model.SignalEvent{
			Channel:    key,
			StrategyID: key.StrategyID,
			Symbol:     strings.ToUpper(strings.TrimSpace(req.Symbol)),
			Signal:     req.Signal,
			Strength:   req.Strength,
			Price:      req.Price,
			Ts:         req.Ts,
		})
	}
	s.publish(c, events)
}

type orderStatusRequest struct {
	OrderID   string  `json:"orderId" binding:"required"`
	UserID    string  `json:"userId" binding:"required"`
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	Status    string  `json:"status" binding:"required,oneof=new partially_filled filled canceled rejected"`
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	FilledQty float64 `json:"filledQty"`
	AvgPrice  float64 `json:"avgPrice"`
	Ts        int64   `json:"ts"`
}

func (s *Server) postOrderStatus(c *gin.Context) {
	if s.deps.Push == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push disabled"})
		return
	}

	var req orderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Ts == 0 {
		req.Ts = time.Now().UnixMilli()
	}

	// User-wide channel, plus the per-exchange channel when one is named.
	keys := []model.ChannelKey{{Type: model.ChannelOrderStatus, UserID: req.UserID}}
	if req.Exchange != "" {
		keys = append(keys, model.ChannelKey{Type: model.ChannelOrderStatus, UserID: req.UserID, Exchange: req.Exchange})
	}

	events := make([]model.Event, 0, len(keys))
	for _, key := range keys {
		key = key.Normalize()
		if err := key.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		events = append(events, model.OrderStatusEvent{
			Channel:   key,
			OrderID:   req.OrderID,
			UserID:    key.UserID,
			Exchange:  strings.ToLower(strings.TrimSpace(req.Exchange)),
			Symbol:    strings.ToUpper(strings.TrimSpace(req.Symbol)),
			Side:      req.Side,
			Status:    req.Status,
			Price:     req.Price,
			Quantity:  req.Quantity,
			FilledQty: req.FilledQty,
			AvgPrice:  req.AvgPrice,
			Ts:        req.Ts,
		})
	}
	s.publish(c, events)
}

func (s *Server) publish(c *gin.Context, events []model.Event) {
	channels := make([]string, 0, len(events))
	delivered := 0
	for _, ev := range events {
		delivered += s.deps.Push.Publish(c.Request.Context(), ev)
		channels = append(channels, ev.Key().String())
	}
	c.JSON(http.StatusAccepted, gin.H{"channels": channels, "delivered": delivered})
}
