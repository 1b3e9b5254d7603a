package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"marketpulse.com/internal/tape/candle"
	"marketpulse.com/internal/tape/catalog"
	"marketpulse.com/internal/tape/metrics"
	"marketpulse.com/internal/tape/model"
	"marketpulse.com/internal/tape/store"
	"marketpulse.com/internal/tape/ws"
	"marketpulse.com/pkg/logger"
	"marketpulse.com/pkg/xerr"
)

// Handler：历史查询面。都是简单的索引范围读，没有聚合逻辑。
type Handler struct {
	store   store.Store
	tracker *metrics.Tracker
	catalog *catalog.Catalog // 可为 nil：不做标题增强
}

func NewHandler(st store.Store, tr *metrics.Tracker, cat *catalog.Catalog) *Handler {
	return &Handler{store: st, tracker: tr, catalog: cat}
}

type CandleDTO struct {
	Source   string `json:"source"`
	Market   string `json:"market"`
	Interval string `json:"interval"`
	StartMs  int64  `json:"start_ms"`
	EndMs    int64  `json:"end_ms"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
	Trades   int64  `json:"trades"`
}

// GET /api/v1/candles?source=&market=&interval=&from_ms=&to_ms=
// 按桶开始时间升序
func (h *Handler) Candles(c *gin.Context) {
	src, ok := model.ParseSource(c.Query("source"))
	if !ok {
		badRequest(c, "unknown source")
		return
	}
	market := c.Query("market")
	if market == "" {
		badRequest(c, "market required")
		return
	}
	interval, ok := model.ParseIntervalKey(c.DefaultQuery("interval", "1m"))
	if !ok {
		badRequest(c, "bad interval")
		return
	}
	fromMs := parseInt64(c.Query("from_ms"), 0)
	toMs := parseInt64(c.Query("to_ms"), 1<<62)

	candles, err := h.store.CandleRange(c.Request.Context(), src, market, interval, fromMs, toMs)
	if err != nil {
		dbError(c, err)
		return
	}

	out := make([]CandleDTO, 0, len(candles))
	for _, cd := range candles {
		out = append(out, CandleDTO{
			Source:   cd.Source.String(),
			Market:   cd.Market,
			Interval: model.IntervalKey(cd.Interval),
			StartMs:  cd.StartMs,
			EndMs:    cd.EndMs,
			Open:     candle.FormatFixed(cd.Open),
			High:     candle.FormatFixed(cd.High),
			Low:      candle.FormatFixed(cd.Low),
			Close:    candle.FormatFixed(cd.Close),
			Volume:   candle.FormatFixed(cd.Volume),
			Trades:   cd.Trades,
		})
	}
	okData(c, out)
}

type tradesResp struct {
	Title  string        `json:"title,omitempty"`
	Trades []ws.TradeDTO `json:"trades"`
}

// GET /api/v1/trades?source=&market=&limit=
// 按事件时间倒序
func (h *Handler) Trades(c *gin.Context) {
	src, ok := model.ParseSource(c.Query("source"))
	if !ok {
		badRequest(c, "unknown source")
		return
	}
	market := c.Query("market")
	if market == "" {
		badRequest(c, "market required")
		return
	}
	limit := int(parseInt64(c.DefaultQuery("limit", "100"), 100))
	if limit > 1000 {
		limit = 1000
	}

	trades, err := h.store.RecentTrades(c.Request.Context(), src, market, limit)
	if err != nil {
		dbError(c, err)
		return
	}

	resp := tradesResp{Trades: make([]ws.TradeDTO, 0, len(trades))}
	for _, t := range trades {
		resp.Trades = append(resp.Trades, ws.ToDTO(t))
	}

	// 标题增强是 best-effort：catalog 挂了照样出数据
	if h.catalog != nil {
		if title, err := h.catalog.Title(c.Request.Context(), src, market); err == nil {
			resp.Title = title
		} else {
			logger.Debug(c.Request.Context(), "title lookup failed",
				zap.String("market", market), zap.Error(err))
		}
	}
	okData(c, resp)
}

// GET /api/v1/stats
func (h *Handler) Stats(c *gin.Context) {
	okData(c, h.tracker.Snapshot())
}

func okData(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": xerr.OK, "msg": "ok", "data": data})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": xerr.RequestParamsError, "msg": msg})
}

func dbError(c *gin.Context, err error) {
	logger.Error(c.Request.Context(), "query failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"code": xerr.DbError, "msg": xerr.MapErrMsg(xerr.DbError)})
}

func parseInt64(s string, def int64) int64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return v
}
