package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"marketpulse.com/internal/tape/metrics"
	"marketpulse.com/internal/tape/model"
	"marketpulse.com/internal/tape/store"
	"marketpulse.com/pkg/logger"
	"marketpulse.com/pkg/xerr"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Init("api-test", "error")
	m.Run()
}

func seedStore(t *testing.T) *store.Memory {
	t.Helper()
	mem := store.NewMemory()
	ctx := context.Background()

	base := int64(1_700_000_000_000)
	base = (base / 60_000) * 60_000

	for i := int64(0); i < 3; i++ {
		_, err := mem.InsertTrade(ctx, model.Trade{
			Source:    model.SourceKalshi,
			Market:    "M1",
			PriceStr:  "0.35",
			SizeStr:   "10",
			Side:      model.SideBuy,
			EventTsMs: base + i*1_000,
		})
		if err != nil {
			t.Fatalf("seed trade: %v", err)
		}
	}
	for i := int64(0); i < 2; i++ {
		err := mem.UpsertCandle(ctx, model.Candle{
			Source:   model.SourceKalshi,
			Market:   "M1",
			Interval: time.Minute,
			StartMs:  base + i*60_000,
			EndMs:    base + (i+1)*60_000,
			Open:     35_000_000, High: 35_000_000, Low: 35_000_000, Close: 35_000_000,
			Volume: 10 * 100_000_000, Trades: 3,
		})
		if err != nil {
			t.Fatalf("seed candle: %v", err)
		}
	}
	return mem
}

func doGet(t *testing.T, r *gin.Engine, path string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)

	var body map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad body %q: %v", w.Body.String(), err)
	}
	return w, body
}

func newTestRouter(t *testing.T) *gin.Engine {
	mem := seedStore(t)
	tr := metrics.NewTracker(time.Minute, 100)
	now := time.Now().UnixMilli()
	tr.Record(model.SourceKalshi, now-25, now)
	h := NewHandler(mem, tr, nil)
	return NewRouter(h, func(w http.ResponseWriter, r *http.Request) {}, nil)
}

func TestCandles(t *testing.T) {
	r := newTestRouter(t)

	w, body := doGet(t, r, "/api/v1/candles?source=kalshi&market=M1&interval=1m")
	if w.Code != http.StatusOK {
		t.Fatalf("status want=200 got=%d body=%s", w.Code, w.Body.String())
	}
	var out []CandleDTO
	if err := json.Unmarshal(body["data"], &out); err != nil {
		t.Fatalf("data: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("candles want=2 got=%d", len(out))
	}
	if out[0].StartMs >= out[1].StartMs {
		t.Fatalf("应按 start 升序")
	}
	if out[0].Open != "0.35000000" || out[0].Interval != "1m" {
		t.Fatalf("bad candle dto: %+v", out[0])
	}

	t.Run("bad_source", func(t *testing.T) {
		w, body := doGet(t, r, "/api/v1/candles?source=nasdaq&market=M1")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status want=400 got=%d", w.Code)
		}
		var code int
		_ = json.Unmarshal(body["code"], &code)
		if code != xerr.RequestParamsError {
			t.Fatalf("code want=%d got=%d", xerr.RequestParamsError, code)
		}
	})

	t.Run("missing_market", func(t *testing.T) {
		w, _ := doGet(t, r, "/api/v1/candles?source=kalshi")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status want=400 got=%d", w.Code)
		}
	})

	t.Run("bad_interval", func(t *testing.T) {
		w, _ := doGet(t, r, "/api/v1/candles?source=kalshi&market=M1&interval=7x")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status want=400 got=%d", w.Code)
		}
	})
}

func TestTrades(t *testing.T) {
	r := newTestRouter(t)

	w, body := doGet(t, r, "/api/v1/trades?source=kalshi&market=M1&limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status want=200 got=%d body=%s", w.Code, w.Body.String())
	}
	var resp tradesResp
	if err := json.Unmarshal(body["data"], &resp); err != nil {
		t.Fatalf("data: %v", err)
	}
	if len(resp.Trades) != 2 {
		t.Fatalf("limit 未生效: got=%d", len(resp.Trades))
	}
	if resp.Trades[0].TsMs < resp.Trades[1].TsMs {
		t.Fatalf("应按事件时间倒序")
	}
	if resp.Trades[0].Side != "BUY" || resp.Trades[0].Price != "0.35" {
		t.Fatalf("bad trade dto: %+v", resp.Trades[0])
	}
}

func TestStats(t *testing.T) {
	r := newTestRouter(t)

	w, body := doGet(t, r, "/api/v1/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status want=200 got=%d", w.Code)
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(body["data"], &snap); err != nil {
		t.Fatalf("data: %v", err)
	}
	if snap.Global.Count != 1 || snap.Global.P50Ms != 25 {
		t.Fatalf("bad snapshot: %+v", snap)
	}
	if _, ok := snap.PerSource["kalshi"]; !ok {
		t.Fatalf("per_source 缺 kalshi: %+v", snap.PerSource)
	}
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", w.Code, w.Body.String())
	}
}
