package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketpulse.com/internal/tape/model"
)

// Memory：内存实现。给单机开发模式和测试用，语义与 mysql 实现一致。
type Memory struct {
	mu sync.RWMutex

	trades  map[string]model.Trade   // idemKey -> trade
	byKey   map[string][]string      // src|market -> idemKeys（插入序）
	candles map[string]model.Candle  // src|market|ivMs|start -> candle
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		trades:  make(map[string]model.Trade, 4096),
		byKey:   make(map[string][]string, 256),
		candles: make(map[string]model.Candle, 4096),
	}
}

func (m *Memory) InsertTrade(_ context.Context, t model.Trade) (bool, error) {
	key := t.IdemKey()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.trades[key]; dup {
		return false, nil
	}
	m.trades[key] = t
	mk := marketKey(t.Source, t.Market)
	m.byKey[mk] = append(m.byKey[mk], key)
	return true, nil
}

func (m *Memory) RecentTrades(_ context.Context, src model.Source, market string, limit int) ([]model.Trade, error) {
	m.mu.RLock()
	keys := m.byKey[marketKey(src, market)]
	out := make([]model.Trade, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.trades[k])
	}
	m.mu.RUnlock()

	// 事件时间倒序；同一毫秒按插入序靠后者在前
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EventTsMs > out[j].EventTsMs
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpsertCandle(_ context.Context, c model.Candle) error {
	m.mu.Lock()
	m.candles[candleKey(c.Source, c.Market, c.Interval, c.StartMs)] = c
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetCandle(_ context.Context, src model.Source, market string, interval time.Duration, startMs int64) (model.Candle, bool, error) {
	m.mu.RLock()
	c, ok := m.candles[candleKey(src, market, interval, startMs)]
	m.mu.RUnlock()
	return c, ok, nil
}

func (m *Memory) CandleRange(_ context.Context, src model.Source, market string, interval time.Duration, fromMs, toMs int64) ([]model.Candle, error) {
	m.mu.RLock()
	out := make([]model.Candle, 0, 64)
	for _, c := range m.candles {
		if c.Source == src && c.Market == market && c.Interval == interval &&
			c.StartMs >= fromMs && c.StartMs < toMs {
			out = append(out, c)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartMs < out[j].StartMs })
	return out, nil
}

func marketKey(src model.Source, market string) string {
	return src.String() + "|" + market
}

func candleKey(src model.Source, market string, interval time.Duration, startMs int64) string {
	return fmt.Sprintf("%s|%s|%d|%d", src, market, int64(interval/time.Millisecond), startMs)
}
