package store

import (
	"context"
	"time"

	"marketpulse.com/internal/tape/model"
)

// TradeStore：幂等落库。这是整条流水线唯一的正确性边界：
// 上游允许重投，这里保证同一 IdemKey 最多落一条，且只有 inserted 才进下游。
type TradeStore interface {
	// InsertTrade: inserted=false 表示幂等键冲突（不是错误）
	InsertTrade(ctx context.Context, t model.Trade) (inserted bool, err error)

	// RecentTrades: 按事件时间倒序
	RecentTrades(ctx context.Context, src model.Source, market string, limit int) ([]model.Trade, error)
}

// CandleStore：K 线持久化。唯一键 (source, market, interval, start)，
// upsert 整行覆盖（合并语义在聚合器内存态完成，存储只是镜像）。
type CandleStore interface {
	UpsertCandle(ctx context.Context, c model.Candle) error
	GetCandle(ctx context.Context, src model.Source, market string, interval time.Duration, startMs int64) (model.Candle, bool, error)

	// CandleRange: [fromMs, toMs) 按桶开始时间升序
	CandleRange(ctx context.Context, src model.Source, market string, interval time.Duration, fromMs, toMs int64) ([]model.Candle, error)
}

// Store：两个子接口的组合，mysql / memory 各实现一份
type Store interface {
	TradeStore
	CandleStore
}
