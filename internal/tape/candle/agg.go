package candle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"marketpulse.com/internal/tape/model"
)

// Store：聚合器的持久化出口。由 store 包实现（mysql / memory）。
// GetCandle 用于读改写：桶被内存淘汰后，迟到成交仍要能合并进去。
type Store interface {
	UpsertCandle(ctx context.Context, c model.Candle) error
	GetCandle(ctx context.Context, src model.Source, market string, interval time.Duration, startMs int64) (model.Candle, bool, error)
}

// DefaultIntervals：1s/1m/1h/1d
var DefaultIntervals = []time.Duration{time.Second, time.Minute, time.Hour, 24 * time.Hour}

type Config struct {
	Intervals []time.Duration

	// KeepWindow：内存中保留多久以内的桶。更旧的桶淘汰后，
	// 迟到成交通过 Store 读改写合并（桶永远可变，不因淘汰丢更新）。
	KeepWindow time.Duration
}

// Aggregator：增量 OHLCV 聚合。
// 合并规则单调：High 只升、Low 只降、Volume 只累加；
// Close 按事件时间取最新（乱序到达不回退），Open 只在建桶时写一次。
//
// 并发：内部一把锁全局串行。吞吐瓶颈到来前不做分片。
type Aggregator struct {
	store      Store
	intervals  []time.Duration
	keepWindow time.Duration

	// onUpdate：每次桶变化后的回调（可选，给 influx sink / 行情推送用）
	onUpdate func(model.Candle)

	mu       sync.Mutex
	buckets  map[string]*model.Candle
	maxSeen  int64 // 所有成交的最大事件时间（淘汰水位线）
	lastScan int64 // 上次淘汰扫描的水位
}

type Option func(*Aggregator)

func WithOnUpdate(fn func(model.Candle)) Option {
	return func(a *Aggregator) { a.onUpdate = fn }
}

func New(store Store, cfg Config, opts ...Option) *Aggregator {
	if len(cfg.Intervals) == 0 {
		cfg.Intervals = DefaultIntervals
	}
	if cfg.KeepWindow <= 0 {
		cfg.KeepWindow = 48 * time.Hour
	}
	a := &Aggregator{
		store:      store,
		intervals:  cfg.Intervals,
		keepWindow: cfg.KeepWindow,
		buckets:    make(map[string]*model.Candle, 4096),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Apply：把一笔已去重的成交合并进每个 interval 的对应桶。
// price/size 解析失败按 decode fault 处理：返回错误，调用方记日志后继续。
func (a *Aggregator) Apply(ctx context.Context, t model.Trade) error {
	price, ok := ParseFixed(t.PriceStr)
	if !ok {
		return fmt.Errorf("candle: bad price %q", t.PriceStr)
	}
	size, ok := ParseFixed(t.SizeStr)
	if !ok {
		return fmt.Errorf("candle: bad size %q", t.SizeStr)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if t.EventTsMs > a.maxSeen {
		a.maxSeen = t.EventTsMs
	}

	var errs []error
	for _, iv := range a.intervals {
		if err := a.applyOne(ctx, t, iv, price, size); err != nil {
			errs = append(errs, err)
		}
	}

	a.maybePrune()
	return errors.Join(errs...)
}

func (a *Aggregator) applyOne(ctx context.Context, t model.Trade, iv time.Duration, price, size int64) error {
	ivMs := int64(iv / time.Millisecond)
	bs := BucketStartMs(t.EventTsMs, ivMs)
	key := bucketKey(t.Source, t.Market, ivMs, bs)

	c := a.buckets[key]
	if c == nil {
		// 不在内存：可能从未见过，也可能已被淘汰。先查存储再建桶，
		// 保证迟到成交继续更新历史桶而不是覆盖它。
		if stored, found, err := a.store.GetCandle(ctx, t.Source, t.Market, iv, bs); err != nil {
			return fmt.Errorf("candle: load bucket: %w", err)
		} else if found {
			c = &stored
		} else {
			c = &model.Candle{
				Source:   t.Source,
				Market:   t.Market,
				Interval: iv,
				StartMs:  bs,
				EndMs:    bs + ivMs,
				Open:     price,
				High:     price,
				Low:      price,
				Close:    price,
				Volume:   size,
				Trades:   1,

				CloseTsMs: t.EventTsMs,
			}
			a.buckets[key] = c
			return a.flush(ctx, c)
		}
		a.buckets[key] = c
	}

	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	// Close 按事件时间取胜；相同事件时间后到者赢
	if t.EventTsMs >= c.CloseTsMs {
		c.Close = price
		c.CloseTsMs = t.EventTsMs
	}
	c.Volume += size
	c.Trades++

	return a.flush(ctx, c)
}

// flush：每次合并后立即落库（upsert）。失败只影响这一次写，
// 内存桶仍是最新状态，下一笔成交会把它再写回去。
func (a *Aggregator) flush(ctx context.Context, c *model.Candle) error {
	cp := *c
	if err := a.store.UpsertCandle(ctx, cp); err != nil {
		return fmt.Errorf("candle: upsert %s %s: %w", cp.Market, cp.Interval, err)
	}
	if a.onUpdate != nil {
		a.onUpdate(cp)
	}
	return nil
}

// maybePrune：按水位线淘汰老桶。每推进一个 keepWindow/4 扫一次，别每笔都扫全表。
func (a *Aggregator) maybePrune() {
	keepMs := int64(a.keepWindow / time.Millisecond)
	if keepMs <= 0 {
		return
	}
	if a.maxSeen-a.lastScan < keepMs/4 {
		return
	}
	a.lastScan = a.maxSeen
	horizon := a.maxSeen - keepMs
	for key, c := range a.buckets {
		if c.EndMs < horizon {
			delete(a.buckets, key)
		}
	}
}

// OpenBuckets：当前内存中的桶数，仅用于观测
func (a *Aggregator) OpenBuckets() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buckets)
}

func bucketKey(src model.Source, market string, ivMs, startMs int64) string {
	return fmt.Sprintf("%d|%s|%d|%d", src, market, ivMs, startMs)
}
