package pipeline

import (
	"context"
	"time"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"marketpulse.com/internal/tape/broker"
	"marketpulse.com/internal/tape/candle"
	"marketpulse.com/internal/tape/hub"
	"marketpulse.com/internal/tape/metrics"
	"marketpulse.com/internal/tape/model"
	"marketpulse.com/internal/tape/store"
	"marketpulse.com/internal/tape/tapemetrics"
	"marketpulse.com/internal/tape/ws"
	"marketpulse.com/pkg/logger"
	"marketpulse.com/pkg/safe"
)

// InsertedEvent：落库成功后在 broker 上扇出的事件
type InsertedEvent struct {
	Trade        model.Trade `json:"trade"`
	ObservedTsMs int64       `json:"observed_ts_ms"`
}

// Pipeline：ingest → dedup → fanout 的装配线。
//
// 扇出的原子性来自顺序：只有 InsertTrade 返回 inserted 的那一次调用
// 才会 publish —— 判重和转发决定是同一个结果，不存在竞态窗口。
// 三个消费者（K线/广播/指标）各挂一个 broker 订阅，互相隔离：
// 任何一个出错都只影响那一条事件，不回头打断连接器的流。
type Pipeline struct {
	store   store.TradeStore
	broker  broker.Broker
	agg     *candle.Aggregator
	hub     *hub.Hub
	tracker *metrics.Tracker
}

func New(st store.TradeStore, bk broker.Broker, agg *candle.Aggregator, h *hub.Hub, tr *metrics.Tracker) *Pipeline {
	return &Pipeline{store: st, broker: bk, agg: agg, hub: h, tracker: tr}
}

// Run：启动三个消费者后阻塞消费 in，直到 in 关闭或 ctx 取消。
func (p *Pipeline) Run(ctx context.Context, in <-chan model.Trade) error {
	if err := p.startConsumers(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-in:
			if !ok {
				return nil
			}
			p.ingest(ctx, t)
		}
	}
}

// ingest：单笔成交的落库与扇出。任何失败只丢这一笔，流继续走。
func (p *Pipeline) ingest(ctx context.Context, t model.Trade) {
	inserted, err := p.store.InsertTrade(ctx, t)
	if err != nil {
		// 存储故障：丢弃本次，记日志和指标。不在这里缓冲——可用性优先于持久性。
		tapemetrics.TradesDroppedTotal.WithLabelValues(t.Source.String(), "store_error").Inc()
		logger.Error(ctx, "trade insert failed, dropping",
			zap.String("source", t.Source.String()),
			zap.String("market", t.Market),
			zap.Error(err))
		return
	}
	if !inserted {
		// 幂等键冲突：定义内的结果，下游完全屏蔽
		tapemetrics.TradesDuplicateTotal.WithLabelValues(t.Source.String()).Inc()
		return
	}
	tapemetrics.TradesIngestedTotal.WithLabelValues(t.Source.String()).Inc()

	ev := InsertedEvent{Trade: t, ObservedTsMs: time.Now().UnixMilli()}
	payload, err := json.Marshal(ev)
	if err != nil {
		tapemetrics.TradesDroppedTotal.WithLabelValues(t.Source.String(), "encode_error").Inc()
		return
	}
	if err := p.broker.Publish(ctx, broker.TopicInserted, payload); err != nil {
		logger.Error(ctx, "broker publish failed", zap.Error(err))
	}
}

func (p *Pipeline) startConsumers(ctx context.Context) error {
	for name, fn := range map[string]func(context.Context, InsertedEvent){
		"candle":    p.consumeCandle,
		"broadcast": p.consumeBroadcast,
		"metrics":   p.consumeMetrics,
	} {
		ch, err := p.broker.Subscribe(ctx, []string{broker.TopicInserted})
		if err != nil {
			return err
		}
		n, f := name, fn
		safe.GoCtx(ctx, func(ctx context.Context) {
			for msg := range ch {
				var ev InsertedEvent
				if err := json.Unmarshal(msg.Payload, &ev); err != nil {
					logger.Warn(ctx, "bad inserted event", zap.String("consumer", n), zap.Error(err))
					continue
				}
				f(ctx, ev)
			}
		})
	}
	return nil
}

func (p *Pipeline) consumeCandle(ctx context.Context, ev InsertedEvent) {
	if err := p.agg.Apply(ctx, ev.Trade); err != nil {
		tapemetrics.CandleApplyErrorsTotal.Inc()
		logger.Error(ctx, "candle apply failed",
			zap.String("market", ev.Trade.Market),
			zap.Error(err))
	}
}

func (p *Pipeline) consumeBroadcast(ctx context.Context, ev InsertedEvent) {
	payload, err := ws.EncodeTrade(ev.Trade)
	if err != nil {
		return
	}
	delivered := p.hub.Publish(ev.Trade.Source, ev.Trade.Market, payload)
	tapemetrics.BroadcastDeliveredTotal.Add(float64(delivered))
}

func (p *Pipeline) consumeMetrics(_ context.Context, ev InsertedEvent) {
	p.tracker.Record(ev.Trade.Source, ev.Trade.EventTsMs, ev.ObservedTsMs)
}
