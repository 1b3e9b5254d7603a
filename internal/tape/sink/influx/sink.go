package influx

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"marketpulse.com/internal/tape/candle"
	"marketpulse.com/internal/tape/model"
)

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	BatchSize     uint
	FlushInterval time.Duration
}

// Sink：K 线镜像到 InfluxDB，给图表端做时序查询。
// WriteAPI 是异步批量写，Offer 不阻塞聚合回调；丢点可接受（权威数据在 mysql）。
type Sink struct {
	client influxdb2.Client
	write  api.WriteAPI
}

func New(cfg Config) *Sink {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Second
	}

	opt := influxdb2.DefaultOptions().
		SetBatchSize(cfg.BatchSize).
		SetFlushInterval(uint(cfg.FlushInterval.Milliseconds()))

	c := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opt)
	return &Sink{
		client: c,
		write:  c.WriteAPI(cfg.Org, cfg.Bucket),
	}
}

// Offer：候选作聚合器的 onUpdate 回调。同一个桶多次更新没关系，
// 同 tag + 同时间戳的点在 influx 里是 last-write-wins。
func (s *Sink) Offer(c model.Candle) {
	p := influxdb2.NewPoint(
		"candle",
		map[string]string{
			"source":   c.Source.String(),
			"market":   c.Market,
			"interval": model.IntervalKey(c.Interval),
		},
		map[string]interface{}{
			"open":   fixedToFloat(c.Open),
			"high":   fixedToFloat(c.High),
			"low":    fixedToFloat(c.Low),
			"close":  fixedToFloat(c.Close),
			"volume": fixedToFloat(c.Volume),
			"trades": c.Trades,
		},
		time.UnixMilli(c.StartMs),
	)
	s.write.WritePoint(p)
}

func (s *Sink) Close() {
	s.write.Flush()
	s.client.Close()
}

// 图表端用 float 够了，精确值仍在 mysql
func fixedToFloat(v int64) float64 {
	return float64(v) / float64(candle.Scale)
}
