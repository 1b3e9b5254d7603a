package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	RateLimitBlockTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketpulse",
		Name:      "ratelimit_block_total",
		Help:      "Total number of rate limit blocks.",
	}, []string{"route"})

	DbPoolOpen  = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_open", Help: "Current open DB connections"})
	DbPoolIdle  = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_idle"})
	DbPoolInuse = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_db_pool_inuse"})

	RedisPoolOpen  = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_open"})
	RedisPoolIdle  = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_idle"})
	RedisPoolInuse = promauto.NewGauge(prometheus.GaugeOpts{Name: "app_redis_pool_inuse"})
)

// StartPoolStats：定期把连接池水位刷进 gauge。db / rdb 允许为 nil（对应存储没启用）。
func StartPoolStats(ctx context.Context, db *sql.DB, rdb *redis.Client, every time.Duration) {
	if every <= 0 {
		every = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if db != nil {
					s := db.Stats()
					DbPoolOpen.Set(float64(s.OpenConnections))
					DbPoolIdle.Set(float64(s.Idle))
					DbPoolInuse.Set(float64(s.InUse))
				}
				if rdb != nil {
					s := rdb.PoolStats()
					RedisPoolOpen.Set(float64(s.TotalConns))
					RedisPoolIdle.Set(float64(s.IdleConns))
					RedisPoolInuse.Set(float64(s.TotalConns - s.IdleConns))
				}
			}
		}
	}()
}
