package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"marketpulse.com/internal/tape/api"
	"marketpulse.com/internal/tape/broker"
	"marketpulse.com/internal/tape/candle"
	"marketpulse.com/internal/tape/catalog"
	"marketpulse.com/internal/tape/hub"
	"marketpulse.com/internal/tape/metrics"
	"marketpulse.com/internal/tape/model"
	"marketpulse.com/internal/tape/pipeline"
	influxsink "marketpulse.com/internal/tape/sink/influx"
	"marketpulse.com/internal/tape/source"
	"marketpulse.com/internal/tape/source/kalshi"
	"marketpulse.com/internal/tape/source/polymarket"
	"marketpulse.com/internal/tape/store"
	"marketpulse.com/internal/tape/ws"
	"marketpulse.com/pkg/bootstrap"
	"marketpulse.com/pkg/config"
	"marketpulse.com/pkg/logger"
	"marketpulse.com/pkg/orm"
	pkgmetrics "marketpulse.com/pkg/metrics"
	"marketpulse.com/pkg/ratelimit"
	"marketpulse.com/pkg/xredis"
)

type Config struct {
	Log struct {
		Level string
	}
	HTTP struct {
		Addr      string
		PprofAddr string `mapstructure:"pprof_addr"`
	}
	RateLimit struct {
		Enabled bool
		RPS     float64
		Burst   int
	} `mapstructure:"rate_limit"`
	Storage struct {
		Driver string // "mysql" | "memory"
	}
	MySQL struct {
		DSN         string
		MaxIdle     int
		MaxOpen     int
		MaxLifetime int
	}
	Redis struct {
		Enabled  bool
		Addr     string
		Password string
		DB       int
	}
	Broker struct {
		Driver  string // "mem" | "nats"
		NatsURL string `mapstructure:"nats_url"`
	}
	Reconnect struct {
		DelayMs int `mapstructure:"delay_ms"`
	}
	Kalshi struct {
		Enabled bool
		URL     string
		Markets []string
	}
	Polymarket struct {
		Enabled        bool
		RPCURL         string `mapstructure:"rpc_url"`
		Contract       string
		BackfillBlocks int64 `mapstructure:"backfill_blocks"`
		PollMs         int   `mapstructure:"poll_ms"`
	}
	Candles struct {
		Intervals      []string
		KeepWindowHour int `mapstructure:"keep_window_hour"`
	}
	Metrics struct {
		WindowSec  int `mapstructure:"window_sec"`
		MaxSamples int `mapstructure:"max_samples"`
	}
	Catalog struct {
		Enabled bool
		BaseURL string `mapstructure:"base_url"`
		TTLSec  int    `mapstructure:"ttl_sec"`
		RPS     float64
		Burst   int
	}
	Influx struct {
		Enabled bool
		URL     string
		Token   string
		Org     string
		Bucket  string
	}
}

func main() {
	var cfg Config
	if _, err := config.LoadAndWatch("tape", &cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init("tape-service", cfg.Log.Level)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- 存储 ----
	var st store.Store
	var sqlDB *sql.DB
	switch cfg.Storage.Driver {
	case "memory":
		st = store.NewMemory()
	default:
		db, err := orm.NewMySQL(&orm.Config{
			DSN:         cfg.MySQL.DSN,
			MaxIdle:     cfg.MySQL.MaxIdle,
			MaxOpen:     cfg.MySQL.MaxOpen,
			MaxLifetime: cfg.MySQL.MaxLifetime,
		})
		if err != nil {
			logger.Fatal(ctx, "mysql connect failed", zap.Error(err))
		}
		ms := store.NewMySQL(db)
		if err := ms.AutoMigrate(); err != nil {
			logger.Fatal(ctx, "migrate failed", zap.Error(err))
		}
		st = ms
		sqlDB, _ = db.DB()
	}

	// ---- redis（catalog 缓存用；没开就不连）----
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		r, err := xredis.NewRedis(&xredis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Fatal(ctx, "redis connect failed", zap.Error(err))
		}
		rdb = r
	}

	pkgmetrics.StartPoolStats(ctx, sqlDB, rdb, 15*time.Second)

	// ---- K 线聚合 ----
	intervals := make([]time.Duration, 0, len(cfg.Candles.Intervals))
	for _, s := range cfg.Candles.Intervals {
		iv, ok := model.ParseIntervalKey(s)
		if !ok {
			logger.Fatal(ctx, "bad candle interval", zap.String("interval", s))
		}
		intervals = append(intervals, iv)
	}
	aggOpts := []candle.Option{}
	if cfg.Influx.Enabled {
		sink := influxsink.New(influxsink.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		defer sink.Close()
		aggOpts = append(aggOpts, candle.WithOnUpdate(sink.Offer))
	}
	agg := candle.New(st, candle.Config{
		Intervals:  intervals,
		KeepWindow: time.Duration(cfg.Candles.KeepWindowHour) * time.Hour,
	}, aggOpts...)

	// ---- broker ----
	var bk broker.Broker
	if cfg.Broker.Driver == "nats" {
		nb, err := broker.NewNatsBroker(cfg.Broker.NatsURL)
		if err != nil {
			logger.Fatal(ctx, "nats connect failed", zap.Error(err))
		}
		bk = nb
	} else {
		bk = broker.NewMemBroker()
	}
	defer bk.Close()

	// ---- hub / metrics / pipeline ----
	h := hub.New()
	wss := ws.NewServer(ctx, h)
	tracker := metrics.NewTracker(
		time.Duration(cfg.Metrics.WindowSec)*time.Second,
		cfg.Metrics.MaxSamples,
	)
	pipe := pipeline.New(st, bk, agg, h, tracker)

	// ---- 数据源 ----
	var sources []source.Source
	if cfg.Kalshi.Enabled {
		ks := kalshi.NewSource(cfg.Kalshi.Markets)
		if cfg.Kalshi.URL != "" {
			ks.URL = cfg.Kalshi.URL
		}
		sources = append(sources, ks)
	}
	if cfg.Polymarket.Enabled {
		// 缺 RPC 端点 / 合约地址属于不可恢复的配置错误，启动即失败
		if cfg.Polymarket.RPCURL == "" || cfg.Polymarket.Contract == "" {
			logger.Fatal(ctx, "polymarket source requires rpc_url and contract")
		}
		ps := polymarket.NewSource(cfg.Polymarket.RPCURL, common.HexToAddress(cfg.Polymarket.Contract))
		if cfg.Polymarket.BackfillBlocks > 0 {
			ps.BackfillBlocks = cfg.Polymarket.BackfillBlocks
		}
		if cfg.Polymarket.PollMs > 0 {
			ps.PollInterval = time.Duration(cfg.Polymarket.PollMs) * time.Millisecond
		}
		sources = append(sources, ps)
	}
	if len(sources) == 0 {
		logger.Fatal(ctx, "no sources enabled")
	}

	runner := source.NewRunner(sources...)
	if cfg.Reconnect.DelayMs > 0 {
		runner.ReconnectDelay = time.Duration(cfg.Reconnect.DelayMs) * time.Millisecond
	}
	runner.Run(ctx)

	// ---- 查询面 ----
	var cat *catalog.Catalog
	if cfg.Catalog.Enabled {
		cat = catalog.New(rdb, catalog.Config{
			BaseURL: cfg.Catalog.BaseURL,
			TTL:     time.Duration(cfg.Catalog.TTLSec) * time.Second,
			RPS:     cfg.Catalog.RPS,
			Burst:   cfg.Catalog.Burst,
		})
	}

	var limiter *ratelimit.Store
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.NewStore(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst, 10*time.Minute)
		limiter.StartJanitor(ctx, time.Minute)
	}

	router := api.NewRouter(api.NewHandler(st, tracker, cat), wss.ServeWS, limiter)

	if cfg.HTTP.PprofAddr != "" {
		bootstrap.StartPprof(ctx, cfg.HTTP.PprofAddr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bootstrap.ServeHTTP(gctx, cfg.HTTP.Addr, router, 5*time.Second)
	})
	g.Go(func() error {
		err := pipe.Run(gctx, runner.Out)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "server exited", zap.Error(err))
	}
}
