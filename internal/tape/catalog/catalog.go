package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
	"marketpulse.com/internal/tape/model"
)

// Catalog：市场标题的读穿缓存。核心流水线不碰它——市场 id 对核心是不透明字符串，
// 只有查询层拿它做展示增强，拿不到就算了（best-effort）。
//
// 第三方 catalog API 不归我们管：限流 + 熔断双保险，别把它打挂也别被它拖死。
type Config struct {
	BaseURL string        // e.g. https://catalog.internal/api/markets
	TTL     time.Duration // 缓存时长
	RPS     float64       // 出站限速
	Burst   int
}

type Catalog struct {
	rdb     *redis.Client // 可为 nil：退化为直查
	httpc   *http.Client
	breaker *gobreaker.CircuitBreaker[string]
	limiter *rate.Limiter
	baseURL string
	ttl     time.Duration
}

var ErrRateLimited = errors.New("catalog: rate limited")

func New(rdb *redis.Client, cfg Config) *Catalog {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}

	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:    "catalog",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Catalog{
		rdb:     rdb,
		httpc:   &http.Client{Timeout: 5 * time.Second},
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		baseURL: cfg.BaseURL,
		ttl:     cfg.TTL,
	}
}

// Title：cache hit 直接回；miss 走限流+熔断后的 HTTP 拉取再回填。
func (c *Catalog) Title(ctx context.Context, src model.Source, market string) (string, error) {
	key := cacheKey(src, market)

	if c.rdb != nil {
		if title, err := c.rdb.Get(ctx, key).Result(); err == nil {
			return title, nil
		}
		// redis 故障与 miss 同样处理：往下走直查
	}

	if !c.limiter.Allow() {
		return "", ErrRateLimited
	}

	title, err := c.breaker.Execute(func() (string, error) {
		return c.fetch(ctx, src, market)
	})
	if err != nil {
		return "", err
	}

	if c.rdb != nil {
		// 回填失败无所谓，下次再查
		_ = c.rdb.Set(ctx, key, title, c.ttl).Err()
	}
	return title, nil
}

func (c *Catalog) fetch(ctx context.Context, src model.Source, market string) (string, error) {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, src, market)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("catalog: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}

	var out struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if out.Title == "" {
		return "", errors.New("catalog: empty title")
	}
	return out.Title, nil
}

func cacheKey(src model.Source, market string) string {
	return "catalog:title:" + src.String() + ":" + market
}
