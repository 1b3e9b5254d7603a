package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"marketpulse.com/internal/tape/model"
	"marketpulse.com/pkg/logger"
)

// Source：一个"可插拔"的行情源连接器。
// Run 必须阻塞运行：连接、订阅、持续产出 Trade，直到 ctx.Done() 或传输层断开。
// 断开后直接返回错误——重连是 Runner 的事，连接器本身只管一次连接的生命周期。
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- model.Trade) error
}

// Runner：托管一组 Source，每个源一个 goroutine，互不影响。
// 传输层失败 => 固定延迟后重连（绝不立刻重连，抖动的上游会把自己打死），
// 只要没被 stop，重试不设上限。
type Runner struct {
	sources []Source

	// Out 是统一 trade 流出口（流水线只消费这个）
	Out chan model.Trade

	// ReconnectDelay：固定重连间隔
	ReconnectDelay time.Duration
}

func NewRunner(sources ...Source) *Runner {
	return &Runner{
		sources:        sources,
		Out:            make(chan model.Trade, 64_000),
		ReconnectDelay: 3 * time.Second,
	}
}

func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range r.sources {
		src := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.runOne(ctx, src)
		}()
	}

	go func() {
		wg.Wait()
		close(r.Out)
	}()
}

func (r *Runner) runOne(ctx context.Context, src Source) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := src.Run(ctx, r.Out) // 阻塞直到断线/错误/ctx cancel
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		logger.Warn(ctx, "source disconnected, will reconnect",
			zap.String("source", src.Name()),
			zap.Duration("delay", r.ReconnectDelay),
			zap.Error(err))

		timer := time.NewTimer(r.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
