package kalshi

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"marketpulse.com/internal/tape/model"
	"marketpulse.com/internal/tape/source"
)

// Source: Kalshi trade 频道（推送式 ws feed）。
// 一次 Run = 一次连接生命周期（不做重连；重连交给 source.Runner）
type Source struct {
	URL     string   // e.g. wss://api.elections.kalshi.com/trade-api/ws/v2
	Markets []string // 订阅的 ticker；空 = 全市场

	ReadLimit int64
	PongWait  time.Duration
	WriteWait time.Duration
	Dialer    *websocket.Dialer
}

func NewSource(markets []string) *Source {
	return &Source{
		URL:       "wss://api.elections.kalshi.com/trade-api/ws/v2",
		Markets:   markets,
		ReadLimit: 1 << 20,
		PongWait:  60 * time.Second,
		WriteWait: 5 * time.Second,
		Dialer:    websocket.DefaultDialer,
	}
}

func (s *Source) Name() string { return "kalshi" }

func (s *Source) Run(ctx context.Context, out chan<- model.Trade) error {
	c, _, err := s.Dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	c.SetReadLimit(s.ReadLimit)
	_ = c.SetReadDeadline(time.Now().Add(s.PongWait))
	c.SetPongHandler(func(string) error {
		_ = c.SetReadDeadline(time.Now().Add(s.PongWait))
		return nil
	})

	// subscribe：trade 频道；不传 market_tickers 就是全市场
	params := map[string]any{
		"channels": []string{"trade"},
	}
	if len(s.Markets) > 0 {
		params["market_tickers"] = s.Markets
	}
	sub := map[string]any{
		"id":     1,
		"cmd":    "subscribe",
		"params": params,
	}
	_ = c.SetWriteDeadline(time.Now().Add(s.WriteWait))
	if err := c.WriteJSON(sub); err != nil {
		return err
	}

	for ctx.Err() == nil {
		_, msg, err := c.ReadMessage()
		if err != nil {
			return err
		}

		// 逐条解析：坏消息丢掉继续读，绝不让单条消息打断流
		t, err := ParseTradeMsg(msg)
		if err != nil {
			continue
		}

		select {
		case out <- t:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

var _ source.Source = (*Source)(nil)
