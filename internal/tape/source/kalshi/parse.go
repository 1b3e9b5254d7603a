package kalshi

import (
	"errors"
	"strconv"
	"sync"

	"github.com/segmentio/encoding/json"
	"marketpulse.com/internal/tape/model"
)

// 秒/毫秒歧义阈值：低于它按秒算。
// 1e12 ms ≈ 2001-09，1e12 s ≈ 公元 33658 年——按量级分辨不会误判。
const msEpochThreshold = int64(1_000_000_000_000)

type tradeMsg struct {
	Type string `json:"type"`
	Msg  struct {
		MarketTicker string `json:"market_ticker"`
		YesPrice     int64  `json:"yes_price"` // cents, 1..99
		Count        int64  `json:"count"`
		TakerSide    string `json:"taker_side"` // "yes" | "no"
		Ts           int64  `json:"ts"`         // 秒或毫秒，历史上改过，按量级判断
	} `json:"msg"`
}

var msgPool = sync.Pool{
	New: func() any {
		return &tradeMsg{}
	},
}

var errNotTrade = errors.New("not a trade message")

// ParseTradeMsg：单条 ws 消息 -> 统一 Trade。
// 心跳/订阅确认等非 trade 消息返回 errNotTrade，由调用方丢弃。
func ParseTradeMsg(b []byte) (model.Trade, error) {
	msg := msgPool.Get().(*tradeMsg)
	*msg = tradeMsg{}
	defer msgPool.Put(msg)

	if err := json.Unmarshal(b, msg); err != nil {
		return model.Trade{}, err
	}
	if msg.Type != "trade" {
		return model.Trade{}, errNotTrade
	}
	m := msg.Msg
	if m.MarketTicker == "" {
		return model.Trade{}, errors.New("empty market_ticker")
	}
	if m.YesPrice <= 0 || m.YesPrice >= 100 {
		return model.Trade{}, errors.New("yes_price out of range")
	}
	if m.Count <= 0 {
		return model.Trade{}, errors.New("count must be positive")
	}

	return model.Trade{
		Source:    model.SourceKalshi,
		Market:    m.MarketTicker,
		PriceStr:  centsToPrice(m.YesPrice),
		SizeStr:   strconv.FormatInt(m.Count, 10),
		Side:      takerSide(m.TakerSide),
		EventTsMs: normalizeTs(m.Ts),
	}, nil
}

// centsToPrice: yes 价（美分）-> 概率价格字符串，35 => "0.35"
func centsToPrice(cents int64) string {
	return "0." + pad2(cents)
}

func pad2(v int64) string {
	if v < 10 {
		return "0" + strconv.FormatInt(v, 10)
	}
	return strconv.FormatInt(v, 10)
}

// takerSide: feed 的 taker 语义 -> 统一 BUY/SELL
// taker 吃 yes = 买入 outcome；taker 吃 no = 卖出 outcome
func takerSide(s string) model.Side {
	switch s {
	case "yes":
		return model.SideBuy
	case "no":
		return model.SideSell
	default:
		return model.SideUnknown
	}
}

func normalizeTs(ts int64) int64 {
	if ts < msEpochThreshold {
		return ts * 1000 // 秒 -> 毫秒
	}
	return ts
}
