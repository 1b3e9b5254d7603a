package model

import (
	"fmt"
	"time"
)

type Source uint8

const (
	SourceUnknown Source = iota
	SourceKalshi
	SourcePolymarket
)

func (s Source) String() string {
	switch s {
	case SourceKalshi:
		return "kalshi"
	case SourcePolymarket:
		return "polymarket"
	default:
		return "unknown"
	}
}

func ParseSource(s string) (Source, bool) {
	switch s {
	case "kalshi":
		return SourceKalshi, true
	case "polymarket":
		return SourcePolymarket, true
	default:
		return SourceUnknown, false
	}
}

type Side uint8

const (
	SideUnknown Side = iota + 1
	SideBuy          // taker 买入 outcome
	SideSell         // taker 卖出 outcome
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Trade: 统一后的"成交"模型（price/size 用十进制字符串，避免 float64 误差）
//
// 语义约定：Side 表示 taker 的方向
// - Kalshi trade: taker_side=yes => BUY（taker 买 outcome）
// - Polymarket OrderFilled: 按 maker/taker 资产方向推导
type Trade struct {
	Source Source
	Market string // source 命名空间内的不透明 id（Kalshi ticker / Polymarket token id）

	PriceStr string // 十进制字符串
	SizeStr  string // 十进制字符串

	Side      Side
	EventTsMs int64  // 事件时间（源端成交时间，不是接收时间），毫秒
	TxHash    string // 链上来源才有：txHash#logIndex；推送源为空
}

// IdemKey: 幂等键。只依赖原始消息里的不可变字段，
// 与接收顺序、重试次数无关 —— 这是至多一次落库的依据。
func (t Trade) IdemKey() string {
	return fmt.Sprintf("%s|%s|%d|%s", t.Source, t.Market, t.EventTsMs, t.TxHash)
}

func (t Trade) EventTime() time.Time {
	return time.UnixMilli(t.EventTsMs)
}
