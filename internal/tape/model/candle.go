package model

import "time"

// Candle: K 线（OHLCV），定点数（scale=1e8，见 candle.Scale）
// - 按 (Source, Market, Interval, StartMs) 唯一
// - [StartMs, EndMs) 左闭右开
// - CloseTsMs: 贡献当前 Close 的最大事件时间。
//   乱序到达时 Close 按事件时间取胜，不是按写入顺序，所以这个字段要跟着持久化。
type Candle struct {
	Source   Source
	Market   string
	Interval time.Duration
	StartMs  int64
	EndMs    int64

	Open  int64
	High  int64
	Low   int64
	Close int64

	Volume int64
	Trades int64

	CloseTsMs int64
}
