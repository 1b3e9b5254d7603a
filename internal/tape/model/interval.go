package model

import (
	"fmt"
	"time"
)

// IntervalKey 把 time.Duration 归一化成对外使用的 timeframe 字符串
func IntervalKey(d time.Duration) string {
	switch d {
	case time.Second:
		return "1s"
	case time.Minute:
		return "1m"
	case time.Hour:
		return "1h"
	case 24 * time.Hour:
		return "1d"
	}

	// 通用：优先整秒，否则整毫秒
	if d > 0 && d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	if d > 0 && d%time.Millisecond == 0 {
		return fmt.Sprintf("%dms", int64(d/time.Millisecond))
	}
	if d > 0 {
		return d.String()
	}
	return ""
}

// ParseIntervalKey：API/配置里的 timeframe 字符串 -> Duration
func ParseIntervalKey(s string) (time.Duration, bool) {
	switch s {
	case "1s":
		return time.Second, true
	case "1m":
		return time.Minute, true
	case "1h":
		return time.Hour, true
	case "1d":
		return 24 * time.Hour, true
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
