package candle

import (
	"fmt"
	"strings"
)

// Scale：定点数的缩放倍率（1e8 = 8位小数）
// 为什么不用 float64：
// - K 线需要大量比较(max/min)与累加(volume)，浮点误差会累积污染结果。
// - 预测市场 price 在 [0,1]、size 是合约数，8 位小数绰绰有余。
const Scale = int64(100_000_000)

// ParseFixed：把 decimal string 解析为定点 int64（scale=1e8）
//
// 取舍：
// - 小数最多取 8 位，多余部分直接截断（不是四舍五入）
// - 不处理科学计数法（上游给的都是标准十进制字符串）
func ParseFixed(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}

	parts := strings.SplitN(s, ".", 2)
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}

	var ip int64
	for i := 0; i < len(intPart); i++ {
		c := intPart[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		ip = ip*10 + int64(c-'0')
	}

	// 小数部分：最多 8 位，不足补 0
	fp := int64(0)
	digits := 0
	for i := 0; i < len(fracPart) && digits < 8; i++ {
		c := fracPart[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		fp = fp*10 + int64(c-'0')
		digits++
	}
	for digits < 8 {
		fp *= 10
		digits++
	}

	val := ip*Scale + fp
	if neg {
		val = -val
	}
	return val, true
}

// FormatFixed：定点 int64 转回字符串，用于 DTO/打印
func FormatFixed(v int64) string {
	neg := v < 0
	if neg {
		v = -v
	}
	ip := v / Scale
	fp := v % Scale
	s := fmt.Sprintf("%d.%08d", ip, fp)
	if neg {
		return "-" + s
	}
	return s
}

// BucketStartMs：计算某个事件时间戳属于哪个桶的开始时间（毫秒）
// floor(ts/interval)*interval，统一按 UTC 对齐
func BucketStartMs(tsMs, intervalMs int64) int64 {
	if tsMs >= 0 {
		return (tsMs / intervalMs) * intervalMs
	}
	// 负数向下取整（历史数据不会出现，防御用）
	return ((tsMs - intervalMs + 1) / intervalMs) * intervalMs
}
