package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"marketpulse.com/internal/tape/model"
)

// sample: 一笔成交的 (事件时间, 观测时间)。延迟 = observed - event。
type sample struct {
	source       model.Source
	eventTsMs    int64
	observedTsMs int64
}

// Stats：一个维度（全局 / 单 source）的快照
type Stats struct {
	Count      int     `json:"count"`       // 窗口内样本数
	Throughput float64 `json:"throughput"`  // 窗口内 trades/s
	P50Ms      int64   `json:"p50_ms"`
	P95Ms      int64   `json:"p95_ms"`
	P99Ms      int64   `json:"p99_ms"`
}

type Snapshot struct {
	Global    Stats            `json:"global"`
	PerSource map[string]Stats `json:"per_source"`
}

// Tracker：滚动窗口延迟/吞吐统计。
// 有界环形缓冲：超过 maxSamples 或滑出时间窗（按观测时间）就淘汰最老的。
// 分位数用 nearest-rank：升序排序后取 ceil(p/100*n)-1 —— 确定性的，测试可对拍。
type Tracker struct {
	mu      sync.Mutex
	samples []sample // 插入序（观测时间单调）
	max     int
	window  time.Duration

	// nowFn 可替换，测试用
	nowFn func() time.Time
}

func NewTracker(window time.Duration, maxSamples int) *Tracker {
	if window <= 0 {
		window = time.Minute
	}
	if maxSamples <= 0 {
		maxSamples = 10_000
	}
	return &Tracker{
		samples: make([]sample, 0, maxSamples),
		max:     maxSamples,
		window:  window,
		nowFn:   time.Now,
	}
}

func (t *Tracker) Record(src model.Source, eventTsMs, observedTsMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.samples = append(t.samples, sample{source: src, eventTsMs: eventTsMs, observedTsMs: observedTsMs})
	t.evictLocked(t.nowFn().UnixMilli())
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	nowMs := t.nowFn().UnixMilli()
	t.evictLocked(nowMs)

	global := make([]int64, 0, len(t.samples))
	perSrc := make(map[model.Source][]int64, 2)
	for _, s := range t.samples {
		lat := s.observedTsMs - s.eventTsMs
		global = append(global, lat)
		perSrc[s.source] = append(perSrc[s.source], lat)
	}

	snap := Snapshot{
		Global:    t.statsFor(global),
		PerSource: make(map[string]Stats, len(perSrc)),
	}
	for src, lats := range perSrc {
		snap.PerSource[src.String()] = t.statsFor(lats)
	}
	return snap
}

// evictLocked：先按时间窗（观测时间是单调追加的，从头剪），再按容量上限
func (t *Tracker) evictLocked(nowMs int64) {
	cutoff := nowMs - t.window.Milliseconds()
	i := 0
	for i < len(t.samples) && t.samples[i].observedTsMs < cutoff {
		i++
	}
	if i > 0 {
		t.samples = append(t.samples[:0], t.samples[i:]...)
	}
	if over := len(t.samples) - t.max; over > 0 {
		t.samples = append(t.samples[:0], t.samples[over:]...)
	}
}

func (t *Tracker) statsFor(lats []int64) Stats {
	n := len(lats)
	if n == 0 {
		return Stats{}
	}
	sorted := make([]int64, n)
	copy(sorted, lats)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return Stats{
		Count:      n,
		Throughput: float64(n) / t.window.Seconds(),
		P50Ms:      nearestRank(sorted, 50),
		P95Ms:      nearestRank(sorted, 95),
		P99Ms:      nearestRank(sorted, 99),
	}
}

// nearestRank: idx = ceil(p/100*n) - 1，输入必须已升序
func nearestRank(sorted []int64, p float64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}
