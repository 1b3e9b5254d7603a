package hub

import (
	"sync"

	"marketpulse.com/internal/tape/model"
)

// Listener：hub 的投递目标。Offer 必须非阻塞：
// 收不下（发送队列满 / 连接已关）就返回 false，hub 直接跳过它。
type Listener interface {
	Offer(payload []byte) bool
}

// Key: (source, market) 订阅键
func Key(src model.Source, market string) string {
	return src.String() + ":" + market
}

// Hub：订阅登记 + 成交广播。
// subs: key -> set(listener)，O(1) 取一个 key 的订阅集合
// keys: listener -> set(key)，断开时 O(1) 反查它订过的所有 key（不用全表扫）
//
// 投递语义：best-effort / at-most-once。不排队、不重试，慢客户端只丢自己的。
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[Listener]struct{}
	keys map[Listener]map[string]struct{}
}

func New() *Hub {
	return &Hub{
		subs: make(map[string]map[Listener]struct{}, 1024),
		keys: make(map[Listener]map[string]struct{}, 1024),
	}
}

func (h *Hub) Subscribe(l Listener, src model.Source, market string) {
	k := Key(src, market)

	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.subs[k]
	if set == nil {
		set = make(map[Listener]struct{}, 16)
		h.subs[k] = set
	}
	set[l] = struct{}{}

	ks := h.keys[l]
	if ks == nil {
		ks = make(map[string]struct{}, 8)
		h.keys[l] = ks
	}
	ks[k] = struct{}{}
}

func (h *Hub) Unsubscribe(l Listener, src model.Source, market string) {
	k := Key(src, market)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.dropSub(l, k)
	if ks := h.keys[l]; ks != nil {
		delete(ks, k)
		if len(ks) == 0 {
			delete(h.keys, l)
		}
	}
}

// RemoveListener：连接断开时调用，清掉它的全部订阅
func (h *Hub) RemoveListener(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for k := range h.keys[l] {
		h.dropSub(l, k)
	}
	delete(h.keys, l)
}

// Publish：把编码好的 payload 广播给 (source, market) 的订阅者。
// 对每个 listener 都是非阻塞 Offer；慢客户端不会卡住广播，也不会卡住流水线。
// 返回成功投递数，仅用于观测。
func (h *Hub) Publish(src model.Source, market string, payload []byte) int {
	k := Key(src, market)

	h.mu.RLock()
	set := h.subs[k]
	targets := make([]Listener, 0, len(set))
	for l := range set {
		targets = append(targets, l)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, l := range targets {
		if l.Offer(payload) {
			delivered++
		}
	}
	return delivered
}

// Subscribers：一个 key 当前的订阅数，仅用于观测
func (h *Hub) Subscribers(src model.Source, market string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[Key(src, market)])
}

// 调用方持锁
func (h *Hub) dropSub(l Listener, k string) {
	if set := h.subs[k]; set != nil {
		delete(set, l)
		if len(set) == 0 {
			delete(h.subs, k)
		}
	}
}
