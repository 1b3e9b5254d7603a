package hub

import (
	"sync"
	"sync/atomic"
	"testing"

	"marketpulse.com/internal/tape/model"
)

// 假 listener：记录收到的 payload，可配置成拒收
type fakeListener struct {
	got    [][]byte
	reject bool
}

func (f *fakeListener) Offer(payload []byte) bool {
	if f.reject {
		return false
	}
	f.got = append(f.got, payload)
	return true
}

func TestHub_PublishOnlyToSubscribedKey(t *testing.T) {
	h := New()
	a := &fakeListener{}
	b := &fakeListener{}

	h.Subscribe(a, model.SourceKalshi, "M1")
	h.Subscribe(b, model.SourceKalshi, "M2")

	n := h.Publish(model.SourceKalshi, "M1", []byte("x"))
	if n != 1 {
		t.Fatalf("delivered want=1 got=%d", n)
	}
	if len(a.got) != 1 {
		t.Fatalf("a 应收到 1 条，got=%d", len(a.got))
	}
	if len(b.got) != 0 {
		t.Fatalf("b 订的是 M2，不该收到 M1，got=%d", len(b.got))
	}

	// 同 market 不同 source 也不该串
	if n := h.Publish(model.SourcePolymarket, "M1", []byte("y")); n != 0 {
		t.Fatalf("不同 source 不该投递，got=%d", n)
	}
}

func TestHub_FanOutExactlyOncePerListener(t *testing.T) {
	h := New()
	ls := []*fakeListener{{}, {}, {}}
	for _, l := range ls {
		h.Subscribe(l, model.SourceKalshi, "M1")
	}
	// 重复订阅不重复投递
	h.Subscribe(ls[0], model.SourceKalshi, "M1")

	if n := h.Publish(model.SourceKalshi, "M1", []byte("x")); n != 3 {
		t.Fatalf("delivered want=3 got=%d", n)
	}
	for i, l := range ls {
		if len(l.got) != 1 {
			t.Fatalf("listener %d want=1 got=%d", i, len(l.got))
		}
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := New()
	a := &fakeListener{}
	h.Subscribe(a, model.SourceKalshi, "M1")
	h.Unsubscribe(a, model.SourceKalshi, "M1")

	if n := h.Publish(model.SourceKalshi, "M1", []byte("x")); n != 0 {
		t.Fatalf("退订后不该投递，got=%d", n)
	}
	if got := h.Subscribers(model.SourceKalshi, "M1"); got != 0 {
		t.Fatalf("subscribers want=0 got=%d", got)
	}
}

func TestHub_RemoveListenerClearsAllKeys(t *testing.T) {
	h := New()
	a := &fakeListener{}
	h.Subscribe(a, model.SourceKalshi, "M1")
	h.Subscribe(a, model.SourceKalshi, "M2")
	h.Subscribe(a, model.SourcePolymarket, "0x123")

	h.RemoveListener(a)

	for _, k := range []struct {
		src    model.Source
		market string
	}{
		{model.SourceKalshi, "M1"},
		{model.SourceKalshi, "M2"},
		{model.SourcePolymarket, "0x123"},
	} {
		if n := h.Publish(k.src, k.market, []byte("x")); n != 0 {
			t.Fatalf("断开后 %s:%s 不该投递", k.src, k.market)
		}
	}
}

// 慢客户端（拒收）只丢自己的，不影响其他订阅者
func TestHub_SlowListenerSkipped(t *testing.T) {
	h := New()
	slow := &fakeListener{reject: true}
	fast := &fakeListener{}
	h.Subscribe(slow, model.SourceKalshi, "M1")
	h.Subscribe(fast, model.SourceKalshi, "M1")

	if n := h.Publish(model.SourceKalshi, "M1", []byte("x")); n != 1 {
		t.Fatalf("delivered want=1 got=%d", n)
	}
	if len(fast.got) != 1 {
		t.Fatalf("fast 应收到 1 条，got=%d", len(fast.got))
	}
}

// 线程安全的计数 listener，给并发测试用
type countListener struct{ n atomic.Int64 }

func (c *countListener) Offer([]byte) bool {
	c.n.Add(1)
	return true
}

// 订阅 / 退订 / 广播并发混跑：不崩、不串，收尾后订阅表为空
func TestHub_ConcurrentPublishAndChurn(t *testing.T) {
	h := New()
	markets := []string{"M1", "M2", "M3"}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				l := &countListener{}
				m := markets[(w+i)%len(markets)]
				h.Subscribe(l, model.SourceKalshi, m)
				if i%2 == 0 {
					h.Unsubscribe(l, model.SourceKalshi, m)
				} else {
					h.RemoveListener(l)
				}
			}
		}(w)
	}
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h.Publish(model.SourceKalshi, markets[(w+i)%len(markets)], []byte("x"))
			}
		}(w)
	}
	wg.Wait()

	for _, m := range markets {
		if got := h.Subscribers(model.SourceKalshi, m); got != 0 {
			t.Fatalf("%s 收尾后还有订阅者: %d", m, got)
		}
		if n := h.Publish(model.SourceKalshi, m, []byte("x")); n != 0 {
			t.Fatalf("%s 收尾后不该投递: %d", m, n)
		}
	}
}
