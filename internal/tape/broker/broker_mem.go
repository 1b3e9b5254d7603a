package broker

import (
	"context"
	"sync"
)

type MemBroker struct {
	mu   sync.RWMutex
	subs map[string][]chan Message
}

var _ Broker = (*MemBroker)(nil)

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[string][]chan Message)}
}

func (b *MemBroker) Publish(_ context.Context, topic string, payload []byte) error {
	// fanout：at-most-once，慢订阅者直接丢。
	// 发送期间持有读锁，close 在写锁里做，避免向已关闭 channel 发送。
	b.mu.RLock()
	defer b.mu.RUnlock()

	msg := Message{Topic: topic, Payload: payload}
	for _, ch := range b.subs[topic] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	ch := make(chan Message, 4096)
	b.mu.Lock()
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], ch)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for _, t := range topics {
			list := b.subs[t]
			for i, c := range list {
				if c == ch {
					b.subs[t] = append(list[:i], list[i+1:]...)
					break
				}
			}
		}
		// 摘除与 close 同在写锁内，Publish 持读锁时看不到半关状态
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

func (b *MemBroker) Close() error { return nil }
