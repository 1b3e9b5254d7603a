package broker

import "context"

// TopicInserted：去重后成功落库的成交走这个 topic 扇出
const TopicInserted = "tape.trades.inserted"

type Message struct {
	Topic   string
	Payload []byte
}

// Broker：inserted 事件总线。store 判重通过后 publish 一次，
// 聚合/广播/指标三个消费者各自订阅，互相隔离。
// 单机用 Mem，多实例用 NATS。
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	Close() error
}
