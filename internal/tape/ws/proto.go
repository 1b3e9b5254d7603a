package ws

import (
	"encoding/json"

	"marketpulse.com/internal/tape/model"
)

type ClientMsg struct {
	Action string `json:"action"` // "subscribe" | "unsubscribe"
	Source string `json:"source"` // "kalshi" | "polymarket"
	Market string `json:"market"`
}

// AckMsg：订阅请求的应答。坏请求必须给明确的 error ack，不许静默吞掉。
type AckMsg struct {
	Type   string `json:"type"` // "ack" | "error"
	Action string `json:"action,omitempty"`
	Source string `json:"source,omitempty"`
	Market string `json:"market,omitempty"`
	Msg    string `json:"msg,omitempty"`
}

type TradeDTO struct {
	Source string `json:"source"`
	Market string `json:"market"`
	Price  string `json:"price"`
	Size   string `json:"size"`
	Side   string `json:"side"`
	TsMs   int64  `json:"ts_ms"`
	TxHash string `json:"tx_hash,omitempty"`
}

type ServerMsg struct {
	Type  string   `json:"type"` // "trade"
	Trade TradeDTO `json:"trade"`
}

func ToDTO(t model.Trade) TradeDTO {
	return TradeDTO{
		Source: t.Source.String(),
		Market: t.Market,
		Price:  t.PriceStr,
		Size:   t.SizeStr,
		Side:   t.Side.String(),
		TsMs:   t.EventTsMs,
		TxHash: t.TxHash,
	}
}

// EncodeTrade：完整 Trade -> 推送 payload。广播前编码一次，所有订阅者共用。
func EncodeTrade(t model.Trade) ([]byte, error) {
	return json.Marshal(ServerMsg{Type: "trade", Trade: ToDTO(t)})
}

func encodeAck(a AckMsg) []byte {
	b, _ := json.Marshal(a)
	return b
}
