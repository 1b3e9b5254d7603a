package polymarket

import (
	"math/big"
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"marketpulse.com/internal/tape/model"
)

func word(v *big.Int) []byte {
	b := make([]byte, 32)
	v.FillBytes(b)
	return b
}

func orderFilledLog(makerAsset, takerAsset, makerAmt, takerAmt int64, logIndex uint) types.Log {
	data := make([]byte, 0, 5*32)
	for _, v := range []int64{makerAsset, takerAsset, makerAmt, takerAmt, 0} {
		data = append(data, word(big.NewInt(v))...)
	}
	return types.Log{
		Topics: []common.Hash{
			OrderFilledTopic,
			common.HexToHash("0x01"), // orderHash
			common.HexToHash("0x02"), // maker
			common.HexToHash("0x03"), // taker
		},
		Data:   data,
		TxHash: common.HexToHash("0xdeadbeef"),
		Index:  logIndex,
	}
}

func TestDecodeOrderFilled_TakerBuys(t *testing.T) {
	// maker 交出 outcome token（asset id 大），taker 付 200 USDC 买 500 份
	lg := orderFilledLog(987654321, 0, 500_000000, 200_000000, 7)

	tr, err := DecodeOrderFilled(lg, 1_700_000_000_000)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tr.Source != model.SourcePolymarket {
		t.Fatalf("source want=polymarket got=%s", tr.Source)
	}
	if tr.Market != "987654321" {
		t.Fatalf("market 应是 outcome token id, got=%s", tr.Market)
	}
	if tr.Side != model.SideBuy {
		t.Fatalf("maker 持 outcome => taker 买入, got=%s", tr.Side)
	}
	// price = 200/500 = 0.4
	if tr.PriceStr != "0.4" {
		t.Fatalf("price want=0.4 got=%s", tr.PriceStr)
	}
	if tr.SizeStr != "500" {
		t.Fatalf("size want=500 got=%s", tr.SizeStr)
	}
	if tr.EventTsMs != 1_700_000_000_000 {
		t.Fatalf("ts 透传失败: %d", tr.EventTsMs)
	}
}

func TestDecodeOrderFilled_TakerSells(t *testing.T) {
	// taker 交出 outcome（asset id 大），收 45 USDC 卖 100 份
	lg := orderFilledLog(0, 987654321, 45_000000, 100_000000, 0)

	tr, err := DecodeOrderFilled(lg, 1)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tr.Side != model.SideSell {
		t.Fatalf("taker 持 outcome => taker 卖出, got=%s", tr.Side)
	}
	if tr.Market != "987654321" {
		t.Fatalf("market want=987654321 got=%s", tr.Market)
	}
	if tr.PriceStr != "0.45" {
		t.Fatalf("price want=0.45 got=%s", tr.PriceStr)
	}
	if tr.SizeStr != "100" {
		t.Fatalf("size want=100 got=%s", tr.SizeStr)
	}
}

func TestDecodeOrderFilled_ProvenanceKeyIncludesLogIndex(t *testing.T) {
	// 同一 tx 里的两条 fill 必须有不同的溯源键
	a := orderFilledLog(987654321, 0, 500_000000, 200_000000, 1)
	b := orderFilledLog(987654321, 0, 500_000000, 200_000000, 2)

	ta, _ := DecodeOrderFilled(a, 1)
	tb, _ := DecodeOrderFilled(b, 1)
	if ta.TxHash == tb.TxHash {
		t.Fatalf("同 tx 不同 logIndex 应产生不同键: %s", ta.TxHash)
	}
	if ta.TxHash != a.TxHash.Hex()+"#1" {
		t.Fatalf("溯源键格式错: %s", ta.TxHash)
	}
}

func TestDecodeOrderFilled_Rejects(t *testing.T) {
	t.Run("wrong_topic", func(t *testing.T) {
		lg := orderFilledLog(1, 0, 1, 1, 0)
		lg.Topics[0] = common.HexToHash("0xff")
		if _, err := DecodeOrderFilled(lg, 1); err == nil {
			t.Fatalf("非 OrderFilled 应拒绝")
		}
	})

	t.Run("short_data", func(t *testing.T) {
		lg := orderFilledLog(1, 0, 1, 1, 0)
		lg.Data = lg.Data[:4*32]
		if _, err := DecodeOrderFilled(lg, 1); err == nil {
			t.Fatalf("data 不足 5 words 应拒绝")
		}
	})

	t.Run("equal_asset_ids", func(t *testing.T) {
		lg := orderFilledLog(5, 5, 1, 1, 0)
		if _, err := DecodeOrderFilled(lg, 1); err == nil {
			t.Fatalf("两侧 asset id 相同无法定方向，应拒绝")
		}
	})

	t.Run("zero_outcome_amount", func(t *testing.T) {
		lg := orderFilledLog(987654321, 0, 0, 200_000000, 0)
		if _, err := DecodeOrderFilled(lg, 1); err == nil {
			t.Fatalf("outcome 成交量为 0 应拒绝")
		}
	})
}

func TestSeenSet_FIFOEviction(t *testing.T) {
	s := newSeenSet(3)

	for i := 0; i < 3; i++ {
		if !s.Add("k" + strconv.Itoa(i)) {
			t.Fatalf("首次加入应返回 true")
		}
	}
	if s.Add("k0") {
		t.Fatalf("已存在应返回 false")
	}

	// 塞第 4 个，最老的 k0 被挤出
	if !s.Add("k3") {
		t.Fatalf("新键应返回 true")
	}
	if !s.Add("k0") {
		t.Fatalf("k0 应已被 FIFO 淘汰，重新加入返回 true")
	}
	// k2 还在
	if s.Add("k2") {
		t.Fatalf("k2 不该被淘汰")
	}
}
