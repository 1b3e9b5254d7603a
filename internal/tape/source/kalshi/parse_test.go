package kalshi

import (
	"errors"
	"testing"

	"marketpulse.com/internal/tape/model"
)

func TestParseTradeMsg(t *testing.T) {
	raw := []byte(`{"type":"trade","msg":{"market_ticker":"PRES-2024","yes_price":35,"count":100,"taker_side":"yes","ts":1700000000}}`)

	tr, err := ParseTradeMsg(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tr.Source != model.SourceKalshi {
		t.Fatalf("source want=kalshi got=%s", tr.Source)
	}
	if tr.Market != "PRES-2024" {
		t.Fatalf("market want=PRES-2024 got=%s", tr.Market)
	}
	if tr.PriceStr != "0.35" {
		t.Fatalf("price want=0.35 got=%s", tr.PriceStr)
	}
	if tr.SizeStr != "100" {
		t.Fatalf("size want=100 got=%s", tr.SizeStr)
	}
	if tr.Side != model.SideBuy {
		t.Fatalf("taker_side=yes 应映射 BUY, got=%s", tr.Side)
	}
	// 秒级时间戳归一为毫秒
	if tr.EventTsMs != 1_700_000_000_000 {
		t.Fatalf("ts want=1700000000000 got=%d", tr.EventTsMs)
	}
}

func TestParseTradeMsg_TakerSide(t *testing.T) {
	cases := []struct {
		side string
		want model.Side
	}{
		{"yes", model.SideBuy},
		{"no", model.SideSell},
		{"maker", model.SideUnknown},
		{"", model.SideUnknown},
	}
	for _, c := range cases {
		if got := takerSide(c.side); got != c.want {
			t.Fatalf("takerSide(%q) want=%s got=%s", c.side, c.want, got)
		}
	}
}

func TestNormalizeTs(t *testing.T) {
	// 已是毫秒：原样
	if got := normalizeTs(1_700_000_000_000); got != 1_700_000_000_000 {
		t.Fatalf("ms want unchanged, got=%d", got)
	}
	// 秒：×1000
	if got := normalizeTs(1_700_000_000); got != 1_700_000_000_000 {
		t.Fatalf("sec want=1700000000000 got=%d", got)
	}
	// 阈值边界
	if got := normalizeTs(msEpochThreshold); got != msEpochThreshold {
		t.Fatalf("threshold 应按毫秒处理, got=%d", got)
	}
	if got := normalizeTs(msEpochThreshold - 1); got != (msEpochThreshold-1)*1000 {
		t.Fatalf("threshold-1 应按秒处理, got=%d", got)
	}
}

func TestCentsToPrice(t *testing.T) {
	cases := []struct {
		cents int64
		want  string
	}{
		{1, "0.01"},
		{9, "0.09"},
		{10, "0.10"},
		{35, "0.35"},
		{99, "0.99"},
	}
	for _, c := range cases {
		if got := centsToPrice(c.cents); got != c.want {
			t.Fatalf("centsToPrice(%d) want=%s got=%s", c.cents, c.want, got)
		}
	}
}

func TestParseTradeMsg_Rejects(t *testing.T) {
	t.Run("non_trade_type", func(t *testing.T) {
		_, err := ParseTradeMsg([]byte(`{"type":"subscribed","msg":{}}`))
		if !errors.Is(err, errNotTrade) {
			t.Fatalf("want errNotTrade, got %v", err)
		}
	})

	t.Run("malformed_json", func(t *testing.T) {
		if _, err := ParseTradeMsg([]byte(`{not json`)); err == nil {
			t.Fatalf("坏 JSON 应报错")
		}
	})

	t.Run("bad_fields", func(t *testing.T) {
		for _, raw := range []string{
			`{"type":"trade","msg":{"market_ticker":"","yes_price":35,"count":1,"taker_side":"yes","ts":1700000000}}`,
			`{"type":"trade","msg":{"market_ticker":"M","yes_price":0,"count":1,"taker_side":"yes","ts":1700000000}}`,
			`{"type":"trade","msg":{"market_ticker":"M","yes_price":100,"count":1,"taker_side":"yes","ts":1700000000}}`,
			`{"type":"trade","msg":{"market_ticker":"M","yes_price":35,"count":0,"taker_side":"yes","ts":1700000000}}`,
		} {
			if _, err := ParseTradeMsg([]byte(raw)); err == nil {
				t.Fatalf("应校验失败: %s", raw)
			}
		}
	})
}
