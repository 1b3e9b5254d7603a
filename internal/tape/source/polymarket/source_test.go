package polymarket

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"marketpulse.com/internal/tape/model"
	"marketpulse.com/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init("polymarket-test", "error")
	m.Run()
}

// 假链：固定块高，按区块号返回预置日志
type fakeChain struct {
	mu       sync.Mutex
	head     uint64
	logs     map[uint64][]types.Log // blockNum -> logs
	blockTs  map[uint64]uint64
	hdrCalls int
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Log
	for b := q.FromBlock.Int64(); b <= q.ToBlock.Int64(); b++ {
		out = append(out, f.logs[uint64(b)]...)
	}
	return out, nil
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hdrCalls++
	return &types.Header{Time: f.blockTs[number.Uint64()]}, nil
}

func fillAt(block uint64, logIndex uint) types.Log {
	lg := orderFilledLog(987654321, 0, 500_000000, 200_000000, logIndex)
	lg.BlockNumber = block
	lg.TxHash = common.BigToHash(new(big.Int).SetUint64(block)) // 每个区块一个独立 tx
	return lg
}

func TestSource_BackfillThenDecode(t *testing.T) {
	chain := &fakeChain{
		head: 100,
		logs: map[uint64][]types.Log{
			95: {fillAt(95, 0), fillAt(95, 1)},
			98: {fillAt(98, 0)},
		},
		blockTs: map[uint64]uint64{95: 1_700_000_000, 98: 1_700_000_060},
	}

	s := NewSource("", common.HexToAddress("0x01"))
	s.client = chain
	s.BackfillBlocks = 10
	s.PollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan model.Trade, 16)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, out) }()

	got := make([]model.Trade, 0, 3)
	for len(got) < 3 {
		select {
		case tr := <-out:
			got = append(got, tr)
		case <-time.After(5 * time.Second):
			t.Fatalf("回放窗口内 3 条 fill 应全部产出, got=%d", len(got))
		}
	}

	for _, tr := range got {
		if tr.Source != model.SourcePolymarket {
			t.Fatalf("source want=polymarket got=%s", tr.Source)
		}
	}
	// 事件时间来自块头时间戳（秒 -> 毫秒）
	if got[0].EventTsMs != 1_700_000_000_000 {
		t.Fatalf("event ts want=1700000000000 got=%d", got[0].EventTsMs)
	}
	if got[2].EventTsMs != 1_700_000_060_000 {
		t.Fatalf("event ts want=1700000060000 got=%d", got[2].EventTsMs)
	}

	// 同一区块两条 fill 只取一次块头
	chain.mu.Lock()
	calls := chain.hdrCalls
	chain.mu.Unlock()
	if calls != 2 {
		t.Fatalf("块头请求应被缓存: want=2 got=%d", calls)
	}

	cancel()
	<-done
}

// 轮询只扫游标之后的新区块，老区块的 fill 不重复产出
func TestSource_PollAdvancesCursor(t *testing.T) {
	chain := &fakeChain{
		head:    50,
		logs:    map[uint64][]types.Log{50: {fillAt(50, 0)}},
		blockTs: map[uint64]uint64{50: 1_700_000_000, 51: 1_700_000_012},
	}

	s := NewSource("", common.HexToAddress("0x01"))
	s.client = chain
	s.BackfillBlocks = 5
	s.PollInterval = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan model.Trade, 16)
	go func() { _ = s.Run(ctx, out) }()

	first := <-out

	// 块高推进，老 fill 仍在窗口里 + 一条新 fill
	chain.mu.Lock()
	chain.head = 51
	chain.logs[51] = []types.Log{fillAt(51, 0)}
	chain.mu.Unlock()

	var second model.Trade
	select {
	case second = <-out:
	case <-time.After(5 * time.Second):
		t.Fatalf("新区块的 fill 应产出")
	}

	if first.TxHash == second.TxHash {
		t.Fatalf("两条 fill 的溯源键不该相同")
	}

	// 不该再有第三条（重叠的老 fill 被 seen 挡掉）
	select {
	case tr := <-out:
		t.Fatalf("重放的 fill 不该重复产出: %+v", tr)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBlockTsCache_FIFO(t *testing.T) {
	c := newBlockTsCache(2)
	c.Put(1, 100)
	c.Put(2, 200)
	c.Put(3, 300) // 淘汰 block 1

	if _, ok := c.Get(1); ok {
		t.Fatalf("block 1 应被淘汰")
	}
	if ts, ok := c.Get(2); !ok || ts != 200 {
		t.Fatalf("block 2 应还在: ok=%v ts=%d", ok, ts)
	}
	if ts, ok := c.Get(3); !ok || ts != 300 {
		t.Fatalf("block 3 应在: ok=%v ts=%d", ok, ts)
	}

	// 重复 Put 不挤占名额
	c.Put(2, 999)
	if ts, _ := c.Get(2); ts != 200 {
		t.Fatalf("重复 Put 不该覆盖: %d", ts)
	}
}
