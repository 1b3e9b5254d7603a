package polymarket

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"marketpulse.com/internal/tape/model"
	"marketpulse.com/internal/tape/source"
	"marketpulse.com/pkg/logger"
)

// ethAPI：抽出 ethclient 里用到的三个方法，方便测试注入假链
type ethAPI interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Source: 链上事件日志源。轮询 FilterLogs 抓取交易所合约的 OrderFilled，
// 启动时先回放最近 BackfillBlocks 个区块（走同一条 normalize+去重路径），
// 重启不留数据缺口。
type Source struct {
	RPCURL   string
	Contract common.Address

	BackfillBlocks int64         // 启动回放的区块数
	PollInterval   time.Duration // 轮询新区块的间隔
	MaxRangeBlocks int64         // 单次 FilterLogs 的最大区块跨度

	// client 为 nil 时 Run 自己 Dial（生产路径）；测试注入假实现
	client ethAPI

	seen    *seenSet
	tsCache *blockTsCache
}

func NewSource(rpcURL string, contract common.Address) *Source {
	return &Source{
		RPCURL:         rpcURL,
		Contract:       contract,
		BackfillBlocks: 1000,
		PollInterval:   2 * time.Second,
		MaxRangeBlocks: 500,
		seen:           newSeenSet(16384),
		tsCache:        newBlockTsCache(4096),
	}
}

func (s *Source) Name() string { return "polymarket" }

func (s *Source) Run(ctx context.Context, out chan<- model.Trade) error {
	client := s.client
	if client == nil {
		c, err := ethclient.DialContext(ctx, s.RPCURL)
		if err != nil {
			return err
		}
		defer c.Close()
		client = c
	}

	latest, err := client.BlockNumber(ctx)
	if err != nil {
		return err
	}

	// 回放窗口：重连回放的区块范围可能与上次重叠，seen/幂等键会吸收重复
	cursor := int64(latest) - s.BackfillBlocks
	if cursor < 0 {
		cursor = 0
	}

	for ctx.Err() == nil {
		head, err := client.BlockNumber(ctx)
		if err != nil {
			return err
		}

		for cursor < int64(head) {
			to := cursor + s.MaxRangeBlocks
			if to > int64(head) {
				to = int64(head)
			}
			if err := s.scanRange(ctx, client, cursor+1, to, out); err != nil {
				return err
			}
			cursor = to
		}

		timer := time.NewTimer(s.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return ctx.Err()
}

func (s *Source) scanRange(ctx context.Context, client ethAPI, from, to int64, out chan<- model.Trade) error {
	logs, err := client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(from),
		ToBlock:   big.NewInt(to),
		Addresses: []common.Address{s.Contract},
		Topics:    [][]common.Hash{{OrderFilledTopic}},
	})
	if err != nil {
		return err
	}

	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		// 快路径判重：重放过的 fill 不再往下送（真正的去重在 store）
		if !s.seen.Add(provenanceKey(lg)) {
			continue
		}

		t, err := DecodeOrderFilled(lg, s.eventTsMs(ctx, client, lg.BlockNumber))
		if err != nil {
			logger.Warn(ctx, "drop undecodable log",
				zap.String("source", s.Name()),
				zap.String("tx", lg.TxHash.Hex()),
				zap.Error(err))
			continue
		}

		select {
		case out <- t:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// eventTsMs：真实事件时间 = 所在区块的时间戳。
// 块头取不到时退化为接收时刻（污染延迟指标，但绝不能丢成交）。
func (s *Source) eventTsMs(ctx context.Context, client ethAPI, blockNum uint64) int64 {
	if ts, ok := s.tsCache.Get(blockNum); ok {
		return ts
	}

	header, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNum))
	if err != nil {
		logger.Warn(ctx, "block header fetch failed, falling back to receive time",
			zap.Uint64("block", blockNum),
			zap.Error(err))
		return time.Now().UnixMilli()
	}

	ts := int64(header.Time) * 1000
	s.tsCache.Put(blockNum, ts)
	return ts
}

var _ source.Source = (*Source)(nil)

// blockTsCache：区块号 -> 时间戳（毫秒），有界 FIFO。
// 一个区块里常有几十条 fill，不缓存的话块头请求会翻几十倍。
type blockTsCache struct {
	cap   int
	m     map[uint64]int64
	order []uint64
	head  int
}

func newBlockTsCache(capacity int) *blockTsCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &blockTsCache{
		cap:   capacity,
		m:     make(map[uint64]int64, capacity),
		order: make([]uint64, 0, capacity),
	}
}

func (c *blockTsCache) Get(block uint64) (int64, bool) {
	ts, ok := c.m[block]
	return ts, ok
}

func (c *blockTsCache) Put(block uint64, tsMs int64) {
	if _, ok := c.m[block]; ok {
		return
	}
	if len(c.m) >= c.cap {
		oldest := c.order[c.head]
		delete(c.m, oldest)
		c.order[c.head] = block
		c.head = (c.head + 1) % c.cap
	} else {
		c.order = append(c.order, block)
	}
	c.m[block] = tsMs
}
