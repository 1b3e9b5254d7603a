package polymarket

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"marketpulse.com/internal/tape/model"
)

// OrderFilledTopic: CTF 交易所的成交事件签名
// OrderFilled(bytes32 indexed orderHash, address indexed maker, address indexed taker,
//             uint256 makerAssetId, uint256 takerAssetId,
//             uint256 makerAmountFilled, uint256 takerAmountFilled, uint256 fee)
var OrderFilledTopic = crypto.Keccak256Hash([]byte("OrderFilled(bytes32,address,address,uint256,uint256,uint256,uint256,uint256)"))

// USDC/CTF token 都是 6 位小数
const tokenDecimals = 6

var errNotOrderFilled = errors.New("not an OrderFilled log")

// DecodeOrderFilled：单条事件日志 -> 统一 Trade。
//
// 资产方向约定（链上编码的固定习惯，别试图推广成"更通用"的规则）：
// 两个 asset id 里数值大的那个是 outcome token，小的（抵押品恒为 0）是 quote。
// price = quote 成交量 / outcome 成交量，size = outcome 成交量。
func DecodeOrderFilled(lg types.Log, eventTsMs int64) (model.Trade, error) {
	if len(lg.Topics) < 1 || lg.Topics[0] != OrderFilledTopic {
		return model.Trade{}, errNotOrderFilled
	}
	// data: makerAssetId | takerAssetId | makerAmountFilled | takerAmountFilled | fee
	if len(lg.Data) < 5*32 {
		return model.Trade{}, fmt.Errorf("short OrderFilled data: %d bytes", len(lg.Data))
	}

	makerAsset := new(big.Int).SetBytes(lg.Data[0:32])
	takerAsset := new(big.Int).SetBytes(lg.Data[32:64])
	makerAmt := new(big.Int).SetBytes(lg.Data[64:96])
	takerAmt := new(big.Int).SetBytes(lg.Data[96:128])

	var (
		outcomeID  *big.Int
		outcomeAmt *big.Int
		quoteAmt   *big.Int
		side       model.Side
	)
	switch makerAsset.Cmp(takerAsset) {
	case 1:
		// maker 交出 outcome，taker 付 quote => taker 买入
		outcomeID, outcomeAmt, quoteAmt = makerAsset, makerAmt, takerAmt
		side = model.SideBuy
	case -1:
		// taker 交出 outcome => taker 卖出
		outcomeID, outcomeAmt, quoteAmt = takerAsset, takerAmt, makerAmt
		side = model.SideSell
	default:
		return model.Trade{}, errors.New("equal asset ids in OrderFilled")
	}

	if outcomeAmt.Sign() <= 0 {
		return model.Trade{}, errors.New("zero outcome amount")
	}

	// 两侧同为 6 位小数，比值无须再缩放
	price := decimal.NewFromBigInt(quoteAmt, 0).
		DivRound(decimal.NewFromBigInt(outcomeAmt, 0), 8)
	size := decimal.NewFromBigInt(outcomeAmt, -tokenDecimals)

	return model.Trade{
		Source:    model.SourcePolymarket,
		Market:    outcomeID.String(),
		PriceStr:  price.String(),
		SizeStr:   size.String(),
		Side:      side,
		EventTsMs: eventTsMs,
		TxHash:    provenanceKey(lg),
	}, nil
}

// provenanceKey: 同一笔交易可能有多条 fill，txHash 要带上 logIndex 才唯一
func provenanceKey(lg types.Log) string {
	return fmt.Sprintf("%s#%d", lg.TxHash.Hex(), lg.Index)
}
