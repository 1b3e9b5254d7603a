package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"marketpulse.com/internal/tape/model"
)

// tradeRow 对应 trades 表。idem_key 上的唯一索引是去重的存储层兜底：
// 即使内存判重被绕过（多实例、重启重放），库里也插不进第二条。
type tradeRow struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	IdemKey   string `gorm:"column:idem_key;size:191;uniqueIndex:uk_trade_idem"`
	Source    string `gorm:"size:16;index:idx_trade_market,priority:1"`
	Market    string `gorm:"size:128;index:idx_trade_market,priority:2"`
	Price     string `gorm:"size:48"`
	Size      string `gorm:"size:48"`
	Side      string `gorm:"size:8"`
	EventTsMs int64  `gorm:"column:event_ts_ms;index:idx_trade_market,priority:3"`
	TxHash    string `gorm:"column:tx_hash;size:191"`
	CreatedAt time.Time
}

func (tradeRow) TableName() string { return "trades" }

type candleRow struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	Source     string `gorm:"size:16;uniqueIndex:uk_candle,priority:1"`
	Market     string `gorm:"size:128;uniqueIndex:uk_candle,priority:2"`
	IntervalMs int64  `gorm:"column:interval_ms;uniqueIndex:uk_candle,priority:3"`
	StartMs    int64  `gorm:"column:start_ms;uniqueIndex:uk_candle,priority:4"`
	EndMs      int64  `gorm:"column:end_ms"`

	Open   int64
	High   int64
	Low    int64
	Close  int64 `gorm:"column:close_px"` // close 是 mysql 保留倾向词，换个列名省心
	Volume int64
	Trades int64

	CloseTsMs int64 `gorm:"column:close_ts_ms"`
	UpdatedAt time.Time
}

func (candleRow) TableName() string { return "candles" }

type MySQL struct {
	db *gorm.DB
}

var _ Store = (*MySQL)(nil)

func NewMySQL(db *gorm.DB) *MySQL {
	return &MySQL{db: db}
}

// AutoMigrate 建表。生产走 migration 工具的话这里可以不调。
func (s *MySQL) AutoMigrate() error {
	return s.db.AutoMigrate(&tradeRow{}, &candleRow{})
}

func (s *MySQL) InsertTrade(ctx context.Context, t model.Trade) (bool, error) {
	row := tradeRow{
		IdemKey:   t.IdemKey(),
		Source:    t.Source.String(),
		Market:    t.Market,
		Price:     t.PriceStr,
		Size:      t.SizeStr,
		Side:      t.Side.String(),
		EventTsMs: t.EventTsMs,
		TxHash:    t.TxHash,
	}

	// 幂等键冲突 => DoNothing，RowsAffected=0。冲突不是错误。
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *MySQL) RecentTrades(ctx context.Context, src model.Source, market string, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []tradeRow
	err := s.db.WithContext(ctx).
		Where("source = ? AND market = ?", src.String(), market).
		Order("event_ts_ms DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]model.Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToTrade(r))
	}
	return out, nil
}

func (s *MySQL) UpsertCandle(ctx context.Context, c model.Candle) error {
	row := candleRow{
		Source:     c.Source.String(),
		Market:     c.Market,
		IntervalMs: int64(c.Interval / time.Millisecond),
		StartMs:    c.StartMs,
		EndMs:      c.EndMs,
		Open:       c.Open,
		High:       c.High,
		Low:        c.Low,
		Close:      c.Close,
		Volume:     c.Volume,
		Trades:     c.Trades,
		CloseTsMs:  c.CloseTsMs,
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "source"}, {Name: "market"}, {Name: "interval_ms"}, {Name: "start_ms"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"end_ms", "open", "high", "low", "close_px", "volume", "trades", "close_ts_ms", "updated_at",
			}),
		}).
		Create(&row).Error
}

func (s *MySQL) GetCandle(ctx context.Context, src model.Source, market string, interval time.Duration, startMs int64) (model.Candle, bool, error) {
	var row candleRow
	err := s.db.WithContext(ctx).
		Where("source = ? AND market = ? AND interval_ms = ? AND start_ms = ?",
			src.String(), market, int64(interval/time.Millisecond), startMs).
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return model.Candle{}, false, nil
	}
	if err != nil {
		return model.Candle{}, false, err
	}
	return rowToCandle(row), true, nil
}

func (s *MySQL) CandleRange(ctx context.Context, src model.Source, market string, interval time.Duration, fromMs, toMs int64) ([]model.Candle, error) {
	var rows []candleRow
	err := s.db.WithContext(ctx).
		Where("source = ? AND market = ? AND interval_ms = ? AND start_ms >= ? AND start_ms < ?",
			src.String(), market, int64(interval/time.Millisecond), fromMs, toMs).
		Order("start_ms ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]model.Candle, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToCandle(r))
	}
	return out, nil
}

func rowToTrade(r tradeRow) model.Trade {
	src, _ := model.ParseSource(r.Source)
	return model.Trade{
		Source:    src,
		Market:    r.Market,
		PriceStr:  r.Price,
		SizeStr:   r.Size,
		Side:      parseSide(r.Side),
		EventTsMs: r.EventTsMs,
		TxHash:    r.TxHash,
	}
}

func rowToCandle(r candleRow) model.Candle {
	src, _ := model.ParseSource(r.Source)
	return model.Candle{
		Source:    src,
		Market:    r.Market,
		Interval:  time.Duration(r.IntervalMs) * time.Millisecond,
		StartMs:   r.StartMs,
		EndMs:     r.EndMs,
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
		Trades:    r.Trades,
		CloseTsMs: r.CloseTsMs,
	}
}

func parseSide(s string) model.Side {
	switch s {
	case "BUY":
		return model.SideBuy
	case "SELL":
		return model.SideSell
	default:
		return model.SideUnknown
	}
}
