package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is one simulated fill in a backtest
type Trade struct {
	Date   time.Time       `json:"date"`
	Side   TradeSide       `json:"side"`
	Shares int64           `json:"shares"`
	Price  decimal.Decimal `json:"price"`
	Value  decimal.Decimal `json:"value"`
}

type TradeSide string

const (
	TradeSideBuy  TradeSide = "buy"
	TradeSideSell TradeSide = "sell"
)

func NewTrade(date time.Time, side TradeSide, shares int64, price decimal.Decimal) Trade {
	return Trade{
		Date:   date,
		Side:   side,
		Shares: shares,
		Price:  price,
		Value:  decimal.NewFromInt(shares).Mul(price),
	}
}
