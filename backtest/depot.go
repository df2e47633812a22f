package backtest

import (
	"time"

	"stock-tracker/models"

	"github.com/shopspring/decimal"
)

// Depot is a virtual portfolio holding cash and whole shares of one symbol
type Depot struct {
	Cash   decimal.Decimal
	Shares int64
	Trades []models.Trade
}

// NewDepot creates a depot holding only cash
func NewDepot(cash decimal.Decimal) *Depot {
	return &Depot{Cash: cash}
}

// Buy converts shares*price of cash into shares
func (d *Depot) Buy(date time.Time, shares int64, price decimal.Decimal) {
	if shares <= 0 {
		return
	}
	trade := models.NewTrade(date, models.TradeSideBuy, shares, price)
	d.Cash = d.Cash.Sub(trade.Value)
	d.Shares += shares
	d.Trades = append(d.Trades, trade)
}

// Sell converts shares back into cash at price
func (d *Depot) Sell(date time.Time, shares int64, price decimal.Decimal) {
	if shares <= 0 {
		return
	}
	if shares > d.Shares {
		shares = d.Shares
	}
	trade := models.NewTrade(date, models.TradeSideSell, shares, price)
	d.Cash = d.Cash.Add(trade.Value)
	d.Shares -= shares
	d.Trades = append(d.Trades, trade)
}

// FullBuy spends as much cash as whole shares allow; the remainder stays cash
func (d *Depot) FullBuy(date time.Time, price decimal.Decimal) {
	if !price.IsPositive() || !d.Cash.IsPositive() {
		return
	}
	shares, _ := d.Cash.QuoRem(price, 0)
	d.Buy(date, shares.IntPart(), price)
}

// FullSell liquidates every share
func (d *Depot) FullSell(date time.Time, price decimal.Decimal) {
	d.Sell(date, d.Shares, price)
}

// Value is the depot's worth with shares marked at price
func (d *Depot) Value(price decimal.Decimal) decimal.Decimal {
	return d.Cash.Add(decimal.NewFromInt(d.Shares).Mul(price))
}
