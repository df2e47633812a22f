package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Strategy names a backtest strategy
type Strategy string

const (
	StrategyBuyAndHold Strategy = "buy_and_hold"
	StrategyAvg200     Strategy = "avg200"
	StrategyAvg200Band Strategy = "avg200_band"
)

// Strategies lists every strategy in report order
var Strategies = []Strategy{StrategyBuyAndHold, StrategyAvg200, StrategyAvg200Band}

// StrategyResult is the outcome of one strategy over the backtest range
type StrategyResult struct {
	Strategy   Strategy        `json:"strategy"`
	FinalValue decimal.Decimal `json:"final_value"`
	Trades     []Trade         `json:"trades,omitempty"`
}

// BacktestResult holds the final portfolio value of each strategy
type BacktestResult struct {
	Symbol       string           `json:"symbol"`
	Start        time.Time        `json:"start"`
	End          time.Time        `json:"end"`
	StartingCash decimal.Decimal  `json:"starting_cash"`
	Results      []StrategyResult `json:"results"`
}

// FinalValues maps each strategy to its final portfolio value
func (r *BacktestResult) FinalValues() map[Strategy]decimal.Decimal {
	out := make(map[Strategy]decimal.Decimal, len(r.Results))
	for _, res := range r.Results {
		out[res.Strategy] = res.FinalValue
	}
	return out
}
