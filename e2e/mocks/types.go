package mocks

import (
	"strconv"
	"time"
)

// CompactSize is the number of most recent bars a compact request returns.
const CompactSize = 100

// DailyBar is one day of the mocked series.
type DailyBar struct {
	Date             time.Time
	Close            float64
	SplitCoefficient float64
}

// dailyEntry mirrors one date entry of a TIME_SERIES_DAILY_ADJUSTED payload.
type dailyEntry struct {
	Open             string `json:"1. open"`
	High             string `json:"2. high"`
	Low              string `json:"3. low"`
	Close            string `json:"4. close"`
	AdjustedClose    string `json:"5. adjusted close"`
	Volume           string `json:"6. volume"`
	DividendAmount   string `json:"7. dividend amount"`
	SplitCoefficient string `json:"8. split coefficient"`
}

type metaData struct {
	Information   string `json:"1. Information"`
	Symbol        string `json:"2. Symbol"`
	LastRefreshed string `json:"3. Last Refreshed"`
	OutputSize    string `json:"4. Output Size"`
	TimeZone      string `json:"5. Time Zone"`
}

type dailyPayload struct {
	MetaData metaData              `json:"Meta Data"`
	Series   map[string]dailyEntry `json:"Time Series (Daily)"`
}

func formatDailySeries(symbol string, bars []DailyBar) dailyPayload {
	p := dailyPayload{
		MetaData: metaData{
			Information: "Daily Time Series with Splits and Dividend Events",
			Symbol:      symbol,
			OutputSize:  "Full size",
			TimeZone:    "US/Eastern",
		},
		Series: make(map[string]dailyEntry, len(bars)),
	}
	for _, b := range bars {
		date := b.Date.Format("2006-01-02")
		price := strconv.FormatFloat(b.Close, 'f', 4, 64)
		coef := b.SplitCoefficient
		if coef == 0 {
			coef = 1
		}
		p.Series[date] = dailyEntry{
			Open:             price,
			High:             price,
			Low:              price,
			Close:            price,
			AdjustedClose:    price,
			Volume:           "1000000",
			DividendAmount:   "0.0000",
			SplitCoefficient: strconv.FormatFloat(coef, 'f', 1, 64),
		}
		if date > p.MetaData.LastRefreshed {
			p.MetaData.LastRefreshed = date
		}
	}
	return p
}
