package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"stock-tracker/models"
	"stock-tracker/observability"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// DefaultAlphaVantageURL is the production Alpha Vantage endpoint
const DefaultAlphaVantageURL = "https://www.alphavantage.co/query"

const (
	dailySeriesKey  = "Time Series (Daily)"
	closeKey        = "4. close"
	splitKey        = "8. split coefficient"
	dailyFunction   = "TIME_SERIES_DAILY_ADJUSTED"
	maxResponseSize = 64 << 20
)

// AlphaVantageService fetches daily adjusted price series from Alpha Vantage
type AlphaVantageService struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// NewAlphaVantageService creates a new AlphaVantageService instance. An empty
// baseURL selects the production endpoint.
func NewAlphaVantageService(apiKey, baseURL string) *AlphaVantageService {
	if baseURL == "" {
		baseURL = DefaultAlphaVantageURL
	}
	return &AlphaVantageService{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
	}
}

// FetchDaily returns the daily closes and split coefficients for symbol in
// ascending date order. Compact returns roughly the last 100 trading days,
// full the entire history.
func (s *AlphaVantageService) FetchDaily(ctx context.Context, symbol string, size models.OutputSize) ([]models.PriceBar, error) {
	operation := "time_series_daily_" + string(size)
	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest(BreakerAlphaVantage, operation)
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI(BreakerAlphaVantage, operation)

	bars, err := WithCircuitBreaker(ctx, BreakerAlphaVantage, func() ([]models.PriceBar, error) {
		body, err := s.get(ctx, symbol, size)
		if err != nil {
			return nil, err
		}
		return ParseDailySeries(body)
	})
	if err != nil {
		metrics.RecordExternalAPIError(BreakerAlphaVantage, operation, feedErrorType(err))
		return nil, fmt.Errorf("fetch %s series for %s: %w", size, symbol, err)
	}

	observability.Debug("fetched daily series",
		"symbol", symbol,
		"outputsize", string(size),
		"bars", len(bars))
	return bars, nil
}

func (s *AlphaVantageService) get(ctx context.Context, symbol string, size models.OutputSize) ([]byte, error) {
	params := url.Values{}
	params.Set("function", dailyFunction)
	params.Set("outputsize", string(size))
	params.Set("symbol", symbol)
	params.Set("apikey", s.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", models.ErrFeedUnavailable, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", models.ErrFeedUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", models.ErrFeedUnavailable, err)
	}
	return body, nil
}

// ParseDailySeries decodes a TIME_SERIES_DAILY_ADJUSTED payload. A payload
// without a daily series (unknown symbol, rate limit notice) yields
// ErrFeedEmpty; anything that is not valid JSON or carries unparsable values
// yields ErrMalformedFeedPayload.
func ParseDailySeries(body []byte) ([]models.PriceBar, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: response is not valid JSON", models.ErrMalformedFeedPayload)
	}

	root := gjson.ParseBytes(body)
	series := root.Get(gjson.Escape(dailySeriesKey))
	if !series.Exists() || !series.IsObject() {
		return nil, fmt.Errorf("%w: %s", models.ErrFeedEmpty, feedNotice(root))
	}

	var (
		bars     models.Series
		parseErr error
	)
	series.ForEach(func(key, value gjson.Result) bool {
		date, err := models.ParseDate(key.String())
		if err != nil {
			parseErr = fmt.Errorf("%w: bad date %q", models.ErrMalformedFeedPayload, key.String())
			return false
		}
		closeValue, err := decimal.NewFromString(value.Get(gjson.Escape(closeKey)).String())
		if err != nil {
			parseErr = fmt.Errorf("%w: bad close on %s: %w", models.ErrMalformedFeedPayload, key.String(), err)
			return false
		}

		coef := decimal.NewFromInt(1)
		if raw := value.Get(gjson.Escape(splitKey)); raw.Exists() {
			coef, err = decimal.NewFromString(raw.String())
			if err != nil {
				parseErr = fmt.Errorf("%w: bad split coefficient on %s: %w", models.ErrMalformedFeedPayload, key.String(), err)
				return false
			}
		}

		bars = append(bars, models.PriceBar{Date: date, Close: closeValue, SplitCoefficient: coef})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: daily series has no entries", models.ErrFeedEmpty)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// feedNotice extracts the explanation Alpha Vantage sends instead of data
func feedNotice(root gjson.Result) string {
	for _, key := range []string{"Error Message", "Information", "Note"} {
		if msg := root.Get(gjson.Escape(key)); msg.Exists() {
			return strings.TrimSpace(msg.String())
		}
	}
	return "response has no daily series"
}

func feedErrorType(err error) string {
	switch {
	case errors.Is(err, models.ErrFeedEmpty):
		return "empty"
	case errors.Is(err, models.ErrMalformedFeedPayload):
		return "malformed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unavailable"
	}
}
