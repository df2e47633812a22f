// Package mocks provides an HTTP mock of the Alpha Vantage daily series API used in E2E tests.
package mocks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockServer serves TIME_SERIES_DAILY_ADJUSTED payloads for configured symbols.
type MockServer struct {
	mu     sync.RWMutex
	server *httptest.Server

	// Response configurations, keyed by symbol
	series  map[string][]DailyBar
	notices map[string]string

	// Error injection
	statusCode int
	rawBody    []byte

	// Request tracking for assertions
	requestLog []RequestLog
}

// RequestLog records incoming requests for test assertions.
type RequestLog struct {
	Function   string
	Symbol     string
	OutputSize string
	APIKey     string
}

// NewMockServer creates a new mock server with no symbols configured.
func NewMockServer() *MockServer {
	m := &MockServer{
		series:     make(map[string][]DailyBar),
		notices:    make(map[string]string),
		requestLog: make([]RequestLog, 0),
	}
	m.server = httptest.NewServer(m)
	return m
}

// URL returns the mock server's base URL.
func (m *MockServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	m.server.Close()
}

// ServeHTTP implements http.Handler.
func (m *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := q.Get("symbol")

	m.mu.Lock()
	m.requestLog = append(m.requestLog, RequestLog{
		Function:   q.Get("function"),
		Symbol:     symbol,
		OutputSize: q.Get("outputsize"),
		APIKey:     q.Get("apikey"),
	})
	status := m.statusCode
	raw := m.rawBody
	bars, known := m.series[symbol]
	notice := m.notices[symbol]
	m.mu.Unlock()

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	if raw != nil {
		w.Header().Set("Content-Type", "application/json")
		w.Write(raw)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if !known {
		if notice == "" {
			notice = "Invalid API call. Please retry or visit the documentation for TIME_SERIES_DAILY_ADJUSTED."
		}
		json.NewEncoder(w).Encode(map[string]string{"Error Message": notice})
		return
	}
	if q.Get("outputsize") == "compact" && len(bars) > CompactSize {
		bars = bars[len(bars)-CompactSize:]
	}
	json.NewEncoder(w).Encode(formatDailySeries(symbol, bars))
}

// GetRequestLog returns all logged requests for assertions.
func (m *MockServer) GetRequestLog() []RequestLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RequestLog{}, m.requestLog...)
}

// ClearRequestLog clears the request log.
func (m *MockServer) ClearRequestLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestLog = make([]RequestLog, 0)
}

// SetSeries configures the full daily history served for symbol.
func (m *MockServer) SetSeries(symbol string, bars []DailyBar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[symbol] = append([]DailyBar(nil), bars...)
	delete(m.notices, symbol)
}

// AppendBars adds bars to the end of symbol's history.
func (m *MockServer) AppendBars(symbol string, bars ...DailyBar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.series[symbol] = append(m.series[symbol], bars...)
}

// SetNotice makes symbol answer with a rate limit or error notice instead of data.
func (m *MockServer) SetNotice(symbol, notice string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.series, symbol)
	m.notices[symbol] = notice
}

// SetStatusCode makes every request fail with status. Zero restores normal responses.
func (m *MockServer) SetStatusCode(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCode = status
}

// SetRawBody makes every request answer with body verbatim. Nil restores normal responses.
func (m *MockServer) SetRawBody(body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rawBody = body
}

// GenerateBars returns n consecutive calendar-day bars starting at start with
// closes base, base+1, ... and no splits.
func GenerateBars(start time.Time, n int, base float64) []DailyBar {
	bars := make([]DailyBar, n)
	for i := range bars {
		bars[i] = DailyBar{
			Date:             start.AddDate(0, 0, i),
			Close:            base + float64(i),
			SplitCoefficient: 1,
		}
	}
	return bars
}
