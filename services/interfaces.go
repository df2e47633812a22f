package services

import (
	"context"

	"stock-tracker/models"
)

// AlphaVantageServiceInterface defines the interface for daily price series
type AlphaVantageServiceInterface interface {
	FetchDaily(ctx context.Context, symbol string, size models.OutputSize) ([]models.PriceBar, error)
}

// Compile-time interface verification
var _ AlphaVantageServiceInterface = (*AlphaVantageService)(nil)
