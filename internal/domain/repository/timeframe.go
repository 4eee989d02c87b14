package repository

import "candleflow/internal/domain/models"

// DefaultTimeframe returns the timeframe assumed when a request omits one.
func DefaultTimeframe() models.Timeframe { return models.TF1m }

// NormalizeTimeframe converts a raw string to a timeframe, falling back to
// the default on empty or invalid input.
func NormalizeTimeframe(s string) models.Timeframe {
	if s == "" {
		return DefaultTimeframe()
	}
	tf, err := models.ParseTimeframe(s)
	if err != nil {
		return DefaultTimeframe()
	}
	return tf
}
