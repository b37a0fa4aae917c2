package logging

import (
	"time"

	"go.uber.org/zap"
)

// Attempt writes the acquisition record that scrape-health monitoring keys on.
func Attempt(logger *zap.Logger, method, url string, d time.Duration, status string, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("method", method),
		zap.String("url", url),
		zap.String("status", status),
		zap.Duration("duration", d),
	}
	base = append(base, fields...)

	switch status {
	case "success", "not_found":
		logger.Info("acquisition", base...)
	default:
		logger.Warn("acquisition", base...)
	}
}
