// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service identifies the process in every log line.
type Service struct {
	Product     string
	Version     string
	Environment string
}

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// NewService builds a logger and tags it with the service identity.
func NewService(development bool, svc Service) (*zap.Logger, error) {
	logger, err := New(development)
	if err != nil {
		return nil, err
	}
	return WithService(logger, svc), nil
}

// WithService attaches the non-empty service fields to logger.
func WithService(logger *zap.Logger, svc Service) *zap.Logger {
	fields := make([]zap.Field, 0, 3)
	if svc.Product != "" {
		fields = append(fields, zap.String("product", svc.Product))
	}
	if svc.Version != "" {
		fields = append(fields, zap.String("version", svc.Version))
	}
	if svc.Environment != "" {
		fields = append(fields, zap.String("environment", svc.Environment))
	}
	return logger.With(fields...)
}
