package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/valter-silva-au/sfini/internal/core"
	"github.com/valter-silva-au/sfini/internal/observability"
	"github.com/valter-silva-au/sfini/pkg/models"
	"github.com/valter-silva-au/sfini/pkg/session"
)

// Service instances, set during app initialization in app.go.
var (
	Config *models.MergedConfig
	Logger *zap.Logger
	// LogLevel is raised to debug by --verbose.
	LogLevel = zap.NewAtomicLevel()
	// SessionFactory builds the AWS session on first use so commands that
	// never talk to AWS run without credentials.
	SessionFactory func(ctx context.Context, cfg *models.MergedConfig) (*session.Session, error)

	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
)

func currentConfig() *models.MergedConfig {
	if Config == nil {
		Config = &models.MergedConfig{GlobalConfig: *core.DefaultGlobalConfig()}
	}
	return Config
}

func logger() *zap.Logger {
	if Logger == nil {
		return zap.NewNop()
	}
	return Logger
}

func awsSession(ctx context.Context) (*session.Session, error) {
	if SessionFactory == nil {
		return nil, fmt.Errorf("AWS session not initialized")
	}
	sess, err := SessionFactory(ctx, currentConfig())
	if err != nil {
		return nil, fmt.Errorf("connecting to AWS: %w", err)
	}
	return sess, nil
}

// emit records a domain event, logging rather than failing on write errors.
func emit(eventType, msg string, data map[string]any) {
	if err := observability.Emit(EventLog, eventType, msg, data); err != nil {
		logger().Warn("writing event failed", zap.String("type", eventType), zap.Error(err))
	}
}
