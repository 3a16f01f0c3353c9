// Package internal provides the App struct that wires the sfini components
// together and initializes the CLI layer.
package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/valter-silva-au/sfini/internal/cli"
	"github.com/valter-silva-au/sfini/internal/core"
	"github.com/valter-silva-au/sfini/internal/observability"
	"github.com/valter-silva-au/sfini/pkg/models"
	"github.com/valter-silva-au/sfini/pkg/session"
)

// App holds the service dependencies of the sfini CLI.
type App struct {
	BasePath    string
	ProjectPath string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.MergedConfig

	// Logging
	Logger   *zap.Logger
	LogLevel zap.AtomicLevel

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
	Notifier    observability.Notifier
}

// NewApp loads configuration from basePath (.sfini.yaml) and projectPath
// (.sfinirc), builds the logger and event log, and hands them to the CLI.
// An empty projectPath skips project overrides.
func NewApp(basePath, projectPath string) (*App, error) {
	app := &App{BasePath: basePath, ProjectPath: projectPath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.GetMergedConfig(projectPath)
	if err != nil {
		return nil, err
	}
	if err := app.ConfigMgr.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	app.Config = cfg

	// --- Logging ---
	app.LogLevel, err = zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log.level: %w", err)
	}
	app.Logger, err = newLogger(app.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	// --- Observability ---
	eventLogPath := cfg.Log.EventsFile
	if !filepath.IsAbs(eventLogPath) {
		eventLogPath = filepath.Join(basePath, eventLogPath)
	}
	app.EventLog, err = observability.NewJSONLEventLog(eventLogPath)
	if err != nil {
		// Non-fatal: metrics and alerts are disabled without an event log.
		app.Logger.Warn("event log disabled", zap.String("path", eventLogPath), zap.Error(err))
		app.EventLog = nil
	}
	if app.EventLog != nil {
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, alertThresholds(cfg.Alerts))
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}
	if cfg.Alerts.SlackWebhook != "" {
		app.Notifier = observability.NewSlackNotifier(cfg.Alerts.SlackWebhook)
	}

	// --- CLI wiring ---
	cli.Config = app.Config
	cli.Logger = app.Logger
	cli.LogLevel = app.LogLevel
	cli.SessionFactory = newSessionFactory(app.Logger)
	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc
	cli.Notifier = app.Notifier

	return app, nil
}

// newLogger builds a console logger on stderr at level.
func newLogger(level zap.AtomicLevel) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	zcfg.Encoding = "console"
	zcfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	zcfg.DisableStacktrace = true
	zcfg.Sampling = nil
	return zcfg.Build()
}

// alertThresholds overrides the defaults with positive configured values.
func alertThresholds(cfg models.AlertsConfig) observability.AlertThresholds {
	thresholds := observability.DefaultAlertThresholds()
	if cfg.FailureRatePercent > 0 {
		thresholds.FailureRatePercent = cfg.FailureRatePercent
	}
	if cfg.MinFinishedTasks > 0 {
		thresholds.MinFinishedTasks = cfg.MinFinishedTasks
	}
	if cfg.MaxCancelled > 0 {
		thresholds.MaxCancelled = cfg.MaxCancelled
	}
	if cfg.StuckMinutes > 0 {
		thresholds.StuckMinutes = cfg.StuckMinutes
	}
	return thresholds
}

// newSessionFactory returns a factory that connects to AWS once and reuses
// the session afterwards.
func newSessionFactory(logger *zap.Logger) func(context.Context, *models.MergedConfig) (*session.Session, error) {
	var (
		mu   sync.Mutex
		sess *session.Session
	)
	return func(ctx context.Context, cfg *models.MergedConfig) (*session.Session, error) {
		mu.Lock()
		defer mu.Unlock()
		if sess != nil {
			return sess, nil
		}
		s, err := session.New(ctx, session.WithRegion(cfg.AWS.Region), session.WithProfile(cfg.AWS.Profile))
		if err != nil {
			return nil, err
		}
		logger.Debug("connected to AWS", zap.String("region", s.Region), zap.String("account", s.AccountID))
		sess = s
		return sess, nil
	}
}

// Close releases resources held by the App.
func (a *App) Close() error {
	var err error
	if a.EventLog != nil {
		err = a.EventLog.Close()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return err
}

// ResolveBasePath determines the directory holding .sfini.yaml and the
// event log. SFINI_HOME wins; otherwise the nearest directory up from the
// working directory with a .sfini.yaml; otherwise the working directory.
func ResolveBasePath() string {
	if home := os.Getenv("SFINI_HOME"); home != "" {
		return home
	}
	if dir, ok := findUp(core.GlobalConfigName + ".yaml"); ok {
		return dir
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return cwd
}

// ResolveProjectPath returns the nearest directory up from the working
// directory containing .sfinirc, or "" when there is none.
func ResolveProjectPath() string {
	dir, _ := findUp(core.ProjectConfigName)
	return dir
}

func findUp(name string) (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
