package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/valter-silva-au/sfini/internal/core"
	"github.com/valter-silva-au/sfini/internal/observability"
	"github.com/valter-silva-au/sfini/internal/sfntest"
	"github.com/valter-silva-au/sfini/pkg/models"
	"github.com/valter-silva-au/sfini/pkg/session"
)

// testEnv points the CLI at an in-memory SFN service and a fresh event log.
type testEnv struct {
	fake *sfntest.Fake
	sess *session.Session
	log  observability.EventLog
}

func setup(t *testing.T) *testEnv {
	t.Helper()

	origConfig, origLogger, origFactory := Config, Logger, SessionFactory
	origLog, origAlerts, origMetrics, origNotifier := EventLog, AlertEngine, MetricsCalc, Notifier
	t.Cleanup(func() {
		Config, Logger, SessionFactory = origConfig, origLogger, origFactory
		EventLog, AlertEngine, MetricsCalc, Notifier = origLog, origAlerts, origMetrics, origNotifier
		resetFlags()
	})

	log, err := observability.NewJSONLEventLog(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })

	fake := sfntest.New()
	sess := session.NewStatic(sfntest.Region, sfntest.Account, fake)

	Config = &models.MergedConfig{GlobalConfig: *core.DefaultGlobalConfig()}
	Logger = zap.NewNop()
	SessionFactory = func(context.Context, *models.MergedConfig) (*session.Session, error) { return sess, nil }
	EventLog = log
	MetricsCalc = observability.NewMetricsCalculator(log)
	AlertEngine = observability.NewAlertEngine(log, observability.DefaultAlertThresholds())
	Notifier = nil

	return &testEnv{fake: fake, sess: sess, log: log}
}

// run executes the root command with args and returns everything it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runContext(context.Background(), t, args...)
}

func runContext(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

// resetFlags restores flag variables, which cobra keeps between executions.
func resetFlags() {
	verbose, regionFlag, profileFlag = false, "", ""
	activitiesGroup, activitiesVersion, activitiesAll = "", "", false
	workerActivity, workerName, workerPollers, workerRegister = "", "", 0, false
	definitionFile, definitionYAML = "", false
	machineName, machineRole, machineFile, machineUpdate = "", "", "", false
	executionMachine, executionName, executionInput, executionInputFile = "", "", "", ""
	executionWait, executionStatus, executionARN = false, "", ""
	executionError, executionCause, executionNoColor, executionInterval = "", "", false, 0
	metricsJSON, metricsSince = false, "7d"
	alertsNotify = false
}

// events returns the logged events of one type.
func (e *testEnv) events(t *testing.T, eventType string) []observability.Event {
	t.Helper()
	events, err := e.log.Read(observability.EventFilter{Type: eventType})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	return events
}
