package internal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/valter-silva-au/sfini/internal/cli"
	"github.com/valter-silva-au/sfini/internal/core"
	"github.com/valter-silva-au/sfini/internal/observability"
	"github.com/valter-silva-au/sfini/pkg/models"
)

// chdir switches the working directory for the rest of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	origDir, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(origDir) })
}

// realPath resolves symlinks so temp directories compare equal to Getwd.
func realPath(t *testing.T, p string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		t.Fatal(err)
	}
	return resolved
}

// saveCLI restores the CLI package variables NewApp overwrites.
func saveCLI(t *testing.T) {
	t.Helper()
	cfg, logger, level, factory := cli.Config, cli.Logger, cli.LogLevel, cli.SessionFactory
	log, alerts, metrics, notifier := cli.EventLog, cli.AlertEngine, cli.MetricsCalc, cli.Notifier
	t.Cleanup(func() {
		cli.Config, cli.Logger, cli.LogLevel, cli.SessionFactory = cfg, logger, level, factory
		cli.EventLog, cli.AlertEngine, cli.MetricsCalc, cli.Notifier = log, alerts, metrics, notifier
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestApp(t *testing.T, basePath, projectPath string) *App {
	t.Helper()
	saveCLI(t)
	app, err := NewApp(basePath, projectPath)
	if err != nil {
		t.Fatalf("NewApp() error: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })
	return app
}

func TestResolveBasePath_HomeSet(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SFINI_HOME", tmpDir)

	if got := ResolveBasePath(); got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q", got, tmpDir)
	}
}

func TestResolveBasePath_FindsGlobalConfig(t *testing.T) {
	t.Setenv("SFINI_HOME", "")
	tmpDir := realPath(t, t.TempDir())
	subDir := filepath.Join(tmpDir, "sub", "nested")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(tmpDir, ".sfini.yaml"), "activities:\n  group: jobs\n")
	chdir(t, subDir)

	if got := ResolveBasePath(); got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q", got, tmpDir)
	}
}

func TestResolveBasePath_FallsBackToCwd(t *testing.T) {
	t.Setenv("SFINI_HOME", "")
	tmpDir := realPath(t, t.TempDir())
	chdir(t, tmpDir)

	if got := ResolveBasePath(); got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q", got, tmpDir)
	}
}

func TestResolveProjectPath(t *testing.T) {
	tmpDir := realPath(t, t.TempDir())
	project := filepath.Join(tmpDir, "project")
	nested := filepath.Join(project, "cmd", "tool")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(project, ".sfinirc"), "group: jobs\n")
	chdir(t, nested)

	if got := ResolveProjectPath(); got != project {
		t.Errorf("ResolveProjectPath() = %q, want %q", got, project)
	}
}

func TestResolveProjectPath_None(t *testing.T) {
	chdir(t, t.TempDir())
	if got := ResolveProjectPath(); got != "" {
		t.Errorf("ResolveProjectPath() = %q, want empty", got)
	}
}

func TestNewApp_Defaults(t *testing.T) {
	base := t.TempDir()
	app := newTestApp(t, base, "")

	want := core.DefaultGlobalConfig()
	if app.Config.Activities.Group != want.Activities.Group {
		t.Errorf("group = %q, want %q", app.Config.Activities.Group, want.Activities.Group)
	}
	if app.Config.Project != nil {
		t.Errorf("expected no project config, got %+v", app.Config.Project)
	}
	if app.LogLevel.Level() != zap.InfoLevel {
		t.Errorf("log level = %s, want info", app.LogLevel.Level())
	}
	if app.EventLog == nil || app.AlertEngine == nil || app.MetricsCalc == nil {
		t.Fatal("expected observability to be wired")
	}
	if app.Notifier != nil {
		t.Error("expected no notifier without a webhook")
	}
	if _, err := os.Stat(filepath.Join(base, "events.jsonl")); err != nil {
		t.Errorf("expected event log under the base path: %v", err)
	}
}

func TestNewApp_WiresCLI(t *testing.T) {
	app := newTestApp(t, t.TempDir(), "")

	if cli.Config != app.Config {
		t.Error("cli.Config not wired")
	}
	if cli.Logger != app.Logger {
		t.Error("cli.Logger not wired")
	}
	if cli.EventLog != app.EventLog || cli.AlertEngine != app.AlertEngine || cli.MetricsCalc != app.MetricsCalc {
		t.Error("cli observability not wired")
	}
	if cli.SessionFactory == nil {
		t.Error("cli.SessionFactory not wired")
	}

	// The CLI level is the App level, so --verbose reaches the logger.
	cli.LogLevel.SetLevel(zap.DebugLevel)
	if !app.Logger.Core().Enabled(zap.DebugLevel) {
		t.Error("expected the logger to follow the shared level")
	}
}

func TestNewApp_ProjectOverrides(t *testing.T) {
	base := t.TempDir()
	project := t.TempDir()
	writeFile(t, filepath.Join(base, ".sfini.yaml"), `
activities:
  group: global
log:
  level: debug
  events_file: logs/events.jsonl
alerts:
  slack_webhook: https://hooks.example.com/x
`)
	writeFile(t, filepath.Join(project, ".sfinirc"), "group: local\nrole_arn: arn:aws:iam::123456789012:role/sfn\n")

	app := newTestApp(t, base, project)

	if app.Config.Activities.Group != "local" {
		t.Errorf("group = %q, want local", app.Config.Activities.Group)
	}
	if app.Config.StateMachine.RoleARN != "arn:aws:iam::123456789012:role/sfn" {
		t.Errorf("role = %q", app.Config.StateMachine.RoleARN)
	}
	if app.LogLevel.Level() != zap.DebugLevel {
		t.Errorf("log level = %s, want debug", app.LogLevel.Level())
	}
	if app.Notifier == nil || cli.Notifier == nil {
		t.Error("expected a Slack notifier")
	}
	if _, err := os.Stat(filepath.Join(base, "logs", "events.jsonl")); err != nil {
		t.Errorf("expected relative events_file under the base path: %v", err)
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	saveCLI(t)
	base := t.TempDir()
	writeFile(t, filepath.Join(base, ".sfini.yaml"), "worker:\n  pollers: 0\nlog:\n  level: loud\n")

	_, err := NewApp(base, "")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"worker.pollers", "log.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err.Error(), want)
		}
	}
}

func TestNewApp_EventLogUnavailable(t *testing.T) {
	base := t.TempDir()
	// A directory where the events file should be cannot be opened for append.
	if err := os.Mkdir(filepath.Join(base, "events.jsonl"), 0o755); err != nil {
		t.Fatal(err)
	}

	app := newTestApp(t, base, "")
	if app.EventLog != nil || app.AlertEngine != nil || app.MetricsCalc != nil {
		t.Error("expected observability to be disabled")
	}
}

func TestAlertThresholds(t *testing.T) {
	def := observability.DefaultAlertThresholds()

	got := alertThresholds(models.AlertsConfig{})
	if got != def {
		t.Errorf("zero config should keep defaults, got %+v", got)
	}

	got = alertThresholds(models.AlertsConfig{FailureRatePercent: 10, MinFinishedTasks: 2, MaxCancelled: 7, StuckMinutes: 15})
	want := observability.AlertThresholds{FailureRatePercent: 10, MinFinishedTasks: 2, MaxCancelled: 7, StuckMinutes: 15}
	if got != want {
		t.Errorf("alertThresholds() = %+v, want %+v", got, want)
	}
}

func TestSessionFactory_PropagatesError(t *testing.T) {
	factory := newSessionFactory(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := &models.MergedConfig{GlobalConfig: *core.DefaultGlobalConfig()}
	cfg.AWS.Profile = "sfini-test-profile-that-does-not-exist"
	if _, err := factory(ctx, cfg); err == nil {
		t.Fatal("expected an error for an unknown profile")
	}
}
