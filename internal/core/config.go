// Package core loads and validates sfini configuration.
package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/valter-silva-au/sfini/pkg/activity"
	"github.com/valter-silva-au/sfini/pkg/models"
	"github.com/valter-silva-au/sfini/pkg/session"
)

// Config file names, read as YAML.
const (
	GlobalConfigName  = ".sfini"
	ProjectConfigName = ".sfinirc"
)

// validLogLevels are the zap level names accepted for log.level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ConfigurationManager loads, merges and validates configuration from the
// global (.sfini.yaml) and per-project (.sfinirc) files.
type ConfigurationManager interface {
	LoadGlobalConfig() (*models.GlobalConfig, error)
	LoadProjectConfig(projectPath string) (*models.ProjectConfig, error)
	GetMergedConfig(projectPath string) (*models.MergedConfig, error)
	ValidateConfig(config interface{}) error
}

// viperConfigManager implements ConfigurationManager with Viper.
type viperConfigManager struct {
	// basePath is the directory holding .sfini.yaml.
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager reading the global
// file from basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

// DefaultGlobalConfig returns the configuration used when no file exists.
func DefaultGlobalConfig() *models.GlobalConfig {
	return &models.GlobalConfig{
		Activities: models.ActivitiesConfig{
			Group:            "sfini",
			Version:          activity.DefaultVersion,
			HeartbeatSeconds: int(activity.DefaultHeartbeat.Seconds()),
		},
		Worker: models.WorkerConfig{
			Pollers:                 1,
			PollErrorBackoffSeconds: 5,
		},
		Execution: models.ExecutionConfig{PollIntervalSeconds: 5},
		Log: models.LogConfig{
			Level:      "info",
			EventsFile: "events.jsonl",
		},
		Alerts: models.AlertsConfig{
			FailureRatePercent: 50,
			MinFinishedTasks:   5,
			MaxCancelled:       3,
			StuckMinutes:       60,
		},
	}
}

// LoadGlobalConfig reads .sfini.yaml from the base path. Missing keys and a
// missing file fall back to DefaultGlobalConfig. SFINI_<SECTION>_<KEY>
// environment variables override the file.
func (cm *viperConfigManager) LoadGlobalConfig() (*models.GlobalConfig, error) {
	cfg := DefaultGlobalConfig()

	v := viper.New()
	v.SetConfigName(GlobalConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix("SFINI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("aws.region", cfg.AWS.Region)
	v.SetDefault("aws.profile", cfg.AWS.Profile)
	v.SetDefault("activities.group", cfg.Activities.Group)
	v.SetDefault("activities.version", cfg.Activities.Version)
	v.SetDefault("activities.heartbeat_seconds", cfg.Activities.HeartbeatSeconds)
	v.SetDefault("worker.pollers", cfg.Worker.Pollers)
	v.SetDefault("worker.poll_error_backoff_seconds", cfg.Worker.PollErrorBackoffSeconds)
	v.SetDefault("state_machine.role_arn", cfg.StateMachine.RoleARN)
	v.SetDefault("execution.poll_interval_seconds", cfg.Execution.PollIntervalSeconds)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.events_file", cfg.Log.EventsFile)
	v.SetDefault("alerts.failure_rate_percent", cfg.Alerts.FailureRatePercent)
	v.SetDefault("alerts.min_finished_tasks", cfg.Alerts.MinFinishedTasks)
	v.SetDefault("alerts.max_cancelled", cfg.Alerts.MaxCancelled)
	v.SetDefault("alerts.stuck_minutes", cfg.Alerts.StuckMinutes)
	v.SetDefault("alerts.slack_webhook", cfg.Alerts.SlackWebhook)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s.yaml: %w", GlobalConfigName, err)
		}
	}

	cfg.AWS.Region = v.GetString("aws.region")
	cfg.AWS.Profile = v.GetString("aws.profile")
	cfg.Activities.Group = v.GetString("activities.group")
	cfg.Activities.Version = v.GetString("activities.version")
	cfg.Activities.HeartbeatSeconds = v.GetInt("activities.heartbeat_seconds")
	cfg.Worker.Pollers = v.GetInt("worker.pollers")
	cfg.Worker.PollErrorBackoffSeconds = v.GetInt("worker.poll_error_backoff_seconds")
	cfg.StateMachine.RoleARN = v.GetString("state_machine.role_arn")
	cfg.Execution.PollIntervalSeconds = v.GetInt("execution.poll_interval_seconds")
	cfg.Log.Level = strings.ToLower(v.GetString("log.level"))
	cfg.Log.EventsFile = v.GetString("log.events_file")
	cfg.Alerts.FailureRatePercent = v.GetInt("alerts.failure_rate_percent")
	cfg.Alerts.MinFinishedTasks = v.GetInt("alerts.min_finished_tasks")
	cfg.Alerts.MaxCancelled = v.GetInt("alerts.max_cancelled")
	cfg.Alerts.StuckMinutes = v.GetInt("alerts.stuck_minutes")
	cfg.Alerts.SlackWebhook = v.GetString("alerts.slack_webhook")

	return cfg, nil
}

// LoadProjectConfig reads .sfinirc from projectPath. It returns nil when
// the project has no such file.
func (cm *viperConfigManager) LoadProjectConfig(projectPath string) (*models.ProjectConfig, error) {
	v := viper.New()
	v.SetConfigName(ProjectConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(projectPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s in %s: %w", ProjectConfigName, projectPath, err)
	}

	return &models.ProjectConfig{
		Group:   v.GetString("group"),
		Version: v.GetString("version"),
		RoleARN: v.GetString("role_arn"),
		Region:  v.GetString("region"),
	}, nil
}

// GetMergedConfig loads the global config and applies the project's
// overrides. Precedence: .sfinirc > environment > .sfini.yaml > defaults.
func (cm *viperConfigManager) GetMergedConfig(projectPath string) (*models.MergedConfig, error) {
	globalCfg, err := cm.LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("loading global config for merge: %w", err)
	}
	merged := &models.MergedConfig{GlobalConfig: *globalCfg}
	if projectPath == "" {
		return merged, nil
	}

	pc, err := cm.LoadProjectConfig(projectPath)
	if err != nil {
		return nil, fmt.Errorf("loading project config for merge: %w", err)
	}
	if pc == nil {
		return merged, nil
	}
	merged.Project = pc
	if pc.Group != "" {
		merged.Activities.Group = pc.Group
	}
	if pc.Version != "" {
		merged.Activities.Version = pc.Version
	}
	if pc.RoleARN != "" {
		merged.StateMachine.RoleARN = pc.RoleARN
	}
	if pc.Region != "" {
		merged.AWS.Region = pc.Region
	}
	return merged, nil
}

// ValidateConfig reports every invalid value of a *GlobalConfig,
// *ProjectConfig or *MergedConfig in one error.
func (cm *viperConfigManager) ValidateConfig(config interface{}) error {
	if config == nil {
		return fmt.Errorf("configuration is nil")
	}
	switch cfg := config.(type) {
	case *models.GlobalConfig:
		return validateGlobalConfig(cfg)
	case *models.ProjectConfig:
		return validateProjectConfig(cfg)
	case *models.MergedConfig:
		if err := validateGlobalConfig(&cfg.GlobalConfig); err != nil {
			return err
		}
		if cfg.Project != nil {
			return validateProjectConfig(cfg.Project)
		}
		return nil
	default:
		return fmt.Errorf("unsupported configuration type: %T", config)
	}
}

func validateGroup(key, group string) []string {
	var errs []string
	if strings.Contains(group, activity.Separator) {
		errs = append(errs, fmt.Sprintf("%s %q must not contain %q", key, group, activity.Separator))
	}
	if err := session.ValidateName(group); err != nil {
		errs = append(errs, fmt.Sprintf("%s %q is not a valid SFN name", key, group))
	}
	return errs
}

func validateGlobalConfig(cfg *models.GlobalConfig) error {
	if cfg == nil {
		return fmt.Errorf("global configuration is nil")
	}

	var errs []string
	errs = append(errs, validateGroup("activities.group", cfg.Activities.Group)...)
	if cfg.Activities.Version == "" {
		errs = append(errs, "activities.version must not be empty")
	} else if strings.Contains(cfg.Activities.Version, activity.Separator) {
		errs = append(errs, fmt.Sprintf("activities.version %q must not contain %q", cfg.Activities.Version, activity.Separator))
	}
	if cfg.Activities.HeartbeatSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("activities.heartbeat_seconds must be positive, got %d", cfg.Activities.HeartbeatSeconds))
	}
	if cfg.Worker.Pollers < 1 {
		errs = append(errs, fmt.Sprintf("worker.pollers must be at least 1, got %d", cfg.Worker.Pollers))
	}
	if cfg.Worker.PollErrorBackoffSeconds < 0 {
		errs = append(errs, fmt.Sprintf("worker.poll_error_backoff_seconds must be non-negative, got %d", cfg.Worker.PollErrorBackoffSeconds))
	}
	if cfg.Execution.PollIntervalSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("execution.poll_interval_seconds must be positive, got %d", cfg.Execution.PollIntervalSeconds))
	}
	if !validLogLevels[cfg.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level %q is invalid, must be one of: debug, info, warn, error", cfg.Log.Level))
	}
	if cfg.StateMachine.RoleARN != "" && !strings.HasPrefix(cfg.StateMachine.RoleARN, "arn:") {
		errs = append(errs, fmt.Sprintf("state_machine.role_arn %q is not an ARN", cfg.StateMachine.RoleARN))
	}
	if p := cfg.Alerts.FailureRatePercent; p < 1 || p > 100 {
		errs = append(errs, fmt.Sprintf("alerts.failure_rate_percent %d is invalid, must be between 1 and 100", p))
	}

	if len(errs) > 0 {
		return fmt.Errorf("global config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateProjectConfig(cfg *models.ProjectConfig) error {
	if cfg == nil {
		return fmt.Errorf("project configuration is nil")
	}

	var errs []string
	if cfg.Group != "" {
		errs = append(errs, validateGroup("group", cfg.Group)...)
	}
	if strings.Contains(cfg.Version, activity.Separator) {
		errs = append(errs, fmt.Sprintf("version %q must not contain %q", cfg.Version, activity.Separator))
	}
	if cfg.RoleARN != "" && !strings.HasPrefix(cfg.RoleARN, "arn:") {
		errs = append(errs, fmt.Sprintf("role_arn %q is not an ARN", cfg.RoleARN))
	}

	if len(errs) > 0 {
		return fmt.Errorf("project config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
