// Package models holds the configuration types shared by the sfini CLI
// and its wiring.
package models

// AWSConfig selects the AWS account and region.
type AWSConfig struct {
	Region  string `yaml:"region,omitempty" mapstructure:"region"`
	Profile string `yaml:"profile,omitempty" mapstructure:"profile"`
}

// ActivitiesConfig names the activity group managed by this project.
type ActivitiesConfig struct {
	Group            string `yaml:"group" mapstructure:"group"`
	Version          string `yaml:"version" mapstructure:"version"`
	HeartbeatSeconds int    `yaml:"heartbeat_seconds" mapstructure:"heartbeat_seconds"`
}

// WorkerConfig tunes activity workers.
type WorkerConfig struct {
	Pollers                 int `yaml:"pollers" mapstructure:"pollers"`
	PollErrorBackoffSeconds int `yaml:"poll_error_backoff_seconds" mapstructure:"poll_error_backoff_seconds"`
}

// StateMachineConfig holds state machine registration settings.
type StateMachineConfig struct {
	RoleARN string `yaml:"role_arn,omitempty" mapstructure:"role_arn"`
}

// ExecutionConfig tunes execution polling.
type ExecutionConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds" mapstructure:"poll_interval_seconds"`
}

// LogConfig configures the zap logger and the event log.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	EventsFile string `yaml:"events_file" mapstructure:"events_file"`
}

// AlertsConfig configures worker alerts.
type AlertsConfig struct {
	FailureRatePercent int    `yaml:"failure_rate_percent" mapstructure:"failure_rate_percent"`
	MinFinishedTasks   int    `yaml:"min_finished_tasks" mapstructure:"min_finished_tasks"`
	MaxCancelled       int    `yaml:"max_cancelled" mapstructure:"max_cancelled"`
	StuckMinutes       int    `yaml:"stuck_minutes" mapstructure:"stuck_minutes"`
	SlackWebhook       string `yaml:"slack_webhook,omitempty" mapstructure:"slack_webhook"`
}

// GlobalConfig holds user-wide settings read from .sfini.yaml via Viper.
type GlobalConfig struct {
	AWS          AWSConfig          `yaml:"aws" mapstructure:"aws"`
	Activities   ActivitiesConfig   `yaml:"activities" mapstructure:"activities"`
	Worker       WorkerConfig       `yaml:"worker" mapstructure:"worker"`
	StateMachine StateMachineConfig `yaml:"state_machine" mapstructure:"state_machine"`
	Execution    ExecutionConfig    `yaml:"execution" mapstructure:"execution"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Alerts       AlertsConfig       `yaml:"alerts" mapstructure:"alerts"`
}

// ProjectConfig holds per-project overrides read from .sfinirc. Empty
// fields leave the global value in place.
type ProjectConfig struct {
	Group   string `yaml:"group,omitempty" mapstructure:"group"`
	Version string `yaml:"version,omitempty" mapstructure:"version"`
	RoleARN string `yaml:"role_arn,omitempty" mapstructure:"role_arn"`
	Region  string `yaml:"region,omitempty" mapstructure:"region"`
}

// MergedConfig is the global configuration with project overrides applied.
type MergedConfig struct {
	GlobalConfig `yaml:",inline" mapstructure:",squash"`
	Project      *ProjectConfig `yaml:"project,omitempty" mapstructure:"project"`
}
