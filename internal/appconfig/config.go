package appconfig

import (
	"os"
	"path/filepath"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	WorkspaceRoot string        `mapstructure:"workspace_root" yaml:"workspace_root"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	Engine        EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Preview       PreviewConfig `mapstructure:"preview" yaml:"preview"`
	Service       ServiceConfig `mapstructure:"service" yaml:"service"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
	Tunnel        TunnelConfig  `mapstructure:"tunnel" yaml:"tunnel"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// EngineConfig configures the coding engine subprocess.
type EngineConfig struct {
	Binary string            `mapstructure:"binary" yaml:"binary"`
	Model  string            `mapstructure:"model" yaml:"model"`
	Args   []string          `mapstructure:"args" yaml:"args"`
	Env    map[string]string `mapstructure:"env" yaml:"env"`
}

// PreviewConfig configures the preview server child and its supervision.
type PreviewConfig struct {
	Command                []string `mapstructure:"command" yaml:"command"`
	Port                   int      `mapstructure:"port" yaml:"port"`
	RunAsUser              string   `mapstructure:"run_as_user" yaml:"run_as_user"`
	LogDir                 string   `mapstructure:"log_dir" yaml:"log_dir"`
	StartupAttempts        int      `mapstructure:"startup_attempts" yaml:"startup_attempts"`
	StartupIntervalSeconds int      `mapstructure:"startup_interval_seconds" yaml:"startup_interval_seconds"`
	StartupTimeoutSeconds  int      `mapstructure:"startup_probe_timeout_seconds" yaml:"startup_probe_timeout_seconds"`
	MonitorIntervalSeconds int      `mapstructure:"monitor_interval_seconds" yaml:"monitor_interval_seconds"`
	MonitorTimeoutSeconds  int      `mapstructure:"monitor_probe_timeout_seconds" yaml:"monitor_probe_timeout_seconds"`
	StopGraceSeconds       int      `mapstructure:"stop_grace_seconds" yaml:"stop_grace_seconds"`
	MaxConsecutiveFailures int      `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
}

// ServiceConfig controls core service behavior.
type ServiceConfig struct {
	QueuePollMillis    int `mapstructure:"queue_poll_millis" yaml:"queue_poll_millis"`
	TurnTimeoutSeconds int `mapstructure:"turn_timeout_seconds" yaml:"turn_timeout_seconds"`
	HubHistory         int `mapstructure:"hub_history" yaml:"hub_history"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr    string `mapstructure:"addr" yaml:"addr"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// TunnelConfig configures how public URLs are issued.
type TunnelConfig struct {
	PublicBase string `mapstructure:"public_base" yaml:"public_base"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		WorkspaceRoot: filepath.Join(home, ".sitesmith", "workspaces"),
		StateDir:      filepath.Join(home, ".sitesmith", "state"),
		Engine: EngineConfig{
			Binary: "claude",
			Model:  "",
			Args:   []string{},
			Env:    map[string]string{},
		},
		Preview: PreviewConfig{
			Command:                []string{},
			Port:                   3000,
			RunAsUser:              "",
			LogDir:                 "/tmp",
			StartupAttempts:        30,
			StartupIntervalSeconds: 1,
			StartupTimeoutSeconds:  2,
			MonitorIntervalSeconds: 10,
			MonitorTimeoutSeconds:  5,
			StopGraceSeconds:       5,
			MaxConsecutiveFailures: 0,
		},
		Service: ServiceConfig{
			QueuePollMillis:    500,
			TurnTimeoutSeconds: 3600,
			HubHistory:         0,
		},
		HTTP: HTTPConfig{
			Addr:    ":8080",
			BaseURL: "",
		},
		Tunnel: TunnelConfig{
			PublicBase: "",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sitesmith", "config.yaml"), nil
}
