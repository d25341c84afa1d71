package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("workspace_root", cfg.WorkspaceRoot)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("engine.binary", cfg.Engine.Binary)
	v.SetDefault("engine.model", cfg.Engine.Model)
	v.SetDefault("engine.args", cfg.Engine.Args)
	v.SetDefault("engine.env", cfg.Engine.Env)
	v.SetDefault("preview.command", cfg.Preview.Command)
	v.SetDefault("preview.port", cfg.Preview.Port)
	v.SetDefault("preview.run_as_user", cfg.Preview.RunAsUser)
	v.SetDefault("preview.log_dir", cfg.Preview.LogDir)
	v.SetDefault("preview.startup_attempts", cfg.Preview.StartupAttempts)
	v.SetDefault("preview.startup_interval_seconds", cfg.Preview.StartupIntervalSeconds)
	v.SetDefault("preview.startup_probe_timeout_seconds", cfg.Preview.StartupTimeoutSeconds)
	v.SetDefault("preview.monitor_interval_seconds", cfg.Preview.MonitorIntervalSeconds)
	v.SetDefault("preview.monitor_probe_timeout_seconds", cfg.Preview.MonitorTimeoutSeconds)
	v.SetDefault("preview.stop_grace_seconds", cfg.Preview.StopGraceSeconds)
	v.SetDefault("preview.max_consecutive_failures", cfg.Preview.MaxConsecutiveFailures)
	v.SetDefault("service.queue_poll_millis", cfg.Service.QueuePollMillis)
	v.SetDefault("service.turn_timeout_seconds", cfg.Service.TurnTimeoutSeconds)
	v.SetDefault("service.hub_history", cfg.Service.HubHistory)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.base_url", cfg.HTTP.BaseURL)
	v.SetDefault("tunnel.public_base", cfg.Tunnel.PublicBase)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(path); statErr == nil {
				return Config{}, err
			}
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		if v.GetInt("preview.port") <= 0 {
			return Config{}, fmt.Errorf("preview.port must be positive")
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validateHTTPConfig(cfg.HTTP); err != nil {
		return Config{}, err
	}
	if err := validateTunnelConfig(cfg.Tunnel); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateHTTPConfig(cfg HTTPConfig) error {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("http.base_url must include scheme and host (e.g. https://example.com)")
		}
	}
	return nil
}

func validateTunnelConfig(cfg TunnelConfig) error {
	base := strings.TrimSpace(cfg.PublicBase)
	if base != "" {
		parsed, err := url.Parse(base)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("tunnel.public_base must include scheme and host (e.g. https://example.com)")
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.WorkspaceRoot = expandEnv(cfg.WorkspaceRoot)
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Engine.Binary = expandEnv(cfg.Engine.Binary)
	cfg.Preview.LogDir = expandEnv(cfg.Preview.LogDir)
	for key, value := range cfg.Engine.Env {
		cfg.Engine.Env[key] = expandEnv(value)
	}
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
