package core

import "time"

// PreviewConfig controls the preview server child process and its supervision.
type PreviewConfig struct {
	// Command is the argv of the preview server. The workspace is the
	// working directory. Empty means python3 -m http.server <port>.
	Command []string
	Port    int
	// RunAsUser demotes the child to the named account when non-empty.
	RunAsUser string
	LogDir    string

	StartupAttempts     int
	StartupInterval     time.Duration
	StartupProbeTimeout time.Duration
	MonitorInterval     time.Duration
	MonitorProbeTimeout time.Duration
	StopGrace           time.Duration
	// MaxConsecutiveFailures stops the monitor and errors the session when
	// exceeded. Zero means unlimited restarts.
	MaxConsecutiveFailures int
}

// ServiceConfig controls the core session service.
type ServiceConfig struct {
	WorkspaceRoot string
	// WebsocketBase is the externally reachable base URL observers connect
	// to, e.g. ws://localhost:8080. The per-session path is appended.
	WebsocketBase     string
	QueuePollInterval time.Duration
	// TurnTimeout is the execution deadline for one engine turn. Exceeding
	// it kills the run and ends the session with status timeout. Zero means
	// no deadline.
	TurnTimeout time.Duration
	Preview     PreviewConfig
}

func (c *ServiceConfig) normalize() {
	if c.QueuePollInterval <= 0 {
		c.QueuePollInterval = 500 * time.Millisecond
	}
	if c.Preview.Port <= 0 {
		c.Preview.Port = 3000
	}
	if c.Preview.LogDir == "" {
		c.Preview.LogDir = "/tmp"
	}
	if c.Preview.StartupAttempts <= 0 {
		c.Preview.StartupAttempts = 30
	}
	if c.Preview.StartupInterval <= 0 {
		c.Preview.StartupInterval = time.Second
	}
	if c.Preview.StartupProbeTimeout <= 0 {
		c.Preview.StartupProbeTimeout = 2 * time.Second
	}
	if c.Preview.MonitorInterval <= 0 {
		c.Preview.MonitorInterval = 10 * time.Second
	}
	if c.Preview.MonitorProbeTimeout <= 0 {
		c.Preview.MonitorProbeTimeout = 5 * time.Second
	}
	if c.Preview.StopGrace <= 0 {
		c.Preview.StopGrace = 5 * time.Second
	}
}
