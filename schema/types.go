package schema

import "time"

// SessionID identifies a build session.
type SessionID string

// EngineSessionID identifies the engine-side conversation, used for resume.
type EngineSessionID string

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	// StatusInitializing means the session exists but turn 1 has not finished.
	StatusInitializing SessionStatus = "initializing"
	// StatusRunning means the session serves prompts and the preview is supervised.
	StatusRunning SessionStatus = "running"
	// StatusCompleted means the session ended normally.
	StatusCompleted SessionStatus = "completed"
	// StatusError means the session ended with a fatal error.
	StatusError SessionStatus = "error"
	// StatusTimeout means the session was reaped after its idle deadline.
	StatusTimeout SessionStatus = "timeout"
)

// Terminal reports whether the status is a terminal state.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusTimeout:
		return true
	}
	return false
}

// Message is one entry in a session's prompt/response history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionRecord is the persisted view of a session.
type SessionRecord struct {
	ID              SessionID       `json:"id"`
	Prompt          string          `json:"prompt"`
	Status          SessionStatus   `json:"status"`
	PreviewURL      string          `json:"preview_url,omitempty"`
	WebsocketURL    string          `json:"websocket_url,omitempty"`
	EngineSessionID EngineSessionID `json:"engine_session_id,omitempty"`
	// Turn is the last completed turn number.
	Turn      int       `json:"turn,omitempty"`
	Messages  []Message `json:"messages,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Health classifies one probe of the preview server.
type Health int

const (
	// HealthDown means no HTTP response was received at all.
	HealthDown Health = iota
	// HealthUp means the server answered with a non-error status.
	HealthUp
	// HealthUpWithError means the server answered, but with status >= 400.
	HealthUpWithError
)

// Serving reports whether the probe saw any HTTP response.
func (h Health) Serving() bool {
	return h == HealthUp || h == HealthUpWithError
}

// String returns the wire spelling of the health state.
func (h Health) String() string {
	switch h {
	case HealthUp:
		return "UP"
	case HealthUpWithError:
		return "UP_WITH_ERROR"
	default:
		return "DOWN"
	}
}

// PageInfo describes one discovered HTML page in a workspace.
type PageInfo struct {
	Path    string   `json:"path"`
	Title   string   `json:"title,omitempty"`
	Anchors []string `json:"anchors,omitempty"`
}
