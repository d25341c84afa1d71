package schema

// ChatRequest is the POST /api/chat payload. An empty SessionID creates a
// new session; otherwise Message is queued as a follow-up prompt.
type ChatRequest struct {
	Message   string    `json:"message"`
	SessionID SessionID `json:"session_id,omitempty"`
}

// ChatResponse is the POST /api/chat reply.
type ChatResponse struct {
	SessionID    SessionID     `json:"session_id"`
	Status       SessionStatus `json:"status"`
	PreviewURL   string        `json:"preview_url,omitempty"`
	WebsocketURL string        `json:"websocket_url,omitempty"`
	Queued       bool          `json:"queued,omitempty"`
}

// ObserverFrame is an inbound websocket frame from an observer.
type ObserverFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// SessionHealth is the per-session liveness diagnostic payload.
type SessionHealth struct {
	SessionID          SessionID     `json:"session_id"`
	Status             SessionStatus `json:"status"`
	ConnectedObservers int           `json:"connected_observers"`
	BufferedEvents     int           `json:"buffered_events"`
	QueuedPrompts      int           `json:"queued_prompts"`
}
