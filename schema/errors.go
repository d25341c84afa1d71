package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrEmptyPrompt indicates the prompt was empty.
	ErrEmptyPrompt = errors.New("empty prompt")
	// ErrSessionNotFound indicates a requested session could not be found.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed indicates the session reached a terminal state.
	ErrSessionClosed = errors.New("session closed")
	// ErrMissingCredential indicates ANTHROPIC_API_KEY is absent from the engine environment.
	ErrMissingCredential = errors.New("ANTHROPIC_API_KEY is not set")
	// ErrEngineUnavailable indicates no engine binary is configured.
	ErrEngineUnavailable = errors.New("engine not configured")
	// ErrPreviewStartTimeout indicates the startup probe window was exhausted.
	ErrPreviewStartTimeout = errors.New("health check timeout after 30 seconds")
	// ErrTurnTimeout indicates a turn exceeded its execution deadline.
	ErrTurnTimeout = errors.New("turn execution timed out")
)
