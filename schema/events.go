package schema

import (
	"encoding/json"
	"time"
)

// EventName is the session-level event vocabulary published to observers.
type EventName string

const (
	// EventConnected greets a freshly attached observer.
	EventConnected EventName = "connected"
	// EventWebsocketReady carries the public preview and websocket URLs.
	EventWebsocketReady EventName = "websocket_ready"
	// EventTurnStart indicates a turn began.
	EventTurnStart EventName = "turn_start"
	// EventCodingStart indicates the engine run for a turn began.
	EventCodingStart EventName = "coding_start"
	// EventClaudeText carries assistant text output.
	EventClaudeText EventName = "claude_text"
	// EventClaudeThinking carries assistant reasoning output.
	EventClaudeThinking EventName = "claude_thinking"
	// EventClaudeToolUse indicates the engine invoked a tool.
	EventClaudeToolUse EventName = "claude_tool_use"
	// EventClaudeToolResult carries a tool invocation result.
	EventClaudeToolResult EventName = "claude_tool_result"
	// EventClaudeSessionEnd indicates the engine-side conversation ended.
	EventClaudeSessionEnd EventName = "claude_session_end"
	// EventCodingEnd indicates the engine run for a turn ended.
	EventCodingEnd EventName = "coding_end"
	// EventTurnComplete indicates a turn finished.
	EventTurnComplete EventName = "turn_complete"
	// EventPagesDiscovered carries the workspace page inventory.
	EventPagesDiscovered EventName = "pages_discovered"
	// EventDevServerStarting indicates a preview start attempt began.
	EventDevServerStarting EventName = "dev_server_starting"
	// EventDevServerStarted indicates the preview server passed its startup probe.
	EventDevServerStarted EventName = "dev_server_started"
	// EventDevServerFailed indicates a preview start attempt failed.
	EventDevServerFailed EventName = "dev_server_failed"
	// EventDevServerError indicates the preview server is alive but unresponsive.
	EventDevServerError EventName = "dev_server_error"
	// EventDevServerRestarting indicates the monitor began a restart.
	EventDevServerRestarting EventName = "dev_server_restarting"
	// EventDevServerRestarted indicates a monitor restart succeeded.
	EventDevServerRestarted EventName = "dev_server_restarted"
	// EventReadyForInput indicates the session will accept the next prompt.
	EventReadyForInput EventName = "ready_for_input"
	// EventAgentError indicates a turn failed without killing the session.
	EventAgentError EventName = "agent_error"
	// EventAgentComplete indicates a turn's full pipeline finished.
	EventAgentComplete EventName = "agent_complete"
	// EventSessionComplete indicates the session reached a terminal state.
	EventSessionComplete EventName = "session_complete"
)

// Event is one ordered entry in a session's event log.
type Event struct {
	SessionID SessionID      `json:"session_id"`
	Seq       uint64         `json:"seq"`
	Name      EventName      `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// EngineEventType is the normalized type of one engine stream event.
type EngineEventType string

const (
	// EngineSystem is the init event the engine emits before the first turn.
	EngineSystem EngineEventType = "system"
	// EngineText is assistant text output.
	EngineText EngineEventType = "text"
	// EngineThinking is assistant reasoning output.
	EngineThinking EngineEventType = "thinking"
	// EngineToolUse is a tool invocation.
	EngineToolUse EngineEventType = "tool_use"
	// EngineToolResult is a tool invocation result.
	EngineToolResult EngineEventType = "tool_result"
	// EngineResult is the terminal event of one run.
	EngineResult EngineEventType = "result"
	// EngineError is a stream-level error.
	EngineError EngineEventType = "error"
)

// EngineEvent is the normalized shape of engine stream-json output.
type EngineEvent struct {
	Type      EngineEventType   `json:"type"`
	SessionID EngineSessionID   `json:"session_id,omitempty"`
	Text      string            `json:"text,omitempty"`
	ToolName  string            `json:"tool_name,omitempty"`
	ToolUseID string            `json:"tool_use_id,omitempty"`
	ToolInput json.RawMessage   `json:"tool_input,omitempty"`
	IsError   bool              `json:"is_error,omitempty"`
	Result    *EngineResultInfo `json:"result,omitempty"`
	Message   string            `json:"message,omitempty"`
	Raw       json.RawMessage   `json:"-"`
}

// EngineResultInfo captures the terminal result event of one engine run.
type EngineResultInfo struct {
	DurationMS   int64   `json:"duration_ms,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	IsError      bool    `json:"is_error,omitempty"`
	ErrorText    string  `json:"error_text,omitempty"`
}
