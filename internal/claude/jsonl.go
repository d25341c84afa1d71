package claude

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"pkt.systems/sitesmith/schema"
)

type jsonlStream struct {
	reader  *bufio.Reader
	pending []schema.EngineEvent
}

type jsonlDecodeError struct {
	line []byte
	err  error
}

func (e *jsonlDecodeError) Error() string {
	if e == nil || e.err == nil {
		return "jsonl decode error"
	}
	return e.err.Error()
}

func (e *jsonlDecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *jsonlDecodeError) Line() []byte {
	if e == nil {
		return nil
	}
	return e.line
}

func newJSONLStream(r io.Reader) *jsonlStream {
	return &jsonlStream{reader: bufio.NewReader(r)}
}

// Next yields one normalized event. A single wire line can hold several
// content blocks, which are buffered and drained in order.
func (s *jsonlStream) Next(ctx context.Context) (schema.EngineEvent, error) {
	for {
		if len(s.pending) > 0 {
			event := s.pending[0]
			s.pending = s.pending[1:]
			return event, nil
		}
		if ctx.Err() != nil {
			return schema.EngineEvent{}, ctx.Err()
		}
		line, err := s.reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return schema.EngineEvent{}, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return schema.EngineEvent{}, err
			}
			continue
		}
		events, decodeErr := decodeLine(line)
		if decodeErr != nil {
			return schema.EngineEvent{}, &jsonlDecodeError{line: append([]byte(nil), line...), err: decodeErr}
		}
		s.pending = events
	}
}

func (s *jsonlStream) Close() error {
	s.pending = nil
	return nil
}

// wireMessage is the claude stream-json line shape.
type wireMessage struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Message   *wirePayload    `json:"message"`
	Result    json.RawMessage `json:"result"`

	DurationMS   int64   `json:"duration_ms"`
	NumTurns     int     `json:"num_turns"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	IsError      bool    `json:"is_error"`
}

type wirePayload struct {
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

func decodeLine(line []byte) ([]schema.EngineEvent, error) {
	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, err
	}
	raw := append(json.RawMessage(nil), line...)
	sessionID := schema.EngineSessionID(msg.SessionID)

	switch msg.Type {
	case "system":
		return []schema.EngineEvent{{
			Type:      schema.EngineSystem,
			SessionID: sessionID,
			Message:   msg.Subtype,
			Raw:       raw,
		}}, nil
	case "assistant", "user":
		if msg.Message == nil {
			return nil, nil
		}
		events := make([]schema.EngineEvent, 0, len(msg.Message.Content))
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				events = append(events, schema.EngineEvent{
					Type:      schema.EngineText,
					SessionID: sessionID,
					Text:      block.Text,
					Raw:       raw,
				})
			case "thinking":
				events = append(events, schema.EngineEvent{
					Type:      schema.EngineThinking,
					SessionID: sessionID,
					Text:      block.Thinking,
					Raw:       raw,
				})
			case "tool_use":
				events = append(events, schema.EngineEvent{
					Type:      schema.EngineToolUse,
					SessionID: sessionID,
					ToolName:  block.Name,
					ToolUseID: block.ID,
					ToolInput: block.Input,
					Raw:       raw,
				})
			case "tool_result":
				events = append(events, schema.EngineEvent{
					Type:      schema.EngineToolResult,
					SessionID: sessionID,
					ToolUseID: block.ToolUseID,
					Text:      blockContentText(block.Content),
					IsError:   block.IsError,
					Raw:       raw,
				})
			}
		}
		return events, nil
	case "result":
		info := &schema.EngineResultInfo{
			DurationMS:   msg.DurationMS,
			NumTurns:     msg.NumTurns,
			TotalCostUSD: msg.TotalCostUSD,
			IsError:      msg.IsError,
		}
		if msg.IsError {
			info.ErrorText = blockContentText(msg.Result)
		}
		return []schema.EngineEvent{{
			Type:      schema.EngineResult,
			SessionID: sessionID,
			Text:      blockContentText(msg.Result),
			Result:    info,
			Raw:       raw,
		}}, nil
	default:
		// Unknown line types pass through for observability without
		// breaking the stream.
		return []schema.EngineEvent{{
			Type:      schema.EngineSystem,
			SessionID: sessionID,
			Message:   msg.Type,
			Raw:       raw,
		}}, nil
	}
}

// blockContentText flattens tool result content, which the wire format
// carries either as a string or as a block list.
func blockContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, block := range blocks {
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		}
		if len(parts) > 0 {
			return joinLines(parts)
		}
	}
	return string(raw)
}

func joinLines(parts []string) string {
	out := parts[0]
	for _, part := range parts[1:] {
		out += "\n" + part
	}
	return out
}
