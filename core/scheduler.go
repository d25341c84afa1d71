package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"pkt.systems/sitesmith/internal/logx"
	"pkt.systems/sitesmith/schema"
)

// firstTurnPrompt wraps the initiating prompt so the engine produces a
// self-contained site in the workspace.
func firstTurnPrompt(prompt string) string {
	return fmt.Sprintf(`Build a %s.

Create a single index.html file with:
- Embedded CSS in a <style> tag
- Embedded JavaScript if needed in a <script> tag
- Modern, beautiful design
- Responsive layout
- Clean, professional look

The file must be saved as index.html in the current directory.`, prompt)
}

// runSession is the turn loop. It owns the session end to end: turn 1, the
// one-time preview start, then FIFO follow-up prompts until cancellation.
func (s *service) runSession(ctx context.Context, sess *session, initialPrompt string) {
	defer close(sess.done)
	log := logx.WithSession(ctx, sess.id)
	ctx = logx.ContextWithSessionLogger(ctx, log, sess.id)

	if err := s.deps.Engine.Preflight(ctx); err != nil {
		log.Error("engine preflight failed", "err", err)
		s.emit(sess.id, schema.EventAgentError, map[string]any{
			"error":      err.Error(),
			"error_type": "credential",
			"fatal":      true,
		})
		s.finishSession(ctx, sess, schema.StatusError)
		return
	}

	if record, err := s.deps.Registry.Get(sess.id); err == nil && record.WebsocketURL != "" {
		s.emit(sess.id, schema.EventWebsocketReady, map[string]any{
			"websocket_url": record.WebsocketURL,
			"session_id":    sess.id,
		})
	}

	turn := 1
	turnErr := s.runTurn(ctx, sess, turn, initialPrompt)
	if ctx.Err() != nil {
		s.finishSession(ctx, sess, schema.StatusCompleted)
		return
	}
	if errors.Is(turnErr, schema.ErrTurnTimeout) {
		s.finishSession(ctx, sess, schema.StatusTimeout)
		return
	}

	// The preview starts exactly once per session, after turn 1, whether or
	// not the turn succeeded. A failed turn still leaves a workspace worth
	// serving on the next successful one.
	if err := sess.supervisor.Start(ctx); err != nil {
		log.Error("preview start failed", "err", err)
	} else {
		sess.supervisor.StartMonitor(ctx)
	}

	status := schema.StatusRunning
	if turnErr != nil {
		log.Warn("turn 1 failed, session stays open", "err", turnErr)
	}
	s.updateRecord(sess.id, func(rec *schema.SessionRecord) { rec.Status = status })
	s.emit(sess.id, schema.EventReadyForInput, map[string]any{"turn": turn})

	for {
		if ctx.Err() != nil {
			break
		}
		prompt, ok := sess.queue.pop()
		if !ok {
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.QueuePollInterval):
			}
			continue
		}
		turn++
		err := s.runTurn(ctx, sess, turn, prompt)
		if errors.Is(err, schema.ErrTurnTimeout) && ctx.Err() == nil {
			s.finishSession(ctx, sess, schema.StatusTimeout)
			return
		}
		if err != nil && ctx.Err() == nil {
			logx.WithSessionTurn(ctx, sess.id, turn).Warn("turn failed", "err", err)
		}
		if ctx.Err() == nil {
			s.emit(sess.id, schema.EventReadyForInput, map[string]any{"turn": turn})
		}
	}
	s.finishSession(ctx, sess, schema.StatusCompleted)
}

// runTurn executes one engine run and translates its stream into session
// events. Errors are reported as agent_error and isolated to the turn.
func (s *service) runTurn(ctx context.Context, sess *session, turn int, prompt string) error {
	log := logx.WithSessionTurn(ctx, sess.id, turn)
	started := time.Now()

	enginePrompt := prompt
	if turn == 1 {
		enginePrompt = firstTurnPrompt(prompt)
	}

	s.emit(sess.id, schema.EventTurnStart, map[string]any{"turn": turn, "prompt": prompt})
	s.emit(sess.id, schema.EventCodingStart, map[string]any{
		"turn":     turn,
		"prompt":   prompt,
		"work_dir": sess.workspace,
	})

	runCtx := ctx
	cancelTurn := func() {}
	if s.cfg.TurnTimeout > 0 {
		runCtx, cancelTurn = context.WithTimeout(ctx, s.cfg.TurnTimeout)
	}
	defer cancelTurn()

	sess.mu.Lock()
	resume := sess.engineSession
	sess.mu.Unlock()

	handle, err := s.deps.Engine.Run(runCtx, RunRequest{
		WorkingDir:      sess.workspace,
		Prompt:          enginePrompt,
		ResumeSessionID: resume,
	})
	if err != nil {
		s.emit(sess.id, schema.EventAgentError, map[string]any{
			"error":      err.Error(),
			"error_type": "start_failure",
			"turn":       turn,
		})
		return err
	}

	outcome := s.consumeEngineEvents(runCtx, sess, turn, handle.Events())
	result, waitErr := handle.Wait(runCtx)
	_ = handle.Close()

	s.emit(sess.id, schema.EventCodingEnd, map[string]any{
		"turn":      turn,
		"exit_code": result.ExitCode,
	})

	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	if waitErr == nil && ctx.Err() != nil {
		waitErr = ctx.Err()
	}
	switch {
	case timedOut:
		err = schema.ErrTurnTimeout
	case waitErr != nil:
		err = fmt.Errorf("engine wait: %w", waitErr)
	case result.ExitCode != 0:
		err = fmt.Errorf("engine exited with code %d", result.ExitCode)
	case outcome.resultIsError:
		msg := outcome.lastError
		if msg == "" {
			msg = "engine reported an error result"
		}
		err = errors.New(msg)
	}
	if err != nil {
		errType := "engine_failure"
		if timedOut {
			errType = "timeout"
		}
		log.Error("turn failed", "err", err, "error_type", errType, "exit_code", result.ExitCode)
		s.emit(sess.id, schema.EventAgentError, map[string]any{
			"error":      err.Error(),
			"error_type": errType,
			"turn":       turn,
		})
		return err
	}

	s.updateRecord(sess.id, func(rec *schema.SessionRecord) {
		rec.Turn = turn
		if outcome.text != "" {
			rec.Messages = append(rec.Messages, schema.Message{
				Role:      "assistant",
				Content:   outcome.text,
				Timestamp: time.Now().UTC(),
			})
		}
	})

	s.emit(sess.id, schema.EventTurnComplete, map[string]any{
		"turn":           turn,
		"duration_ms":    time.Since(started).Milliseconds(),
		"num_turns":      outcome.numTurns,
		"total_cost_usd": outcome.costUSD,
	})
	log.Info("turn complete", "duration_ms", time.Since(started).Milliseconds(), "events", outcome.eventCount)

	verifyWorkspace(log, sess.workspace)
	if pages, pagesErr := DiscoverPages(sess.workspace); pagesErr == nil {
		s.emit(sess.id, schema.EventPagesDiscovered, map[string]any{
			"turn":  turn,
			"count": len(pages),
			"pages": pages,
		})
	} else {
		log.Warn("page discovery failed", "err", pagesErr)
	}
	s.emit(sess.id, schema.EventAgentComplete, map[string]any{"turn": turn})
	return nil
}

type turnOutcome struct {
	eventCount    int
	text          string
	numTurns      int
	costUSD       float64
	resultIsError bool
	lastError     string
}

// consumeEngineEvents drains one engine stream, fanning each event out as a
// session event. Returns once the stream ends.
func (s *service) consumeEngineEvents(ctx context.Context, sess *session, turn int, stream EventStream) turnOutcome {
	log := logx.WithSessionTurn(ctx, sess.id, turn)
	var outcome turnOutcome
	var textParts []string

	for {
		event, err := stream.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Warn("engine stream ended", "err", err)
			}
			break
		}
		outcome.eventCount++

		switch event.Type {
		case schema.EngineSystem:
			if event.SessionID != "" {
				s.setEngineSession(sess, event.SessionID)
			}
		case schema.EngineText:
			textParts = append(textParts, event.Text)
			s.emit(sess.id, schema.EventClaudeText, map[string]any{
				"text":         event.Text,
				"turn":         turn,
				"event_number": outcome.eventCount,
			})
		case schema.EngineThinking:
			s.emit(sess.id, schema.EventClaudeThinking, map[string]any{
				"thinking":     event.Text,
				"turn":         turn,
				"event_number": outcome.eventCount,
			})
		case schema.EngineToolUse:
			s.emit(sess.id, schema.EventClaudeToolUse, map[string]any{
				"tool":         event.ToolName,
				"input":        rawToAny(event.ToolInput),
				"tool_use_id":  event.ToolUseID,
				"turn":         turn,
				"event_number": outcome.eventCount,
			})
		case schema.EngineToolResult:
			s.emit(sess.id, schema.EventClaudeToolResult, map[string]any{
				"tool_use_id":  event.ToolUseID,
				"result":       event.Text,
				"is_error":     event.IsError,
				"turn":         turn,
				"event_number": outcome.eventCount,
			})
		case schema.EngineResult:
			if event.SessionID != "" {
				s.setEngineSession(sess, event.SessionID)
			}
			data := map[string]any{
				"session_id":   string(event.SessionID),
				"turn":         turn,
				"event_number": outcome.eventCount,
			}
			if event.Result != nil {
				outcome.numTurns = event.Result.NumTurns
				outcome.costUSD = event.Result.TotalCostUSD
				outcome.resultIsError = event.Result.IsError
				if event.Result.ErrorText != "" {
					outcome.lastError = event.Result.ErrorText
				}
				data["duration_ms"] = event.Result.DurationMS
				data["num_turns"] = event.Result.NumTurns
				data["total_cost_usd"] = event.Result.TotalCostUSD
				data["is_error"] = event.Result.IsError
			}
			s.emit(sess.id, schema.EventClaudeSessionEnd, data)
		case schema.EngineError:
			outcome.lastError = event.Message
			log.Warn("engine error line", "message", event.Message)
		}
	}

	outcome.text = strings.Join(textParts, "\n")
	return outcome
}

func (s *service) setEngineSession(sess *session, id schema.EngineSessionID) {
	sess.mu.Lock()
	changed := sess.engineSession != id
	sess.engineSession = id
	sess.mu.Unlock()
	if changed {
		s.updateRecord(sess.id, func(rec *schema.SessionRecord) { rec.EngineSessionID = id })
	}
}

// finishSession tears down the preview and marks a terminal status. Already
// terminal records keep their status.
func (s *service) finishSession(ctx context.Context, sess *session, status schema.SessionStatus) {
	log := logx.WithSession(ctx, sess.id)
	sess.supervisor.Stop()
	s.updateRecord(sess.id, func(rec *schema.SessionRecord) {
		if !rec.Status.Terminal() {
			rec.Status = status
		}
		status = rec.Status
	})
	s.emit(sess.id, schema.EventSessionComplete, map[string]any{"status": string(status)})
	log.Info("session finished", "status", status)

	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

func rawToAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}
