package core

import (
	"context"

	"pkt.systems/sitesmith/schema"
)

// Engine starts coding-engine processes and exposes their JSONL event stream.
type Engine interface {
	// Preflight checks that the engine can run at all. A missing API
	// credential is reported here, before any process is spawned.
	Preflight(ctx context.Context) error
	Run(ctx context.Context, req RunRequest) (RunHandle, error)
}

// RunRequest describes one engine invocation.
type RunRequest struct {
	WorkingDir      string
	Prompt          string
	ResumeSessionID schema.EngineSessionID
}

// RunHandle exposes the event stream and process lifecycle controls.
type RunHandle interface {
	Events() EventStream
	Signal(ctx context.Context, sig ProcessSignal) error
	Wait(ctx context.Context) (RunResult, error)
	Close() error
}

// EventStream yields normalized events from the engine.
type EventStream interface {
	Next(ctx context.Context) (schema.EngineEvent, error)
	Close() error
}

// RunResult describes the process outcome.
type RunResult struct {
	ExitCode int
}

// ProcessSignal indicates which signal to send to the process.
type ProcessSignal string

const (
	// ProcessSignalHUP requests a hangup signal.
	ProcessSignalHUP ProcessSignal = "HUP"
	// ProcessSignalTERM requests a termination signal.
	ProcessSignalTERM ProcessSignal = "TERM"
	// ProcessSignalKILL requests an immediate kill signal.
	ProcessSignalKILL ProcessSignal = "KILL"
)
