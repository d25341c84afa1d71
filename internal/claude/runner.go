// Package claude runs the claude CLI in streaming JSONL mode and normalizes
// its output into engine events.
package claude

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/sitesmith/core"
	"pkt.systems/sitesmith/schema"
)

const credentialEnv = "ANTHROPIC_API_KEY"

// Config controls how the claude runner is invoked.
type Config struct {
	BinaryPath string
	Model      string
	ExtraArgs  []string
	Env        []string
}

// Runner implements core.Engine.
type Runner struct {
	cfg Config
}

// NewRunner constructs a claude runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "claude"
	}
	return &Runner{cfg: cfg}, nil
}

// Preflight verifies the API credential is present in the child environment.
func (r *Runner) Preflight(ctx context.Context) error {
	_ = ctx
	for _, entry := range r.cfg.Env {
		if value, ok := strings.CutPrefix(entry, credentialEnv+"="); ok {
			if strings.TrimSpace(value) != "" {
				return nil
			}
			return schema.ErrMissingCredential
		}
	}
	if strings.TrimSpace(os.Getenv(credentialEnv)) != "" {
		return nil
	}
	return schema.ErrMissingCredential
}

// Run starts a claude process for one turn.
func (r *Runner) Run(ctx context.Context, req core.RunRequest) (core.RunHandle, error) {
	if req.Prompt == "" {
		return nil, schema.ErrEmptyPrompt
	}
	if err := r.Preflight(ctx); err != nil {
		return nil, err
	}
	args := buildArgs(r.cfg, req)
	log := pslog.Ctx(ctx)
	if log != nil {
		log.Info(
			"claude run start",
			"workdir", req.WorkingDir,
			"args", args,
			"resume", req.ResumeSessionID != "",
			"prompt_len", len(req.Prompt),
			"env_extra", len(r.cfg.Env),
		)
	}

	cmd := exec.CommandContext(ctx, r.cfg.BinaryPath, args...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.Env = append(os.Environ(), r.cfg.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		if log != nil {
			log.Error("claude start failed", "err", err)
		}
		return nil, err
	}
	if log != nil && cmd.Process != nil {
		log.Info("claude started", "pid", cmd.Process.Pid)
	}

	go func() {
		_, _ = io.WriteString(stdin, req.Prompt)
		_ = stdin.Close()
	}()

	handle := &runHandle{
		cmd:     cmd,
		stream:  newCombinedStream(ctx, stdout, stderr),
		log:     log,
		started: time.Now(),
	}
	return handle, nil
}

func buildArgs(cfg Config, req core.RunRequest) []string {
	args := []string{"-p", "--verbose", "--output-format", "stream-json"}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	args = append(args, cfg.ExtraArgs...)
	if req.ResumeSessionID != "" {
		args = append(args, "--resume", string(req.ResumeSessionID))
	}
	return args
}

type runHandle struct {
	cmd     *exec.Cmd
	stream  *combinedStream
	log     pslog.Logger
	started time.Time
}

func (r *runHandle) Events() core.EventStream {
	return r.stream
}

func (r *runHandle) Signal(ctx context.Context, sig core.ProcessSignal) error {
	_ = ctx
	if r.cmd == nil || r.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	switch sig {
	case core.ProcessSignalHUP:
		return r.cmd.Process.Signal(syscall.SIGHUP)
	case core.ProcessSignalTERM:
		return r.cmd.Process.Signal(syscall.SIGTERM)
	case core.ProcessSignalKILL:
		return r.cmd.Process.Signal(syscall.SIGKILL)
	default:
		return fmt.Errorf("unsupported signal: %s", sig)
	}
}

func (r *runHandle) Wait(ctx context.Context) (core.RunResult, error) {
	_ = ctx
	if r.cmd == nil {
		return core.RunResult{}, fmt.Errorf("process not started")
	}
	err := r.cmd.Wait()
	signal := ""
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				signal = status.Signal().String()
			}
		} else {
			if r.log != nil {
				r.log.Error("claude wait failed", "err", err)
			}
			return core.RunResult{}, err
		}
	}
	if r.log != nil {
		fields := []any{
			"exit_code", exitCode,
			"duration_ms", time.Since(r.started).Milliseconds(),
		}
		if signal != "" {
			fields = append(fields, "signal", signal)
		}
		r.log.Info("claude finished", fields...)
	}
	return core.RunResult{ExitCode: exitCode}, nil
}

func (r *runHandle) Close() error {
	if r.stream != nil {
		_ = r.stream.Close()
	}
	return nil
}
