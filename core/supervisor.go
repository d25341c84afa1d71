package core

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"pkt.systems/pslog"

	"pkt.systems/sitesmith/schema"
)

var startupSleep = time.Sleep

// Supervisor owns the preview server child process for one session: initial
// start with probed readiness, a restart monitor, and teardown.
type Supervisor struct {
	cfg       PreviewConfig
	sessionID schema.SessionID
	workspace string
	prober    Prober
	emit      func(name schema.EventName, data map[string]any)
	log       pslog.Logger

	// opMu serializes start, restart and stop. The monitor holds it for the
	// whole unhealthy-restart sequence, matching one probe tick.
	opMu sync.Mutex

	mu       sync.Mutex
	proc     *previewProcess
	failures int

	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
}

// NewSupervisor builds a supervisor for one session workspace. emit receives
// every dev_server_* state transition.
func NewSupervisor(cfg PreviewConfig, sessionID schema.SessionID, workspace string, prober Prober, emit func(schema.EventName, map[string]any), log pslog.Logger) *Supervisor {
	if prober == nil {
		prober = HTTPProber{}
	}
	if emit == nil {
		emit = func(schema.EventName, map[string]any) {}
	}
	return &Supervisor{
		cfg:       cfg,
		sessionID: sessionID,
		workspace: workspace,
		prober:    prober,
		emit:      emit,
		log:       log,
	}
}

// Start spawns the preview server and probes it to readiness. On success the
// live handle is recorded and dev_server_started published. Any failure path
// leaves no child process behind.
func (s *Supervisor) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.startLocked(ctx)
}

func (s *Supervisor) startLocked(ctx context.Context) error {
	s.emit(schema.EventDevServerStarting, map[string]any{"port": s.cfg.Port})

	proc, err := s.spawn()
	if err != nil {
		s.log.Error("preview spawn failed", "err", err)
		s.emit(schema.EventDevServerFailed, map[string]any{"error": err.Error()})
		return err
	}
	s.log.Info("preview started", "pid", proc.pid(), "log", proc.logPath)

	for attempt := 0; attempt < s.cfg.StartupAttempts; attempt++ {
		if code, exited := proc.exitCode(); exited {
			msg := fmt.Sprintf("process exited with code %d", code)
			s.log.Error("preview exited during startup", "exit_code", code)
			s.emit(schema.EventDevServerFailed, map[string]any{
				"error":    msg,
				"log_tail": tailLog(proc.logPath, 20),
			})
			return fmt.Errorf("preview server: %s", msg)
		}
		if s.prober.Probe(ctx, s.cfg.Port, s.cfg.StartupProbeTimeout).Serving() {
			s.mu.Lock()
			s.proc = proc
			s.mu.Unlock()
			s.log.Info("preview healthy", "attempt", attempt+1)
			s.emit(schema.EventDevServerStarted, map[string]any{
				"port": s.cfg.Port,
				"pid":  proc.pid(),
			})
			return nil
		}
		if ctx.Err() != nil {
			s.terminate(proc)
			return ctx.Err()
		}
		startupSleep(s.cfg.StartupInterval)
	}

	s.log.Error("preview startup probes exhausted", "attempts", s.cfg.StartupAttempts, "log_tail", tailLog(proc.logPath, 30))
	s.terminate(proc)
	s.emit(schema.EventDevServerFailed, map[string]any{
		"error":    schema.ErrPreviewStartTimeout.Error(),
		"log_tail": tailLog(proc.logPath, 30),
	})
	return schema.ErrPreviewStartTimeout
}

// StartMonitor begins the periodic health check loop. Safe to call once per
// supervisor.
func (s *Supervisor) StartMonitor(ctx context.Context) {
	monitorCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.monitorCancel = cancel
	s.monitorDone = done
	s.mu.Unlock()
	go func() {
		defer close(done)
		s.monitor(monitorCtx)
	}()
}

func (s *Supervisor) monitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.checkOnce(ctx) {
			return
		}
	}
}

// checkOnce probes the preview server and restarts it when unhealthy. The
// return value is false when the consecutive-failure ceiling is exceeded.
func (s *Supervisor) checkOnce(ctx context.Context) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if ctx.Err() != nil {
		return false
	}

	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()

	alive := proc != nil
	if alive {
		if _, exited := proc.exitCode(); exited {
			alive = false
		}
	}
	if alive && s.prober.Probe(ctx, s.cfg.Port, s.cfg.MonitorProbeTimeout).Serving() {
		s.failures = 0
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	if alive {
		s.emit(schema.EventDevServerError, map[string]any{"error": "server became unresponsive"})
		s.log.Warn("preview unresponsive, restarting")
		s.terminate(proc)
	} else {
		s.log.Warn("preview process gone, restarting")
	}
	s.mu.Lock()
	s.proc = nil
	s.mu.Unlock()

	s.emit(schema.EventDevServerRestarting, map[string]any{})
	if err := s.startLocked(ctx); err != nil {
		s.failures++
		s.log.Error("preview restart failed", "err", err, "consecutive_failures", s.failures)
		if s.cfg.MaxConsecutiveFailures > 0 && s.failures >= s.cfg.MaxConsecutiveFailures {
			s.log.Error("preview restart ceiling reached, giving up", "failures", s.failures)
			return false
		}
		return true
	}
	s.failures = 0
	s.emit(schema.EventDevServerRestarted, map[string]any{"port": s.cfg.Port})
	return true
}

// Stop halts the monitor and tears down any live child. Idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.monitorCancel
	done := s.monitorDone
	s.monitorCancel = nil
	s.monitorDone = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()
	if proc != nil {
		s.terminate(proc)
	}
}

// LogPath returns the current preview log file, if a child has been spawned.
func (s *Supervisor) LogPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return ""
	}
	return s.proc.logPath
}

func (s *Supervisor) spawn() (*previewProcess, error) {
	argv := s.cfg.Command
	if len(argv) == 0 {
		argv = []string{"python3", "-m", "http.server", strconv.Itoa(s.cfg.Port)}
	}

	logPath := fmt.Sprintf("%s/preview_%s.log", strings.TrimRight(s.cfg.LogDir, "/"), s.sessionID)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open preview log: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = s.workspace
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = os.Environ()

	if s.cfg.RunAsUser != "" {
		cred, home, err := lookupCredential(s.cfg.RunAsUser)
		if err != nil {
			_ = logFile.Close()
			return nil, err
		}
		cmd.SysProcAttr.Credential = cred
		env := filterEnv(cmd.Env, "HOME", "USER", "LOGNAME")
		env = append(env,
			"HOME="+home,
			"USER="+s.cfg.RunAsUser,
			"LOGNAME="+s.cfg.RunAsUser,
		)
		cmd.Env = env
	}

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("start preview server: %w", err)
	}

	proc := &previewProcess{cmd: cmd, logPath: logPath, waitDone: make(chan struct{})}
	go func() {
		proc.waitErr = cmd.Wait()
		_ = logFile.Close()
		close(proc.waitDone)
	}()
	return proc, nil
}

// terminate sends TERM to the child's process group, waits out the grace
// window, then KILLs whatever remains.
func (s *Supervisor) terminate(proc *previewProcess) {
	if proc == nil {
		return
	}
	if _, exited := proc.exitCode(); exited {
		return
	}
	pid := proc.pid()
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, unix.SIGTERM)
	select {
	case <-proc.waitDone:
		return
	case <-time.After(s.cfg.StopGrace):
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
	<-proc.waitDone
}

type previewProcess struct {
	cmd      *exec.Cmd
	logPath  string
	waitErr  error
	waitDone chan struct{}
}

func (p *previewProcess) pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *previewProcess) exitCode() (int, bool) {
	select {
	case <-p.waitDone:
	default:
		return 0, false
	}
	if p.cmd.ProcessState != nil {
		return p.cmd.ProcessState.ExitCode(), true
	}
	return -1, true
}

func lookupCredential(name string) (*syscall.Credential, string, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, "", fmt.Errorf("lookup preview user %q: %w", name, err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, "", fmt.Errorf("parse uid for %q: %w", name, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, "", fmt.Errorf("parse gid for %q: %w", name, err)
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, u.HomeDir, nil
}

func filterEnv(env []string, keys ...string) []string {
	out := make([]string, 0, len(env))
	for _, entry := range env {
		drop := false
		for _, key := range keys {
			if strings.HasPrefix(entry, key+"=") {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, entry)
		}
	}
	return out
}

func tailLog(path string, lines int) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	kept := make([]string, 0, lines)
	for _, line := range all {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) > lines {
		kept = kept[len(kept)-lines:]
	}
	return strings.Join(kept, "\n")
}
