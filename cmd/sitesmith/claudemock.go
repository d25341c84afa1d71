package main

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newClaudeMockCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "claude-mock -p --output-format stream-json [--model <id>] [--seed <n>] [--scenario <name>] [--delay-ms <n>] [--linger-ms <n>] [--resume <id>] [prompt|-]",
		Short:         "Mock claude stream-json output for testing",
		SilenceErrors: true,
		SilenceUsage:  true,
		// Flags are parsed by hand so that unknown claude flags pass through.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClaudeMock(args, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

func runClaudeMock(args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) error {
	cfg, err := parseMockArgs(args)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return err
	}

	prompt, err := resolveMockPrompt(cfg.prompt, stdin)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return err
	}
	cfg.prompt = prompt

	if !cfg.seedSet {
		cfg.seed = hashSeed(cfg.prompt, cfg.resumeID, cfg.model, cfg.scenario)
	}

	sessionID := cfg.resumeID
	if sessionID == "" {
		sessionID = mockSessionID(cfg.seed)
	}

	writer := bufio.NewWriter(stdout)
	defer func() { _ = writer.Flush() }()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM)
	signalSeen := make(chan os.Signal, 1)
	go func() {
		sig := <-sigCh
		signalSeen <- sig
	}()

	if !cfg.streamJSON {
		_, _ = fmt.Fprintln(writer, mockResponseText(cfg.seed, cfg.prompt))
		return nil
	}

	started := time.Now()
	if err := writeLine(writer, map[string]any{
		"type":       "system",
		"subtype":    "init",
		"session_id": sessionID,
	}); err != nil {
		return err
	}

	scenarios := buildScenarios()
	activeScenario, err := pickScenario(cfg, scenarios)
	if err != nil {
		return err
	}

	failed, err := activeScenario.run(cfg, writer)
	if err != nil {
		return err
	}

	select {
	case sig := <-signalSeen:
		return emitSignalResult(writer, sessionID, sig, started)
	default:
	}

	result := map[string]any{
		"type":           "result",
		"subtype":        "success",
		"session_id":     sessionID,
		"duration_ms":    time.Since(started).Milliseconds(),
		"num_turns":      1,
		"total_cost_usd": float64(cfg.seed%90+10) / 1000,
		"is_error":       false,
		"result":         mockResponseText(cfg.seed, cfg.prompt),
	}
	if failed {
		result["subtype"] = "error_during_execution"
		result["is_error"] = true
		result["result"] = "mock failure: simulated turn error"
	}
	if err := writeLine(writer, result); err != nil {
		return err
	}

	if cfg.linger > 0 {
		timer := time.NewTimer(cfg.linger)
		select {
		case sig := <-signalSeen:
			timer.Stop()
			return emitSignalResult(writer, sessionID, sig, started)
		case <-timer.C:
		}
	}
	if failed {
		return errors.New("mock turn failed")
	}
	return nil
}

type mockConfig struct {
	streamJSON bool
	model      string
	resumeID   string
	prompt     string
	seed       uint64
	seedSet    bool
	scenario   string
	delay      time.Duration
	linger     time.Duration
}

type mockScenario struct {
	name string
	run  func(cfg mockConfig, w *bufio.Writer) (failed bool, err error)
}

func parseMockArgs(args []string) (mockConfig, error) {
	cfg := mockConfig{
		delay:  30 * time.Millisecond,
		linger: 0,
	}
	for len(args) > 0 {
		if args[0] == "-" {
			cfg.prompt = "-"
			return cfg, nil
		}
		if !strings.HasPrefix(args[0], "-") {
			cfg.prompt = strings.Join(args, " ")
			return cfg, nil
		}
		switch args[0] {
		case "-p", "--print", "--verbose":
			args = args[1:]
		case "--output-format":
			if len(args) < 2 {
				return mockConfig{}, errors.New("--output-format requires a value")
			}
			cfg.streamJSON = args[1] == "stream-json"
			args = args[2:]
		case "--model":
			if len(args) < 2 {
				return mockConfig{}, errors.New("--model requires a value")
			}
			cfg.model = args[1]
			args = args[2:]
		case "--resume":
			if len(args) < 2 {
				return mockConfig{}, errors.New("--resume requires a session id")
			}
			cfg.resumeID = args[1]
			args = args[2:]
		case "--seed":
			if len(args) < 2 {
				return mockConfig{}, errors.New("--seed requires a value")
			}
			val, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return mockConfig{}, fmt.Errorf("invalid --seed: %w", err)
			}
			cfg.seed = val
			cfg.seedSet = true
			args = args[2:]
		case "--scenario":
			if len(args) < 2 {
				return mockConfig{}, errors.New("--scenario requires a value")
			}
			cfg.scenario = args[1]
			args = args[2:]
		case "--delay-ms":
			if len(args) < 2 {
				return mockConfig{}, errors.New("--delay-ms requires a value")
			}
			val, err := strconv.Atoi(args[1])
			if err != nil || val < 0 {
				return mockConfig{}, errors.New("invalid --delay-ms")
			}
			cfg.delay = time.Duration(val) * time.Millisecond
			args = args[2:]
		case "--linger-ms":
			if len(args) < 2 {
				return mockConfig{}, errors.New("--linger-ms requires a value")
			}
			val, err := strconv.Atoi(args[1])
			if err != nil || val < 0 {
				return mockConfig{}, errors.New("invalid --linger-ms")
			}
			cfg.linger = time.Duration(val) * time.Millisecond
			args = args[2:]
		default:
			return mockConfig{}, fmt.Errorf("unsupported flag: %s", args[0])
		}
	}
	return cfg, nil
}

func resolveMockPrompt(arg string, stdin io.Reader) (string, error) {
	if arg == "-" {
		return readStdinPrompt(stdin)
	}
	if strings.TrimSpace(arg) != "" {
		return arg, nil
	}
	if isTerminalReader(stdin) {
		return "", errors.New("no prompt provided")
	}
	return readStdinPrompt(stdin)
}

func readStdinPrompt(stdin io.Reader) (string, error) {
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("no prompt provided via stdin")
	}
	return prompt, nil
}

func isTerminalReader(stdin io.Reader) bool {
	file, ok := stdin.(*os.File)
	if !ok {
		return false
	}
	info, err := file.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

func hashSeed(prompt, resumeID, model, scenario string) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(prompt))
	_, _ = hasher.Write([]byte(resumeID))
	_, _ = hasher.Write([]byte(model))
	_, _ = hasher.Write([]byte(scenario))
	return hasher.Sum64()
}

func mockSessionID(seed uint64) string {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], seed)
	binary.LittleEndian.PutUint64(buf[8:16], seed^0x9e3779b97f4a7c15)
	return "mock-" + hex.EncodeToString(buf[:])
}

func buildScenarios() []mockScenario {
	return []mockScenario{
		{name: "text", run: scenarioText},
		{name: "build", run: scenarioBuild},
		{name: "thinking", run: scenarioThinking},
		{name: "failure", run: scenarioFailure},
	}
}

func pickScenario(cfg mockConfig, scenarios []mockScenario) (mockScenario, error) {
	if cfg.scenario != "" {
		for _, s := range scenarios {
			if s.name == cfg.scenario {
				return s, nil
			}
		}
		return mockScenario{}, fmt.Errorf("unknown scenario: %s", cfg.scenario)
	}
	idx := int(cfg.seed % uint64(len(scenarios)))
	return scenarios[idx], nil
}

func scenarioText(cfg mockConfig, w *bufio.Writer) (bool, error) {
	return false, writeAssistant(w, cfg.delay, map[string]any{
		"type": "text",
		"text": mockResponseText(cfg.seed, cfg.prompt),
	})
}

func scenarioBuild(cfg mockConfig, w *bufio.Writer) (bool, error) {
	if err := writeAssistant(w, cfg.delay, map[string]any{
		"type": "text",
		"text": "Creating index.html with the requested layout.",
	}); err != nil {
		return false, err
	}
	if err := writeAssistant(w, cfg.delay, map[string]any{
		"type":  "tool_use",
		"id":    "toolu_mock_0",
		"name":  "Write",
		"input": map[string]any{"file_path": "index.html", "content": "<!doctype html><html></html>"},
	}); err != nil {
		return false, err
	}
	if err := writeUser(w, cfg.delay, map[string]any{
		"type":        "tool_result",
		"tool_use_id": "toolu_mock_0",
		"content":     "File written: index.html",
		"is_error":    false,
	}); err != nil {
		return false, err
	}
	return false, writeAssistant(w, cfg.delay, map[string]any{
		"type": "text",
		"text": mockResponseText(cfg.seed, cfg.prompt),
	})
}

func scenarioThinking(cfg mockConfig, w *bufio.Writer) (bool, error) {
	if err := writeAssistant(w, cfg.delay, map[string]any{
		"type":     "thinking",
		"thinking": "Planning the page structure before writing any files.",
	}); err != nil {
		return false, err
	}
	return false, writeAssistant(w, cfg.delay, map[string]any{
		"type": "text",
		"text": mockResponseText(cfg.seed, cfg.prompt),
	})
}

func scenarioFailure(cfg mockConfig, w *bufio.Writer) (bool, error) {
	if err := writeAssistant(w, cfg.delay, map[string]any{
		"type": "text",
		"text": "Attempting an operation that will fail.",
	}); err != nil {
		return false, err
	}
	return true, nil
}

func writeAssistant(w *bufio.Writer, delay time.Duration, blocks ...map[string]any) error {
	return writeMessage(w, "assistant", delay, blocks)
}

func writeUser(w *bufio.Writer, delay time.Duration, blocks ...map[string]any) error {
	return writeMessage(w, "user", delay, blocks)
}

func writeMessage(w *bufio.Writer, role string, delay time.Duration, blocks []map[string]any) error {
	if err := writeLine(w, map[string]any{
		"type":    role,
		"message": map[string]any{"role": role, "content": blocks},
	}); err != nil {
		return err
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return nil
}

func writeLine(w *bufio.Writer, event map[string]any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.WriteString("\n"); err != nil {
		return err
	}
	return w.Flush()
}

func emitSignalResult(w *bufio.Writer, sessionID string, sig os.Signal, started time.Time) error {
	return writeLine(w, map[string]any{
		"type":           "result",
		"subtype":        "error_during_execution",
		"session_id":     sessionID,
		"duration_ms":    time.Since(started).Milliseconds(),
		"num_turns":      1,
		"total_cost_usd": 0.0,
		"is_error":       true,
		"result":         fmt.Sprintf("mock received %s", sig),
	})
}

func mockResponseText(seed uint64, prompt string) string {
	templates := []string{
		"Mock response: built a page for \"%s\".",
		"Mock response: completed the site for \"%s\".",
		"Mock response: generated index.html for \"%s\".",
		"Mock response: updated the page for \"%s\".",
	}
	idx := int(seed % uint64(len(templates)))
	return fmt.Sprintf(templates[idx], previewPrompt(prompt))
}

func previewPrompt(prompt string) string {
	const limit = 60
	trimmed := strings.TrimSpace(prompt)
	if len(trimmed) <= limit {
		return trimmed
	}
	return trimmed[:limit] + "..."
}
