package claude

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"pkt.systems/sitesmith/schema"
)

func TestCombinedStreamEmitsStderr(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	stream := newCombinedStream(ctx, stdoutR, stderrR)

	go func() {
		_, _ = fmt.Fprintln(stdoutW, `{"type":"system","subtype":"init","session_id":"sess-1"}`)
		_ = stdoutW.Close()
	}()
	go func() {
		_, _ = fmt.Fprintln(stderrW, "stderr boom")
		_ = stderrW.Close()
	}()

	var sawSystem bool
	var sawStderr bool
	for {
		event, err := stream.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("Next: %v", err)
		}
		switch event.Type {
		case schema.EngineSystem:
			if event.SessionID == "sess-1" {
				sawSystem = true
			}
		case schema.EngineError:
			if event.Message == "stderr boom" {
				sawStderr = true
			}
		}
	}
	if !sawSystem || !sawStderr {
		t.Fatalf("expected system and stderr events (system=%t stderr=%t)", sawSystem, sawStderr)
	}
}

func TestCombinedStreamEmitsInvalidJSON(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	stream := newCombinedStream(ctx, stdoutR, stderrR)

	go func() {
		_, _ = fmt.Fprintln(stdoutW, "not json")
		_, _ = fmt.Fprintln(stdoutW, `{"type":"system","subtype":"init","session_id":"sess-2"}`)
		_ = stdoutW.Close()
	}()
	go func() {
		_ = stderrW.Close()
	}()

	var sawInvalid bool
	var sawSystem bool
	for {
		event, err := stream.Next(ctx)
		if err != nil {
			if err == io.EOF {
				break
			}
			t.Fatalf("Next: %v", err)
		}
		switch event.Type {
		case schema.EngineError:
			if event.Message == "not json" {
				sawInvalid = true
			}
		case schema.EngineSystem:
			if event.SessionID == "sess-2" {
				sawSystem = true
			}
		}
	}
	if !sawInvalid || !sawSystem {
		t.Fatalf("expected invalid line and system events (invalid=%t system=%t)", sawInvalid, sawSystem)
	}
}

func TestCombinedStreamCloseReleasesBlockedReaders(t *testing.T) {
	var input strings.Builder
	for i := 0; i < 400; i++ {
		fmt.Fprintf(&input, `{"type":"system","subtype":"init","session_id":"sess-%d"}`+"\n", i)
	}
	stream := newCombinedStream(context.Background(), strings.NewReader(input.String()), strings.NewReader(""))

	// Let the reader fill the events buffer and block on the next send, the
	// state an abandoned turn leaves behind.
	time.Sleep(50 * time.Millisecond)
	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Close must unblock the readers; the events channel then closes and Next
	// reaches EOF instead of hanging forever.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next after Close: %v", err)
		}
	}
}

func TestCombinedStreamContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	stdoutR, _ := io.Pipe()
	stderrR, _ := io.Pipe()
	stream := newCombinedStream(ctx, stdoutR, stderrR)

	cancel()
	_, err := stream.Next(ctx)
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
