package httpapi

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/sitesmith/schema"
)

func dialObserver(t *testing.T, ts *httptest.Server, id schema.SessionID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + string(id)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) schema.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event schema.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return event
}

func TestWebsocketReplaysHistory(t *testing.T) {
	srv, service, hub := newTestServer(t)
	record, _ := service.CreateSession(context.Background(), "a site")
	hub.Publish(schema.Event{SessionID: record.ID, Name: schema.EventTurnStart})
	hub.Publish(schema.Event{SessionID: record.ID, Name: schema.EventClaudeText, Data: map[string]any{"text": "hi"}})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	conn := dialObserver(t, ts, record.ID)

	greeting := readEvent(t, conn)
	if greeting.Name != schema.EventConnected {
		t.Fatalf("expected connected notice, got %s", greeting.Name)
	}
	if history, _ := greeting.Data["history"].(float64); history != 2 {
		t.Fatalf("unexpected history count: %v", greeting.Data)
	}
	first := readEvent(t, conn)
	second := readEvent(t, conn)
	if first.Name != schema.EventTurnStart || second.Name != schema.EventClaudeText {
		t.Fatalf("unexpected replay order: %s, %s", first.Name, second.Name)
	}
	if first.Seq >= second.Seq {
		t.Fatalf("replay must preserve sequence order: %d >= %d", first.Seq, second.Seq)
	}
}

func TestWebsocketDeliversLiveEvents(t *testing.T) {
	srv, service, hub := newTestServer(t)
	record, _ := service.CreateSession(context.Background(), "a site")

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	conn := dialObserver(t, ts, record.ID)

	if greeting := readEvent(t, conn); greeting.Name != schema.EventConnected {
		t.Fatalf("expected connected notice, got %s", greeting.Name)
	}
	hub.Publish(schema.Event{SessionID: record.ID, Name: schema.EventReadyForInput})
	if event := readEvent(t, conn); event.Name != schema.EventReadyForInput {
		t.Fatalf("unexpected live event: %s", event.Name)
	}
}

func TestWebsocketPromptFrameFeedsQueue(t *testing.T) {
	srv, service, _ := newTestServer(t)
	record, _ := service.CreateSession(context.Background(), "a site")

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	conn := dialObserver(t, ts, record.ID)
	if greeting := readEvent(t, conn); greeting.Name != schema.EventConnected {
		t.Fatalf("expected connected notice, got %s", greeting.Name)
	}

	frame := schema.ObserverFrame{Type: "prompt", Message: "add a contact form"}
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if prompts := service.queuedPrompts(record.ID); len(prompts) == 1 {
			if prompts[0] != "add a contact form" {
				t.Fatalf("unexpected prompt: %q", prompts[0])
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("prompt frame never reached the queue")
}

func TestWebsocketPingFrame(t *testing.T) {
	srv, service, _ := newTestServer(t)
	record, _ := service.CreateSession(context.Background(), "a site")

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	conn := dialObserver(t, ts, record.ID)
	if greeting := readEvent(t, conn); greeting.Name != schema.EventConnected {
		t.Fatalf("expected connected notice, got %s", greeting.Name)
	}

	if err := conn.WriteJSON(schema.ObserverFrame{Type: "ping"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if event := readEvent(t, conn); event.Name != "pong" {
		t.Fatalf("expected pong, got %s", event.Name)
	}
}

func TestWebsocketUnknownSession(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/absent"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		conn.Close()
		t.Fatalf("expected dial failure for unknown session")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("expected 404 handshake response, got %+v", resp)
	}
}
