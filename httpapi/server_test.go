package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"pkt.systems/sitesmith/internal/eventhub"
	"pkt.systems/sitesmith/schema"
)

// fakeService implements core.Service in memory.
type fakeService struct {
	mu      sync.Mutex
	records map[schema.SessionID]schema.SessionRecord
	queued  map[schema.SessionID][]string
	deleted []schema.SessionID
	nextID  int
}

func newFakeService() *fakeService {
	return &fakeService{
		records: make(map[schema.SessionID]schema.SessionRecord),
		queued:  make(map[schema.SessionID][]string),
	}
}

func (f *fakeService) CreateSession(ctx context.Context, prompt string) (schema.SessionRecord, error) {
	if prompt == "" {
		return schema.SessionRecord{}, schema.ErrEmptyPrompt
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := schema.SessionID("sess-" + string(rune('0'+f.nextID)))
	record := schema.SessionRecord{
		ID:           id,
		Prompt:       prompt,
		Status:       schema.StatusInitializing,
		PreviewURL:   "http://localhost:3000",
		WebsocketURL: "ws://localhost:8080/ws/" + string(id),
		CreatedAt:    time.Now().UTC(),
	}
	f.records[id] = record
	return record, nil
}

func (f *fakeService) Submit(ctx context.Context, id schema.SessionID, prompt string) error {
	if prompt == "" {
		return schema.ErrEmptyPrompt
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return schema.ErrSessionNotFound
	}
	f.queued[id] = append(f.queued[id], prompt)
	return nil
}

func (f *fakeService) GetSession(ctx context.Context, id schema.SessionID) (schema.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return schema.SessionRecord{}, schema.ErrSessionNotFound
	}
	return record, nil
}

func (f *fakeService) ListSessions(ctx context.Context) ([]schema.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schema.SessionRecord, 0, len(f.records))
	for _, record := range f.records {
		out = append(out, record)
	}
	return out, nil
}

func (f *fakeService) DeleteSession(ctx context.Context, id schema.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return schema.ErrSessionNotFound
	}
	delete(f.records, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeService) QueueDepth(id schema.SessionID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queued[id])
}

func (f *fakeService) Stop(ctx context.Context) error { return nil }

func (f *fakeService) queuedPrompts(id schema.SessionID) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queued[id]...)
}

func newTestServer(t *testing.T) (*Server, *fakeService, *eventhub.Hub) {
	t.Helper()
	service := newFakeService()
	hub := eventhub.NewHub(0)
	return NewServer(Config{Addr: ":0"}, service, hub), service, hub
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	var decoded map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func TestHealthEndpoint(t *testing.T) {
	srv, service, _ := newTestServer(t)
	_, _ = service.CreateSession(context.Background(), "a site")

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if body["service"] != "sitesmith" || body["status"] != "ok" {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["sessions"] != float64(1) {
		t.Fatalf("unexpected session count: %v", body["sessions"])
	}
}

func TestRootServesHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected root response: %d %v", rec.Code, body)
	}
	rec, _ = doJSON(t, srv.Handler(), http.MethodGet, "/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestChatCreatesSession(t *testing.T) {
	srv, service, _ := newTestServer(t)
	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat", schema.ChatRequest{Message: "a bakery site"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %v", rec.Code, body)
	}
	id, _ := body["session_id"].(string)
	if id == "" {
		t.Fatalf("missing session_id: %v", body)
	}
	if body["websocket_url"] != "ws://localhost:8080/ws/"+id {
		t.Fatalf("unexpected websocket_url: %v", body)
	}
	if _, err := service.GetSession(context.Background(), schema.SessionID(id)); err != nil {
		t.Fatalf("session not created: %v", err)
	}
}

func TestChatQueuesFollowUp(t *testing.T) {
	srv, service, _ := newTestServer(t)
	record, _ := service.CreateSession(context.Background(), "a site")

	rec, body := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat", schema.ChatRequest{
		Message:   "make it darker",
		SessionID: record.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %v", rec.Code, body)
	}
	if queued, _ := body["queued"].(bool); !queued {
		t.Fatalf("expected queued flag: %v", body)
	}
	prompts := service.queuedPrompts(record.ID)
	if len(prompts) != 1 || prompts[0] != "make it darker" {
		t.Fatalf("unexpected queue: %v", prompts)
	}
}

func TestChatErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec, _ := doJSON(t, srv.Handler(), http.MethodPost, "/api/chat", schema.ChatRequest{Message: ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty prompt, got %d", rec.Code)
	}
	rec, _ = doJSON(t, srv.Handler(), http.MethodPost, "/api/chat", schema.ChatRequest{Message: "x", SessionID: "absent"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rec.Code)
	}
	rec, _ = doJSON(t, srv.Handler(), http.MethodGet, "/api/chat", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", rec.Code)
	}
}

func TestSessionsList(t *testing.T) {
	srv, service, _ := newTestServer(t)
	_, _ = service.CreateSession(context.Background(), "one")
	_, _ = service.CreateSession(context.Background(), "two")

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if body["count"] != float64(2) {
		t.Fatalf("unexpected count: %v", body)
	}
}

func TestSessionByID(t *testing.T) {
	srv, service, hub := newTestServer(t)
	record, _ := service.CreateSession(context.Background(), "a site")
	hub.Publish(schema.Event{SessionID: record.ID, Name: schema.EventTurnStart})

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions/"+string(record.ID), nil)
	if rec.Code != http.StatusOK || body["id"] != string(record.ID) {
		t.Fatalf("unexpected get response: %d %v", rec.Code, body)
	}

	rec, _ = doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions/absent", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", rec.Code)
	}

	rec, body = doJSON(t, srv.Handler(), http.MethodDelete, "/api/sessions/"+string(record.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected delete status: %d %v", rec.Code, body)
	}
	if stats := hub.SessionStats(record.ID); stats.BufferedEvents != 0 {
		t.Fatalf("expected hub state dropped with session")
	}
}

func TestSessionHealthEndpoint(t *testing.T) {
	srv, service, hub := newTestServer(t)
	record, _ := service.CreateSession(context.Background(), "a site")
	hub.Publish(schema.Event{SessionID: record.ID, Name: schema.EventTurnStart})
	hub.Publish(schema.Event{SessionID: record.ID, Name: schema.EventTurnComplete})
	_ = service.Submit(context.Background(), record.ID, "queued prompt")

	rec, body := doJSON(t, srv.Handler(), http.MethodGet, "/api/sessions/"+string(record.ID)+"/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %v", rec.Code, body)
	}
	if body["buffered_events"] != float64(2) {
		t.Fatalf("unexpected buffered_events: %v", body)
	}
	if body["queued_prompts"] != float64(1) {
		t.Fatalf("unexpected queued_prompts: %v", body)
	}
}

func TestCORSPreflights(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for OPTIONS, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}
