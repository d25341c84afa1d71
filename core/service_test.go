package core

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"pkt.systems/sitesmith/schema"
)

// memRegistry is an in-memory Registry for tests.
type memRegistry struct {
	mu      sync.Mutex
	records map[schema.SessionID]schema.SessionRecord
}

func newMemRegistry() *memRegistry {
	return &memRegistry{records: make(map[schema.SessionID]schema.SessionRecord)}
}

func (r *memRegistry) Contains(id schema.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[id]
	return ok
}

func (r *memRegistry) Get(id schema.SessionID) (schema.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return schema.SessionRecord{}, schema.ErrSessionNotFound
	}
	return record, nil
}

func (r *memRegistry) Set(record schema.SessionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = record
	return nil
}

func (r *memRegistry) Delete(id schema.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
	return nil
}

func (r *memRegistry) List() ([]schema.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schema.SessionRecord, 0, len(r.records))
	for _, record := range r.records {
		out = append(out, record)
	}
	return out, nil
}

// recSink records every published event.
type recSink struct {
	mu     sync.Mutex
	events []schema.Event
}

func (s *recSink) OnEvent(event schema.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recSink) snapshot() []schema.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.Event(nil), s.events...)
}

// waitFor blocks until an event matching the predicate appears.
func (s *recSink) waitFor(t *testing.T, name schema.EventName, match func(schema.Event) bool) schema.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, event := range s.snapshot() {
			if event.Name != name {
				continue
			}
			if match == nil || match(event) {
				return event
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; got %v", name, s.names())
	return schema.Event{}
}

func (s *recSink) names() []schema.EventName {
	out := make([]schema.EventName, 0)
	for _, event := range s.snapshot() {
		out = append(out, event.Name)
	}
	return out
}

func (s *recSink) indexOf(name schema.EventName) int {
	for i, event := range s.snapshot() {
		if event.Name == name {
			return i
		}
	}
	return -1
}

// scriptedRun is one engine invocation outcome. hang simulates an engine
// that never finishes: the stream and Wait block until the ctx ends.
type scriptedRun struct {
	events   []schema.EngineEvent
	exitCode int
	waitErr  error
	hang     bool
}

// fakeEngine plays back scripted runs and tracks concurrency.
type fakeEngine struct {
	mu           sync.Mutex
	preflightErr error
	runs         []scriptedRun
	requests     []RunRequest
	active       int
	maxActive    int
}

func (e *fakeEngine) Preflight(ctx context.Context) error {
	return e.preflightErr
}

func (e *fakeEngine) Run(ctx context.Context, req RunRequest) (RunHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	var run scriptedRun
	if len(e.runs) > 0 {
		run = e.runs[0]
		if len(e.runs) > 1 {
			e.runs = e.runs[1:]
		}
	}
	e.active++
	if e.active > e.maxActive {
		e.maxActive = e.active
	}
	return &fakeHandle{engine: e, run: run}, nil
}

func (e *fakeEngine) requestCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

func (e *fakeEngine) request(i int) RunRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[i]
}

type fakeHandle struct {
	engine *fakeEngine
	run    scriptedRun
	once   sync.Once
}

func (h *fakeHandle) Events() EventStream {
	return &fakeStream{events: append([]schema.EngineEvent(nil), h.run.events...), hang: h.run.hang}
}

func (h *fakeHandle) Signal(ctx context.Context, sig ProcessSignal) error { return nil }

func (h *fakeHandle) Wait(ctx context.Context) (RunResult, error) {
	defer h.once.Do(func() {
		h.engine.mu.Lock()
		h.engine.active--
		h.engine.mu.Unlock()
	})
	if h.run.hang {
		<-ctx.Done()
		return RunResult{}, ctx.Err()
	}
	if h.run.waitErr != nil {
		return RunResult{}, h.run.waitErr
	}
	return RunResult{ExitCode: h.run.exitCode}, nil
}

func (h *fakeHandle) Close() error { return nil }

type fakeStream struct {
	mu     sync.Mutex
	events []schema.EngineEvent
	hang   bool
}

func (s *fakeStream) Next(ctx context.Context) (schema.EngineEvent, error) {
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return schema.EngineEvent{}, ctx.Err()
	}
	if len(s.events) > 0 {
		head := s.events[0]
		s.events = s.events[1:]
		s.mu.Unlock()
		return head, nil
	}
	hang := s.hang
	s.mu.Unlock()
	if hang {
		<-ctx.Done()
		return schema.EngineEvent{}, ctx.Err()
	}
	return schema.EngineEvent{}, io.EOF
}

func (s *fakeStream) Close() error { return nil }

type fakeTunnel struct{}

func (fakeTunnel) Forward(ctx context.Context, port int) (string, error) {
	return "http://tunnel.test:3999", nil
}

func successRun(engineSession schema.EngineSessionID, text string) scriptedRun {
	return scriptedRun{
		events: []schema.EngineEvent{
			{Type: schema.EngineSystem, SessionID: engineSession, Message: "init"},
			{Type: schema.EngineText, SessionID: engineSession, Text: text},
			{Type: schema.EngineResult, SessionID: engineSession, Text: text, Result: &schema.EngineResultInfo{
				DurationMS:   1200,
				NumTurns:     1,
				TotalCostUSD: 0.02,
			}},
		},
	}
}

func newTestService(t *testing.T, engine *fakeEngine, sink *recSink, muts ...func(*ServiceConfig)) Service {
	t.Helper()
	stubStartupSleep(t)
	prober := &fakeProber{}
	prober.set(schema.HealthUp)
	cfg := ServiceConfig{
		WorkspaceRoot:     t.TempDir(),
		WebsocketBase:     "ws://localhost:8080",
		QueuePollInterval: 10 * time.Millisecond,
		Preview:           testPreviewConfig(t),
	}
	for _, mut := range muts {
		mut(&cfg)
	}
	svc, err := NewService(cfg, ServiceDeps{
		Engine:    engine,
		Registry:  newMemRegistry(),
		Tunnel:    fakeTunnel{},
		EventSink: sink,
		Prober:    prober,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	return svc
}

func TestNewServiceRequiresEngine(t *testing.T) {
	_, err := NewService(ServiceConfig{WorkspaceRoot: t.TempDir()}, ServiceDeps{Registry: newMemRegistry()})
	if !errors.Is(err, schema.ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}

func TestCreateSessionRejectsEmptyPrompt(t *testing.T) {
	svc := newTestService(t, &fakeEngine{runs: []scriptedRun{successRun("eng-1", "ok")}}, &recSink{})
	if _, err := svc.CreateSession(context.Background(), "   "); !errors.Is(err, schema.ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
}

func TestSubmitUnknownSession(t *testing.T) {
	svc := newTestService(t, &fakeEngine{runs: []scriptedRun{successRun("eng-1", "ok")}}, &recSink{})
	if err := svc.Submit(context.Background(), "absent", "hello"); !errors.Is(err, schema.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSubmitAfterStopReportsClosed(t *testing.T) {
	engine := &fakeEngine{runs: []scriptedRun{successRun("eng-1", "ok")}}
	sink := &recSink{}
	svc := newTestService(t, engine, sink)

	record, err := svc.CreateSession(context.Background(), "a bakery site")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sink.waitFor(t, schema.EventReadyForInput, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.Submit(context.Background(), record.ID, "more"); !errors.Is(err, schema.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestDeleteSessionCleansUp(t *testing.T) {
	engine := &fakeEngine{runs: []scriptedRun{successRun("eng-1", "ok")}}
	sink := &recSink{}
	svc := newTestService(t, engine, sink)

	record, err := svc.CreateSession(context.Background(), "a bakery site")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sink.waitFor(t, schema.EventReadyForInput, nil)

	if err := svc.DeleteSession(context.Background(), record.ID); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := svc.GetSession(context.Background(), record.ID); !errors.Is(err, schema.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
	if err := svc.DeleteSession(context.Background(), record.ID); !errors.Is(err, schema.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for second delete, got %v", err)
	}
}
