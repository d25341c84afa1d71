package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/sitesmith/internal/logx"
	"pkt.systems/sitesmith/schema"
)

type service struct {
	cfg    ServiceConfig
	deps   ServiceDeps
	logger pslog.Logger

	mu       sync.Mutex
	sessions map[schema.SessionID]*session
	closed   bool
}

// session is the in-memory state of one live build session. The turn loop
// goroutine owns engineSession and turn; everything else is shared.
type session struct {
	id         schema.SessionID
	workspace  string
	queue      promptQueue
	supervisor *Supervisor
	cancel     context.CancelFunc
	done       chan struct{}

	mu            sync.Mutex
	engineSession schema.EngineSessionID
}

// NewService constructs the core session service.
func NewService(cfg ServiceConfig, deps ServiceDeps) (Service, error) {
	cfg.normalize()
	if deps.Engine == nil {
		return nil, schema.ErrEngineUnavailable
	}
	if deps.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.WorkspaceRoot == "" {
		return nil, errors.New("workspace root is required")
	}
	if err := os.MkdirAll(cfg.WorkspaceRoot, 0o755); err != nil {
		return nil, err
	}
	if deps.Prober == nil {
		deps.Prober = HTTPProber{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &service{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		sessions: make(map[schema.SessionID]*session),
	}, nil
}

func (s *service) CreateSession(ctx context.Context, prompt string) (schema.SessionRecord, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return schema.SessionRecord{}, schema.ErrEmptyPrompt
	}

	id := newSessionID()
	log := logx.WithSession(ctx, id)

	workspace, err := setupWorkspace(s.cfg.WorkspaceRoot, id)
	if err != nil {
		return schema.SessionRecord{}, err
	}
	log.Info("workspace created", "dir", workspace)

	now := time.Now().UTC()
	record := schema.SessionRecord{
		ID:        id,
		Prompt:    prompt,
		Status:    schema.StatusInitializing,
		Messages:  []schema.Message{{Role: "user", Content: prompt, Timestamp: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.deps.Tunnel != nil {
		previewURL, err := s.deps.Tunnel.Forward(ctx, s.cfg.Preview.Port)
		if err != nil {
			log.Warn("preview tunnel failed", "err", err)
		} else {
			record.PreviewURL = previewURL
		}
	}
	if s.cfg.WebsocketBase != "" {
		record.WebsocketURL = fmt.Sprintf("%s/ws/%s", strings.TrimRight(s.cfg.WebsocketBase, "/"), id)
	}
	if err := s.deps.Registry.Set(record); err != nil {
		removeWorkspace(log, workspace)
		return schema.SessionRecord{}, fmt.Errorf("persist session: %w", err)
	}

	runCtx, runCancel := detachRunContext(ctx)
	sess := &session{
		id:        id,
		workspace: workspace,
		cancel:    runCancel,
		done:      make(chan struct{}),
	}
	sess.supervisor = NewSupervisor(s.cfg.Preview, id, workspace, s.deps.Prober,
		func(name schema.EventName, data map[string]any) { s.emit(id, name, data) },
		logx.WithSession(runCtx, id))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		runCancel()
		removeWorkspace(log, workspace)
		_ = s.deps.Registry.Delete(id)
		return schema.SessionRecord{}, schema.ErrSessionClosed
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	go s.runSession(runCtx, sess, prompt)
	return record, nil
}

func (s *service) Submit(ctx context.Context, id schema.SessionID, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return schema.ErrEmptyPrompt
	}
	s.mu.Lock()
	sess := s.sessions[id]
	s.mu.Unlock()
	if sess == nil {
		if s.deps.Registry.Contains(id) {
			return schema.ErrSessionClosed
		}
		return schema.ErrSessionNotFound
	}
	sess.queue.push(prompt)
	s.updateRecord(id, func(rec *schema.SessionRecord) {
		rec.Messages = append(rec.Messages, schema.Message{Role: "user", Content: prompt, Timestamp: time.Now().UTC()})
	})
	logx.WithSession(ctx, id).Info("prompt queued", "depth", sess.queue.depth())
	return nil
}

func (s *service) GetSession(ctx context.Context, id schema.SessionID) (schema.SessionRecord, error) {
	_ = ctx
	record, err := s.deps.Registry.Get(id)
	if err != nil {
		return schema.SessionRecord{}, err
	}
	return record, nil
}

func (s *service) ListSessions(ctx context.Context) ([]schema.SessionRecord, error) {
	_ = ctx
	return s.deps.Registry.List()
}

func (s *service) DeleteSession(ctx context.Context, id schema.SessionID) error {
	s.mu.Lock()
	sess := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	log := logx.WithSession(ctx, id)
	if sess != nil {
		sess.cancel()
		<-sess.done
		removeWorkspace(log, sess.workspace)
	}
	if !s.deps.Registry.Contains(id) {
		if sess == nil {
			return schema.ErrSessionNotFound
		}
		return nil
	}
	if err := s.deps.Registry.Delete(id); err != nil {
		return err
	}
	log.Info("session deleted")
	return nil
}

func (s *service) QueueDepth(id schema.SessionID) int {
	s.mu.Lock()
	sess := s.sessions[id]
	s.mu.Unlock()
	if sess == nil {
		return 0
	}
	return sess.queue.depth()
}

func (s *service) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	live := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.sessions = make(map[schema.SessionID]*session)
	s.mu.Unlock()

	for _, sess := range live {
		sess.cancel()
	}
	for _, sess := range live {
		select {
		case <-sess.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *service) emit(id schema.SessionID, name schema.EventName, data map[string]any) {
	if s.deps.EventSink == nil {
		return
	}
	s.deps.EventSink.OnEvent(schema.Event{
		SessionID: id,
		Name:      name,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

func (s *service) updateRecord(id schema.SessionID, mutate func(*schema.SessionRecord)) {
	record, err := s.deps.Registry.Get(id)
	if err != nil {
		return
	}
	mutate(&record)
	record.UpdatedAt = time.Now().UTC()
	if err := s.deps.Registry.Set(record); err != nil {
		s.logger.Warn("session record update failed", "session", id, "err", err)
	}
}

// detachRunContext detaches the session loop from the request context while
// keeping the logger and log markers.
func detachRunContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.Background()
	if ctx != nil {
		if logger := pslog.Ctx(ctx); logger != nil {
			base = logx.CopyContextFields(pslog.ContextWithLogger(base, logger), ctx)
		}
	}
	return context.WithCancel(base)
}
