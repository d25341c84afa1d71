package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/pslog"

	"pkt.systems/sitesmith/internal/logx"
	"pkt.systems/sitesmith/schema"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = 54 * time.Second
	wsMaxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Observers connect from arbitrary origins through the tunnel.
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsClient serializes writes to one observer connection.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsClient) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

// handleWebsocket attaches an observer: replay the full history, then live
// events, while inbound prompt frames feed the turn queue.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	id := schema.SessionID(strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/"), "/"))
	if id == "" {
		writeError(w, http.StatusNotFound, schema.ErrSessionNotFound)
		return
	}
	if _, err := s.service.GetSession(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	log := logx.WithSession(r.Context(), id).With("remote", clientIP(r))
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	client := &wsClient{conn: conn}
	defer conn.Close()

	events, unsub, _, history := s.hub.Subscribe(id)
	defer unsub()

	if err := client.writeJSON(notice(id, schema.EventConnected, map[string]any{"history": len(history)})); err != nil {
		log.Warn("websocket greeting failed", "err", err)
		return
	}
	for _, event := range history {
		if err := client.writeJSON(event); err != nil {
			log.Warn("websocket replay failed", "err", err)
			return
		}
	}
	log.Info("observer attached", "replayed", len(history))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(client, events, log)
	}()

	ctx := logx.ContextWithSessionLogger(context.Background(), pslog.Ctx(r.Context()), id)
	s.readPump(ctx, client, id, log)
	// Unsubscribe closes the event channel, which stops the writer.
	unsub()
	<-writerDone
	log.Info("observer detached")
}

func (s *Server) writePump(client *wsClient, events <-chan schema.Event, log pslog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := client.writeJSON(event); err != nil {
				log.Debug("websocket write failed", "err", err)
				return
			}
		case <-ticker.C:
			if err := client.ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(ctx context.Context, client *wsClient, id schema.SessionID, log pslog.Logger) {
	conn := client.conn
	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("websocket read failed", "err", err)
			}
			return
		}
		var frame schema.ObserverFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Debug("websocket frame rejected", "err", err)
			continue
		}
		switch frame.Type {
		case "prompt":
			if err := s.service.Submit(ctx, id, frame.Message); err != nil {
				log.Warn("websocket prompt rejected", "err", err)
				_ = client.writeJSON(notice(id, "error", map[string]any{"error": err.Error()}))
			}
		case "ping":
			_ = client.writeJSON(notice(id, "pong", nil))
		default:
			log.Debug("websocket frame ignored", "type", frame.Type)
		}
	}
}

// notice is a connection-scoped message in the same wire shape as bus
// events, without a sequence number.
func notice(id schema.SessionID, name schema.EventName, data map[string]any) schema.Event {
	return schema.Event{
		SessionID: id,
		Name:      name,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
