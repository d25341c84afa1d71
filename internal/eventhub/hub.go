// Package eventhub is the broadcast log for session events. Every publish
// appends to the per-session history and fans out to every subscriber, so a
// late observer replays the full session before seeing live events.
package eventhub

import (
	"context"
	"sync"

	"pkt.systems/sitesmith/internal/logx"
	"pkt.systems/sitesmith/schema"
)

// SubscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind the producer starts dropping live events; replay is
// still complete because history is authoritative.
const SubscriberBuffer = 256

// Stats summarizes one session's hub state for liveness diagnostics.
type Stats struct {
	Subscribers    int
	BufferedEvents int
	Dropped        uint64
}

// Hub broadcasts events per session.
type Hub struct {
	mu          sync.Mutex
	sessions    map[schema.SessionID]*sessionHub
	historySize int
}

// NewHub constructs a hub. historySize caps retained events per session;
// zero or negative keeps everything for the session's lifetime.
func NewHub(historySize int) *Hub {
	return &Hub{
		sessions:    make(map[schema.SessionID]*sessionHub),
		historySize: historySize,
	}
}

// OnEvent implements core.EventSink.
func (h *Hub) OnEvent(event schema.Event) {
	h.Publish(event)
}

// Publish assigns the next sequence number, appends to history, and delivers
// to every subscriber. Slow subscribers drop rather than stall the producer.
// Delivery happens under the hub lock: unsubscribe closes channels under the
// same lock, so a send can never hit a closed channel.
func (h *Hub) Publish(event schema.Event) {
	h.mu.Lock()
	sh := h.getOrCreateLocked(event.SessionID)
	sh.seq++
	event.Seq = sh.seq
	sh.history = append(sh.history, event)
	if h.historySize > 0 && len(sh.history) > h.historySize {
		sh.history = sh.history[len(sh.history)-h.historySize:]
	}
	dropped := 0
	for sub := range sh.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		sh.dropped += uint64(dropped)
	}
	h.mu.Unlock()

	if dropped > 0 {
		logx.WithSession(context.Background(), event.SessionID).Warn("hub event dropped", "event", event.Name, "dropped", dropped)
	}
}

// Subscribe registers an observer for a session. The returned history is a
// snapshot of everything published so far, ordered by seq; live events on the
// channel continue from the returned seq.
func (h *Hub) Subscribe(sessionID schema.SessionID) (<-chan schema.Event, func(), uint64, []schema.Event) {
	h.mu.Lock()
	sh := h.getOrCreateLocked(sessionID)
	ch := make(chan schema.Event, SubscriberBuffer)
	sh.subs[ch] = struct{}{}
	history := append([]schema.Event(nil), sh.history...)
	seq := sh.seq
	subs := len(sh.subs)
	h.mu.Unlock()

	log := logx.WithSession(context.Background(), sessionID)
	log.Info("hub subscribe", "subs", subs, "history", len(history))
	unsub := func() {
		h.mu.Lock()
		if _, ok := sh.subs[ch]; ok {
			delete(sh.subs, ch)
			close(ch)
		}
		remaining := len(sh.subs)
		h.mu.Unlock()
		log.Info("hub unsubscribe", "subs", remaining)
	}
	return ch, unsub, seq, history
}

// Replay returns events with seq greater than after.
func (h *Hub) Replay(sessionID schema.SessionID, after uint64) []schema.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	sh := h.sessions[sessionID]
	if sh == nil {
		return nil
	}
	events := make([]schema.Event, 0, len(sh.history))
	for _, event := range sh.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	return events
}

// SessionStats reports hub state for one session.
func (h *Hub) SessionStats(sessionID schema.SessionID) Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	sh := h.sessions[sessionID]
	if sh == nil {
		return Stats{}
	}
	return Stats{
		Subscribers:    len(sh.subs),
		BufferedEvents: len(sh.history),
		Dropped:        sh.dropped,
	}
}

// Drop discards all state for a session, closing its subscriber channels.
func (h *Hub) Drop(sessionID schema.SessionID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sh := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	if sh == nil {
		return
	}
	for sub := range sh.subs {
		close(sub)
	}
	sh.subs = make(map[chan schema.Event]struct{})
}

func (h *Hub) getOrCreateLocked(sessionID schema.SessionID) *sessionHub {
	sh := h.sessions[sessionID]
	if sh == nil {
		sh = &sessionHub{
			subs: make(map[chan schema.Event]struct{}),
		}
		h.sessions[sessionID] = sh
	}
	return sh
}

type sessionHub struct {
	seq     uint64
	history []schema.Event
	subs    map[chan schema.Event]struct{}
	dropped uint64
}
