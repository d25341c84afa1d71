package core

import (
	"context"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/sitesmith/schema"
)

// Registry stores session records.
type Registry interface {
	Contains(id schema.SessionID) bool
	Get(id schema.SessionID) (schema.SessionRecord, error)
	Set(record schema.SessionRecord) error
	Delete(id schema.SessionID) error
	List() ([]schema.SessionRecord, error)
}

// TunnelIssuer maps a local port to a publicly reachable URL.
type TunnelIssuer interface {
	Forward(ctx context.Context, port int) (string, error)
}

// EventSink receives session events from the core service.
type EventSink interface {
	OnEvent(event schema.Event)
}

// Prober classifies the health of the preview server on a port.
type Prober interface {
	Probe(ctx context.Context, port int, timeout time.Duration) schema.Health
}

// ServiceDeps captures the collaborators of the core service.
type ServiceDeps struct {
	Engine    Engine
	Registry  Registry
	Tunnel    TunnelIssuer
	EventSink EventSink
	Prober    Prober
	Logger    pslog.Logger
}
