package core

import (
	"context"

	"pkt.systems/sitesmith/schema"
)

// Service is the transport-agnostic API for managing build sessions.
type Service interface {
	CreateSession(ctx context.Context, prompt string) (schema.SessionRecord, error)
	Submit(ctx context.Context, id schema.SessionID, prompt string) error
	GetSession(ctx context.Context, id schema.SessionID) (schema.SessionRecord, error)
	ListSessions(ctx context.Context) ([]schema.SessionRecord, error)
	DeleteSession(ctx context.Context, id schema.SessionID) error
	// QueueDepth reports pending prompts for the liveness endpoint. Unknown
	// sessions report zero.
	QueueDepth(id schema.SessionID) int
	// Stop tears down every live session loop and preview server.
	Stop(ctx context.Context) error
}
