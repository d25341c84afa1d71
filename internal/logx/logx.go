package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/sitesmith/schema"
)

type contextKey int

const (
	sessionKey contextKey = iota
	turnKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with the session id if present.
func WithSession(ctx context.Context, sessionID schema.SessionID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if sessionID != "" {
		if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
			return log
		}
		log = log.With("session", sessionID)
	}
	return log
}

// WithSessionTurn annotates the logger with session and turn identifiers.
func WithSessionTurn(ctx context.Context, sessionID schema.SessionID, turn int) pslog.Logger {
	log := WithSession(ctx, sessionID)
	if turn > 0 {
		if current, ok := ctx.Value(turnKey).(int); ok && current == turn {
			return log
		}
		log = log.With("turn", turn)
	}
	return log
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithTurn stores the turn marker on the context for log de-duplication.
func ContextWithTurn(ctx context.Context, turn int) context.Context {
	if ctx == nil || turn <= 0 {
		return ctx
	}
	return context.WithValue(ctx, turnKey, turn)
}

// ContextWithSessionLogger attaches the logger and session marker to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, sessionID schema.SessionID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ctx, sessionID)
}

// CopyContextFields copies session/turn markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if session, ok := src.Value(sessionKey).(schema.SessionID); ok && session != "" {
		dst = ContextWithSession(dst, session)
	}
	if turn, ok := src.Value(turnKey).(int); ok && turn > 0 {
		dst = ContextWithTurn(dst, turn)
	}
	return dst
}
