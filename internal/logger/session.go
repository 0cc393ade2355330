package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// WithSession returns a context carrying a logger enriched with the session ID
// and the triggering broker topic, mirroring the request-scoped logger the
// teacher's HTTP middleware built per-request (here, per dispatched message).
func WithSession(ctx context.Context, base zerolog.Logger, sessionID, topic string) context.Context {
	l := base.With().
		Str("session_id", sessionID).
		Str("topic", topic).
		Logger()
	return WithContext(ctx, l)
}

