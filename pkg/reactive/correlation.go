package reactive

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationHeader carries the client's correlation id on HTTP requests.
const CorrelationHeader = "X-Correlation-Id"

type correlationKey struct{}

// WithCorrelationID attaches a correlation id to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id attached to the context, or
// "" outside any request context. Events published with an empty id
// carry no sender_id, which a client never matches against its own
// in-flight requests.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// CorrelationMiddleware attaches a correlation id to every request
// context: the client's own id from the header when present, a fresh one
// otherwise. The id is echoed back on the response so the client can
// match realtime events against the interaction that caused them.
func CorrelationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(WithCorrelationID(r.Context(), id)))
	})
}
