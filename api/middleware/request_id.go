package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/cartsync/pkg/logger"
)

const (
	requestIDHeader = "X-Request-Id"
	originHeader    = "X-Cartsync-Origin"
)

// RequestID tags every request with an id and the answering instance's origin
// id, both echoed as headers and carried in the log context.
func RequestID(logg *logger.Logger, originID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)
			if originID != "" {
				w.Header().Set(originHeader, originID)
			}

			ctx := r.Context()
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
				if originID != "" {
					ctx = logg.WithOriginID(ctx, originID)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
