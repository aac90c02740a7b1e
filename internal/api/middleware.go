package api

import (
	"bytes"
	"context"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/crm-core/internal/auth"
	"github.com/nerrad567/crm-core/internal/ids"
	"github.com/nerrad567/crm-core/internal/store"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// ctxKeyRequestID is the context key for the request ID.
	ctxKeyRequestID contextKey = "request_id"

	// ctxKeyReplay marks the second run of a unit of work.
	ctxKeyReplay contextKey = "replay"
)

// bearerPrefix is the exact, case-sensitive Authorization scheme.
const bearerPrefix = "Bearer "

// requestIDMiddleware assigns a request ID to each request.
// If the client sends an X-Request-ID header, it is used; otherwise a ULID is generated.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = ids.NewRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isReplay(ctx context.Context) bool {
	replay, _ := ctx.Value(ctxKeyReplay).(bool) //nolint:errcheck // type assertion, absent is false
	return replay
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string) //nolint:errcheck // type assertion, absent is fine
	return id
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFrom(r.Context()),
		)
	})
}

// recoveryMiddleware catches panics in handlers and returns a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", requestIDFrom(r.Context()),
				)
				writeInternalError(w)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles Cross-Origin Resource Sharing headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", joinOrDefault(s.cfg.CORS.AllowedMethods, "GET, POST, PATCH, DELETE, OPTIONS"))
			w.Header().Set("Access-Control-Allow-Headers", joinOrDefault(s.cfg.CORS.AllowedHeaders, "Authorization, Content-Type, X-Request-ID"))
			w.Header().Set("Access-Control-Max-Age", "86400")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// bodySizeLimitMiddleware limits the size of incoming request bodies.
func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// unitOfWork selects the persistence backend once for the whole request.
// Handlers read it back with adapterFrom; they never ping on their own.
//
// The response is buffered. If the durable store fails before the request
// attempted any write, the attempt is discarded and the request is run
// once more as a new unit of work, which the cooldown routes to the
// fallback. Once a write may have reached the durable store the failure
// is returned to the client.
func (s *Server) unitOfWork(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil && r.Body != http.NoBody {
			var err error
			body, err = io.ReadAll(r.Body)
			if err != nil {
				writeBadRequest(w, "request body could not be read")
				return
			}
		}

		buf, unit := s.attempt(next, r, body, false)
		if unit.Mode() == store.ModeDurable && unit.Replayable() {
			s.selector.ReportFailure(unit.Outage())
			s.logger.Warn("durable store failed before any write, replaying request",
				"path", r.URL.Path,
				"request_id", requestIDFrom(r.Context()),
				"error", unit.Outage(),
			)
			if retry, retryUnit := s.attempt(next, r, body, true); retryUnit.Mode() != store.ModeDurable {
				buf = retry
			}
		}
		buf.flush(w)
	})
}

// attempt runs next once against a freshly acquired adapter.
func (s *Server) attempt(next http.Handler, r *http.Request, body []byte, replay bool) (*bufferedResponse, *store.Unit) {
	adapter, _ := s.selector.Acquire(r.Context())
	unit := store.NewUnit(adapter)

	ctx := store.WithAdapter(r.Context(), unit)
	if replay {
		ctx = context.WithValue(ctx, ctxKeyReplay, true)
	}
	req := r.Clone(ctx)
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))

	buf := newBufferedResponse()
	next.ServeHTTP(buf, req)
	return buf, unit
}

// adapterFrom returns the request's adapter. Missing means the route was
// mounted outside unitOfWork, which is a wiring bug.
func (s *Server) adapterFrom(w http.ResponseWriter, r *http.Request) (store.Adapter, bool) {
	a, ok := store.FromContext(r.Context())
	if !ok {
		s.logger.Error("no persistence adapter on request", "path", r.URL.Path)
		writeInternalError(w)
	}
	return a, ok
}

// modeOf names the backend serving the request, for audit entries.
func modeOf(ctx context.Context) string {
	if a, ok := store.FromContext(ctx); ok {
		return string(a.Mode())
	}
	return ""
}

// authenticate verifies the bearer access token and attaches the active
// identity and its claims to the request context. Every failure except a
// store outage is the same 401.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := s.adapterFrom(w, r)
		if !ok {
			return
		}

		ident, claims, err := s.auth.Authenticate(r.Context(), a.Identities(), bearerToken(r))
		if err != nil {
			if isAuthFailure(err) {
				s.logger.Debug("request not authenticated",
					"path", r.URL.Path,
					"request_id", requestIDFrom(r.Context()),
					"error", err,
				)
				writeUnauthorized(w)
				return
			}
			s.writeStoreError(w, r, "authenticate", err)
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), ident, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission admits the request only if the authenticated identity
// satisfies the matrix declaration for routeID.
func (s *Server) requirePermission(routeID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ident, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeUnauthorized(w)
				return
			}
			if !s.matrix.Allows(ident, routeID) {
				s.logger.Info("permission denied",
					"route", routeID,
					"user_id", ident.ID,
					"role", ident.Role,
					"request_id", requestIDFrom(r.Context()),
				)
				writeForbidden(w, msgForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// Any other shape yields "", which is treated as a missing token.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	token := header[len(bearerPrefix):]
	if token == "" || strings.ContainsAny(token, " \t") {
		return ""
	}
	return token
}

// isAllowedOrigin checks if the origin is in the allowed list.
// An empty list allows all origins (dev mode).
func (s *Server) isAllowedOrigin(origin string) bool {
	if len(s.cfg.CORS.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// joinOrDefault joins a string slice with ", " or returns the default if empty.
func joinOrDefault(values []string, defaultVal string) string {
	if len(values) == 0 {
		return defaultVal
	}
	return strings.Join(values, ", ")
}

// bufferedResponse holds a handler's response until the unit of work is
// settled.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedResponse() *bufferedResponse {
	return &bufferedResponse{header: make(http.Header)}
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

// flush copies the buffered response to w.
func (b *bufferedResponse) flush(w http.ResponseWriter) {
	maps.Copy(w.Header(), b.header)
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(b.body.Bytes()) //nolint:errcheck // client may have gone away
}
