package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/labtracksimple/labtrack/internal/port/cache"
)

const (
	headerIdempotencyKey   = "Idempotency-Key"
	headerIdempotentReplay = "Idempotent-Replayed"
	maxIdempotencyBody     = 1 << 20 // 1 MB
)

// idempotencyEntry stores a cached HTTP response.
type idempotencyEntry struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// Idempotency returns middleware that replays the stored response of a
// mutating request carrying an Idempotency-Key already seen from the same
// caller on the same path. Server errors are not stored so a failed
// extraction or confirmation can be retried with the same key.
func Idempotency(store cache.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(headerIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			scoped := idempotencyScope(r, key)

			var cached idempotencyEntry
			hit, err := cache.GetJSON(r.Context(), store, scoped, &cached)
			if err != nil {
				slog.WarnContext(r.Context(), "idempotency: lookup failed", "error", err)
			}
			if hit {
				for k, vals := range cached.Headers {
					for _, v := range vals {
						w.Header().Add(k, v)
					}
				}
				w.Header().Set(headerIdempotentReplay, "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= http.StatusInternalServerError || rec.body.Len() > maxIdempotencyBody {
				return
			}
			entry := idempotencyEntry{
				StatusCode: rec.statusCode,
				Headers:    w.Header().Clone(),
				Body:       rec.body.Bytes(),
			}
			if err := cache.SetJSON(r.Context(), store, scoped, entry, ttl); err != nil {
				slog.WarnContext(r.Context(), "idempotency: failed to store response", "error", err)
			}
		})
	}
}

// idempotencyScope binds a client key to the caller and route so one caller
// cannot replay another's response.
func idempotencyScope(r *http.Request, key string) string {
	caller := "anon"
	if id := IdentityFromContext(r.Context()); id != nil {
		switch {
		case id.UserID != "":
			caller = id.UserID
		case id.Service:
			caller = "service"
		}
	}
	sum := sha256.Sum256([]byte(caller + "\x00" + r.Method + "\x00" + r.URL.Path + "\x00" + key))
	return "idem." + hex.EncodeToString(sum[:])
}

// responseRecorder wraps http.ResponseWriter to capture the response.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

