package idempotency

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"chronoseal/pkg/platform/httputil"
)

// HeaderKey is the request header carrying the client's idempotency key.
const HeaderKey = "Idempotency-Key"

const maxPayloadBytes = 1 << 20

// responseRecorder buffers the downstream handler's response so it can be
// stored and replayed byte-identically.
type responseRecorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newRecorder() *responseRecorder {
	return &responseRecorder{header: make(http.Header), status: http.StatusOK}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) { r.status = status }

func (r *responseRecorder) Write(p []byte) (int, error) { return r.body.Write(p) }

// Middleware wraps mutating handlers in the guard. Requests without the
// Idempotency-Key header pass through untouched.
func Middleware(guard *Guard) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
			if err != nil {
				httputil.WriteError(w, err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(payload))

			endpoint := r.Method + " " + r.URL.Path
			var recorder *responseRecorder
			result, err := guard.Execute(r.Context(), key, endpoint, payload, func(ctx context.Context) (int, []byte, error) {
				recorder = newRecorder()
				next.ServeHTTP(recorder, r.WithContext(ctx))
				return recorder.status, recorder.body.Bytes(), nil
			})
			if err != nil {
				httputil.WriteError(w, err)
				return
			}

			if result.Replayed {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Idempotency-Replayed", "true")
			} else if recorder != nil {
				for name, values := range recorder.header {
					for _, value := range values {
						w.Header().Add(name, value)
					}
				}
			}
			w.WriteHeader(result.Status)
			_, _ = w.Write(result.Body)
		})
	}
}
