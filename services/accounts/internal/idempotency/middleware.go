package idempotency

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aloauto/marketplace/pkg/httputil"
	"github.com/aloauto/marketplace/pkg/logger"
	"github.com/aloauto/marketplace/pkg/middleware"
)

const (
	HeaderKey      = "Idempotency-Key"
	HeaderReplayed = "Idempotency-Replayed"

	maxKeyLength = 255
	maxBodyBytes = 1 << 20
	storeTimeout = time.Second
)

// Middleware makes requests that carry an Idempotency-Key safe to retry.
// Keys are scoped to the authenticated user. A 2xx response is stored and
// replayed for later requests with the same key and body; any other outcome
// releases the key. If the store is unreachable the request runs normally.
func Middleware(store Store, fallback *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxKeyLength {
				writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "Idempotency-Key must be at most 255 characters", false)
				return
			}

			l := logger.FromContext(r.Context())
			if l == slog.Default() && fallback != nil {
				l = fallback
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
			if err != nil {
				writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", "could not read request body", false)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			scoped := middleware.UserIDFromContext(r.Context()) + ":" + key
			fingerprint := fingerprintOf(r, body)

			ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
			reserved, err := store.Reserve(ctx, scoped, fingerprint)
			cancel()
			if err != nil {
				l.WarnContext(r.Context(), "idempotency store unavailable, running request without it",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !reserved {
				replay(w, r, store, scoped, fingerprint, l)
				return
			}

			rec := newRecorder(w)
			next.ServeHTTP(rec, r)

			// The handler has already answered; store bookkeeping must not
			// depend on the client staying connected.
			bg, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), storeTimeout)
			defer cancel()

			if rec.status >= 200 && rec.status < 300 {
				err = store.Complete(bg, scoped, &Record{
					Fingerprint: fingerprint,
					Status:      rec.status,
					Header:      replayHeaders(rec.Header()),
					Body:        rec.body.Bytes(),
				})
			} else {
				err = store.Release(bg, scoped)
			}
			if err != nil {
				l.WarnContext(r.Context(), "failed to update idempotency record",
					slog.String("error", err.Error()),
				)
			}
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, store Store, key, fingerprint string, l *slog.Logger) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	stored, err := store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		// Released or expired between Reserve and Get.
		writeError(w, r, http.StatusConflict, "CONFLICT", "a request with this Idempotency-Key is in progress", true)
		return
	case err != nil:
		l.WarnContext(r.Context(), "idempotency lookup failed", slog.String("error", err.Error()))
		writeError(w, r, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "idempotency lookup failed, please retry", true)
		return
	}

	if stored.Fingerprint != fingerprint {
		writeError(w, r, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "Idempotency-Key was already used with a different request", false)
		return
	}
	if !stored.Completed {
		writeError(w, r, http.StatusConflict, "CONFLICT", "a request with this Idempotency-Key is in progress", true)
		return
	}

	for k, vs := range stored.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(HeaderReplayed, "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}

func fingerprintOf(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replayHeaders(h http.Header) http.Header {
	out := http.Header{}
	for _, k := range []string{"Content-Type", "Location"} {
		if v := h.Values(k); len(v) > 0 {
			out[k] = v
		}
	}
	return out
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, retryable bool) {
	if retryable {
		w.Header().Set("Retry-After", "1")
	}
	httputil.WriteJSON(w, status, httputil.Response{
		Error: &httputil.ErrorResponse{
			Code:      code,
			Message:   message,
			RequestID: logger.CorrelationIDFromContext(r.Context()),
			Retryable: retryable,
		},
	})
}

// recorder tees the response so it can be stored after the handler returns.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newRecorder(w http.ResponseWriter) *recorder {
	return &recorder{ResponseWriter: w, status: http.StatusOK}
}

func (r *recorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
