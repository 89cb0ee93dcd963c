package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	errors "github.com/frahmantamala/payment-gateway-shim/internal"
)

const (
	IdempotencyHeader   = "Idempotency-Key"
	idempotencyReplayed = "Idempotent-Replayed"

	defaultIdempotencyTTL = 24 * time.Hour
	inFlightTTL           = 30 * time.Second
)

type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type cachedResponse struct {
	RequestHash string          `json:"request_hash"`
	StatusCode  int             `json:"status_code"`
	ContentType string          `json:"content_type"`
	Body        json.RawMessage `json:"body"`
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *captureWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored response of a POST carrying the same
// Idempotency-Key, so a retried session request does not open a second
// checkout. A key reused with a different body is rejected with 422.
// Responses with status >= 500 are not stored. Store failures degrade to
// normal processing.
func Idempotency(store IdempotencyStore, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if store == nil || key == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValidatedBody))
			if err != nil {
				writeValidationError(w, errors.NewInvalidRequestError("request body too large or unreadable", errors.ErrCodeInvalidRequest))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			ctx := r.Context()
			scoped := scopeKey(r.URL.Path, key)
			fingerprint := requestHash(body)

			if data, err := store.Get(ctx, scoped); err != nil {
				logger.Warn("idempotency lookup failed, processing normally", "error", err)
				next.ServeHTTP(w, r)
				return
			} else if data != nil {
				var cached cachedResponse
				if err := json.Unmarshal(data, &cached); err == nil {
					if cached.RequestHash != "" && cached.RequestHash != fingerprint {
						writeIdempotencyError(w, http.StatusUnprocessableEntity, errors.ErrorResponse{
							Error: "Idempotency-Key was already used with a different request body",
							Code:  errors.ErrCodeIdempotencyKeyReused,
						})
						return
					}
					replay(w, &cached)
					return
				}
			}

			acquired, err := store.Acquire(ctx, scoped, inFlightTTL)
			if err != nil {
				logger.Warn("idempotency lock failed, processing normally", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !acquired {
				writeIdempotencyError(w, http.StatusConflict, errors.ErrorResponse{
					Error: "a request with this Idempotency-Key is already in progress",
					Code:  errors.ErrCodeIdempotencyInProgress,
				})
				return
			}
			defer func() {
				if err := store.Release(context.WithoutCancel(ctx), scoped); err != nil {
					logger.Warn("idempotency unlock failed", "error", err)
				}
			}()

			cw := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(cw, r.WithContext(errors.ContextWithIdempotencyKey(ctx, key)))

			if cw.status >= http.StatusInternalServerError || !json.Valid(cw.body.Bytes()) {
				return
			}

			data, err := json.Marshal(cachedResponse{
				RequestHash: fingerprint,
				StatusCode:  cw.status,
				ContentType: cw.Header().Get("Content-Type"),
				Body:        cw.body.Bytes(),
			})
			if err != nil {
				return
			}
			if err := store.Set(context.WithoutCancel(ctx), scoped, data, ttl); err != nil {
				logger.Warn("idempotency store failed", "error", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, cached *cachedResponse) {
	contentType := cached.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set(idempotencyReplayed, "true")
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
}

func writeIdempotencyError(w http.ResponseWriter, status int, resp errors.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// requestHash ignores insignificant whitespace in JSON bodies.
func requestHash(body []byte) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err == nil {
		body = compact.Bytes()
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// scopeKey keeps keys from different endpoints apart and bounds their length.
func scopeKey(path, key string) string {
	sum := sha256.Sum256([]byte(path + "\x00" + key))
	return hex.EncodeToString(sum[:])
}
