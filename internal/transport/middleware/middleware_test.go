package middleware_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/payment-gateway-shim/api"
	apperrors "github.com/frahmantamala/payment-gateway-shim/internal"
	"github.com/frahmantamala/payment-gateway-shim/internal/transport/middleware"
	"github.com/frahmantamala/payment-gateway-shim/pkg/logger"
)

var _ = Describe("RequestID", func() {
	var seen string

	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
	}))

	BeforeEach(func() {
		seen = ""
	})

	It("should mint an id when the caller sends none", func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))

		Expect(seen).NotTo(BeEmpty())
		Expect(rec.Header().Get(middleware.RequestIDHeader)).To(Equal(seen))
	})

	It("should reuse the caller's id", func() {
		req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
		req.Header.Set(middleware.RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		Expect(seen).To(Equal("req-42"))
		Expect(rec.Header().Get(middleware.RequestIDHeader)).To(Equal("req-42"))
	})
})

var _ = Describe("RecoveryMiddleware", func() {
	It("should turn a panic into a 500 error body", func() {
		handler := middleware.RecoveryMiddleware(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("nil map write")
		}))

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/payments/webhook", nil))

		Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		body := decode(rec)
		Expect(body).To(HaveKeyWithValue("error", "internal server error"))
		Expect(body).To(HaveKeyWithValue("code", string(apperrors.ErrCodeInternal)))
		Expect(rec.Body.String()).NotTo(ContainSubstring("nil map write"))
	})

	It("should re-panic on ErrAbortHandler", func() {
		handler := middleware.RecoveryMiddleware(quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic(http.ErrAbortHandler)
		}))

		Expect(func() {
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
		}).To(PanicWith(http.ErrAbortHandler))
	})
})

var _ = Describe("LoggingMiddleware", func() {
	var (
		buf     *bytes.Buffer
		handler http.Handler
	)

	BeforeEach(func() {
		buf = &bytes.Buffer{}
		lg := slog.New(slog.NewJSONHandler(buf, nil))
		handler = middleware.LoggingMiddleware(lg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body)
		}))
	})

	It("should mask card data in request and response bodies", func() {
		payload := `{"event":"paid","data":{"tracker":"trk_1","card":{"brand":"visa","last4":"4242","holder_name":"Ada"}}}`
		req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(payload))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		Expect(rec.Body.String()).To(Equal(payload))
		logs := buf.String()
		Expect(logs).To(ContainSubstring("trk_1"))
		Expect(logs).To(ContainSubstring("[FILTERED]"))
		Expect(logs).NotTo(ContainSubstring("4242"))
		Expect(logs).NotTo(ContainSubstring("Ada"))
	})

	It("should mask signature and authorization headers", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/payments/webhook", strings.NewReader(`{}`))
		req.Header.Set("X-SFPY-Signature", "deadbeef")
		req.Header.Set("Authorization", "Basic c2VjcmV0")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		Expect(buf.String()).NotTo(ContainSubstring("deadbeef"))
		Expect(buf.String()).NotTo(ContainSubstring("c2VjcmV0"))
	})

	It("should hand the full body to the next handler", func() {
		req := httptest.NewRequest(http.MethodPost, "/api/payments/session", strings.NewReader(`{"amount":500}`))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		Expect(rec.Body.String()).To(Equal(`{"amount":500}`))
	})
})

var _ = Describe("Idempotency", func() {
	var (
		store   *memoryStore
		calls   int
		status  int
		seenKey string
		handler http.Handler
	)

	sendBody := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/payments/session", strings.NewReader(body))
		if key != "" {
			req.Header.Set(middleware.IdempotencyHeader, key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}
	send := func(key string) *httptest.ResponseRecorder {
		return sendBody(key, `{"amount":500}`)
	}

	BeforeEach(func() {
		store = newMemoryStore()
		calls = 0
		status = http.StatusCreated
		handler = middleware.Idempotency(store, 0, quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			seenKey = apperrors.IdempotencyKeyFromContext(r.Context())
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"transactionId":"trk_` + string(rune('0'+calls)) + `"}`))
		}))
	})

	It("should replay the first response for a repeated key", func() {
		first := send("order-1")
		second := send("order-1")

		Expect(calls).To(Equal(1))
		Expect(seenKey).To(Equal("order-1"))
		Expect(second.Code).To(Equal(http.StatusCreated))
		Expect(second.Body.String()).To(Equal(first.Body.String()))
		Expect(second.Header().Get("Idempotent-Replayed")).To(Equal("true"))
	})

	It("should refuse a key reused with a different body", func() {
		send("order-1")
		rec := sendBody("order-1", `{"amount":900}`)

		Expect(calls).To(Equal(1))
		Expect(rec.Code).To(Equal(http.StatusUnprocessableEntity))
		Expect(decode(rec)).To(HaveKeyWithValue("code", string(apperrors.ErrCodeIdempotencyKeyReused)))
	})

	It("should treat whitespace-only differences as the same body", func() {
		first := send("order-1")
		second := sendBody("order-1", "{ \"amount\": 500 }\n")

		Expect(calls).To(Equal(1))
		Expect(second.Code).To(Equal(http.StatusCreated))
		Expect(second.Body.String()).To(Equal(first.Body.String()))
	})

	It("should hand the body to the next handler", func() {
		var got string
		handler = middleware.Idempotency(store, 0, quietLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			got = string(body)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{}`))
		}))

		send("order-1")

		Expect(got).To(Equal(`{"amount":500}`))
	})

	It("should process different keys independently", func() {
		send("order-1")
		send("order-2")

		Expect(calls).To(Equal(2))
	})

	It("should not cache without a key", func() {
		send("")
		send("")

		Expect(calls).To(Equal(2))
		Expect(store.sets).To(BeZero())
	})

	It("should not cache server errors", func() {
		status = http.StatusBadGateway
		send("order-1")
		status = http.StatusCreated
		rec := send("order-1")

		Expect(calls).To(Equal(2))
		Expect(rec.Code).To(Equal(http.StatusCreated))
	})

	It("should reject a concurrent request with the same key", func() {
		store.busy = true
		rec := send("order-1")

		Expect(calls).To(BeZero())
		Expect(rec.Code).To(Equal(http.StatusConflict))
		Expect(decode(rec)).To(HaveKeyWithValue("code", string(apperrors.ErrCodeIdempotencyInProgress)))
	})

	It("should fall through when the store is down", func() {
		store.getError = errors.New("redis: connection refused")
		rec := send("order-1")

		Expect(calls).To(Equal(1))
		Expect(rec.Code).To(Equal(http.StatusCreated))
	})
})

var _ = Describe("OpenAPIValidator", func() {
	var (
		calls   int
		handler http.Handler
	)

	BeforeEach(func() {
		validator, err := middleware.NewOpenAPIValidator(context.Background(), api.Spec)
		Expect(err).NotTo(HaveOccurred())

		calls = 0
		handler = validator.RequestBody("/api/payments/session")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			body, _ := io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(body)
		}))
	})

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/payments/session", strings.NewReader(body)))
		return rec
	}

	It("should pass a valid body through unchanged", func() {
		rec := post(`{"amount":500,"currency":"usd","metadata":{"order":"A1"}}`)

		Expect(calls).To(Equal(1))
		Expect(rec.Code).To(Equal(http.StatusCreated))
		Expect(rec.Body.String()).To(Equal(`{"amount":500,"currency":"usd","metadata":{"order":"A1"}}`))
	})

	DescribeTable("should reject bodies that break the schema",
		func(body string, code apperrors.ErrorCode) {
			rec := post(body)

			Expect(calls).To(BeZero())
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(decode(rec)).To(HaveKeyWithValue("code", string(code)))
		},
		Entry("missing amount", `{"currency":"PKR"}`, apperrors.ErrCodeInvalidAmount),
		Entry("string amount", `{"amount":"500"}`, apperrors.ErrCodeInvalidAmount),
		Entry("zero amount", `{"amount":0}`, apperrors.ErrCodeInvalidAmount),
		Entry("negative amount", `{"amount":-5}`, apperrors.ErrCodeInvalidAmount),
		Entry("amount past the column limit", `{"amount":1000000000000}`, apperrors.ErrCodeInvalidAmount),
		Entry("bad currency", `{"amount":5,"currency":"RUPEES"}`, apperrors.ErrCodeInvalidCurrency),
		Entry("non-object metadata", `{"amount":5,"metadata":"x"}`, apperrors.ErrCodeInvalidRequest),
		Entry("malformed JSON", `{"amount":`, apperrors.ErrCodeInvalidRequest),
	)

	It("should accept the largest storable amount", func() {
		post(`{"amount":999999999999.99}`)

		Expect(calls).To(Equal(1))
	})

	It("should ignore methods without a documented body", func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/payments/session", nil))

		Expect(calls).To(Equal(1))
	})
})
