package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	errors "github.com/frahmantamala/payment-gateway-shim/internal"
)

const maxValidatedBody = 64 << 10

// fieldCodes maps a body field to the error code reported when it fails the schema.
var fieldCodes = map[string]errors.ErrorCode{
	"amount":   errors.ErrCodeInvalidAmount,
	"currency": errors.ErrCodeInvalidCurrency,
}

// OpenAPIValidator checks JSON request bodies against the embedded API document.
type OpenAPIValidator struct {
	doc *openapi3.T
}

func NewOpenAPIValidator(ctx context.Context, spec []byte) (*OpenAPIValidator, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx

	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	return &OpenAPIValidator{doc: doc}, nil
}

// RequestBody validates bodies sent to path. Methods without a documented
// JSON body pass through untouched.
func (v *OpenAPIValidator) RequestBody(path string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			schema := v.bodySchema(path, r.Method)
			if schema == nil {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValidatedBody))
			if err != nil {
				writeValidationError(w, errors.NewInvalidRequestError("request body too large or unreadable", errors.ErrCodeInvalidRequest))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			var value interface{}
			if err := json.Unmarshal(body, &value); err != nil {
				writeValidationError(w, errors.NewInvalidRequestError("invalid JSON body", errors.ErrCodeInvalidRequest))
				return
			}

			if err := schema.VisitJSON(value); err != nil {
				writeValidationError(w, schemaError(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (v *OpenAPIValidator) bodySchema(path, method string) *openapi3.Schema {
	item := v.doc.Paths.Find(path)
	if item == nil {
		return nil
	}
	op := item.GetOperation(method)
	if op == nil || op.RequestBody == nil || op.RequestBody.Value == nil {
		return nil
	}
	media := op.RequestBody.Value.Content.Get("application/json")
	if media == nil || media.Schema == nil {
		return nil
	}
	return media.Schema.Value
}

func schemaError(err error) *errors.AppError {
	var se *openapi3.SchemaError
	if !stderrors.As(err, &se) {
		return errors.NewInvalidRequestError(err.Error(), errors.ErrCodeInvalidRequest)
	}

	field := strings.Join(se.JSONPointer(), ".")
	code := errors.ErrCodeInvalidRequest
	if pointer := se.JSONPointer(); len(pointer) > 0 {
		if c, ok := fieldCodes[pointer[0]]; ok {
			code = c
		}
	}

	message := se.Reason
	if field != "" {
		message = fmt.Sprintf("%s: %s", field, se.Reason)
	}

	return errors.NewInvalidRequestError(message, code).WithDetails(errors.ValidationErrors{
		Errors: []errors.ValidationError{{Field: field, Message: se.Reason, Code: string(code)}},
	})
}

func writeValidationError(w http.ResponseWriter, appErr *errors.AppError) {
	status, resp := appErr.ToHTTPResponse()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
