// Package handler holds the thin HTTP handlers of the API. Each handler
// declares the service methods it needs as a local interface.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidQuery), errors.Is(err, domain.ErrUnknownStrategy):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrOutOfOrder), errors.Is(err, domain.ErrStrategyFailure):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// writeServiceError maps err to a status and writes it. Client errors carry
// the error text; server errors are logged and answered generically.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

// queryParams reads typed query parameters, remembering the first bad one.
type queryParams struct {
	r   *http.Request
	err error
}

func query(r *http.Request) *queryParams { return &queryParams{r: r} }

func (q *queryParams) int64(name string) int64 {
	v := strings.TrimSpace(q.r.URL.Query().Get(name))
	if v == "" || q.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		q.err = fmt.Errorf("%s: %q is not an integer: %w", name, v, domain.ErrInvalidQuery)
	}
	return n
}

func (q *queryParams) int(name string) int {
	return int(q.int64(name))
}

func (q *queryParams) float(name string) float64 {
	v := strings.TrimSpace(q.r.URL.Query().Get(name))
	if v == "" || q.err != nil {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		q.err = fmt.Errorf("%s: %q is not a number: %w", name, v, domain.ErrInvalidQuery)
	}
	return f
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("empty request body: %w", domain.ErrInvalidQuery)
		}
		return fmt.Errorf("request body: %v: %w", err, domain.ErrInvalidQuery)
	}
	return nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
