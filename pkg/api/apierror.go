// Package api provides RFC 7807 Problem Detail error responses for the
// Trust Primitive HTTP surface. Grounded on the reference repo's
// pkg/api (ProblemDetail/WriteError family), generalized to translate
// the trusterr taxonomy's Kind into the right HTTP status rather than
// requiring every call site to pick one by hand.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/trustprimitive/core/pkg/trusterr"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail, code string) {
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://trustprimitive.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
		Code:   code,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteErrorR enriches the response with request context (instance
// path, trace id from a response header set by earlier middleware).
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail, code string) {
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://trustprimitive.dev/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Code:     code,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// statusForKind maps the trusterr taxonomy's Kind to the HTTP status a
// caller should see (spec §7's classification drives transport framing,
// not just internal retry logic).
func statusForKind(kind trusterr.Kind) int {
	switch kind {
	case trusterr.KindProtocol:
		return http.StatusConflict
	case trusterr.KindCryptographic:
		return http.StatusUnauthorized
	case trusterr.KindConcurrency:
		return http.StatusConflict
	case trusterr.KindIntegrity:
		return http.StatusInternalServerError
	case trusterr.KindSLA:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// WriteTrustError converts any error into an RFC 7807 response. Errors
// that wrap a *trusterr.Sentinel surface their stable code and a
// kind-appropriate status; anything else (a genuine bug, not a
// protocol-level rejection) is treated as 500 and logged, never
// exposing its message to the client.
func WriteTrustError(w http.ResponseWriter, r *http.Request, err error) {
	var sentinel *trusterr.Sentinel
	if !errors.As(err, &sentinel) {
		slog.Error("unclassified internal error", "error", err)
		WriteErrorR(w, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred.", "")
		return
	}

	status := statusForKind(sentinel.Kind)
	WriteErrorR(w, r, status, titleForStatus(status), err.Error(), sentinel.Code)
}

func titleForStatus(status int) string {
	if title := http.StatusText(status); title != "" {
		return title
	}
	return "Error"
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail, "")
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail, "")
}

// WriteTooManyRequests writes a 429 error response with Retry-After,
// used when trusterr.ErrRateLimited surfaces from the middleware layer
// (spec §5: "the core never retries on the caller's behalf").
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limited; retry after the specified interval.", trusterr.CodeOf(trusterr.Wrap(trusterr.ErrRateLimited, "")))
}

// WriteInternal writes a 500 error response without ever exposing err
// to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.", "")
}
