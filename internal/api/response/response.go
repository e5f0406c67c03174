// Package response writes the JSON envelopes every renderq endpoint uses:
// {"data": ...} on success and {"error": {...}} on failure.
package response

import (
	"encoding/json"
	"net/http"
)

// Error codes returned in the error envelope.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeForbidden       = "FORBIDDEN"
	CodeRateLimited     = "RATE_LIMIT_EXCEEDED"
	CodeJobNotFound     = "JOB_NOT_FOUND"
	CodeJobNotRetryable = "JOB_NOT_RETRYABLE"
	CodeDegraded        = "DEGRADED"
	CodeNotImplemented  = "NOT_IMPLEMENTED"
	CodeInternal        = "INTERNAL_ERROR"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// Paginate slices items for the 1-based page and returns the page with its
// meta. Out-of-range pages come back empty; page and limit below 1 are
// treated as 1.
func Paginate[T any](items []T, page, limit int) ([]T, PaginationMeta) {
	page, limit = max(page, 1), max(limit, 1)
	meta := PaginationMeta{Page: page, Limit: limit, Total: len(items)}
	pages := len(items) / limit
	if len(items)%limit != 0 {
		pages++
	}
	// Compared before multiplying so huge pages cannot overflow.
	if page-1 >= pages {
		return []T{}, meta
	}
	start := (page - 1) * limit
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	meta.HasNext = end < len(items)
	return items[start:end], meta
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

func Collection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
