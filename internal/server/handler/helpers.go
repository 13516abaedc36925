package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/foresightmarkets/foresight/internal/domain"
)

// writeJSON marshals v and writes it with the given status code.
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

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the error taxonomy onto HTTP status codes and writes
// the sentinel's message. Unrecognized errors become an opaque 500.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	for _, m := range errorStatuses {
		if errors.Is(err, m.err) {
			status = m.status
			msg = m.err.Error()
			break
		}
	}
	writeError(w, status, msg)
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrAlreadyExists, http.StatusConflict},
	{domain.ErrAlreadyResolved, http.StatusConflict},
	{domain.ErrMarketNotOpen, http.StatusConflict},
	{domain.ErrLockHeld, http.StatusConflict},
	{domain.ErrInvalidOutcome, http.StatusBadRequest},
	{domain.ErrInvalidQuestion, http.StatusBadRequest},
	{domain.ErrInvalidCloseTime, http.StatusBadRequest},
	{domain.ErrInvalidAmount, http.StatusBadRequest},
	{domain.ErrPoolDrained, http.StatusBadRequest},
	{domain.ErrInsufficientBalance, http.StatusPaymentRequired},
	{domain.ErrRateLimited, http.StatusTooManyRequests},
	{domain.ErrUnauthorized, http.StatusUnauthorized},
}

// decodeBody unmarshals the request body into v, rejecting unknown fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseListOpts extracts pagination from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

// userID resolves the acting user from the X-User-ID header or a body field
// already parsed by the caller. Empty means unidentified.
func userID(r *http.Request, bodyUser string) string {
	if bodyUser != "" {
		return bodyUser
	}
	return r.Header.Get("X-User-ID")
}
