package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cuemby/scuttle/pkg/errdefs"
)

// maxBodyBytes caps request bodies. Bulk submissions are the largest
// legitimate payload (10k URLs).
const maxBodyBytes = 8 << 20

// ErrorResponse is the JSON body of every non-2xx response. Kind carries
// the machine-stable error class from errdefs so clients branch without
// parsing messages.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

// writeError maps a domain error onto its HTTP status via the errdefs kind.
func writeError(w http.ResponseWriter, err error) {
	kind := errdefs.Kind(err)
	writeErrorKind(w, statusForKind(kind), kind, err.Error())
}

func writeErrorKind(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

func statusForKind(kind string) int {
	switch kind {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "duplicate", "illegal_transition":
		return http.StatusConflict
	case "html_not_available":
		return http.StatusUnprocessableEntity
	case "no_proxy_available", "broker_unavailable", "store_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads the request body into v. Unknown fields are rejected so
// a typoed option fails loudly instead of silently applying defaults.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errdefs.InvalidArgument("request body exceeds %d bytes", maxBodyBytes)
		}
		return errdefs.InvalidArgument("malformed request body: %v", err)
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(w, r, v)
}

func badRequest(w http.ResponseWriter, format string, args ...interface{}) {
	writeErrorKind(w, http.StatusBadRequest, "validation", fmt.Sprintf(format, args...))
}
