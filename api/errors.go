package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/emfabro/steelgate/login"
)

const maxAuthBodySize = 16 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeForbidden(w http.ResponseWriter) {
	writeError(w, http.StatusForbidden, "permission denied")
}

func (a *API) writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// mapError translates a login error kind into a response. Login families
// carry their code, guard failures are a bare 403, anything else is a
// generic 500.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	var le *login.Error
	if !errors.As(err, &le) {
		a.writeInternalError(w, r, err)
		return
	}
	switch le.Kind {
	case login.KindCredentialMismatch, login.KindAccountLocked,
		login.KindAccountDisabled, login.KindAccountNotActivated:
		writeJSON(w, http.StatusBadRequest, LoginErrorResponse{Error: le.Message, Code: int(le.Code)})
	case login.KindInvalidRequest:
		writeError(w, http.StatusBadRequest, le.Message)
	case login.KindForbidden, login.KindTokenNotFound:
		writeForbidden(w)
	default:
		a.writeInternalError(w, r, err)
	}
}

// decodeJSON reads a bounded JSON body into T, writing the error response
// itself when it returns false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is required")
		default:
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}
