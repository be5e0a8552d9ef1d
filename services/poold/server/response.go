package server

import (
	"encoding/json"
	"errors"
	"net/http"
)

var errUnauthorized = errors.New("authentication required")

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, bodyForError(err))
}

// translateEngineError maps an engine error onto the right HTTP status and
// writes the JSON error body, mirroring the teacher's translateEngineError.
func translateEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, errUnauthorized) {
		writeJSON(w, http.StatusUnauthorized, errorBody{Code: -1, Message: err.Error()})
		return
	}
	writeError(w, statusForError(err), err)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
