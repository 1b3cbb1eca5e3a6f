package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := errorBody{}
	body.Error.Code = code
	body.Error.Message = message
	writeJSON(w, status, body)
}

// openSession opens a Session for r, answering 500 itself when that fails.
func openSession(w http.ResponseWriter, r *http.Request, open Opener, logger *slog.Logger) (Session, bool) {
	sess, err := open(r.Context())
	if err != nil {
		logger.Error("open session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "open_failed", "failed to connect to database")
		return nil, false
	}
	return sess, true
}
