package httpserver

import (
	"log/slog"
	"net/http"

	"dbmigrator/internal/dump"
)

type SchemaHandler struct {
	open   Opener
	logger *slog.Logger
}

func NewSchemaHandler(open Opener, logger *slog.Logger) *SchemaHandler {
	return &SchemaHandler{open: open, logger: logger}
}

// Get returns the introspected tables, leaving out the tracking table.
func (h *SchemaHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := openSession(w, r, h.open, h.logger)
	if !ok {
		return
	}
	defer sess.Close()

	doc, err := dump.Build(r.Context(), sess)
	if err != nil {
		h.logger.Error("schema dump failed", "error", err)
		writeError(w, http.StatusInternalServerError, "dump_failed", "failed to read schema")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}
