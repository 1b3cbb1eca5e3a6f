package httpserver

import (
	"log/slog"
	"net/http"
	"strconv"

	"dbmigrator/internal/migrate"
)

type MigrationHandler struct {
	open    Opener
	catalog migrate.Catalog
	schema  string
	logger  *slog.Logger
}

func NewMigrationHandler(open Opener, catalog migrate.Catalog, schema string, logger *slog.Logger) *MigrationHandler {
	return &MigrationHandler{
		open:    open,
		catalog: catalog,
		schema:  schema,
		logger:  logger,
	}
}

func (h *MigrationHandler) List(w http.ResponseWriter, r *http.Request) {
	showObsolete := false
	if raw := r.URL.Query().Get("obsolete"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_obsolete", "obsolete must be a boolean")
			return
		}
		showObsolete = v
	}

	sess, ok := openSession(w, r, h.open, h.logger)
	if !ok {
		return
	}
	defer sess.Close()

	entries, err := h.engine(sess).List(r.Context(), showObsolete)
	if err != nil {
		h.fail(w, "list migrations failed", "list_failed", err)
		return
	}
	if entries == nil {
		entries = []migrate.ListEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"migrations": entries})
}

// Plan reports the steps a migrate run would take without executing them.
func (h *MigrationHandler) Plan(w http.ResponseWriter, r *http.Request) {
	var target *int64
	if raw := r.URL.Query().Get("target"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_target", "target must be an integer version")
			return
		}
		target = &v
	}

	sess, ok := openSession(w, r, h.open, h.logger)
	if !ok {
		return
	}
	defer sess.Close()

	engine := h.engine(sess)
	var (
		plan migrate.Plan
		err  error
	)
	if target == nil {
		plan, err = engine.PlanLatest(r.Context())
	} else {
		plan, err = engine.Plan(r.Context(), *target)
	}
	if err != nil {
		h.fail(w, "plan failed", "plan_failed", err)
		return
	}
	if plan.Steps == nil {
		plan.Steps = []migrate.Step{}
	}
	writeJSON(w, http.StatusOK, plan)
}

func (h *MigrationHandler) engine(sess Session) *migrate.Engine {
	return migrate.New(sess, h.catalog, migrate.WithSchema(h.schema), migrate.WithLogger(h.logger))
}

func (h *MigrationHandler) fail(w http.ResponseWriter, msg, code string, err error) {
	if migrate.IsResolutionError(err) {
		writeError(w, http.StatusConflict, "resolution_failed", err.Error())
		return
	}
	h.logger.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, code, err.Error())
}
