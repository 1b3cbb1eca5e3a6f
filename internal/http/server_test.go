package httpserver_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbmigrator/internal/config"
	"dbmigrator/internal/db"
	httpserver "dbmigrator/internal/http"
	"dbmigrator/internal/migrate"
	"dbmigrator/internal/testutils"
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func createUsers(ctx context.Context, tx db.Transformer) error {
	return tx.AddTable(ctx, "users",
		db.NewColumn("id", db.TypeInt64, db.PrimaryKeyWithIdentity),
		db.NewColumn("email", db.TypeString, db.NotNull),
	)
}

func dropUsers(ctx context.Context, tx db.Transformer) error {
	return tx.RemoveTable(ctx, "users")
}

func addName(ctx context.Context, tx db.Transformer) error {
	return tx.AddColumn(ctx, "users", db.NewColumn("name", db.TypeString))
}

func catalog(t *testing.T, extra ...migrate.Descriptor) *migrate.Registry {
	reg := migrate.NewRegistry(testutils.Logger(t))
	reg.Register(
		migrate.Descriptor{Version: 1, Name: "Create users", New: func() migrate.Migration {
			return migrate.Funcs{UpFunc: createUsers, DownFunc: dropUsers}
		}},
		migrate.Descriptor{Version: 2, Name: "Add name", New: func() migrate.Migration {
			return migrate.Funcs{UpFunc: addName}
		}},
	)
	reg.Register(extra...)
	return reg
}

func opener(t *testing.T, sqlDB *sql.DB) httpserver.Opener {
	return func(ctx context.Context) (httpserver.Session, error) {
		p, err := db.New(ctx, sqlDB, db.NewSQLiteDialect(), "", testutils.Logger(t))
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// newServer returns a handler over a database migrated to version 1.
func newServer(t *testing.T, reg *migrate.Registry) http.Handler {
	t.Helper()
	ctx := context.Background()

	sqlDB := testutils.SQLiteDB(t)
	p, err := db.New(ctx, sqlDB, db.NewSQLiteDialect(), "", testutils.Logger(t))
	require.NoError(t, err)
	_, err = migrate.New(p, catalog(t)).MigrateTo(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	srv := httpserver.New(config.HTTP{Address: ":0"}, testutils.Logger(t), opener(t, sqlDB), reg, "")
	return srv.Handler()
}

func get(t *testing.T, h http.Handler, target string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	return rec.Code
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		h := newServer(t, catalog(t))
		var body map[string]string
		assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/health", &body))
		assert.Equal(t, map[string]string{"status": "ok", "db": "ok"}, body)
	})

	t.Run("database unreachable", func(t *testing.T) {
		failing := func(context.Context) (httpserver.Session, error) {
			return nil, errors.New("connection refused")
		}
		h := httpserver.New(config.HTTP{}, nil, failing, catalog(t), "").Handler()
		var body errorBody
		assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/v1/health", &body))
		assert.Equal(t, "service_unhealthy", body.Error.Code)
	})
}

func TestMigrations(t *testing.T) {
	reg := catalog(t, migrate.Descriptor{Version: 3, Name: "Legacy", Obsolete: true, New: func() migrate.Migration {
		return migrate.Funcs{}
	}})
	h := newServer(t, reg)

	var body struct {
		Migrations []migrate.ListEntry `json:"migrations"`
	}
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/migrations", &body))
	assert.Equal(t, []migrate.ListEntry{
		{Version: 1, Name: "Create users", Applied: true},
		{Version: 2, Name: "Add name"},
		{Version: 3, Name: "Legacy", Obsolete: true},
	}, body.Migrations)

	var bad errorBody
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/migrations?obsolete=maybe", &bad))
	assert.Equal(t, "invalid_obsolete", bad.Error.Code)
}

func TestPlan(t *testing.T) {
	h := newServer(t, catalog(t))

	t.Run("latest", func(t *testing.T) {
		var plan migrate.Plan
		assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/plan", &plan))
		assert.Equal(t, int64(1), plan.Current)
		assert.Equal(t, int64(2), plan.Target)
		assert.Equal(t, migrate.Up, plan.Direction)
		require.Len(t, plan.Steps, 1)
		assert.Equal(t, int64(2), plan.Steps[0].Version)
		assert.Equal(t, "Add name", plan.Steps[0].Name)
	})

	t.Run("explicit target", func(t *testing.T) {
		var plan migrate.Plan
		assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/plan?target=0", &plan))
		assert.Equal(t, migrate.Down, plan.Direction)
		require.Len(t, plan.Steps, 1)
		assert.Equal(t, int64(1), plan.Steps[0].Version)
	})

	t.Run("current target", func(t *testing.T) {
		var plan migrate.Plan
		assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/plan?target=1", &plan))
		assert.NotNil(t, plan.Steps)
		assert.Empty(t, plan.Steps)
	})

	t.Run("bad target", func(t *testing.T) {
		var body errorBody
		assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/plan?target=abc", &body))
		assert.Equal(t, "invalid_target", body.Error.Code)
	})

	t.Run("never migrates", func(t *testing.T) {
		var body struct {
			Migrations []migrate.ListEntry `json:"migrations"`
		}
		get(t, h, "/api/v1/migrations", &body)
		require.Len(t, body.Migrations, 2)
		assert.False(t, body.Migrations[1].Applied)
	})
}

func TestPlanResolutionConflict(t *testing.T) {
	dup := catalog(t, migrate.Descriptor{Version: 2, Name: "Clash", New: func() migrate.Migration {
		return migrate.Funcs{}
	}})
	h := newServer(t, dup)

	var body errorBody
	assert.Equal(t, http.StatusConflict, get(t, h, "/api/v1/plan", &body))
	assert.Equal(t, "resolution_failed", body.Error.Code)
	assert.Contains(t, body.Error.Message, "2")
}

func TestSchema(t *testing.T) {
	h := newServer(t, catalog(t))

	var body struct {
		Tables []struct {
			Name    string `json:"name"`
			Columns []struct {
				Name string `json:"name"`
			} `json:"columns"`
		} `json:"tables"`
	}
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/schema", &body))
	require.Len(t, body.Tables, 1)
	assert.Equal(t, "users", body.Tables[0].Name)
	assert.Len(t, body.Tables[0].Columns, 2)
}
