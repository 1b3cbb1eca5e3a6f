package migrate_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbmigrator/internal/db"
	"dbmigrator/internal/migrate"
	"dbmigrator/internal/testutils"
)

// recorder collects the order in which migration code runs.
type recorder struct {
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

// tableMigration creates table_<v> on the way up and drops it on the way
// down.
func tableMigration(rec *recorder, version int64) migrate.Descriptor {
	table := fmt.Sprintf("table_%d", version)
	return migrate.Descriptor{
		Version: version,
		Name:    fmt.Sprintf("Create %s", table),
		New: func() migrate.Migration {
			return migrate.Funcs{
				UpFunc: func(ctx context.Context, tx db.Transformer) error {
					rec.add("%d up", version)
					return tx.AddTable(ctx, table, db.NewColumn("id", db.TypeInt64, db.PrimaryKey))
				},
				DownFunc: func(ctx context.Context, tx db.Transformer) error {
					rec.add("%d down", version)
					return tx.RemoveTable(ctx, table)
				},
			}
		},
	}
}

func newRegistry(t *testing.T, descriptors ...migrate.Descriptor) *migrate.Registry {
	t.Helper()
	reg := migrate.NewRegistry(testutils.Logger(t))
	reg.Register(descriptors...)
	return reg
}

func appliedVersions(t *testing.T, p migrate.Provider) []int64 {
	t.Helper()
	versions, err := p.AppliedVersions(context.Background())
	require.NoError(t, err)
	return versions
}

func tableExists(t *testing.T, p db.Transformer, table string) bool {
	t.Helper()
	ok, err := p.TableExists(context.Background(), table)
	require.NoError(t, err)
	return ok
}

func TestMigrateToLatest(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	p, _ := testutils.SQLiteProvider(t, "")
	reg := newRegistry(t,
		tableMigration(rec, 3),
		tableMigration(rec, 1),
		tableMigration(rec, 2),
		migrate.Descriptor{Version: 4, Ignore: true, New: func() migrate.Migration { return migrate.Funcs{} }},
		migrate.Descriptor{Version: 5, Schema: "other", New: func() migrate.Migration { return migrate.Funcs{} }},
	)

	engine := migrate.New(p, reg, migrate.WithLogger(testutils.Logger(t)))
	assert.Equal(t, migrate.StateIdle, engine.State())

	result, err := engine.MigrateToLatest(ctx)
	require.NoError(t, err)

	assert.Equal(t, migrate.StateCommitted, result.State)
	assert.Equal(t, migrate.StateCommitted, engine.State())
	assert.NotEqual(t, uuid.Nil, result.RunID)
	assert.Equal(t, []string{"1 up", "2 up", "3 up"}, rec.events)
	assert.Equal(t, []int64{1, 2, 3}, appliedVersions(t, p))
	assert.Len(t, result.Executed, 3)
	assert.Equal(t, int64(3), result.Plan.Target)

	t.Run("second run is empty", func(t *testing.T) {
		rec.events = nil
		result, err := engine.MigrateToLatest(ctx)
		require.NoError(t, err)
		assert.True(t, result.Plan.Empty())
		assert.Empty(t, rec.events)
		assert.Equal(t, []int64{1, 2, 3}, appliedVersions(t, p))
	})
}

func TestMigrateToScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("up from 1 to 3", func(t *testing.T) {
		rec := &recorder{}
		p, _ := testutils.SQLiteProvider(t, "")
		reg := newRegistry(t, tableMigration(rec, 1), tableMigration(rec, 2), tableMigration(rec, 3))
		engine := migrate.New(p, reg)

		_, err := engine.MigrateTo(ctx, 1)
		require.NoError(t, err)
		rec.events = nil

		result, err := engine.MigrateTo(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, migrate.Up, result.Plan.Direction)
		assert.Equal(t, []string{"2 up", "3 up"}, rec.events)
		assert.Equal(t, []int64{1, 2, 3}, appliedVersions(t, p))
	})

	t.Run("down from 3 to 1", func(t *testing.T) {
		rec := &recorder{}
		p, _ := testutils.SQLiteProvider(t, "")
		reg := newRegistry(t, tableMigration(rec, 1), tableMigration(rec, 2), tableMigration(rec, 3))
		engine := migrate.New(p, reg)

		_, err := engine.MigrateTo(ctx, 3)
		require.NoError(t, err)
		rec.events = nil

		result, err := engine.MigrateTo(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, migrate.Down, result.Plan.Direction)
		assert.Equal(t, []string{"3 down", "2 down"}, rec.events)
		assert.Equal(t, []int64{1}, appliedVersions(t, p))
		assert.True(t, tableExists(t, p, "table_1"))
		assert.False(t, tableExists(t, p, "table_2"))
	})

	t.Run("failing step leaves earlier state", func(t *testing.T) {
		rec := &recorder{}
		p, _ := testutils.SQLiteProvider(t, "")
		boom := errors.New("boom")
		failing := migrate.Descriptor{
			Version: 2,
			Name:    "Broken",
			New: func() migrate.Migration {
				return migrate.Funcs{UpFunc: func(ctx context.Context, tx db.Transformer) error {
					rec.add("2 up")
					if err := tx.AddTable(ctx, "partial", db.NewColumn("id", db.TypeInt32, db.PrimaryKey)); err != nil {
						return err
					}
					return boom
				}}
			},
		}
		reg := newRegistry(t, tableMigration(rec, 1), failing, tableMigration(rec, 3))
		engine := migrate.New(p, reg)

		_, err := engine.MigrateTo(ctx, 1)
		require.NoError(t, err)

		result, err := engine.MigrateTo(ctx, 3)
		var stepErr *migrate.StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, int64(2), stepErr.Version)
		assert.Equal(t, "Broken", stepErr.Name)
		assert.Equal(t, migrate.Up, stepErr.Direction)
		assert.ErrorIs(t, err, boom)

		assert.Equal(t, migrate.StateAborted, result.State)
		assert.Equal(t, migrate.StateAborted, engine.State())
		assert.Empty(t, result.Executed)
		assert.Equal(t, []string{"1 up", "2 up"}, rec.events)
		assert.Equal(t, []int64{1}, appliedVersions(t, p))
		assert.False(t, tableExists(t, p, "partial"))
	})

	t.Run("target beyond catalog stops at highest", func(t *testing.T) {
		rec := &recorder{}
		p, _ := testutils.SQLiteProvider(t, "")
		engine := migrate.New(p, newRegistry(t, tableMigration(rec, 1), tableMigration(rec, 5)))

		result, err := engine.MigrateTo(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, appliedVersions(t, p))

		result, err = engine.MigrateTo(ctx, 100)
		require.NoError(t, err)
		assert.Len(t, result.Executed, 1)
		assert.Equal(t, []int64{1, 5}, appliedVersions(t, p))
	})

	t.Run("negative target clamps to zero", func(t *testing.T) {
		rec := &recorder{}
		p, _ := testutils.SQLiteProvider(t, "")
		engine := migrate.New(p, newRegistry(t, tableMigration(rec, 1), tableMigration(rec, 2)))

		_, err := engine.MigrateToLatest(ctx)
		require.NoError(t, err)

		result, err := engine.MigrateTo(ctx, -7)
		require.NoError(t, err)
		assert.Equal(t, int64(0), result.Plan.Target)
		assert.Empty(t, appliedVersions(t, p))
	})
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	for _, v := range []int64{1, 2, 3} {
		t.Run(fmt.Sprintf("version %d", v), func(t *testing.T) {
			rec := &recorder{}
			build := func() []migrate.Descriptor {
				return []migrate.Descriptor{tableMigration(rec, 1), tableMigration(rec, 2), tableMigration(rec, 3)}
			}

			fresh, _ := testutils.SQLiteProvider(t, "")
			_, err := migrate.New(fresh, newRegistry(t, build()...)).MigrateTo(ctx, v)
			require.NoError(t, err)
			want := appliedVersions(t, fresh)

			p, _ := testutils.SQLiteProvider(t, "")
			engine := migrate.New(p, newRegistry(t, build()...))
			_, err = engine.MigrateTo(ctx, v)
			require.NoError(t, err)
			_, err = engine.MigrateTo(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, appliedVersions(t, p))
			_, err = engine.MigrateTo(ctx, v)
			require.NoError(t, err)

			assert.Equal(t, want, appliedVersions(t, p))
		})
	}
}

func TestDuplicateVersions(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	p, _ := testutils.SQLiteProvider(t, "")
	dup := tableMigration(rec, 2)
	dup.Name = "Another two"
	engine := migrate.New(p, newRegistry(t, tableMigration(rec, 1), tableMigration(rec, 2), dup))

	_, err := engine.Plan(ctx, 2)
	var dupErr *migrate.DuplicateVersionError
	require.ErrorAs(t, err, &dupErr)
	assert.Equal(t, int64(2), dupErr.Version)

	result, err := engine.MigrateToLatest(ctx)
	require.ErrorAs(t, err, &dupErr)
	assert.True(t, migrate.IsResolutionError(err))
	assert.Equal(t, migrate.StateAborted, result.State)
	assert.Empty(t, rec.events)
	assert.False(t, tableExists(t, p, "SchemaInfo"))
	assert.False(t, tableExists(t, p, "table_1"))

	t.Run("ignored duplicate is fine", func(t *testing.T) {
		ignored := tableMigration(rec, 2)
		ignored.Ignore = true
		engine := migrate.New(p, newRegistry(t, tableMigration(rec, 1), tableMigration(rec, 2), ignored))
		_, err := engine.PlanLatest(ctx)
		assert.NoError(t, err)
	})
}

func TestMissingMigrationOnDowngrade(t *testing.T) {
	ctx := context.Background()
	p, _ := testutils.SQLiteProvider(t, "")
	require.NoError(t, p.MarkApplied(ctx, 1))
	require.NoError(t, p.MarkApplied(ctx, 9))

	engine := migrate.New(p, newRegistry(t, tableMigration(&recorder{}, 1)))
	_, err := engine.MigrateTo(ctx, 0)

	var missing *migrate.MissingMigrationError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, int64(9), missing.Version)
	assert.Equal(t, []int64{1, 9}, appliedVersions(t, p))
}

func TestSchemaTag(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	billing := tableMigration(rec, 1)
	billing.Schema = "Billing"
	shared := tableMigration(rec, 2)

	p, _ := testutils.SQLiteProvider(t, "billing")
	engine := migrate.New(p, newRegistry(t, billing, shared), migrate.WithSchema("billing"))
	assert.Equal(t, "billing", engine.Schema())

	_, err := engine.MigrateToLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1 up"}, rec.events)
	assert.True(t, tableExists(t, p, "billing.SchemaInfo"))
	assert.False(t, tableExists(t, p, "SchemaInfo"))
}

// fakeProvider records engine calls. Any Transformer method the test does
// not expect panics through the nil embedded interface.
type fakeProvider struct {
	db.Transformer

	applied []int64
	staged  []int64
	inTx    bool
	calls   []string
}

func (f *fakeProvider) AppliedVersions(context.Context) ([]int64, error) {
	return slices.Clone(f.applied), nil
}

func (f *fakeProvider) MarkApplied(_ context.Context, v int64) error {
	f.calls = append(f.calls, fmt.Sprintf("mark %d", v))
	f.staged = append(f.staged, v)
	return nil
}

func (f *fakeProvider) MarkUnapplied(_ context.Context, v int64) error {
	f.calls = append(f.calls, fmt.Sprintf("unmark %d", v))
	f.staged = append(f.staged, -v)
	return nil
}

func (f *fakeProvider) Begin(context.Context) error {
	f.calls = append(f.calls, "begin")
	f.inTx = true
	return nil
}

func (f *fakeProvider) Commit() error {
	f.calls = append(f.calls, "commit")
	for _, v := range f.staged {
		if v > 0 {
			f.applied = append(f.applied, v)
		} else {
			f.applied = slices.DeleteFunc(f.applied, func(a int64) bool { return a == -v })
		}
	}
	slices.Sort(f.applied)
	f.staged, f.inTx = nil, false
	return nil
}

func (f *fakeProvider) Rollback() error {
	f.calls = append(f.calls, "rollback")
	f.staged, f.inTx = nil, false
	return nil
}

func (f *fakeProvider) Exec(_ context.Context, query string, _ ...any) error {
	f.calls = append(f.calls, "exec "+query)
	return nil
}

func execMigration(version int64) migrate.Descriptor {
	return migrate.Descriptor{
		Version: version,
		New: func() migrate.Migration {
			return migrate.Funcs{
				UpFunc: func(ctx context.Context, tx db.Transformer) error {
					return tx.Exec(ctx, fmt.Sprintf("up %d", version))
				},
				DownFunc: func(ctx context.Context, tx db.Transformer) error {
					return tx.Exec(ctx, fmt.Sprintf("down %d", version))
				},
			}
		},
	}
}

func TestStepTransactions(t *testing.T) {
	ctx := context.Background()
	fake := &fakeProvider{applied: []int64{1}}
	engine := migrate.New(fake, newRegistry(t, execMigration(1), execMigration(2), execMigration(3)))

	_, err := engine.MigrateTo(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"begin", "exec up 2", "mark 2", "commit",
		"begin", "exec up 3", "mark 3", "commit",
	}, fake.calls)

	fake.calls = nil
	_, err = engine.MigrateTo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"begin", "exec down 3", "unmark 3", "commit",
		"begin", "exec down 2", "unmark 2", "commit",
	}, fake.calls)
	assert.Equal(t, []int64{1}, fake.applied)
}

func TestDryRun(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name    string
		applied []int64
		target  int64
		steps   []int64
	}{
		{name: "up", applied: nil, target: 3, steps: []int64{1, 2, 3}},
		{name: "down", applied: []int64{1, 2, 3}, target: 1, steps: []int64{3, 2}},
		{name: "noop", applied: []int64{1, 2}, target: 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeProvider{applied: slices.Clone(tc.applied)}
			engine := migrate.New(fake,
				newRegistry(t, execMigration(1), execMigration(2), execMigration(3)),
				migrate.WithDryRun(true),
				migrate.WithLogger(testutils.Logger(t)),
			)

			result, err := engine.MigrateTo(ctx, tc.target)
			require.NoError(t, err)
			assert.True(t, result.DryRun)
			assert.Equal(t, migrate.StateCommitted, result.State)
			assert.Empty(t, fake.calls)
			assert.Equal(t, tc.applied, fake.applied)

			var versions []int64
			for _, s := range result.Executed {
				versions = append(versions, s.Version)
			}
			assert.Equal(t, tc.steps, versions)
		})
	}

	t.Run("sqlite stays untouched", func(t *testing.T) {
		p, sqlDB := testutils.SQLiteProvider(t, "")
		engine := migrate.New(p, newRegistry(t, tableMigration(&recorder{}, 1)), migrate.WithDryRun(true))

		_, err := engine.MigrateToLatest(ctx)
		require.NoError(t, err)

		var count int
		require.NoError(t, sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master`).Scan(&count))
		assert.Zero(t, count)
	})
}

func TestPlan(t *testing.T) {
	ctx := context.Background()
	fake := &fakeProvider{applied: []int64{1}}
	obsolete := execMigration(2)
	obsolete.Obsolete = true
	engine := migrate.New(fake, newRegistry(t, execMigration(1), obsolete, execMigration(3)))

	plan, err := engine.PlanLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), plan.Current)
	assert.Equal(t, int64(3), plan.Target)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "Migration 2", plan.Steps[0].Name)
	assert.True(t, plan.Steps[0].Obsolete)
	assert.Empty(t, fake.calls)

	plan, err = engine.Plan(ctx, 1)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.Equal(t, migrate.Up, plan.Direction)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &fakeProvider{}
	engine := migrate.New(fake, newRegistry(t, execMigration(1)))
	result, err := engine.MigrateToLatest(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, migrate.StateAborted, result.State)
	assert.Empty(t, fake.calls)
}

func TestIrreversibleMigration(t *testing.T) {
	ctx := context.Background()
	fake := &fakeProvider{applied: []int64{1}}
	reg := newRegistry(t, migrate.Descriptor{
		Version: 1,
		New:     func() migrate.Migration { return migrate.Funcs{} },
	})

	_, err := migrate.New(fake, reg).MigrateTo(ctx, 0)
	assert.ErrorIs(t, err, migrate.ErrIrreversible)
	assert.Equal(t, []string{"begin", "rollback"}, fake.calls)
	assert.Equal(t, []int64{1}, fake.applied)
}
