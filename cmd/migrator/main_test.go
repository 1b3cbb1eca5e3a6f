package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbmigrator/internal/config"
	"dbmigrator/internal/migrate"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func fixture(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	migrations := filepath.Join(dir, "migrations")
	require.NoError(t, os.Mkdir(migrations, 0o755))
	for name, body := range map[string]string{
		"0001_create_users.up.sql":   `CREATE TABLE users (id integer PRIMARY KEY, name text);`,
		"0001_create_users.down.sql": `DROP TABLE users;`,
		"0002_add_email.up.sql":      `ALTER TABLE users ADD COLUMN email varchar(100);`,
		"0002_add_email.down.sql":    `ALTER TABLE users DROP COLUMN email;`,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(migrations, name), []byte(body), 0o600))
	}
	return []string{
		"--provider", "sqlite",
		"--dsn", filepath.Join(dir, "cli.db"),
		"--migrations", migrations,
		"-l", "error",
		"--timeout", "30s",
	}
}

func TestCommands(t *testing.T) {
	base := fixture(t)
	with := func(args ...string) []string {
		return append(append([]string{}, args...), base...)
	}

	out, err := execute(t, with("plan")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 0\nTarget version: 2\n")
	assert.Contains(t, out, "Create users")
	assert.Contains(t, out, "Add email")

	out, err = execute(t, with("migrate", "--dry-run")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Dry run: would migrate from version 0 to 2.")

	out, err = execute(t, with("list")...)
	require.NoError(t, err)
	assert.NotContains(t, out, "=>", "dry run applied nothing")

	out, err = execute(t, with("migrate")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Migrated from version 0 to 2.")

	out, err = execute(t, with("migrate")...)
	require.NoError(t, err)
	assert.Equal(t, "Database is already at version 2.\n", out)

	out, err = execute(t, with("list")...)
	require.NoError(t, err)
	assert.Equal(t, "Available migrations:\n=>   1 Create users\n=>   2 Add email\n", out)

	out, err = execute(t, with("dump")...)
	require.NoError(t, err)
	assert.Contains(t, out, "name: users")
	assert.Contains(t, out, "name: email")
	assert.NotContains(t, out, "SchemaInfo")

	path := filepath.Join(t.TempDir(), "schema.yaml")
	_, err = execute(t, with("dump", "--out", path)...)
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "name: users")

	out, err = execute(t, with("migrate", "--target", "1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "down")
	assert.Contains(t, out, "Migrated from version 2 to 1.")

	out, err = execute(t, with("plan", "--target", "0")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Target version: 0")
	assert.Contains(t, out, "Create users")
}

func TestArgumentErrors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		args  []string
		param string
	}{
		{name: "no provider", args: []string{"list"}, param: "provider"},
		{name: "no dsn", args: []string{"list", "--provider", "sqlite"}, param: "dsn"},
		{name: "no migrations", args: []string{"migrate", "--provider", "sqlite", "--dsn", "x.db"}, param: "migrations"},
		{name: "bad log level", args: []string{"plan", "-l", "loud"}, param: "log-level"},
		{name: "unknown flag", args: []string{"list", "--nope"}, param: "flags"},
		{name: "bad target", args: []string{"migrate", "--target", "latest"}, param: "flags"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, tc.args...)
			var argErr *config.ArgumentError
			require.ErrorAs(t, err, &argErr)
			assert.Equal(t, tc.param, argErr.Param)
		})
	}
}

func TestResolutionError(t *testing.T) {
	base := fixture(t)
	migrations := base[5]
	require.NoError(t, os.WriteFile(filepath.Join(migrations, "0002_clash.sql"), []byte(`SELECT 1;`), 0o600))

	_, err := execute(t, append([]string{"migrate"}, base...)...)
	var dup *migrate.DuplicateVersionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, int64(2), dup.Version)
}

func TestConfigFile(t *testing.T) {
	base := fixture(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"db":{"provider":"sqlite","dsn":"`+base[3]+`"},"migrations":"`+base[5]+`","logging":{"level":"error"}}`), 0o600))

	out, err := execute(t, "plan", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Target version: 2")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, `"go_version"`)
}
