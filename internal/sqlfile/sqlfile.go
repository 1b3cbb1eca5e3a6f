// Package sqlfile builds migration descriptors from a directory of SQL
// scripts named <version>_<name>.up.sql and <version>_<name>.down.sql.
package sqlfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"dbmigrator/internal/db"
	"dbmigrator/internal/migrate"
)

// ManifestFile optionally carries per-version metadata next to the scripts.
const ManifestFile = "migrations.yaml"

var (
	ErrInvalidFileName = errors.New("invalid migration file name")
	// ErrIrreversible is returned by Down when no down script exists.
	ErrIrreversible = migrate.ErrIrreversible
)

type manifest struct {
	Migrations []manifestEntry `yaml:"migrations"`
}

type manifestEntry struct {
	Version  int64  `yaml:"version"`
	Name     string `yaml:"name"`
	Schema   string `yaml:"schema"`
	Ignore   bool   `yaml:"ignore"`
	Obsolete bool   `yaml:"obsolete"`
}

// script runs SQL text through the Transformer.
type script struct {
	up      string
	down    string
	hasDown bool
}

func (s script) Up(ctx context.Context, tx db.Transformer) error {
	return tx.ExecScript(ctx, s.up)
}

func (s script) Down(ctx context.Context, tx db.Transformer) error {
	if !s.hasDown {
		return ErrIrreversible
	}
	return tx.ExecScript(ctx, s.down)
}

type pair struct {
	version  int64
	label    string
	up, down string
	hasUp    bool
	hasDown  bool
}

// Dir is a migrate.Source reading from a directory on disk.
type Dir string

func (d Dir) Descriptors() ([]migrate.Descriptor, error) {
	return Load(os.DirFS(string(d)), ".")
}

// NewRegistry returns a registry holding the migrations registered with
// migrate.Register plus the scripts found in dir.
func NewRegistry(dir string, logger *slog.Logger) (*migrate.Registry, error) {
	reg := migrate.NewRegistry(logger)
	reg.Register(migrate.DefaultRegistry.All()...)
	if dir == "" {
		return reg, nil
	}
	if err := reg.Load(Dir(dir)); err != nil {
		return nil, fmt.Errorf("load migrations from %s: %w", dir, err)
	}
	return reg, nil
}

// Load reads every migration script in dir. Files that do not end in .sql
// are skipped, except the manifest.
func Load(fsys fs.FS, dir string) ([]migrate.Descriptor, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	meta, err := readManifest(fsys, dir)
	if err != nil {
		return nil, err
	}

	pairs := map[string]*pair{}
	var order []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, label, direction, err := parseFileName(entry.Name())
		if err != nil {
			return nil, err
		}
		body, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		key := strconv.FormatInt(version, 10) + "_" + label
		p, ok := pairs[key]
		if !ok {
			p = &pair{version: version, label: label}
			pairs[key] = p
			order = append(order, key)
		}
		switch direction {
		case migrate.Up:
			if p.hasUp {
				return nil, fmt.Errorf("%w: %s has more than one up script", ErrInvalidFileName, key)
			}
			p.up, p.hasUp = string(body), true
		case migrate.Down:
			p.down, p.hasDown = string(body), true
		}
	}

	out := make([]migrate.Descriptor, 0, len(order))
	for _, key := range order {
		p := pairs[key]
		if !p.hasUp {
			return nil, fmt.Errorf("%w: %s has a down script but no up script", ErrInvalidFileName, key)
		}
		s := script{up: p.up, down: p.down, hasDown: p.hasDown}
		d := migrate.Descriptor{
			Version: p.version,
			Name:    migrate.HumanName(p.label),
			New:     func() migrate.Migration { return s },
		}
		if m, ok := meta[p.version]; ok {
			d.Schema = m.Schema
			d.Ignore = m.Ignore
			d.Obsolete = m.Obsolete
			if m.Name != "" {
				d.Name = m.Name
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func readManifest(fsys fs.FS, dir string) (map[int64]manifestEntry, error) {
	raw, err := fs.ReadFile(fsys, path.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ManifestFile, err)
	}
	var m manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ManifestFile, err)
	}
	out := make(map[int64]manifestEntry, len(m.Migrations))
	for _, e := range m.Migrations {
		out[e.Version] = e
	}
	return out, nil
}

// parseFileName splits "0003_add_email.up.sql" into 3, "add_email" and Up.
// The bare "<version>_<name>.sql" form is an up script.
func parseFileName(name string) (int64, string, migrate.Direction, error) {
	base := strings.TrimSuffix(name, ".sql")
	dir := migrate.Up
	switch {
	case strings.HasSuffix(base, ".up"):
		base = strings.TrimSuffix(base, ".up")
	case strings.HasSuffix(base, ".down"):
		base = strings.TrimSuffix(base, ".down")
		dir = migrate.Down
	}

	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 || parts[1] == "" {
		return 0, "", "", fmt.Errorf("%w: %s", ErrInvalidFileName, name)
	}
	version, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("%w: %s: %v", ErrInvalidFileName, name, err)
	}
	return version, parts[1], dir, nil
}
