package migrate

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Catalog supplies the migrations eligible for a schema tag.
type Catalog interface {
	// MigrationsFor returns eligible descriptors in ascending version order.
	MigrationsFor(schema string) ([]Descriptor, error)
	// Resolve finds the eligible descriptor for version.
	Resolve(schema string, version int64) (Descriptor, bool)
}

// Source produces descriptors, for example from a directory of SQL files.
type Source interface {
	Descriptors() ([]Descriptor, error)
}

// Registry is an in-memory Catalog filled by Register calls, typically from
// init functions, or from a Source.
type Registry struct {
	mu          sync.RWMutex
	descriptors []Descriptor
	logger      *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{logger: logger}
}

// DefaultRegistry collects migrations registered with Register.
var DefaultRegistry = NewRegistry(nil)

// Register adds descriptors to DefaultRegistry.
func Register(descriptors ...Descriptor) {
	DefaultRegistry.Register(descriptors...)
}

// Register adds descriptors. A descriptor without a Name that is not
// ignored gets its display name here, so listings and plans never call the
// factory.
func (r *Registry) Register(descriptors ...Descriptor) {
	named := make([]Descriptor, len(descriptors))
	for i, d := range descriptors {
		if d.Name == "" && !d.Ignore && d.New != nil {
			d.Name = d.DisplayName()
		}
		named[i] = d
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors = append(r.descriptors, named...)
}

// Load registers everything src produces.
func (r *Registry) Load(src Source) error {
	descriptors, err := src.Descriptors()
	if err != nil {
		return err
	}
	r.Register(descriptors...)
	return nil
}

// All returns every registered descriptor, ignored ones included.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.descriptors)
}

func (r *Registry) MigrationsFor(schema string) ([]Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Descriptor
	for _, d := range r.descriptors {
		if d.Ignore {
			r.logger.Debug("skipping ignored migration", "version", d.Version, "name", d.Name)
			continue
		}
		if !sameSchema(d.Schema, schema) {
			r.logger.Debug("skipping migration for other schema",
				"version", d.Version, "migration_schema", d.Schema, "schema", schema)
			continue
		}
		if d.New == nil {
			return nil, fmt.Errorf("migration %d has no factory", d.Version)
		}
		out = append(out, d)
	}
	slices.SortStableFunc(out, func(a, b Descriptor) int {
		return cmp.Compare(a.Version, b.Version)
	})
	return out, nil
}

func (r *Registry) Resolve(schema string, version int64) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.descriptors {
		if d.Version == version && !d.Ignore && d.New != nil && sameSchema(d.Schema, schema) {
			return d, true
		}
	}
	return Descriptor{}, false
}

// LastVersion returns the highest eligible version, or 0.
func (r *Registry) LastVersion(schema string) (int64, error) {
	descriptors, err := r.MigrationsFor(schema)
	if err != nil || len(descriptors) == 0 {
		return 0, err
	}
	return descriptors[len(descriptors)-1].Version, nil
}

func sameSchema(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
