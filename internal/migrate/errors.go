package migrate

import (
	"errors"
	"fmt"
)

// ErrIrreversible is returned by Down for migrations without a revert path.
var ErrIrreversible = errors.New("migration cannot be reverted")

// DuplicateVersionError means two eligible descriptors share a version.
type DuplicateVersionError struct {
	Version int64
	Schema  string
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("duplicate migration version %d%s", e.Version, schemaSuffix(e.Schema))
}

// MissingMigrationError means an applied version has no descriptor to revert
// it with.
type MissingMigrationError struct {
	Version int64
	Schema  string
}

func (e *MissingMigrationError) Error() string {
	return fmt.Sprintf("applied migration %d%s is not in the catalog", e.Version, schemaSuffix(e.Schema))
}

// StepError wraps the failure of a single migration step.
type StepError struct {
	Version   int64
	Name      string
	Direction Direction
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration %d (%s) %s failed: %v", e.Version, e.Name, e.Direction, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// IsResolutionError reports whether err was raised while computing a plan,
// before anything executed.
func IsResolutionError(err error) bool {
	var dup *DuplicateVersionError
	var missing *MissingMigrationError
	return errors.As(err, &dup) || errors.As(err, &missing)
}

func schemaSuffix(schema string) string {
	if schema == "" {
		return ""
	}
	return fmt.Sprintf(" in schema %q", schema)
}
