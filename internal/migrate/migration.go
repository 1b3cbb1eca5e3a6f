package migrate

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"dbmigrator/internal/db"
)

// Migration is one versioned schema change.
type Migration interface {
	Up(ctx context.Context, tx db.Transformer) error
	Down(ctx context.Context, tx db.Transformer) error
}

// Funcs adapts plain functions to Migration. A nil DownFunc makes the
// migration irreversible.
type Funcs struct {
	UpFunc   func(ctx context.Context, tx db.Transformer) error
	DownFunc func(ctx context.Context, tx db.Transformer) error
}

func (f Funcs) Up(ctx context.Context, tx db.Transformer) error {
	if f.UpFunc == nil {
		return nil
	}
	return f.UpFunc(ctx, tx)
}

func (f Funcs) Down(ctx context.Context, tx db.Transformer) error {
	if f.DownFunc == nil {
		return ErrIrreversible
	}
	return f.DownFunc(ctx, tx)
}

// Direction is the way a step moves the schema.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Descriptor is the registration record for one migration. Schema is the
// optional tag partitioning independent histories. Ignored descriptors are
// never eligible. Obsolete ones still run but are hidden from listings once
// applied. New must be free of side effects: it is also called to derive a
// display name when Name is empty.
type Descriptor struct {
	Version  int64
	Schema   string
	Ignore   bool
	Obsolete bool
	Name     string
	New      func() Migration
}

// DisplayName returns Name, or a readable name derived from the migration
// type. The fallback instantiates the migration once; Registry.Register
// stores its result.
func (d Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	if d.New != nil {
		t := reflect.TypeOf(d.New())
		for t != nil && t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t != nil && t.Name() != "" && t.Name() != "Funcs" {
			return HumanName(t.Name())
		}
	}
	return fmt.Sprintf("Migration %d", d.Version)
}

// HumanName turns identifiers such as "AddUsersTable" or
// "add_users_table" into "Add users table".
func HumanName(name string) string {
	var words []string
	var current []rune
	runes := []rune(name)
	flush := func() {
		if len(current) > 0 {
			words = append(words, strings.ToLower(string(current)))
			current = current[:0]
		}
	}
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || unicode.IsSpace(r):
			flush()
			continue
		case unicode.IsUpper(r) && i > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		current = append(current, r)
	}
	flush()
	if len(words) == 0 {
		return ""
	}
	first := []rune(words[0])
	first[0] = unicode.ToUpper(first[0])
	words[0] = string(first)
	return strings.Join(words, " ")
}
