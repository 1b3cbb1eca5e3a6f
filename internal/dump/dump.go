// Package dump writes the introspected schema of a database as YAML.
package dump

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"dbmigrator/internal/db"
)

// Document is the root of a dump.
type Document struct {
	Tables []Table `json:"tables" yaml:"tables"`
}

type Table struct {
	Name    string   `json:"name" yaml:"name"`
	Columns []Column `json:"columns" yaml:"columns"`
}

type Column struct {
	Name       string `json:"name" yaml:"name"`
	Type       string `json:"type" yaml:"type"`
	Size       int    `json:"size,omitempty" yaml:"size,omitempty"`
	Precision  int    `json:"precision,omitempty" yaml:"precision,omitempty"`
	Scale      int    `json:"scale,omitempty" yaml:"scale,omitempty"`
	Nullable   bool   `json:"nullable" yaml:"nullable"`
	PrimaryKey bool   `json:"primary_key,omitempty" yaml:"primary_key,omitempty"`
	Identity   bool   `json:"identity,omitempty" yaml:"identity,omitempty"`
	Unsigned   bool   `json:"unsigned,omitempty" yaml:"unsigned,omitempty"`
	Default    string `json:"default,omitempty" yaml:"default,omitempty"`
}

// Build introspects every table except the migration tracking table.
func Build(ctx context.Context, in db.Introspector) (Document, error) {
	tables, err := in.GetTables(ctx)
	if err != nil {
		return Document{}, fmt.Errorf("list tables: %w", err)
	}

	doc := Document{Tables: make([]Table, 0, len(tables))}
	for _, name := range tables {
		if isTrackingTable(name) {
			continue
		}
		cols, err := in.GetColumns(ctx, name)
		if err != nil {
			return Document{}, fmt.Errorf("list columns of %s: %w", name, err)
		}
		t := Table{Name: name, Columns: make([]Column, 0, len(cols))}
		for _, c := range cols {
			t.Columns = append(t.Columns, fromColumn(c))
		}
		doc.Tables = append(doc.Tables, t)
	}
	return doc, nil
}

// Write dumps the schema to w.
func Write(ctx context.Context, in db.Introspector, w io.Writer) error {
	doc, err := Build(ctx, in)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode dump: %w", err)
	}
	_, err = w.Write(out)
	return err
}

// ToFile dumps the schema to the file at path, replacing it.
func ToFile(ctx context.Context, in db.Introspector, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dump file: %w", err)
	}
	if err := Write(ctx, in, f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func fromColumn(c db.Column) Column {
	out := Column{
		Name:       c.Name,
		Type:       c.Type.String(),
		Size:       c.Size,
		Precision:  c.Precision,
		Scale:      c.Scale,
		Nullable:   c.IsNullable(),
		PrimaryKey: c.IsPrimaryKey(),
		Identity:   c.IsIdentity(),
		Unsigned:   c.Has(db.Unsigned),
	}
	if c.Default != nil {
		out.Default = fmt.Sprint(c.Default)
	}
	return out
}

func isTrackingTable(name string) bool {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.EqualFold(name, db.TrackingTableName)
}
