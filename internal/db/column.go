package db

import (
	"fmt"
	"strings"
)

// ColumnType is a database-neutral column type. Each Dialect maps it to its
// own DDL type name.
type ColumnType int

const (
	TypeUnknown ColumnType = iota
	TypeString
	TypeFixedString
	TypeText
	TypeBoolean
	TypeInt16
	TypeInt32
	TypeInt64
	TypeDecimal
	TypeFloat
	TypeDouble
	TypeDate
	TypeTime
	TypeDateTime
	TypeBinary
	TypeGUID
)

var columnTypeNames = map[ColumnType]string{
	TypeUnknown:     "unknown",
	TypeString:      "string",
	TypeFixedString: "fixed_string",
	TypeText:        "text",
	TypeBoolean:     "boolean",
	TypeInt16:       "int16",
	TypeInt32:       "int32",
	TypeInt64:       "int64",
	TypeDecimal:     "decimal",
	TypeFloat:       "float",
	TypeDouble:      "double",
	TypeDate:        "date",
	TypeTime:        "time",
	TypeDateTime:    "datetime",
	TypeBinary:      "binary",
	TypeGUID:        "guid",
}

func (t ColumnType) String() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ColumnType(%d)", int(t))
}

// ColumnProperty is a set of column constraints.
type ColumnProperty uint

const (
	PropertyNone ColumnProperty = 0
	Null         ColumnProperty = 1 << (iota - 1)
	NotNull
	PrimaryKey
	Identity
	Unique
	Indexed
	Unsigned
)

// PrimaryKeyWithIdentity is an auto-generated primary key.
const PrimaryKeyWithIdentity = PrimaryKey | Identity

func (p ColumnProperty) String() string {
	if p == PropertyNone {
		return "none"
	}
	names := []struct {
		flag ColumnProperty
		name string
	}{
		{Null, "null"},
		{NotNull, "not_null"},
		{PrimaryKey, "primary_key"},
		{Identity, "identity"},
		{Unique, "unique"},
		{Indexed, "indexed"},
		{Unsigned, "unsigned"},
	}
	var parts []string
	for _, n := range names {
		if p&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Raw is a column default that is emitted verbatim as an SQL expression
// instead of being quoted as a literal.
type Raw string

// Column describes a table column independently of any database engine.
type Column struct {
	Name      string
	Type      ColumnType
	Size      int
	Precision int
	Scale     int
	Property  ColumnProperty
	Default   any
}

// NewColumn builds a column with the given properties combined.
func NewColumn(name string, typ ColumnType, props ...ColumnProperty) Column {
	c := Column{Name: name, Type: typ}
	for _, p := range props {
		c.Property |= p
	}
	return c
}

// WithSize returns a copy of c with Size set.
func (c Column) WithSize(size int) Column {
	c.Size = size
	return c
}

// WithPrecision returns a copy of c with Precision and Scale set.
func (c Column) WithPrecision(precision, scale int) Column {
	c.Precision = precision
	c.Scale = scale
	return c
}

// WithDefault returns a copy of c with Default set.
func (c Column) WithDefault(v any) Column {
	c.Default = v
	return c
}

// Has reports whether every flag in p is set on the column.
func (c Column) Has(p ColumnProperty) bool {
	return p != PropertyNone && c.Property&p == p
}

func (c Column) IsPrimaryKey() bool { return c.Has(PrimaryKey) }

func (c Column) IsIdentity() bool { return c.Has(Identity) }

// IsNullable reports whether the column accepts NULL. Primary keys never do.
func (c Column) IsNullable() bool {
	if c.Has(PrimaryKey) || c.Has(NotNull) {
		return false
	}
	return true
}

// ForeignKeyRule is the referential action taken when a referenced row is
// deleted.
type ForeignKeyRule int

const (
	NoAction ForeignKeyRule = iota
	Cascade
	SetNull
	SetDefault
	Restrict
)

// SQL returns the action keyword used in ON DELETE clauses.
func (r ForeignKeyRule) SQL() string {
	switch r {
	case Cascade:
		return "CASCADE"
	case SetNull:
		return "SET NULL"
	case SetDefault:
		return "SET DEFAULT"
	case Restrict:
		return "RESTRICT"
	default:
		return "NO ACTION"
	}
}

func primaryKeyColumns(columns []Column) []string {
	var out []string
	for _, c := range columns {
		if c.IsPrimaryKey() {
			out = append(out, c.Name)
		}
	}
	return out
}
