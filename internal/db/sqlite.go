package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteDialect targets SQLite through modernc.org/sqlite. SQLite has no
// schemas, so a dotted name is one literal identifier.
type SQLiteDialect struct {
	sqlDialect
}

func NewSQLiteDialect() *SQLiteDialect {
	return &SQLiteDialect{sqlDialect{
		name:        "sqlite",
		driver:      "sqlite",
		quoteChar:   `"`,
		identity:    "PRIMARY KEY AUTOINCREMENT",
		trueLiteral: "1",
		types: map[ColumnType]typeSpec{
			TypeString:      {format: "varchar(%d)", size: 255},
			TypeFixedString: {format: "char(%d)", size: 1},
			TypeText:        {format: "text"},
			TypeBoolean:     {format: "boolean"},
			TypeInt16:       {format: "smallint"},
			TypeInt32:       {format: "integer"},
			TypeInt64:       {format: "bigint"},
			TypeDecimal:     {format: "decimal(%d,%d)", precision: 19, scale: 5},
			TypeFloat:       {format: "real"},
			TypeDouble:      {format: "double"},
			TypeDate:        {format: "date"},
			TypeTime:        {format: "time"},
			TypeDateTime:    {format: "datetime"},
			TypeBinary:      {format: "blob"},
			TypeGUID:        {format: "uuid"},
		},
	}}
}

// ColumnSQL renders identity columns as INTEGER PRIMARY KEY AUTOINCREMENT,
// the only form SQLite auto-generates keys for.
func (d *SQLiteDialect) ColumnSQL(c Column) (string, error) {
	if !c.IsIdentity() {
		return d.sqlDialect.ColumnSQL(c)
	}
	return d.quoteIdent(c.Name) + " INTEGER " + d.identity, nil
}

func (d *SQLiteDialect) TablePrimaryKey(columns []Column) bool {
	for _, c := range columns {
		if c.IsIdentity() {
			return false
		}
	}
	return len(primaryKeyColumns(columns)) > 0
}

func (d *SQLiteDialect) AddForeignKeySQL(name, _ string, _ []string, _ string, _ []string, _ ForeignKeyRule) (string, error) {
	return "", fmt.Errorf("%w: sqlite cannot add foreign key %s to an existing table", ErrUnsupported, name)
}

func (d *SQLiteDialect) DropForeignKeySQL(_, name string) (string, error) {
	return "", fmt.Errorf("%w: sqlite cannot drop foreign key %s", ErrUnsupported, name)
}

// AddUniqueSQL uses a unique index, which SQLite can add to existing tables.
func (d *SQLiteDialect) AddUniqueSQL(name, table string, cols []string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)", d.quoteIdent(name), d.Quote(table), d.quoteList(cols))
}

func (d *SQLiteDialect) DropConstraintSQL(_, name string) string {
	return fmt.Sprintf("DROP INDEX %s", d.quoteIdent(name))
}

func (d *SQLiteDialect) DropIndexSQL(_, name string) string {
	return fmt.Sprintf("DROP INDEX %s", d.quoteIdent(name))
}

func (d *SQLiteDialect) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	return queryCount(ctx, q, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND lower(name) = lower(?)`, table)
}

func (d *SQLiteDialect) ColumnExists(ctx context.Context, q Querier, table, column string) (bool, error) {
	return queryCount(ctx, q, `SELECT COUNT(*) FROM pragma_table_info(?) WHERE lower(name) = lower(?)`, table, column)
}

// ConstraintExists matches unique indexes by name, then named constraints in
// the stored CREATE TABLE text.
func (d *SQLiteDialect) ConstraintExists(ctx context.Context, q Querier, table, name string) (bool, error) {
	found, err := d.IndexExists(ctx, q, table, name)
	if err != nil || found {
		return found, err
	}
	return queryCount(ctx, q, `
SELECT COUNT(*) FROM sqlite_master
WHERE type = 'table' AND lower(name) = lower(?) AND instr(lower(sql), lower(?)) > 0`,
		table, "constraint "+d.quoteIdent(name))
}

func (d *SQLiteDialect) IndexExists(ctx context.Context, q Querier, table, name string) (bool, error) {
	return queryCount(ctx, q, `
SELECT COUNT(*) FROM sqlite_master
WHERE type = 'index' AND lower(tbl_name) = lower(?) AND lower(name) = lower(?)`, table, name)
}

func (d *SQLiteDialect) Tables(ctx context.Context, q Querier) ([]string, error) {
	return queryStrings(ctx, q, `
SELECT name FROM sqlite_master
WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
ORDER BY name`)
}

func (d *SQLiteDialect) Columns(ctx context.Context, q Querier, table string) ([]Column, error) {
	var createSQL sql.NullString
	err := q.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE type = 'table' AND lower(name) = lower(?)`, table).Scan(&createSQL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	autoincrement := strings.Contains(strings.ToUpper(createSQL.String), "AUTOINCREMENT")

	rows, err := q.QueryContext(ctx, `SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Column
	for rows.Next() {
		var (
			name, typ string
			notNull   bool
			def       sql.NullString
			pk        int
		)
		if err := rows.Scan(&name, &typ, &notNull, &def, &pk); err != nil {
			return nil, err
		}
		base, args := parseTypeName(typ)
		c := Column{Name: name, Type: sqliteColumnType(base)}
		applyTypeArgs(&c, args)
		if pk > 0 {
			c.Property |= PrimaryKey
			if autoincrement && base == "integer" {
				c.Property |= Identity
			}
		} else if notNull {
			c.Property |= NotNull
		}
		if def.Valid {
			c.Default = Raw(def.String)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func sqliteColumnType(base string) ColumnType {
	switch base {
	case "varchar", "nvarchar":
		return TypeString
	case "char", "nchar":
		return TypeFixedString
	case "text", "clob":
		return TypeText
	case "boolean", "bool":
		return TypeBoolean
	case "smallint":
		return TypeInt16
	case "integer", "int":
		return TypeInt32
	case "bigint":
		return TypeInt64
	case "decimal", "numeric":
		return TypeDecimal
	case "real", "float":
		return TypeFloat
	case "double":
		return TypeDouble
	case "date":
		return TypeDate
	case "time":
		return TypeTime
	case "datetime", "timestamp":
		return TypeDateTime
	case "blob":
		return TypeBinary
	case "uuid":
		return TypeGUID
	default:
		return TypeUnknown
	}
}

func (d *SQLiteDialect) IsMissingObject(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
