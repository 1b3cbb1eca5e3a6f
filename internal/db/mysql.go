package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const (
	mysqlErrNoSuchTable = 1146
	mysqlErrBadDB       = 1049
)

// MySQLDialect targets MySQL 8 and MariaDB. A schema tag maps to a
// database.
type MySQLDialect struct {
	sqlDialect
}

func NewMySQLDialect() *MySQLDialect {
	return &MySQLDialect{sqlDialect{
		name:        "mysql",
		driver:      "mysql",
		quoteChar:   "`",
		qualified:   true,
		identity:    "AUTO_INCREMENT",
		unsigned:    true,
		split:       splitRules{backslashEscapes: true},
		trueLiteral: "1",
		types: map[ColumnType]typeSpec{
			TypeString:      {format: "varchar(%d)", size: 255},
			TypeFixedString: {format: "char(%d)", size: 1},
			TypeText:        {format: "longtext"},
			TypeBoolean:     {format: "tinyint(1)"},
			TypeInt16:       {format: "smallint"},
			TypeInt32:       {format: "int"},
			TypeInt64:       {format: "bigint"},
			TypeDecimal:     {format: "decimal(%d,%d)", precision: 19, scale: 5},
			TypeFloat:       {format: "float"},
			TypeDouble:      {format: "double"},
			TypeDate:        {format: "date"},
			TypeTime:        {format: "time"},
			TypeDateTime:    {format: "datetime"},
			TypeBinary:      {format: "longblob"},
			TypeGUID:        {format: "char(36)"},
		},
	}}
}

func (d *MySQLDialect) RenameTableSQL(from, to string) string {
	schema, _ := splitQualified(from)
	target := d.quoteIdent(unqualified(to))
	if schema != "" {
		target = d.quoteIdent(schema) + "." + target
	}
	return fmt.Sprintf("RENAME TABLE %s TO %s", d.Quote(from), target)
}

func (d *MySQLDialect) DropForeignKeySQL(table, name string) (string, error) {
	return fmt.Sprintf("ALTER TABLE %s DROP FOREIGN KEY %s", d.Quote(table), d.quoteIdent(name)), nil
}

func (d *MySQLDialect) DropConstraintSQL(table, name string) string {
	// MySQL implements unique constraints as indexes.
	return fmt.Sprintf("ALTER TABLE %s DROP INDEX %s", d.Quote(table), d.quoteIdent(name))
}

func (d *MySQLDialect) DropIndexSQL(table, name string) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", d.quoteIdent(name), d.Quote(table))
}

const mysqlSchemaExpr = "COALESCE(NULLIF(?, ''), DATABASE())"

func (d *MySQLDialect) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	schema, name := splitQualified(table)
	return queryCount(ctx, q, `
SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema = `+mysqlSchemaExpr+` AND lower(table_name) = lower(?)`, schema, name)
}

func (d *MySQLDialect) ColumnExists(ctx context.Context, q Querier, table, column string) (bool, error) {
	schema, name := splitQualified(table)
	return queryCount(ctx, q, `
SELECT COUNT(*) FROM information_schema.columns
WHERE table_schema = `+mysqlSchemaExpr+` AND lower(table_name) = lower(?) AND lower(column_name) = lower(?)`,
		schema, name, column)
}

func (d *MySQLDialect) ConstraintExists(ctx context.Context, q Querier, table, constraint string) (bool, error) {
	schema, name := splitQualified(table)
	return queryCount(ctx, q, `
SELECT COUNT(*) FROM information_schema.table_constraints
WHERE table_schema = `+mysqlSchemaExpr+` AND lower(table_name) = lower(?) AND lower(constraint_name) = lower(?)`,
		schema, name, constraint)
}

func (d *MySQLDialect) IndexExists(ctx context.Context, q Querier, table, index string) (bool, error) {
	schema, name := splitQualified(table)
	return queryCount(ctx, q, `
SELECT COUNT(*) FROM information_schema.statistics
WHERE table_schema = `+mysqlSchemaExpr+` AND lower(table_name) = lower(?) AND lower(index_name) = lower(?)`,
		schema, name, index)
}

func (d *MySQLDialect) Tables(ctx context.Context, q Querier) ([]string, error) {
	return queryStrings(ctx, q, `
SELECT table_name FROM information_schema.tables
WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'
ORDER BY table_name`)
}

func (d *MySQLDialect) Columns(ctx context.Context, q Querier, table string) ([]Column, error) {
	schema, name := splitQualified(table)
	rows, err := q.QueryContext(ctx, `
SELECT column_name, column_type, is_nullable, column_key, extra, column_default
FROM information_schema.columns
WHERE table_schema = `+mysqlSchemaExpr+` AND lower(table_name) = lower(?)
ORDER BY ordinal_position`, schema, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Column
	for rows.Next() {
		var (
			col, columnType, nullable, key, extra string
			def                                   sql.NullString
		)
		if err := rows.Scan(&col, &columnType, &nullable, &key, &extra, &def); err != nil {
			return nil, err
		}
		base, args := parseTypeName(columnType)
		c := Column{Name: col, Type: mysqlColumnType(base, args)}
		applyTypeArgs(&c, args)
		if strings.Contains(strings.ToLower(columnType), "unsigned") {
			c.Property |= Unsigned
		}
		if strings.EqualFold(key, "PRI") {
			c.Property |= PrimaryKey
		} else if !strings.EqualFold(nullable, "YES") {
			c.Property |= NotNull
		}
		if strings.Contains(strings.ToLower(extra), "auto_increment") {
			c.Property |= Identity
		}
		if def.Valid {
			c.Default = Raw(def.String)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func mysqlColumnType(base string, args []int) ColumnType {
	switch base {
	case "varchar":
		return TypeString
	case "char":
		if len(args) == 1 && args[0] == 36 {
			return TypeGUID
		}
		return TypeFixedString
	case "text", "mediumtext", "longtext", "tinytext":
		return TypeText
	case "tinyint":
		if len(args) == 1 && args[0] == 1 {
			return TypeBoolean
		}
		return TypeInt16
	case "bool", "boolean":
		return TypeBoolean
	case "smallint":
		return TypeInt16
	case "int", "integer", "mediumint":
		return TypeInt32
	case "bigint":
		return TypeInt64
	case "decimal", "numeric":
		return TypeDecimal
	case "float":
		return TypeFloat
	case "double", "real":
		return TypeDouble
	case "date":
		return TypeDate
	case "time":
		return TypeTime
	case "datetime", "timestamp":
		return TypeDateTime
	case "blob", "longblob", "mediumblob", "tinyblob", "varbinary", "binary":
		return TypeBinary
	default:
		return TypeUnknown
	}
}

func (d *MySQLDialect) EnsureSchema(ctx context.Context, q Querier, schema string) error {
	if schema == "" {
		return nil
	}
	_, err := q.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", d.quoteIdent(schema)))
	return err
}

func (d *MySQLDialect) IsMissingObject(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == mysqlErrNoSuchTable || myErr.Number == mysqlErrBadDB
}
