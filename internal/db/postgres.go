package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresDialect targets PostgreSQL through the pgx stdlib driver.
type PostgresDialect struct {
	sqlDialect
}

func NewPostgresDialect() *PostgresDialect {
	return &PostgresDialect{sqlDialect{
		name:        "postgres",
		driver:      "pgx",
		quoteChar:   `"`,
		qualified:   true,
		dollarArgs:  true,
		identity:    "GENERATED BY DEFAULT AS IDENTITY",
		split:       splitRules{dollarQuotes: true},
		trueLiteral: "TRUE",
		types: map[ColumnType]typeSpec{
			TypeString:      {format: "varchar(%d)", size: 255},
			TypeFixedString: {format: "char(%d)", size: 1},
			TypeText:        {format: "text"},
			TypeBoolean:     {format: "boolean"},
			TypeInt16:       {format: "smallint"},
			TypeInt32:       {format: "integer"},
			TypeInt64:       {format: "bigint"},
			TypeDecimal:     {format: "numeric(%d,%d)", precision: 19, scale: 5},
			TypeFloat:       {format: "real"},
			TypeDouble:      {format: "double precision"},
			TypeDate:        {format: "date"},
			TypeTime:        {format: "time"},
			TypeDateTime:    {format: "timestamp"},
			TypeBinary:      {format: "bytea"},
			TypeGUID:        {format: "uuid"},
		},
	}}
}

const pgSchemaExpr = "COALESCE(NULLIF($1, ''), current_schema())"

func (d *PostgresDialect) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	schema, name := splitQualified(table)
	return queryCount(ctx, q, `
SELECT COUNT(*) FROM information_schema.tables
WHERE table_schema = `+pgSchemaExpr+` AND lower(table_name) = lower($2)`, schema, name)
}

func (d *PostgresDialect) ColumnExists(ctx context.Context, q Querier, table, column string) (bool, error) {
	schema, name := splitQualified(table)
	return queryCount(ctx, q, `
SELECT COUNT(*) FROM information_schema.columns
WHERE table_schema = `+pgSchemaExpr+` AND lower(table_name) = lower($2) AND lower(column_name) = lower($3)`,
		schema, name, column)
}

func (d *PostgresDialect) ConstraintExists(ctx context.Context, q Querier, table, constraint string) (bool, error) {
	schema, name := splitQualified(table)
	return queryCount(ctx, q, `
SELECT COUNT(*) FROM information_schema.table_constraints
WHERE table_schema = `+pgSchemaExpr+` AND lower(table_name) = lower($2) AND lower(constraint_name) = lower($3)`,
		schema, name, constraint)
}

func (d *PostgresDialect) IndexExists(ctx context.Context, q Querier, table, index string) (bool, error) {
	schema, name := splitQualified(table)
	return queryCount(ctx, q, `
SELECT COUNT(*) FROM pg_indexes
WHERE schemaname = `+pgSchemaExpr+` AND lower(tablename) = lower($2) AND lower(indexname) = lower($3)`,
		schema, name, index)
}

func (d *PostgresDialect) Tables(ctx context.Context, q Querier) ([]string, error) {
	return queryStrings(ctx, q, `
SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
ORDER BY table_name`)
}

func (d *PostgresDialect) Columns(ctx context.Context, q Querier, table string) ([]Column, error) {
	schema, name := splitQualified(table)
	rows, err := q.QueryContext(ctx, `
SELECT c.column_name, c.data_type, c.is_nullable, c.character_maximum_length,
       c.numeric_precision, c.numeric_scale, c.column_default, c.is_identity,
       EXISTS (
         SELECT 1
         FROM information_schema.table_constraints tc
         JOIN information_schema.key_column_usage kcu
           ON tc.constraint_name = kcu.constraint_name
          AND tc.table_schema = kcu.table_schema
          AND tc.table_name = kcu.table_name
         WHERE tc.constraint_type = 'PRIMARY KEY'
           AND tc.table_schema = c.table_schema
           AND tc.table_name = c.table_name
           AND kcu.column_name = c.column_name
       ) AS is_pk
FROM information_schema.columns c
WHERE c.table_schema = `+pgSchemaExpr+` AND lower(c.table_name) = lower($2)
ORDER BY c.ordinal_position`, schema, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Column
	for rows.Next() {
		var (
			col, dataType, nullable, identity string
			size, precision, scale            sql.NullInt64
			def                               sql.NullString
			pk                                bool
		)
		if err := rows.Scan(&col, &dataType, &nullable, &size, &precision, &scale, &def, &identity, &pk); err != nil {
			return nil, err
		}
		c := Column{Name: col, Type: pgColumnType(dataType)}
		switch c.Type {
		case TypeString, TypeFixedString:
			c.Size = int(size.Int64)
		case TypeDecimal:
			c.Precision = int(precision.Int64)
			c.Scale = int(scale.Int64)
		}
		if pk {
			c.Property |= PrimaryKey
		} else if !strings.EqualFold(nullable, "YES") {
			c.Property |= NotNull
		}
		if strings.EqualFold(identity, "YES") || strings.HasPrefix(def.String, "nextval(") {
			c.Property |= Identity
		} else if def.Valid {
			c.Default = Raw(def.String)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func pgColumnType(dataType string) ColumnType {
	switch strings.ToLower(dataType) {
	case "character varying":
		return TypeString
	case "character":
		return TypeFixedString
	case "text":
		return TypeText
	case "boolean":
		return TypeBoolean
	case "smallint":
		return TypeInt16
	case "integer":
		return TypeInt32
	case "bigint":
		return TypeInt64
	case "numeric":
		return TypeDecimal
	case "real":
		return TypeFloat
	case "double precision":
		return TypeDouble
	case "date":
		return TypeDate
	case "time without time zone", "time with time zone":
		return TypeTime
	case "timestamp without time zone", "timestamp with time zone":
		return TypeDateTime
	case "bytea":
		return TypeBinary
	case "uuid":
		return TypeGUID
	default:
		return TypeUnknown
	}
}

func (d *PostgresDialect) EnsureSchema(ctx context.Context, q Querier, schema string) error {
	if schema == "" {
		return nil
	}
	_, err := q.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", d.quoteIdent(schema)))
	return err
}

func (d *PostgresDialect) IsMissingObject(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.UndefinedTable || pgErr.Code == pgerrcode.InvalidSchemaName
}
