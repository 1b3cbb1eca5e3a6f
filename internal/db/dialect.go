package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Querier is satisfied by *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect holds one engine's DDL mapping and catalog probes. Table names
// may be schema-qualified ("schema.table") where the engine supports it.
type Dialect interface {
	Name() string
	DriverName() string
	Quote(name string) string
	Placeholder(n int) string

	ColumnSQL(c Column) (string, error)
	// TablePrimaryKey reports whether CreateTable must emit a table-level
	// PRIMARY KEY clause for columns.
	TablePrimaryKey(columns []Column) bool
	DropColumnSQL(table, column string) string
	RenameTableSQL(from, to string) string
	RenameColumnSQL(table, from, to string) string
	AddForeignKeySQL(name, fromTable string, fromCols []string, toTable string, toCols []string, rule ForeignKeyRule) (string, error)
	DropForeignKeySQL(table, name string) (string, error)
	AddUniqueSQL(name, table string, cols []string) string
	DropConstraintSQL(table, name string) string
	CreateIndexSQL(name, table string, cols []string) string
	DropIndexSQL(table, name string) string

	TableExists(ctx context.Context, q Querier, table string) (bool, error)
	ColumnExists(ctx context.Context, q Querier, table, column string) (bool, error)
	ConstraintExists(ctx context.Context, q Querier, table, name string) (bool, error)
	IndexExists(ctx context.Context, q Querier, table, name string) (bool, error)
	Tables(ctx context.Context, q Querier) ([]string, error)
	Columns(ctx context.Context, q Querier, table string) ([]Column, error)

	// EnsureSchema creates the namespace a schema tag lives in.
	EnsureSchema(ctx context.Context, q Querier, schema string) error
	// SplitScript splits a multi-statement script using the engine's
	// quoting rules.
	SplitScript(script string) []string
	// IsMissingObject reports whether err means a table or schema does not
	// exist.
	IsMissingObject(err error) bool
}

type typeSpec struct {
	format    string
	size      int
	precision int
	scale     int
}

// sqlDialect carries the parts of DDL generation shared by every engine.
// Engines embed it and override what differs.
type sqlDialect struct {
	name        string
	driver      string
	quoteChar   string
	qualified   bool
	dollarArgs  bool
	identity    string
	unsigned    bool
	trueLiteral string
	types       map[ColumnType]typeSpec
	split       splitRules
}

func (d sqlDialect) Name() string { return d.name }

func (d sqlDialect) DriverName() string { return d.driver }

func (d sqlDialect) SplitScript(script string) []string { return splitStatements(script, d.split) }

func (d sqlDialect) quoteIdent(name string) string {
	return d.quoteChar + strings.ReplaceAll(name, d.quoteChar, d.quoteChar+d.quoteChar) + d.quoteChar
}

// Quote quotes name, treating dots as schema separators when the engine has
// schemas.
func (d sqlDialect) Quote(name string) string {
	if !d.qualified {
		return d.quoteIdent(name)
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = d.quoteIdent(p)
	}
	return strings.Join(parts, ".")
}

func (d sqlDialect) quoteList(names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.quoteIdent(n)
	}
	return strings.Join(out, ", ")
}

func (d sqlDialect) Placeholder(n int) string {
	if d.dollarArgs {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d sqlDialect) typeSQL(c Column) (string, error) {
	spec, ok := d.types[c.Type]
	if !ok {
		return "", fmt.Errorf("%w: column type %s on %s", ErrUnsupported, c.Type, d.name)
	}
	switch strings.Count(spec.format, "%d") {
	case 1:
		size := c.Size
		if size <= 0 {
			size = spec.size
		}
		return fmt.Sprintf(spec.format, size), nil
	case 2:
		precision, scale := c.Precision, c.Scale
		if precision <= 0 {
			precision, scale = spec.precision, spec.scale
		}
		return fmt.Sprintf(spec.format, precision, scale), nil
	default:
		return spec.format, nil
	}
}

func (d sqlDialect) ColumnSQL(c Column) (string, error) {
	typ, err := d.typeSQL(c)
	if err != nil {
		return "", err
	}
	parts := []string{d.quoteIdent(c.Name), typ}
	if c.Has(Unsigned) && d.unsigned {
		parts = append(parts, "UNSIGNED")
	}
	if c.IsIdentity() {
		parts = append(parts, d.identity)
	}
	if c.IsNullable() {
		if c.Has(Null) {
			parts = append(parts, "NULL")
		}
	} else {
		parts = append(parts, "NOT NULL")
	}
	if c.Default != nil {
		parts = append(parts, "DEFAULT "+d.literal(c.Default))
	}
	if c.Has(Unique) && !c.IsPrimaryKey() {
		parts = append(parts, "UNIQUE")
	}
	return strings.Join(parts, " "), nil
}

func (d sqlDialect) TablePrimaryKey(columns []Column) bool {
	return len(primaryKeyColumns(columns)) > 0
}

func (d sqlDialect) literal(v any) string {
	switch x := v.(type) {
	case Raw:
		return string(x)
	case string:
		return "'" + strings.ReplaceAll(x, "'", "''") + "'"
	case bool:
		if x {
			return d.trueLiteral
		}
		if d.trueLiteral == "TRUE" {
			return "FALSE"
		}
		return "0"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(x)
	case time.Time:
		return "'" + x.UTC().Format("2006-01-02 15:04:05") + "'"
	default:
		return "'" + strings.ReplaceAll(fmt.Sprint(x), "'", "''") + "'"
	}
}

func (d sqlDialect) DropColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.Quote(table), d.quoteIdent(column))
}

func (d sqlDialect) RenameTableSQL(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.Quote(from), d.quoteIdent(unqualified(to)))
}

func (d sqlDialect) RenameColumnSQL(table, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", d.Quote(table), d.quoteIdent(from), d.quoteIdent(to))
}

func (d sqlDialect) AddForeignKeySQL(name, fromTable string, fromCols []string, toTable string, toCols []string, rule ForeignKeyRule) (string, error) {
	if len(fromCols) == 0 || len(fromCols) != len(toCols) {
		return "", fmt.Errorf("foreign key %s: column lists must be non-empty and the same length", name)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
		d.Quote(fromTable), d.quoteIdent(name), d.quoteList(fromCols),
		d.Quote(toTable), d.quoteList(toCols), rule.SQL()), nil
}

func (d sqlDialect) DropForeignKeySQL(table, name string) (string, error) {
	return d.DropConstraintSQL(table, name), nil
}

func (d sqlDialect) AddUniqueSQL(name, table string, cols []string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)", d.Quote(table), d.quoteIdent(name), d.quoteList(cols))
}

func (d sqlDialect) DropConstraintSQL(table, name string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", d.Quote(table), d.quoteIdent(name))
}

func (d sqlDialect) CreateIndexSQL(name, table string, cols []string) string {
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", d.quoteIdent(name), d.Quote(table), d.quoteList(cols))
}

func (d sqlDialect) DropIndexSQL(table, name string) string {
	if schema, _ := splitQualified(table); schema != "" && d.qualified {
		return fmt.Sprintf("DROP INDEX %s.%s", d.quoteIdent(schema), d.quoteIdent(name))
	}
	return fmt.Sprintf("DROP INDEX %s", d.quoteIdent(name))
}

func (d sqlDialect) EnsureSchema(context.Context, Querier, string) error { return nil }

// createTableSQL renders CREATE TABLE through the dialect's column mapping.
func createTableSQL(d Dialect, name string, columns []Column) (string, error) {
	if len(columns) == 0 {
		return "", ErrNoColumns
	}
	defs := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		def, err := d.ColumnSQL(c)
		if err != nil {
			return "", err
		}
		defs = append(defs, def)
	}
	if d.TablePrimaryKey(columns) {
		pks := primaryKeyColumns(columns)
		quoted := make([]string, len(pks))
		for i, pk := range pks {
			quoted[i] = d.Quote(pk)
		}
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", d.Quote(name), strings.Join(defs, ", ")), nil
}

func addColumnSQL(d Dialect, table string, c Column) (string, error) {
	def, err := d.ColumnSQL(c)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(table), def), nil
}

func indexName(table, column string) string {
	return "ix_" + strings.ReplaceAll(unqualified(table), ".", "_") + "_" + column
}

// splitQualified splits "schema.table" into its parts. An unqualified name
// yields an empty schema.
func splitQualified(name string) (schema, table string) {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func unqualified(name string) string {
	_, table := splitQualified(name)
	return table
}

func queryCount(ctx context.Context, q Querier, query string, args ...any) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func queryStrings(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// parseTypeName splits "varchar(255)" into "varchar" and [255]. Anything
// after the closing parenthesis (such as "unsigned") is dropped.
func parseTypeName(raw string) (string, []int) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	open := strings.Index(raw, "(")
	if open < 0 {
		return strings.TrimSpace(strings.TrimSuffix(raw, " unsigned")), nil
	}
	base := strings.TrimSpace(raw[:open])
	closing := strings.Index(raw[open:], ")")
	if closing < 0 {
		return base, nil
	}
	var args []int
	for _, part := range strings.Split(raw[open+1:open+closing], ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return base, nil
		}
		args = append(args, n)
	}
	return base, args
}

// applyTypeArgs stores parsed type arguments on c according to its type.
func applyTypeArgs(c *Column, args []int) {
	switch {
	case len(args) == 0:
	case c.Type == TypeDecimal:
		c.Precision = args[0]
		if len(args) > 1 {
			c.Scale = args[1]
		}
	case c.Type == TypeString || c.Type == TypeFixedString || c.Type == TypeBinary:
		c.Size = args[0]
	}
}

// splitRules enables engine-specific quoting forms in splitStatements.
type splitRules struct {
	// dollarQuotes treats $$...$$ and $tag$...$tag$ as quoted bodies.
	dollarQuotes bool
	// backslashEscapes lets \ escape the next character inside quotes.
	backslashEscapes bool
}

// splitStatements splits a script on semicolons that are outside quotes and
// comments.
func splitStatements(sqlText string, rules splitRules) []string {
	var (
		out          []string
		current      strings.Builder
		inSingle     bool
		inDouble     bool
		inBacktick   bool
		dollarTag    string
		lineComment  bool
		blockComment bool
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" {
			out = append(out, stmt)
		}
		current.Reset()
	}

	runes := []rune(sqlText)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch {
		case lineComment:
			if r == '\n' {
				lineComment = false
				current.WriteRune(r)
			}
			continue
		case blockComment:
			if r == '*' && next == '/' {
				blockComment = false
				i++
			}
			continue
		case dollarTag != "":
			if r == '$' && hasTagAt(runes, i, dollarTag) {
				current.WriteString(dollarTag)
				i += len(dollarTag) - 1
				dollarTag = ""
				continue
			}
			current.WriteRune(r)
			continue
		case inSingle || inDouble || inBacktick:
			if rules.backslashEscapes && r == '\\' && !inBacktick && i+1 < len(runes) {
				current.WriteRune(r)
				current.WriteRune(next)
				i++
				continue
			}
			if (inSingle && r == '\'') || (inDouble && r == '"') || (inBacktick && r == '`') {
				inSingle, inDouble, inBacktick = false, false, false
			}
			current.WriteRune(r)
			continue
		}

		switch {
		case r == '-' && next == '-':
			lineComment = true
			i++
			continue
		case r == '/' && next == '*':
			blockComment = true
			i++
			continue
		case r == '$' && rules.dollarQuotes && (i == 0 || !isIdentRune(runes[i-1])):
			if tag := dollarTagAt(runes, i); tag != "" {
				dollarTag = tag
				current.WriteString(tag)
				i += len(tag) - 1
				continue
			}
		case r == '\'':
			inSingle = true
		case r == '"':
			inDouble = true
		case r == '`':
			inBacktick = true
		case r == ';':
			flush()
			continue
		}
		current.WriteRune(r)
	}
	flush()
	return out
}

// dollarTagAt returns the opening "$$" or "$tag$" at runes[i], or "" when
// the dollar sign starts something else, such as a $1 parameter. Tags are
// ASCII, so their byte and rune lengths match.
func dollarTagAt(runes []rune, i int) string {
	j := i + 1
	for j < len(runes) {
		r := runes[j]
		isLetter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isDigit := r >= '0' && r <= '9'
		if !isLetter && !(isDigit && j > i+1) {
			break
		}
		j++
	}
	if j < len(runes) && runes[j] == '$' {
		return string(runes[i : j+1])
	}
	return ""
}

func hasTagAt(runes []rune, i int, tag string) bool {
	if i+len(tag) > len(runes) {
		return false
	}
	return string(runes[i:i+len(tag)]) == tag
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
