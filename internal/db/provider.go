package db

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"

	"dbmigrator/internal/config"
)

// Introspector lists tables and columns of the connected database.
type Introspector interface {
	GetTables(ctx context.Context) ([]string, error)
	GetColumns(ctx context.Context, table string) ([]Column, error)
}

// Transformer is the capability set migrations are written against. Every
// additive or removing operation is a logged no-op when the end state
// already holds.
type Transformer interface {
	Introspector

	TableExists(ctx context.Context, table string) (bool, error)
	ColumnExists(ctx context.Context, table, column string) (bool, error)
	ConstraintExists(ctx context.Context, table, name string) (bool, error)

	AddTable(ctx context.Context, name string, columns ...Column) error
	AddColumn(ctx context.Context, table string, column Column) error
	AddForeignKey(ctx context.Context, name, fromTable string, fromCols []string, toTable string, toCols []string, rule ForeignKeyRule) error
	AddUniqueConstraint(ctx context.Context, name, table string, cols ...string) error
	AddIndex(ctx context.Context, name, table string, cols ...string) error

	RemoveTable(ctx context.Context, name string) error
	RemoveColumn(ctx context.Context, table, column string) error
	RemoveForeignKey(ctx context.Context, table, name string) error
	RemoveConstraint(ctx context.Context, table, name string) error
	RemoveIndex(ctx context.Context, table, name string) error
	RenameTable(ctx context.Context, from, to string) error
	RenameColumn(ctx context.Context, table, from, to string) error

	Exec(ctx context.Context, query string, args ...any) error
	ExecScript(ctx context.Context, script string) error
	Insert(ctx context.Context, table string, columns []string, values []any) error
	Delete(ctx context.Context, table, column string, value any) error
}

// Provider runs every statement of one migration run on a single pinned
// connection, or on the open transaction. It is not safe for concurrent
// use.
type Provider struct {
	dialect   Dialect
	db        *sql.DB
	ownsDB    bool
	conn      *sql.Conn
	tx        *sql.Tx
	schemaTag string
	logger    *slog.Logger

	applied []int64
	loaded  bool
	staged  []versionChange
}

// DialectFor returns the dialect for a provider name.
func DialectFor(provider string) (Dialect, error) {
	name, ok := config.NormalizeProvider(provider)
	if !ok {
		return nil, fmt.Errorf("unsupported provider %s", provider)
	}
	switch name {
	case config.ProviderPostgres:
		return NewPostgresDialect(), nil
	case config.ProviderMySQL:
		return NewMySQLDialect(), nil
	default:
		return NewSQLiteDialect(), nil
	}
}

// Open connects using cfg and pins one connection for the run.
func Open(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*Provider, error) {
	sqlDB, dialect, err := OpenPool(cfg)
	if err != nil {
		return nil, err
	}

	p, err := New(ctx, sqlDB, dialect, cfg.Schema, logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	p.ownsDB = true
	return p, nil
}

// OpenPool validates cfg and opens a pool for it. Long-lived callers share
// the pool and create one Provider per run with New.
func OpenPool(cfg config.DBConfig) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(cfg.Provider)
	if err != nil {
		return nil, nil, err
	}

	// Validate DSN early to provide actionable errors.
	switch dialect.(type) {
	case *PostgresDialect:
		if _, err := pgx.ParseConfig(cfg.DSN); err != nil {
			return nil, nil, fmt.Errorf("invalid postgres dsn: %w", err)
		}
	case *MySQLDialect:
		if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
			return nil, nil, fmt.Errorf("invalid mysql dsn: %w", err)
		}
	}

	sqlDB, err := sql.Open(dialect.DriverName(), cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetMaxOpenConns(5)
	if _, ok := dialect.(*SQLiteDialect); ok {
		sqlDB.SetMaxOpenConns(1)
	}
	return sqlDB, dialect, nil
}

// New wraps an existing pool. The caller keeps ownership of sqlDB.
func New(ctx context.Context, sqlDB *sql.DB, dialect Dialect, schemaTag string, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Provider{
		dialect:   dialect,
		db:        sqlDB,
		conn:      conn,
		schemaTag: strings.TrimSpace(schemaTag),
		logger:    logger.With("provider", dialect.Name()),
	}, nil
}

func (p *Provider) Dialect() Dialect { return p.dialect }

func (p *Provider) SchemaTag() string { return p.schemaTag }

func (p *Provider) Ping(ctx context.Context) error {
	return p.conn.PingContext(ctx)
}

// Close rolls back an open transaction and releases the connection.
func (p *Provider) Close() error {
	if p.tx != nil {
		_ = p.tx.Rollback()
		p.tx = nil
		p.staged = nil
	}
	err := p.conn.Close()
	if p.ownsDB {
		if dbErr := p.db.Close(); err == nil {
			err = dbErr
		}
	}
	return err
}

func (p *Provider) q() Querier {
	if p.tx != nil {
		return p.tx
	}
	return p.conn
}

func (p *Provider) Begin(ctx context.Context) error {
	if p.tx != nil {
		return ErrTxActive
	}
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	p.tx = tx
	p.staged = nil
	return nil
}

// Commit commits the open transaction and applies staged cache edits.
func (p *Provider) Commit() error {
	if p.tx == nil {
		return ErrNoTx
	}
	err := p.tx.Commit()
	staged := p.staged
	p.tx, p.staged = nil, nil
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, change := range staged {
		p.applyChange(change)
	}
	return nil
}

// Rollback aborts the open transaction and discards staged cache edits.
func (p *Provider) Rollback() error {
	if p.tx == nil {
		return ErrNoTx
	}
	err := p.tx.Rollback()
	p.tx, p.staged = nil, nil
	if err != nil {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

func (p *Provider) exec(ctx context.Context, op, table, column, stmt string, args ...any) error {
	p.logger.Debug("executing statement", "operation", op, "sql", stmt)
	if _, err := p.q().ExecContext(ctx, stmt, args...); err != nil {
		return &OperationError{Op: op, Table: table, Column: column, Statement: stmt, Err: err}
	}
	return nil
}

func (p *Provider) satisfied(msg string, args ...any) {
	p.logger.Warn(msg, append(args, "warning", "already_satisfied")...)
}

func (p *Provider) TableExists(ctx context.Context, table string) (bool, error) {
	ok, err := p.dialect.TableExists(ctx, p.q(), table)
	if err != nil {
		return false, &OperationError{Op: "table exists", Table: table, Err: err}
	}
	return ok, nil
}

func (p *Provider) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	ok, err := p.dialect.ColumnExists(ctx, p.q(), table, column)
	if err != nil {
		return false, &OperationError{Op: "column exists", Table: table, Column: column, Err: err}
	}
	return ok, nil
}

func (p *Provider) ConstraintExists(ctx context.Context, table, name string) (bool, error) {
	ok, err := p.dialect.ConstraintExists(ctx, p.q(), table, name)
	if err != nil {
		return false, &OperationError{Op: "constraint exists", Table: table, Err: err}
	}
	return ok, nil
}

func (p *Provider) indexExists(ctx context.Context, table, name string) (bool, error) {
	ok, err := p.dialect.IndexExists(ctx, p.q(), table, name)
	if err != nil {
		return false, &OperationError{Op: "index exists", Table: table, Err: err}
	}
	return ok, nil
}

func (p *Provider) AddTable(ctx context.Context, name string, columns ...Column) error {
	exists, err := p.TableExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		p.satisfied("table already exists", "table", name)
		return nil
	}
	stmt, err := createTableSQL(p.dialect, name, columns)
	if err != nil {
		return &OperationError{Op: "add table", Table: name, Err: err}
	}
	if err := p.exec(ctx, "add table", name, "", stmt); err != nil {
		return err
	}
	for _, c := range columns {
		if c.Has(Indexed) && !c.IsPrimaryKey() {
			if err := p.AddIndex(ctx, indexName(name, c.Name), name, c.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Provider) AddColumn(ctx context.Context, table string, column Column) error {
	exists, err := p.ColumnExists(ctx, table, column.Name)
	if err != nil {
		return err
	}
	if exists {
		p.satisfied("column already exists", "table", table, "column", column.Name)
		return nil
	}
	stmt, err := addColumnSQL(p.dialect, table, column)
	if err != nil {
		return &OperationError{Op: "add column", Table: table, Column: column.Name, Err: err}
	}
	if err := p.exec(ctx, "add column", table, column.Name, stmt); err != nil {
		return err
	}
	if column.Has(Indexed) {
		return p.AddIndex(ctx, indexName(table, column.Name), table, column.Name)
	}
	return nil
}

func (p *Provider) AddForeignKey(ctx context.Context, name, fromTable string, fromCols []string, toTable string, toCols []string, rule ForeignKeyRule) error {
	stmt, err := p.dialect.AddForeignKeySQL(name, fromTable, fromCols, toTable, toCols, rule)
	if err != nil {
		return &OperationError{Op: "add foreign key", Table: fromTable, Err: err}
	}
	exists, err := p.ConstraintExists(ctx, fromTable, name)
	if err != nil {
		return err
	}
	if exists {
		p.satisfied("foreign key already exists", "table", fromTable, "constraint", name)
		return nil
	}
	return p.exec(ctx, "add foreign key", fromTable, "", stmt)
}

func (p *Provider) AddUniqueConstraint(ctx context.Context, name, table string, cols ...string) error {
	exists, err := p.ConstraintExists(ctx, table, name)
	if err != nil {
		return err
	}
	if exists {
		p.satisfied("constraint already exists", "table", table, "constraint", name)
		return nil
	}
	return p.exec(ctx, "add unique constraint", table, "", p.dialect.AddUniqueSQL(name, table, cols))
}

func (p *Provider) AddIndex(ctx context.Context, name, table string, cols ...string) error {
	exists, err := p.indexExists(ctx, table, name)
	if err != nil {
		return err
	}
	if exists {
		p.satisfied("index already exists", "table", table, "index", name)
		return nil
	}
	return p.exec(ctx, "add index", table, "", p.dialect.CreateIndexSQL(name, table, cols))
}

func (p *Provider) RemoveTable(ctx context.Context, name string) error {
	exists, err := p.TableExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		p.satisfied("table does not exist", "table", name)
		return nil
	}
	return p.exec(ctx, "remove table", name, "", "DROP TABLE "+p.dialect.Quote(name))
}

func (p *Provider) RemoveColumn(ctx context.Context, table, column string) error {
	exists, err := p.ColumnExists(ctx, table, column)
	if err != nil {
		return err
	}
	if !exists {
		p.satisfied("column does not exist", "table", table, "column", column)
		return nil
	}
	return p.exec(ctx, "remove column", table, column, p.dialect.DropColumnSQL(table, column))
}

func (p *Provider) RemoveForeignKey(ctx context.Context, table, name string) error {
	stmt, err := p.dialect.DropForeignKeySQL(table, name)
	if err != nil {
		return &OperationError{Op: "remove foreign key", Table: table, Err: err}
	}
	exists, err := p.ConstraintExists(ctx, table, name)
	if err != nil {
		return err
	}
	if !exists {
		p.satisfied("foreign key does not exist", "table", table, "constraint", name)
		return nil
	}
	return p.exec(ctx, "remove foreign key", table, "", stmt)
}

func (p *Provider) RemoveConstraint(ctx context.Context, table, name string) error {
	exists, err := p.ConstraintExists(ctx, table, name)
	if err != nil {
		return err
	}
	if !exists {
		p.satisfied("constraint does not exist", "table", table, "constraint", name)
		return nil
	}
	return p.exec(ctx, "remove constraint", table, "", p.dialect.DropConstraintSQL(table, name))
}

func (p *Provider) RemoveIndex(ctx context.Context, table, name string) error {
	exists, err := p.indexExists(ctx, table, name)
	if err != nil {
		return err
	}
	if !exists {
		p.satisfied("index does not exist", "table", table, "index", name)
		return nil
	}
	return p.exec(ctx, "remove index", table, "", p.dialect.DropIndexSQL(table, name))
}

// RenameTable is a no-op once the source is gone and the target exists.
func (p *Provider) RenameTable(ctx context.Context, from, to string) error {
	fromExists, err := p.TableExists(ctx, from)
	if err != nil {
		return err
	}
	if !fromExists {
		toExists, err := p.TableExists(ctx, to)
		if err != nil {
			return err
		}
		if toExists {
			p.satisfied("table already renamed", "table", from, "to", to)
			return nil
		}
	}
	return p.exec(ctx, "rename table", from, "", p.dialect.RenameTableSQL(from, to))
}

func (p *Provider) RenameColumn(ctx context.Context, table, from, to string) error {
	fromExists, err := p.ColumnExists(ctx, table, from)
	if err != nil {
		return err
	}
	if !fromExists {
		toExists, err := p.ColumnExists(ctx, table, to)
		if err != nil {
			return err
		}
		if toExists {
			p.satisfied("column already renamed", "table", table, "column", from, "to", to)
			return nil
		}
	}
	return p.exec(ctx, "rename column", table, from, p.dialect.RenameColumnSQL(table, from, to))
}

func (p *Provider) GetTables(ctx context.Context) ([]string, error) {
	tables, err := p.dialect.Tables(ctx, p.q())
	if err != nil {
		return nil, &OperationError{Op: "get tables", Err: err}
	}
	return tables, nil
}

func (p *Provider) GetColumns(ctx context.Context, table string) ([]Column, error) {
	columns, err := p.dialect.Columns(ctx, p.q(), table)
	if err != nil {
		return nil, &OperationError{Op: "get columns", Table: table, Err: err}
	}
	return columns, nil
}

func (p *Provider) Exec(ctx context.Context, query string, args ...any) error {
	return p.exec(ctx, "exec", "", "", query, args...)
}

// ExecScript runs each statement of a multi-statement script in order.
func (p *Provider) ExecScript(ctx context.Context, script string) error {
	for _, stmt := range p.dialect.SplitScript(script) {
		if err := p.exec(ctx, "exec script", "", "", stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) Insert(ctx context.Context, table string, columns []string, values []any) error {
	if len(columns) == 0 || len(columns) != len(values) {
		return &OperationError{Op: "insert", Table: table, Err: fmt.Errorf("got %d columns and %d values", len(columns), len(values))}
	}
	quoted := make([]string, len(columns))
	params := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = p.dialect.Quote(c)
		params[i] = p.dialect.Placeholder(i + 1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		p.dialect.Quote(table), strings.Join(quoted, ", "), strings.Join(params, ", "))
	return p.exec(ctx, "insert", table, "", stmt, values...)
}

func (p *Provider) Delete(ctx context.Context, table, column string, value any) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		p.dialect.Quote(table), p.dialect.Quote(column), p.dialect.Placeholder(1))
	return p.exec(ctx, "delete", table, column, stmt, value)
}
