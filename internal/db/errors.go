package db

import (
	"errors"
	"strings"
)

var (
	// ErrUnsupported is returned for operations a dialect cannot express.
	ErrUnsupported = errors.New("operation not supported by dialect")
	// ErrTxActive is returned by Begin when a transaction is already open.
	ErrTxActive = errors.New("transaction already active")
	// ErrNoTx is returned by Commit and Rollback without an open transaction.
	ErrNoTx = errors.New("no active transaction")
	// ErrNoColumns is returned when a table is created without columns.
	ErrNoColumns = errors.New("table requires at least one column")
)

// OperationError reports a failed schema or data operation together with the
// statement that was sent to the database.
type OperationError struct {
	Op        string
	Table     string
	Column    string
	Statement string
	Err       error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Table != "" {
		b.WriteString(" ")
		b.WriteString(e.Table)
		if e.Column != "" {
			b.WriteString(".")
			b.WriteString(e.Column)
		}
	}
	if e.Statement != "" {
		b.WriteString(" [")
		b.WriteString(e.Statement)
		b.WriteString("]")
	}
	b.WriteString(": ")
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString("unknown error")
	}
	return b.String()
}

func (e *OperationError) Unwrap() error { return e.Err }
