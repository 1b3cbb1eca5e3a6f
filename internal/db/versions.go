package db

import (
	"context"
	"fmt"
	"slices"
)

// TrackingTableName is the unqualified name of the applied-version table.
const TrackingTableName = "SchemaInfo"

const versionColumn = "version"

type versionChange struct {
	version int64
	applied bool
}

// TrackingTable returns the name of the table that records applied
// versions for this provider's schema tag.
func (p *Provider) TrackingTable() string {
	if p.schemaTag == "" {
		return TrackingTableName
	}
	return p.schemaTag + "." + TrackingTableName
}

// AppliedVersions returns the recorded versions in ascending order. The
// result is loaded once and cached. A missing tracking table reads as an
// empty history and is not created here.
func (p *Provider) AppliedVersions(ctx context.Context) ([]int64, error) {
	if p.loaded {
		return slices.Clone(p.applied), nil
	}

	table := p.TrackingTable()
	stmt := fmt.Sprintf("SELECT %s FROM %s", p.dialect.Quote(versionColumn), p.dialect.Quote(table))
	rows, err := p.q().QueryContext(ctx, stmt)
	if err != nil {
		if p.dialect.IsMissingObject(err) {
			p.applied, p.loaded = nil, true
			return nil, nil
		}
		return nil, &OperationError{Op: "load applied versions", Table: table, Statement: stmt, Err: err}
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, &OperationError{Op: "load applied versions", Table: table, Statement: stmt, Err: err}
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, &OperationError{Op: "load applied versions", Table: table, Statement: stmt, Err: err}
	}

	slices.Sort(versions)
	p.applied, p.loaded = versions, true
	return slices.Clone(versions), nil
}

// MarkApplied records version as applied.
func (p *Provider) MarkApplied(ctx context.Context, version int64) error {
	if err := p.ensureTrackingTable(ctx); err != nil {
		return err
	}
	if err := p.Insert(ctx, p.TrackingTable(), []string{versionColumn}, []any{version}); err != nil {
		return err
	}
	p.recordChange(versionChange{version: version, applied: true})
	return nil
}

// MarkUnapplied removes version from the applied set.
func (p *Provider) MarkUnapplied(ctx context.Context, version int64) error {
	if err := p.ensureTrackingTable(ctx); err != nil {
		return err
	}
	if err := p.Delete(ctx, p.TrackingTable(), versionColumn, version); err != nil {
		return err
	}
	p.recordChange(versionChange{version: version, applied: false})
	return nil
}

func (p *Provider) ensureTrackingTable(ctx context.Context) error {
	table := p.TrackingTable()
	exists, err := p.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if p.schemaTag != "" {
		if err := p.dialect.EnsureSchema(ctx, p.q(), p.schemaTag); err != nil {
			return &OperationError{Op: "create schema", Table: p.schemaTag, Err: err}
		}
	}
	p.logger.Info("creating tracking table", "table", table)
	return p.AddTable(ctx, table, NewColumn(versionColumn, TypeInt64, PrimaryKey))
}

// recordChange updates the cache now, or after Commit when a transaction is
// open.
func (p *Provider) recordChange(change versionChange) {
	if p.tx != nil {
		p.staged = append(p.staged, change)
		return
	}
	p.applyChange(change)
}

func (p *Provider) applyChange(change versionChange) {
	if !p.loaded {
		// The next AppliedVersions call reads committed state.
		return
	}
	idx, found := slices.BinarySearch(p.applied, change.version)
	switch {
	case change.applied && !found:
		p.applied = slices.Insert(p.applied, idx, change.version)
	case !change.applied && found:
		p.applied = slices.Delete(p.applied, idx, idx+1)
	}
}
