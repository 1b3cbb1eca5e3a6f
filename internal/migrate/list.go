package migrate

import (
	"context"
	"fmt"
	"io"
)

// ListEntry is one row of the migration listing.
type ListEntry struct {
	Version  int64  `json:"version"`
	Name     string `json:"name"`
	Applied  bool   `json:"applied"`
	Obsolete bool   `json:"obsolete"`
}

// List reports every eligible migration and whether it is applied. Applied
// obsolete migrations are left out unless showObsolete is set.
func (e *Engine) List(ctx context.Context, showObsolete bool) ([]ListEntry, error) {
	available, err := e.available()
	if err != nil {
		return nil, err
	}
	applied, err := e.provider.AppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied versions: %w", err)
	}
	isApplied := make(map[int64]bool, len(applied))
	for _, v := range applied {
		isApplied[v] = true
	}

	entries := make([]ListEntry, 0, len(available))
	for _, d := range available {
		entry := ListEntry{
			Version:  d.Version,
			Name:     d.DisplayName(),
			Applied:  isApplied[d.Version],
			Obsolete: d.Obsolete,
		}
		if entry.Applied && entry.Obsolete && !showObsolete {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// FormatList writes entries in the console layout: "=>" marks applied
// versions and "(Obsolete)" marks obsolete ones.
func FormatList(w io.Writer, entries []ListEntry) error {
	if _, err := fmt.Fprintln(w, "Available migrations:"); err != nil {
		return err
	}
	for _, e := range entries {
		marker := "  "
		switch {
		case e.Applied && e.Obsolete:
			marker = "=> (Obsolete)"
		case e.Applied:
			marker = "=>"
		case e.Obsolete:
			marker = "(Obsolete)"
		}
		if _, err := fmt.Fprintf(w, "%s %3d %s\n", marker, e.Version, e.Name); err != nil {
			return err
		}
	}
	return nil
}
