// Package csvstore keeps collection snapshots as CSV files, one file per
// collection, header row first.
package csvstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/itsneelabh/betpilot/core"
	"github.com/itsneelabh/betpilot/reconcile"
)

const utf8BOM = "\ufeff"

// Store reads and writes <Dir>/<name> files.
type Store struct {
	Dir string
}

var _ reconcile.LocalStore = (*Store)(nil)

// New creates a Store rooted at dir.
func New(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.Dir, filepath.Base(name))
}

// ReadAll loads the whole file. Short records are padded with empty values
// and extra fields are ignored. A missing file is core.ErrLocalNotFound.
func (s *Store) ReadAll(ctx context.Context, name string) (*reconcile.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &core.FrameworkError{Op: "csvstore.ReadAll", Kind: "local", ID: name, Err: core.ErrLocalNotFound}
		}
		return nil, &core.FrameworkError{Op: "csvstore.ReadAll", Kind: "local", ID: name, Err: fmt.Errorf("%w: %w", core.ErrLocalStore, err)}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return &reconcile.Table{}, nil
	}
	if err != nil {
		return nil, &core.FrameworkError{Op: "csvstore.ReadAll", Kind: "local", ID: name, Err: fmt.Errorf("%w: header: %w", core.ErrLocalStore, err)}
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}

	table := &reconcile.Table{Columns: header}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &core.FrameworkError{Op: "csvstore.ReadAll", Kind: "local", ID: name, Err: fmt.Errorf("%w: %w", core.ErrLocalStore, err)}
		}
		row := make(reconcile.Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// WriteAll replaces the file with table, columns in table.Columns order.
// The file is written next to the target and renamed over it, so readers
// never see a partial snapshot.
func (s *Store) WriteAll(ctx context.Context, name string, table *reconcile.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return &core.FrameworkError{Op: "csvstore.WriteAll", Kind: "local", ID: name, Err: fmt.Errorf("%w: %w", core.ErrLocalStore, err)}
	}

	tmp, err := os.CreateTemp(s.Dir, "."+filepath.Base(name)+"-*.tmp")
	if err != nil {
		return &core.FrameworkError{Op: "csvstore.WriteAll", Kind: "local", ID: name, Err: fmt.Errorf("%w: %w", core.ErrLocalStore, err)}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := writeTable(tmp, table); err != nil {
		_ = tmp.Close()
		return &core.FrameworkError{Op: "csvstore.WriteAll", Kind: "local", ID: name, Err: fmt.Errorf("%w: %w", core.ErrLocalStore, err)}
	}
	if err := tmp.Close(); err != nil {
		return &core.FrameworkError{Op: "csvstore.WriteAll", Kind: "local", ID: name, Err: fmt.Errorf("%w: %w", core.ErrLocalStore, err)}
	}
	if err := os.Rename(tmpName, s.path(name)); err != nil {
		return &core.FrameworkError{Op: "csvstore.WriteAll", Kind: "local", ID: name, Err: fmt.Errorf("%w: %w", core.ErrLocalStore, err)}
	}
	return nil
}

func writeTable(w io.Writer, table *reconcile.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(table.Columns); err != nil {
		return err
	}
	record := make([]string, len(table.Columns))
	for _, row := range table.Rows {
		for i, col := range table.Columns {
			record[i] = row[col]
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
