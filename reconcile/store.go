package reconcile

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
)

// Row is one local record. Local values are always strings.
type Row map[string]string

// Table is a full local snapshot of a collection.
type Table struct {
	Columns []string
	Rows    []Row
}

// RemoteRow is one record as decoded from the remote store. Numbers arrive
// as json.Number.
type RemoteRow map[string]interface{}

// LocalStore reads and rewrites whole local snapshots. name is
// CollectionConfig.Local.
type LocalStore interface {
	ReadAll(ctx context.Context, name string) (*Table, error)
	WriteAll(ctx context.Context, name string, table *Table) error
}

// RemoteStore is the paged remote record store.
type RemoteStore interface {
	// FetchMetadata returns the key columns and tsField of rows
	// [offset, offset+limit) in a stable order.
	FetchMetadata(ctx context.Context, table string, keyColumns []string, tsField string, offset, limit int) ([]RemoteRow, error)

	// FetchRows returns full rows whose key tuple is one of keys.
	FetchRows(ctx context.Context, table string, keyColumns []string, keys [][]string) ([]RemoteRow, error)

	// Upsert inserts or merges rows on the conflict columns.
	Upsert(ctx context.Context, table string, conflictKey []string, rows []map[string]interface{}) error
}

// keySep joins composite key parts into one map key.
const keySep = "\x1f"

func joinKey(parts []string) string {
	return strings.Join(parts, keySep)
}

func splitKey(key string) []string {
	return strings.Split(key, keySep)
}

// localKey returns the key of a local row, or false when any key column
// is empty.
func localKey(c CollectionConfig, row Row) (string, bool) {
	parts := make([]string, len(c.ConflictKey))
	for i, col := range c.ConflictKey {
		v := row[col]
		if v == "" {
			return "", false
		}
		parts[i] = v
	}
	return joinKey(parts), true
}

// remoteKey is localKey for decoded remote rows.
func remoteKey(c CollectionConfig, row RemoteRow) (string, bool) {
	parts := make([]string, len(c.ConflictKey))
	for i, col := range c.ConflictKey {
		v := stringify(row[col])
		if v == "" {
			return "", false
		}
		parts[i] = v
	}
	return joinKey(parts), true
}

// stringify renders a decoded JSON value the way the local store keeps it.
func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
