package reconcile

import (
	"regexp"
	"strings"
	"time"
)

// UpsertReport counts what happened to one push batch.
type UpsertReport struct {
	Received         int `json:"received"`
	Submitted        int `json:"submitted"`
	DroppedNullKey   int `json:"dropped_null_key"`
	DroppedDuplicate int `json:"dropped_duplicate"`
}

// Dropped is the number of rows the gate removed.
func (r UpsertReport) Dropped() int {
	return r.DroppedNullKey + r.DroppedDuplicate
}

var (
	strictTimestamp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?([+-]\d{2}:?\d{2}|Z)?$`)
	bareDate        = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	displayDate     = regexp.MustCompile(`^(\d{2})\.(\d{2})\.(\d{4})$`)
)

// isoMicros matches the remote store's own timestamp rendering.
const isoMicros = "2006-01-02T15:04:05.000000"

// Gate turns local rows into a batch the remote store accepts.
type Gate struct {
	Collection CollectionConfig
	Now        func() time.Time

	allowed map[string]bool
}

// NewGate builds the gate for c. header is the local column set, used as the
// whitelist when c.Columns is empty.
func NewGate(c CollectionConfig, header []string) *Gate {
	cols := c.Columns
	if len(cols) == 0 {
		cols = header
	}
	allowed := make(map[string]bool, len(cols)+len(identityColumns)+len(c.ConflictKey)+1)
	for _, col := range cols {
		allowed[col] = true
	}
	for _, col := range identityColumns {
		allowed[col] = true
	}
	for _, col := range c.ConflictKey {
		allowed[col] = true
	}
	if c.TimestampField != "" {
		allowed[c.TimestampField] = true
	}
	return &Gate{Collection: c, Now: time.Now, allowed: allowed}
}

// Apply cleans rows and returns the batch to submit. Rows with a null key
// part are dropped, and a repeated key keeps its first row. An empty result
// means nothing should be sent.
func (g *Gate) Apply(rows []Row) ([]map[string]interface{}, UpsertReport) {
	report := UpsertReport{Received: len(rows)}
	now := g.now()

	seen := make(map[string]bool, len(rows))
	out := make([]map[string]interface{}, 0, len(rows))

	for _, row := range rows {
		clean := g.clean(row, now)

		key, ok := g.key(clean)
		if !ok {
			report.DroppedNullKey++
			continue
		}
		if seen[key] {
			report.DroppedDuplicate++
			continue
		}
		seen[key] = true
		out = append(out, clean)
	}

	report.Submitted = len(out)
	return out, report
}

func (g *Gate) clean(row Row, now string) map[string]interface{} {
	c := g.Collection
	clean := make(map[string]interface{}, len(row)+1)

	for col, raw := range row {
		if !g.allowed[col] {
			continue
		}
		v := strings.TrimSpace(strings.ReplaceAll(raw, "\x00", ""))
		if v == "" || v == "N/A" {
			clean[col] = nil
			if c.isTimestampField(col) {
				clean[col] = now
			}
			continue
		}
		if c.isDateField(col) {
			if m := displayDate.FindStringSubmatch(v); m != nil {
				v = m[3] + "-" + m[2] + "-" + m[1]
			}
		}
		if c.isTimestampField(col) && !g.validTimestamp(col, v) {
			v = now
		}
		clean[col] = v
	}

	if id, ok := clean["id"]; ok && id == nil {
		delete(clean, "id")
	}

	if _, ok := clean[c.TimestampField]; !ok {
		clean[c.TimestampField] = now
	}
	return clean
}

func (g *Gate) validTimestamp(col, v string) bool {
	if strictTimestamp.MatchString(v) {
		return true
	}
	return g.Collection.isDateField(col) && bareDate.MatchString(v)
}

// key returns the conflict key tuple, or false if any part is null.
func (g *Gate) key(clean map[string]interface{}) (string, bool) {
	parts := make([]string, len(g.Collection.ConflictKey))
	for i, col := range g.Collection.ConflictKey {
		s, _ := clean[col].(string)
		if s == "" || s == "null" {
			return "", false
		}
		parts[i] = s
	}
	return joinKey(parts), true
}

func (g *Gate) now() string {
	nowFn := g.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return nowFn().UTC().Format(isoMicros)
}
