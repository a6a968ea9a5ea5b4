package reconcile

import (
	"regexp"
	"sort"
)

var isoDatePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// localValue renders a remote value for the local store. Date fields become
// DD.MM.YYYY.
func (c CollectionConfig) localValue(col string, v interface{}) string {
	s := stringify(v)
	if c.isDateField(col) && isoDatePrefix.MatchString(s) {
		return s[8:10] + "." + s[5:7] + "." + s[0:4]
	}
	return s
}

// normalizeRemote converts a decoded remote row into a local Row.
func normalizeRemote(c CollectionConfig, r RemoteRow) Row {
	row := make(Row, len(r))
	for col, v := range r {
		row[col] = c.localValue(col, v)
	}
	return row
}

// mergePulled folds pulled rows into table. Existing rows are updated in
// place, unknown keys are appended in the order given. Rows without a key
// are kept as they are. It returns the number of rows merged.
func mergePulled(c CollectionConfig, table *Table, pulled []Row) int {
	index := make(map[string]int, len(table.Rows))
	for i, row := range table.Rows {
		if k, ok := localKey(c, row); ok {
			index[k] = i
		}
	}

	merged := 0
	for _, incoming := range pulled {
		k, ok := localKey(c, incoming)
		if !ok {
			continue
		}
		if i, exists := index[k]; exists {
			for col, v := range incoming {
				table.Rows[i][col] = v
			}
		} else {
			index[k] = len(table.Rows)
			table.Rows = append(table.Rows, incoming)
		}
		merged++
	}

	table.Columns = orderColumns(c, table.Columns, table.Rows)
	return merged
}

// orderColumns puts the key columns first and the timestamp column last.
// Other columns keep their prior order, followed by new ones sorted.
func orderColumns(c CollectionConfig, prior []string, rows []Row) []string {
	known := make(map[string]bool, len(prior))
	for _, col := range prior {
		known[col] = true
	}
	var added []string
	for _, row := range rows {
		for col := range row {
			if !known[col] {
				known[col] = true
				added = append(added, col)
			}
		}
	}
	sort.Strings(added)

	out := make([]string, 0, len(known))
	out = append(out, c.ConflictKey...)
	hasTimestamp := false
	for _, col := range append(append([]string(nil), prior...), added...) {
		switch {
		case c.isKeyColumn(col):
		case col == c.TimestampField:
			hasTimestamp = true
		default:
			out = append(out, col)
		}
	}
	if hasTimestamp {
		out = append(out, c.TimestampField)
	}
	return out
}
