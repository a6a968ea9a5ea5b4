package reconcile

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/itsneelabh/betpilot/core"
)

// DefaultTimestampField is the per-row last-write-wins column.
const DefaultTimestampField = "last_updated"

// Columns every collection accepts on push, whatever its whitelist says.
var identityColumns = []string{"id", "created_at", "updated_at", DefaultTimestampField}

// CollectionConfig names one record collection and how its two copies are
// addressed.
type CollectionConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Local       string   `yaml:"local" json:"local"`
	Table       string   `yaml:"table" json:"table"`
	ConflictKey []string `yaml:"conflict_key" json:"conflict_key"`

	// Columns is the push whitelist. Empty means the local header.
	Columns []string `yaml:"columns,omitempty" json:"columns,omitempty"`

	// DateFields are shown locally as DD.MM.YYYY and stored remotely as
	// YYYY-MM-DD.
	DateFields []string `yaml:"date_fields,omitempty" json:"date_fields,omitempty"`

	// TimestampFields must hold strict ISO-8601 values before an upsert.
	TimestampFields []string `yaml:"timestamp_fields,omitempty" json:"timestamp_fields,omitempty"`

	TimestampField string `yaml:"timestamp_field,omitempty" json:"timestamp_field,omitempty"`
}

var (
	defaultDateFields      = []string{"date", "date_updated", "last_extracted"}
	defaultTimestampFields = []string{"last_updated", "date_updated", "last_extracted", "created_at", "updated_at"}
)

// DefaultCollections returns the built-in collection table.
func DefaultCollections() []CollectionConfig {
	entries := []struct{ name, key string }{
		{"predictions", "fixture_id"},
		{"schedules", "fixture_id"},
		{"teams", "team_id"},
		{"region_league", "rl_id"},
		{"standings", "standings_key"},
		{"fb_matches", "site_match_id"},
		{"profiles", "id"},
		{"custom_rules", "id"},
		{"rule_executions", "id"},
	}
	out := make([]CollectionConfig, 0, len(entries))
	for _, e := range entries {
		c := CollectionConfig{
			Name:        e.name,
			Local:       e.name + ".csv",
			Table:       e.name,
			ConflictKey: []string{e.key},
		}
		out = append(out, c.withDefaults())
	}
	return out
}

// withDefaults fills the optional fields.
func (c CollectionConfig) withDefaults() CollectionConfig {
	if c.Table == "" {
		c.Table = c.Name
	}
	if c.Local == "" {
		c.Local = c.Name + ".csv"
	}
	if c.TimestampField == "" {
		c.TimestampField = DefaultTimestampField
	}
	if c.DateFields == nil {
		c.DateFields = append([]string(nil), defaultDateFields...)
	}
	if c.TimestampFields == nil {
		c.TimestampFields = append([]string(nil), defaultTimestampFields...)
	}
	return c
}

// Validate checks that the collection can be reconciled.
func (c CollectionConfig) Validate() error {
	if c.Name == "" {
		return &core.FrameworkError{Op: "reconcile.CollectionConfig.Validate", Kind: "config", Message: "collection name is required", Err: core.ErrInvalidConfiguration}
	}
	if len(c.ConflictKey) == 0 {
		return &core.FrameworkError{Op: "reconcile.CollectionConfig.Validate", Kind: "config", ID: c.Name, Err: fmt.Errorf("%w: conflict key is required", core.ErrInvalidConfiguration)}
	}
	for _, k := range c.ConflictKey {
		if strings.TrimSpace(k) == "" {
			return &core.FrameworkError{Op: "reconcile.CollectionConfig.Validate", Kind: "config", ID: c.Name, Err: fmt.Errorf("%w: empty conflict key column", core.ErrInvalidConfiguration)}
		}
	}
	return nil
}

func (c CollectionConfig) isDateField(col string) bool {
	return slices.Contains(c.DateFields, col)
}

func (c CollectionConfig) isTimestampField(col string) bool {
	return slices.Contains(c.TimestampFields, col)
}

func (c CollectionConfig) isKeyColumn(col string) bool {
	return slices.Contains(c.ConflictKey, col)
}

type collectionsFile struct {
	Collections []CollectionConfig `yaml:"collections"`
}

// LoadCollections reads a YAML collection table:
//
//	collections:
//	  - name: teams
//	    conflict_key: [team_id]
func LoadCollections(path string) ([]CollectionConfig, error) {
	data, err := os.ReadFile(path) // nosec G304 -- operator supplied path
	if err != nil {
		return nil, &core.FrameworkError{Op: "reconcile.LoadCollections", Kind: "config", ID: path, Err: fmt.Errorf("%w: %w", core.ErrInvalidConfiguration, err)}
	}

	var file collectionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &core.FrameworkError{Op: "reconcile.LoadCollections", Kind: "config", ID: path, Err: fmt.Errorf("%w: %w", core.ErrInvalidConfiguration, err)}
	}
	if len(file.Collections) == 0 {
		return nil, &core.FrameworkError{Op: "reconcile.LoadCollections", Kind: "config", ID: path, Err: fmt.Errorf("%w: no collections defined", core.ErrInvalidConfiguration)}
	}

	out := make([]CollectionConfig, 0, len(file.Collections))
	seen := make(map[string]bool, len(file.Collections))
	for _, c := range file.Collections {
		c = c.withDefaults()
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if seen[c.Name] {
			return nil, &core.FrameworkError{Op: "reconcile.LoadCollections", Kind: "config", ID: c.Name, Err: fmt.Errorf("%w: duplicate collection", core.ErrInvalidConfiguration)}
		}
		seen[c.Name] = true
		out = append(out, c)
	}
	return out, nil
}

// Select returns the collections named in names, in that order. An empty
// names selects everything.
func Select(all []CollectionConfig, names []string) ([]CollectionConfig, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]CollectionConfig, len(all))
	for _, c := range all {
		byName[c.Name] = c
	}
	out := make([]CollectionConfig, 0, len(names))
	for _, n := range names {
		c, ok := byName[n]
		if !ok {
			return nil, &core.FrameworkError{Op: "reconcile.Select", Kind: "config", ID: n, Err: core.ErrCollectionNotFound}
		}
		out = append(out, c)
	}
	return out, nil
}
