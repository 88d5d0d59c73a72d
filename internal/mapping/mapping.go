package mapping

import (
	"errors"
	"fmt"

	"notionsync/internal/notion"
)

// ErrMappingNotFound marks a configuration error: the table has no Notion
// counterpart. Callers must fail the job permanently instead of burning
// retries on it.
var ErrMappingNotFound = errors.New("no notion mapping for table")

// PropertyMapping links one table column to one Notion property. It is
// the converter's FieldMapping so registries feed the converters directly.
type PropertyMapping = notion.FieldMapping

// RelationMapping links a foreign-key column to a Notion relation
// property pointing into another mapped database.
type RelationMapping struct {
	Column            string
	Property          string
	RelatedDatabaseID string
}

// Mapping is the full static configuration for one synchronizable table.
type Mapping struct {
	Table         string
	DatabaseID    string
	TitleProperty string // table column feeding the Notion title
	Properties    []PropertyMapping
	Relations     []RelationMapping
}

// Registry is the immutable table <-> Notion database mapping set, loaded
// once at startup.
type Registry struct {
	byTable    map[string]Mapping
	byDatabase map[string]string
}

// NewRegistry indexes the given mappings. Tables without a database id are
// skipped: they are declared but not enabled in this deployment.
func NewRegistry(mappings []Mapping) (*Registry, error) {
	r := &Registry{
		byTable:    make(map[string]Mapping, len(mappings)),
		byDatabase: make(map[string]string, len(mappings)),
	}
	for _, m := range mappings {
		if m.Table == "" {
			return nil, errors.New("mapping with empty table name")
		}
		if _, dup := r.byTable[m.Table]; dup {
			return nil, fmt.Errorf("duplicate mapping for table %q", m.Table)
		}
		if m.DatabaseID == "" {
			continue
		}
		if other, dup := r.byDatabase[m.DatabaseID]; dup {
			return nil, fmt.Errorf("tables %q and %q share notion database %s", other, m.Table, m.DatabaseID)
		}
		r.byTable[m.Table] = m
		r.byDatabase[m.DatabaseID] = m.Table
	}
	return r, nil
}

// Lookup returns the mapping for a table or ErrMappingNotFound.
func (r *Registry) Lookup(table string) (Mapping, error) {
	m, ok := r.byTable[table]
	if !ok {
		return Mapping{}, fmt.Errorf("%w: %s", ErrMappingNotFound, table)
	}
	return m, nil
}

// ByDatabaseID resolves a Notion database id back to its table name.
// Used by the webhook route; unknown databases are an expected outcome.
func (r *Registry) ByDatabaseID(databaseID string) (string, bool) {
	table, ok := r.byDatabase[databaseID]
	return table, ok
}

// Tables lists the enabled table names.
func (r *Registry) Tables() []string {
	out := make([]string, 0, len(r.byTable))
	for t := range r.byTable {
		out = append(out, t)
	}
	return out
}
