package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
)

// tableMeta is the raw shape of one table as reported by information_schema.
type tableMeta struct {
	name        string
	columns     []string
	primaryKeys []string
	foreignKeys []foreignKey
}

type foreignKey struct {
	column           string
	referencedTable  string
	referencedColumn string
}

// Introspect builds a registry from a live database by reading
// information_schema. Tables become collections named by their
// singularized table name; foreign keys become relationships; a table
// holding nothing but two foreign keys is treated as a junction and
// surfaces as a many-to-many relationship on both sides instead of a
// collection of its own.
func Introspect(ctx context.Context, db *sql.DB, database string) (*Registry, error) {
	tables, err := discoverTables(ctx, db, database)
	if err != nil {
		return nil, err
	}

	junctions := map[string]tableMeta{}
	entities := map[string]tableMeta{}
	for _, table := range tables {
		if isJunction(table) {
			junctions[table.name] = table
		} else {
			entities[table.name] = table
		}
	}

	collectionByTable := make(map[string]string, len(entities))
	for name := range entities {
		collectionByTable[name] = inflection.Singular(name)
	}

	registry := NewRegistry()
	for _, name := range sortedKeys(entities) {
		table := entities[name]
		entity, err := buildEntity(table, collectionByTable, junctions)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(entity); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func discoverTables(ctx context.Context, db *sql.DB, database string) ([]tableMeta, error) {
	names, err := tableNames(ctx, db, database)
	if err != nil {
		return nil, err
	}

	tables := make([]tableMeta, 0, len(names))
	for _, name := range names {
		table := tableMeta{name: name}
		if table.columns, err = tableColumns(ctx, db, database, name); err != nil {
			return nil, err
		}
		if table.primaryKeys, err = tablePrimaryKeys(ctx, db, database, name); err != nil {
			return nil, err
		}
		if table.foreignKeys, err = tableForeignKeys(ctx, db, database, name); err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func tableNames(ctx context.Context, db *sql.DB, database string) ([]string, error) {
	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ?
		AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`
	return queryStrings(ctx, db, query, database)
}

func tableColumns(ctx context.Context, db *sql.DB, database, table string) ([]string, error) {
	query := `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`
	return queryStrings(ctx, db, query, database, table)
}

func tablePrimaryKeys(ctx context.Context, db *sql.DB, database, table string) ([]string, error) {
	query := `
		SELECT COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
		AND CONSTRAINT_NAME = 'PRIMARY'
		ORDER BY ORDINAL_POSITION
	`
	return queryStrings(ctx, db, query, database, table)
}

func tableForeignKeys(ctx context.Context, db *sql.DB, database, table string) ([]foreignKey, error) {
	query := `
		SELECT COLUMN_NAME, REFERENCED_TABLE_NAME, REFERENCED_COLUMN_NAME
		FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE
		WHERE TABLE_SCHEMA = ?
		AND TABLE_NAME = ?
		AND REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY CONSTRAINT_NAME, ORDINAL_POSITION
	`
	rows, err := db.QueryContext(ctx, query, database, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var fks []foreignKey
	for rows.Next() {
		var fk foreignKey
		if err := rows.Scan(&fk.column, &fk.referencedTable, &fk.referencedColumn); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func queryStrings(ctx context.Context, db *sql.DB, query string, args ...interface{}) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, rows.Err()
}

// isJunction reports whether a table carries nothing but two foreign
// keys, making it pure relationship plumbing. Junctions with extra
// attribute columns stay regular collections.
func isJunction(table tableMeta) bool {
	if len(table.foreignKeys) != 2 {
		return false
	}
	fkColumns := map[string]struct{}{}
	for _, fk := range table.foreignKeys {
		fkColumns[fk.column] = struct{}{}
	}
	for _, col := range table.columns {
		if _, ok := fkColumns[col]; !ok {
			return false
		}
	}
	return true
}

func buildEntity(table tableMeta, collectionByTable map[string]string, junctions map[string]tableMeta) (Entity, error) {
	if len(table.primaryKeys) != 1 {
		return Entity{}, fmt.Errorf("table %s: exactly one primary key column is required, found %d",
			table.name, len(table.primaryKeys))
	}
	pk := table.primaryKeys[0]

	entity := Entity{
		Name:       collectionByTable[table.name],
		Table:      table.name,
		PrimaryKey: pk,
	}

	for _, col := range table.columns {
		if col == pk {
			continue
		}
		entity.Fields = append(entity.Fields, Field{Name: col, Column: col})
	}

	for _, fk := range table.foreignKeys {
		target, ok := collectionByTable[fk.referencedTable]
		if !ok {
			continue
		}
		entity.Relationships = append(entity.Relationships, Relationship{
			Name:        relationshipName(fk.column, target),
			Target:      target,
			LocalColumn: fk.column,
		})
	}

	for _, junctionName := range sortedKeys(junctions) {
		junction := junctions[junctionName]
		local, remote, ok := junctionSides(junction, table.name)
		if !ok {
			continue
		}
		target, ok := collectionByTable[remote.referencedTable]
		if !ok {
			continue
		}
		entity.Relationships = append(entity.Relationships, Relationship{
			Name:                 inflection.Plural(target),
			Target:               target,
			IsManyToMany:         true,
			JunctionTable:        junction.name,
			JunctionLocalColumn:  local.column,
			JunctionRemoteColumn: remote.column,
		})
	}

	return entity, nil
}

// junctionSides splits a junction's two foreign keys into the one
// pointing at the given table and the one pointing away from it.
// Self-referencing junctions are skipped.
func junctionSides(junction tableMeta, table string) (local, remote foreignKey, ok bool) {
	a, b := junction.foreignKeys[0], junction.foreignKeys[1]
	switch {
	case a.referencedTable == table && b.referencedTable != table:
		return a, b, true
	case b.referencedTable == table && a.referencedTable != table:
		return b, a, true
	default:
		return foreignKey{}, foreignKey{}, false
	}
}

// relationshipName derives a field name from a foreign key column by
// trimming the usual key suffixes, falling back to the target name.
func relationshipName(column, target string) string {
	for _, suffix := range []string{"_id", "_pk", "_fk"} {
		if trimmed := strings.TrimSuffix(column, suffix); trimmed != column && trimmed != "" {
			return trimmed
		}
	}
	return target
}

func sortedKeys(tables map[string]tableMeta) []string {
	keys := make([]string, 0, len(tables))
	for key := range tables {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
