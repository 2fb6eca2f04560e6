// Package schema holds entity descriptors and the registry that maps
// logical field names to physical columns and relationship metadata.
// Entities are registered explicitly at application startup.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
)

// DefaultPrimaryKey is the column name assumed for entities that do not
// declare their own primary key column.
const DefaultPrimaryKey = "pk"

var (
	// ErrUnknownCollection indicates a lookup for a collection that was never registered.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrUnknownField indicates a logical field that cannot be resolved to a column.
	ErrUnknownField = errors.New("unknown field")
	// ErrUnknownRelationship indicates a relationship name that does not exist on an entity.
	ErrUnknownRelationship = errors.New("unknown relationship")
)

// Field maps a logical field name to an indexed physical column.
type Field struct {
	Name   string
	Column string
}

// Relationship describes how an entity reaches a related entity.
// Exactly one shape applies: a foreign key held on the owning table, or
// a many-to-many connection through a junction table.
type Relationship struct {
	Name         string
	Target       string // target collection name
	IsManyToMany bool

	// Foreign key: the column on the owning table holding the target's pk.
	LocalColumn string

	// Many-to-many: the junction table and its two FK columns.
	JunctionTable        string
	JunctionLocalColumn  string // junction column referencing the owning entity's pk
	JunctionRemoteColumn string // junction column referencing the target entity's pk
}

// Entity describes one registered collection.
type Entity struct {
	Name          string // collection name, e.g. "actor"
	Table         string // physical table, derived from Name when empty
	PrimaryKey    string // pk column, DefaultPrimaryKey when empty
	Fields        []Field
	Relationships []Relationship
}

// FieldRef is a resolved logical field.
type FieldRef struct {
	Name   string
	Column string
}

// Registry resolves collections, fields, and relationships.
// It is read-only after startup registration and safe for concurrent use.
type Registry struct {
	entities map[string]Entity
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entities: make(map[string]Entity)}
}

// Register adds an entity descriptor, filling in defaults:
// the table name is the pluralized collection name, the primary key
// column is "pk", and the pk field is always resolvable.
func (r *Registry) Register(entity Entity) error {
	if strings.TrimSpace(entity.Name) == "" {
		return fmt.Errorf("entity name is required")
	}
	if _, exists := r.entities[entity.Name]; exists {
		return fmt.Errorf("collection %s is already registered", entity.Name)
	}
	if entity.Table == "" {
		entity.Table = inflection.Plural(strings.ToLower(entity.Name))
	}
	if entity.PrimaryKey == "" {
		entity.PrimaryKey = DefaultPrimaryKey
	}
	for _, rel := range entity.Relationships {
		if rel.Name == "" || rel.Target == "" {
			return fmt.Errorf("entity %s: relationship needs a name and a target", entity.Name)
		}
		if rel.IsManyToMany {
			if rel.JunctionTable == "" || rel.JunctionLocalColumn == "" || rel.JunctionRemoteColumn == "" {
				return fmt.Errorf("entity %s: many-to-many relationship %s needs a junction mapping", entity.Name, rel.Name)
			}
		} else if rel.LocalColumn == "" {
			return fmt.Errorf("entity %s: foreign-key relationship %s needs a local column", entity.Name, rel.Name)
		}
	}
	r.entities[entity.Name] = entity
	return nil
}

// Entity returns the descriptor registered for a collection name.
func (r *Registry) Entity(name string) (Entity, error) {
	entity, ok := r.entities[name]
	if !ok {
		return Entity{}, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	return entity, nil
}

// Collections returns all registered collection names, sorted.
func (r *Registry) Collections() []string {
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveField maps a logical field name to its physical column on the
// given entity. The primary key resolves even when not declared as a field.
func (r *Registry) ResolveField(entity Entity, name string) (FieldRef, error) {
	if name == entity.PrimaryKey || name == DefaultPrimaryKey {
		return FieldRef{Name: entity.PrimaryKey, Column: entity.PrimaryKey}, nil
	}
	for _, field := range entity.Fields {
		if field.Name == name {
			column := field.Column
			if column == "" {
				column = field.Name
			}
			return FieldRef{Name: field.Name, Column: column}, nil
		}
	}
	return FieldRef{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, entity.Name, name)
}

// ResolveRelationship returns the relationship registered under the given name.
func (r *Registry) ResolveRelationship(entity Entity, name string) (Relationship, error) {
	for _, rel := range entity.Relationships {
		if rel.Name == name {
			return rel, nil
		}
	}
	return Relationship{}, fmt.Errorf("%w: %s.%s", ErrUnknownRelationship, entity.Name, name)
}

// IndexedColumns returns every indexed column of the entity in
// declaration order, with the primary key first.
func (r *Registry) IndexedColumns(entity Entity) []Field {
	columns := make([]Field, 0, len(entity.Fields)+1)
	columns = append(columns, Field{Name: entity.PrimaryKey, Column: entity.PrimaryKey})
	for _, field := range entity.Fields {
		column := field.Column
		if column == "" {
			column = field.Name
		}
		if column == entity.PrimaryKey {
			continue
		}
		columns = append(columns, Field{Name: field.Name, Column: column})
	}
	return columns
}
