package planner

import (
	"sort"
	"strings"

	"blitzorm/internal/sqlutil"
	"blitzorm/schema"

	sq "github.com/Masterminds/squirrel"
)

// cteName is the common table expression the base select is folded
// into so that include joins have a stable anchor.
const cteName = "results"

// Include specifies which related entities to eagerly pull in.
// Fields restricts the projection to specific logical fields (the
// primary key is always forced in); Joins maps relationship names to
// nested include specifications, nil meaning "all indexed fields".
type Include struct {
	Fields []string
	Joins  map[string]*Include
}

// IncludePlan is the output of expanding an include specification:
// labeled select expressions, outer joins against the CTE, and the
// keymap describing how to read the wide row back into nested form.
type IncludePlan struct {
	Columns []string
	Joins   []Join
	Keymap  *Keymap
}

type includeState struct {
	registry *schema.Registry
	columns  []string
	joins    []Join
}

// PlanInclude expands an include specification for the given entity.
// A nil or empty include yields a flat identity keymap over the
// entity's indexed columns and no joins.
func PlanInclude(registry *schema.Registry, entity schema.Entity, include *Include) (*IncludePlan, error) {
	state := &includeState{registry: registry}
	keymap := NewKeymap(entity.PrimaryKey)

	if include != nil && len(include.Fields) > 0 {
		if err := state.projectRootFields(entity, include.Fields, keymap); err != nil {
			return nil, err
		}
	} else {
		for _, field := range registry.IndexedColumns(entity) {
			state.columns = append(state.columns, sqlutil.Qualify(cteName, field.Column))
			keymap.SetColumn(field.Name, field.Column)
		}
	}

	if include != nil {
		for _, relName := range sortedJoinKeys(include.Joins) {
			if err := state.joinRelationship(entity, cteName, relName, include.Joins[relName], nil, keymap); err != nil {
				return nil, err
			}
		}
	}

	return &IncludePlan{Columns: state.columns, Joins: state.joins, Keymap: keymap}, nil
}

func (s *includeState) projectRootFields(entity schema.Entity, fields []string, keymap *Keymap) error {
	// The primary key is always selected, requested or not.
	s.columns = append(s.columns, sqlutil.Qualify(cteName, entity.PrimaryKey))
	keymap.SetColumn(entity.PrimaryKey, entity.PrimaryKey)
	for _, name := range fields {
		ref, err := s.registry.ResolveField(entity, name)
		if err != nil {
			return err
		}
		if ref.Column == entity.PrimaryKey {
			continue
		}
		s.columns = append(s.columns, sqlutil.Qualify(cteName, ref.Column))
		keymap.SetColumn(ref.Name, ref.Column)
	}
	return nil
}

// joinRelationship appends the joins for one relationship and records
// its branch in the parent keymap, then recurses into nested joins.
func (s *includeState) joinRelationship(
	parent schema.Entity,
	parentAlias string,
	relName string,
	include *Include,
	path []string,
	keymap *Keymap,
) error {
	rel, err := s.registry.ResolveRelationship(parent, relName)
	if err != nil {
		return err
	}
	target, err := s.registry.Entity(rel.Target)
	if err != nil {
		return err
	}

	branchPath := append(append([]string(nil), path...), relName)
	targetAlias := strings.Join(branchPath, "_")

	if rel.IsManyToMany {
		junctionAlias := targetAlias + "_junction"
		s.joins = append(s.joins, Join{
			Table: sqlutil.Aliased(rel.JunctionTable, junctionAlias),
			On:    sqlutil.Qualify(junctionAlias, rel.JunctionLocalColumn) + " = " + sqlutil.Qualify(parentAlias, parent.PrimaryKey),
		})
		s.joins = append(s.joins, Join{
			Table: sqlutil.Aliased(target.Table, targetAlias),
			On:    sqlutil.Qualify(junctionAlias, rel.JunctionRemoteColumn) + " = " + sqlutil.Qualify(targetAlias, target.PrimaryKey),
		})
	} else {
		s.joins = append(s.joins, Join{
			Table: sqlutil.Aliased(target.Table, targetAlias),
			On:    sqlutil.Qualify(parentAlias, rel.LocalColumn) + " = " + sqlutil.Qualify(targetAlias, target.PrimaryKey),
		})
	}

	branch, err := s.projectBranch(target, targetAlias, include, branchPath)
	if err != nil {
		return err
	}
	if rel.IsManyToMany {
		keymap.SetManyToMany(relName, branch)
	} else {
		keymap.SetForeignKey(relName, branch)
	}

	if include != nil {
		for _, subName := range sortedJoinKeys(include.Joins) {
			if err := s.joinRelationship(target, targetAlias, subName, include.Joins[subName], branchPath, branch); err != nil {
				return err
			}
		}
	}
	return nil
}

// projectBranch selects the requested fields of a joined entity,
// labeling each output column by its relationship path so the same
// collection can be joined via different paths without collisions.
func (s *includeState) projectBranch(entity schema.Entity, alias string, include *Include, path []string) (*Keymap, error) {
	prefix := strings.Join(path, "_")
	pkLabel := prefix + "_" + entity.PrimaryKey
	branch := NewKeymap(pkLabel)

	s.columns = append(s.columns, labeled(sqlutil.Qualify(alias, entity.PrimaryKey), pkLabel))
	branch.SetColumn(entity.PrimaryKey, pkLabel)

	if include != nil && len(include.Fields) > 0 {
		for _, name := range include.Fields {
			ref, err := s.registry.ResolveField(entity, name)
			if err != nil {
				return nil, err
			}
			if ref.Column == entity.PrimaryKey {
				continue
			}
			label := prefix + "_" + ref.Column
			s.columns = append(s.columns, labeled(sqlutil.Qualify(alias, ref.Column), label))
			branch.SetColumn(ref.Name, label)
		}
		return branch, nil
	}

	for _, field := range s.registry.IndexedColumns(entity) {
		if field.Column == entity.PrimaryKey {
			continue
		}
		label := prefix + "_" + field.Column
		s.columns = append(s.columns, labeled(sqlutil.Qualify(alias, field.Column), label))
		branch.SetColumn(field.Name, label)
	}
	return branch, nil
}

func labeled(expr, label string) string {
	return expr + " AS " + sqlutil.QuoteIdentifier(label)
}

func sortedJoinKeys(joins map[string]*Include) []string {
	keys := make([]string, 0, len(joins))
	for key := range joins {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// IncludeSelectSQL renders the full materialization query: the plan's
// select becomes a CTE and the include plan's joins and labeled
// columns are applied on top of it.
func (p *Plan) IncludeSelectSQL(ip *IncludePlan) (string, []interface{}, error) {
	base, baseArgs, err := p.SelectSQL()
	if err != nil {
		return "", nil, err
	}
	b := sq.Select(ip.Columns...).From(sqlutil.QuoteIdentifier(cteName))
	for _, join := range ip.Joins {
		b = b.LeftJoin(join.Table + " ON " + join.On)
	}
	b = b.Prefix("WITH "+sqlutil.QuoteIdentifier(cteName)+" AS ("+base+")", baseArgs...)
	return b.PlaceholderFormat(sq.Question).ToSql()
}
