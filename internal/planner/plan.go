package planner

import (
	"errors"
	"fmt"

	"blitzorm/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// countAlias names the derived table used by count queries.
const countAlias = "count_select"

// distinctAlias names the derived table used by distinct-pk queries
// over an override plan.
const distinctAlias = "distinct_select"

// Join is one outer join appended to a select.
type Join struct {
	// Table is the quoted, optionally aliased table expression.
	Table string
	// On is the rendered join condition.
	On string
}

// Order is one order-by term.
type Order struct {
	Column     string
	Descending bool
}

// Override is a pre-built select that replaces plan-driven SQL
// generation. Intersection plans are expressed this way.
type Override struct {
	SQL  string
	Args []interface{}
}

// Plan describes an executable query over one entity's table.
// When Override is set it wins over every other shaping field.
// Offset and Limit values of zero mean "not set".
type Plan struct {
	Table     string
	PK        string
	Columns   []string // physical column names, primary key included
	Condition sq.Sqlizer
	Joins     []Join
	GroupBys  []string
	Havings   []sq.Sqlizer
	OrderBys  []Order
	Offset    uint64
	Limit     uint64
	Override  *Override
}

// Clone returns a shallow copy sharing condition and join values.
// Callers mutate only scalar shaping fields on the copy.
func (p *Plan) Clone() *Plan {
	clone := *p
	clone.OrderBys = append([]Order(nil), p.OrderBys...)
	return &clone
}

func (p *Plan) builder(selectExprs []string) sq.SelectBuilder {
	b := sq.Select(selectExprs...).From(sqlutil.QuoteIdentifier(p.Table))
	for _, join := range p.Joins {
		b = b.LeftJoin(join.Table + " ON " + join.On)
	}
	if p.Condition != nil {
		b = b.Where(p.Condition)
	}
	if len(p.GroupBys) > 0 {
		quoted := make([]string, len(p.GroupBys))
		for i, col := range p.GroupBys {
			quoted[i] = sqlutil.QuoteIdentifier(col)
		}
		b = b.GroupBy(quoted...)
	}
	for _, having := range p.Havings {
		b = b.Having(having)
	}
	for _, order := range p.OrderBys {
		direction := " ASC"
		if order.Descending {
			direction = " DESC"
		}
		b = b.OrderBy(sqlutil.QuoteIdentifier(order.Column) + direction)
	}
	if p.Offset > 0 {
		b = b.Offset(p.Offset)
	}
	if p.Limit > 0 {
		b = b.Limit(p.Limit)
	}
	return b.PlaceholderFormat(sq.Question)
}

func (p *Plan) defaultSelectExprs() []string {
	exprs := make([]string, len(p.Columns))
	for i, col := range p.Columns {
		exprs[i] = sqlutil.QuoteIdentifier(col)
	}
	return exprs
}

// SelectSQL renders the plan as a select statement over its full
// column list. An override always wins.
func (p *Plan) SelectSQL() (string, []interface{}, error) {
	if p.Override != nil {
		return p.Override.SQL, p.Override.Args, nil
	}
	if len(p.Columns) == 0 {
		return "", nil, errors.New("plan has no columns")
	}
	return p.builder(p.defaultSelectExprs()).ToSql()
}

// pkSelectSQL renders the plan restricted to the primary key column,
// or the override verbatim when present.
func (p *Plan) pkSelectSQL() (string, []interface{}, error) {
	if p.Override != nil {
		return p.Override.SQL, p.Override.Args, nil
	}
	return p.builder([]string{sqlutil.QuoteIdentifier(p.PK)}).ToSql()
}

// CountSQL renders the count query: COUNT(*) over the pk-restricted plan.
func (p *Plan) CountSQL() (string, []interface{}, error) {
	inner, args, err := p.pkSelectSQL()
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS %s", inner, sqlutil.QuoteIdentifier(countAlias))
	return query, args, nil
}

// DistinctPKsSQL renders the distinct-primary-key query over the plan.
func (p *Plan) DistinctPKsSQL() (string, []interface{}, error) {
	if p.Override != nil {
		query := fmt.Sprintf(
			"SELECT DISTINCT %s FROM (%s) AS %s",
			sqlutil.QuoteIdentifier(p.PK),
			p.Override.SQL,
			sqlutil.QuoteIdentifier(distinctAlias),
		)
		return query, p.Override.Args, nil
	}
	return p.builder([]string{sqlutil.QuoteIdentifier(p.PK)}).Distinct().ToSql()
}

// DeleteSQL renders a delete against the base table restricted to the
// primary keys the plan selects.
func (p *Plan) DeleteSQL() (string, []interface{}, error) {
	inner, args, err := p.pkSelectSQL()
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE %s IN (%s)",
		sqlutil.QuoteIdentifier(p.Table),
		sqlutil.QuoteIdentifier(p.PK),
		inner,
	)
	return query, args, nil
}

// Intersect combines two plans over the same entity into an override
// plan whose select is the relational intersection of both selects.
// Valid for any two plans over the same entity regardless of how they
// were constructed.
func Intersect(a, b *Plan) (*Plan, error) {
	if a.Table != b.Table {
		return nil, fmt.Errorf("cannot intersect plans over different tables: %s vs %s", a.Table, b.Table)
	}
	leftSQL, leftArgs, err := a.SelectSQL()
	if err != nil {
		return nil, err
	}
	rightSQL, rightArgs, err := b.SelectSQL()
	if err != nil {
		return nil, err
	}
	args := make([]interface{}, 0, len(leftArgs)+len(rightArgs))
	args = append(args, leftArgs...)
	args = append(args, rightArgs...)
	return &Plan{
		Table:   a.Table,
		PK:      a.PK,
		Columns: append([]string(nil), a.Columns...),
		Override: &Override{
			SQL:  fmt.Sprintf("(%s) INTERSECT (%s)", leftSQL, rightSQL),
			Args: args,
		},
	}, nil
}
