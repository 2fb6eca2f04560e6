package planner

import (
	"fmt"
	"sort"

	"blitzorm/internal/sqlutil"
	"blitzorm/schema"

	sq "github.com/Masterminds/squirrel"
)

// BuildCondition translates a query-by-example map into a SQL condition.
// Plain keys are logical field names compared for equality; a map value
// may carry comparison operators ($ne, $gt, $gte, $lt, $lte, $in, $nin,
// $not, $exists); $and and $or combine sub-queries. An empty query
// yields a nil condition (match everything).
func BuildCondition(registry *schema.Registry, entity schema.Entity, query map[string]interface{}) (sq.Sqlizer, error) {
	if len(query) == 0 {
		return nil, nil
	}

	conditions := []sq.Sqlizer{}
	keys := make([]string, 0, len(query))
	for key := range query {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := query[key]
		switch key {
		case "$and", "$or":
			subQueries, ok := value.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%s requires a list of sub-queries", key)
			}
			subConditions := []sq.Sqlizer{}
			for _, raw := range subQueries {
				subQuery, ok := raw.(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("%s sub-queries must be objects", key)
				}
				cond, err := BuildCondition(registry, entity, subQuery)
				if err != nil {
					return nil, err
				}
				if cond != nil {
					subConditions = append(subConditions, cond)
				}
			}
			if len(subConditions) == 0 {
				continue
			}
			if key == "$and" {
				conditions = append(conditions, sq.And(subConditions))
			} else {
				conditions = append(conditions, sq.Or(subConditions))
			}

		default:
			ref, err := registry.ResolveField(entity, key)
			if err != nil {
				return nil, err
			}
			column := sqlutil.QuoteIdentifier(ref.Column)

			operators, ok := value.(map[string]interface{})
			if !ok {
				conditions = append(conditions, sq.Eq{column: value})
				continue
			}
			fieldConditions, err := buildFieldOperators(column, operators)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, fieldConditions...)
		}
	}

	if len(conditions) == 0 {
		return nil, nil
	}
	if len(conditions) == 1 {
		return conditions[0], nil
	}
	return sq.And(conditions), nil
}

func buildFieldOperators(column string, operators map[string]interface{}) ([]sq.Sqlizer, error) {
	conditions := []sq.Sqlizer{}

	ops := make([]string, 0, len(operators))
	for op := range operators {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	for _, op := range ops {
		value := operators[op]
		switch op {
		case "$ne":
			conditions = append(conditions, sq.NotEq{column: value})
		case "$gt":
			conditions = append(conditions, sq.Gt{column: value})
		case "$gte":
			conditions = append(conditions, sq.GtOrEq{column: value})
		case "$lt":
			conditions = append(conditions, sq.Lt{column: value})
		case "$lte":
			conditions = append(conditions, sq.LtOrEq{column: value})
		case "$in":
			list, err := operatorList(op, value)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, sq.Eq{column: list})
		case "$nin":
			list, err := operatorList(op, value)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, sq.NotEq{column: list})
		case "$not":
			inner, ok := value.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("$not requires an operator object")
			}
			innerConditions, err := buildFieldOperators(column, inner)
			if err != nil {
				return nil, err
			}
			for _, cond := range innerConditions {
				conditions = append(conditions, notExpr{cond})
			}
		case "$exists":
			exists, ok := value.(bool)
			if !ok {
				return nil, fmt.Errorf("$exists requires a boolean")
			}
			if exists {
				conditions = append(conditions, sq.NotEq{column: nil})
			} else {
				conditions = append(conditions, sq.Eq{column: nil})
			}
		default:
			return nil, fmt.Errorf("unknown query operator: %s", op)
		}
	}

	return conditions, nil
}

func operatorList(op string, value interface{}) ([]interface{}, error) {
	switch v := value.(type) {
	case []interface{}:
		return v, nil
	case []string:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s requires a list", op)
	}
}

// notExpr negates a condition.
type notExpr struct {
	inner sq.Sqlizer
}

func (n notExpr) ToSql() (string, []interface{}, error) {
	query, args, err := n.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + query + ")", args, nil
}
