package planner

import (
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func actorPlan() *Plan {
	return &Plan{
		Table:   "actors",
		PK:      "pk",
		Columns: []string{"pk", "name", "birth_year"},
	}
}

func TestSelectSQL(t *testing.T) {
	t.Run("unfiltered select over all columns", func(t *testing.T) {
		query, args, err := actorPlan().SelectSQL()
		require.NoError(t, err)
		assert.Equal(t, "SELECT `pk`, `name`, `birth_year` FROM `actors`", query)
		assert.Empty(t, args)
	})

	t.Run("condition renders as where clause", func(t *testing.T) {
		plan := actorPlan()
		plan.Condition = sq.Eq{"`name`": "Tilda Swinton"}

		query, args, err := plan.SelectSQL()
		require.NoError(t, err)
		assert.Equal(t, "SELECT `pk`, `name`, `birth_year` FROM `actors` WHERE `name` = ?", query)
		assert.Equal(t, []interface{}{"Tilda Swinton"}, args)
	})

	t.Run("order offset and limit", func(t *testing.T) {
		plan := actorPlan()
		plan.OrderBys = []Order{
			{Column: "birth_year", Descending: true},
			{Column: "name"},
		}
		plan.Offset = 5
		plan.Limit = 10

		query, _, err := plan.SelectSQL()
		require.NoError(t, err)
		assert.Equal(t,
			"SELECT `pk`, `name`, `birth_year` FROM `actors` ORDER BY `birth_year` DESC, `name` ASC LIMIT 10 OFFSET 5",
			query)
	})

	t.Run("zero offset and limit are not rendered", func(t *testing.T) {
		query, _, err := actorPlan().SelectSQL()
		require.NoError(t, err)
		assert.NotContains(t, query, "LIMIT")
		assert.NotContains(t, query, "OFFSET")
	})

	t.Run("override wins over every shaping field", func(t *testing.T) {
		plan := actorPlan()
		plan.Limit = 3
		plan.Override = &Override{SQL: "SELECT 1", Args: []interface{}{42}}

		query, args, err := plan.SelectSQL()
		require.NoError(t, err)
		assert.Equal(t, "SELECT 1", query)
		assert.Equal(t, []interface{}{42}, args)
	})

	t.Run("plan without columns errors", func(t *testing.T) {
		plan := &Plan{Table: "actors", PK: "pk"}
		_, _, err := plan.SelectSQL()
		assert.Error(t, err)
	})
}

func TestCountSQL(t *testing.T) {
	plan := actorPlan()
	plan.Condition = sq.Eq{"`name`": "Tilda Swinton"}

	query, args, err := plan.CountSQL()
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT COUNT(*) FROM (SELECT `pk` FROM `actors` WHERE `name` = ?) AS `count_select`",
		query)
	assert.Equal(t, []interface{}{"Tilda Swinton"}, args)
}

func TestDistinctPKsSQL(t *testing.T) {
	t.Run("plain plan selects distinct primary keys", func(t *testing.T) {
		query, _, err := actorPlan().DistinctPKsSQL()
		require.NoError(t, err)
		assert.Equal(t, "SELECT DISTINCT `pk` FROM `actors`", query)
	})

	t.Run("override is wrapped in a derived table", func(t *testing.T) {
		plan := actorPlan()
		plan.Override = &Override{SQL: "(SELECT `pk` FROM `actors`) INTERSECT (SELECT `pk` FROM `actors`)"}

		query, _, err := plan.DistinctPKsSQL()
		require.NoError(t, err)
		assert.Equal(t,
			"SELECT DISTINCT `pk` FROM ((SELECT `pk` FROM `actors`) INTERSECT (SELECT `pk` FROM `actors`)) AS `distinct_select`",
			query)
	})
}

func TestDeleteSQL(t *testing.T) {
	plan := actorPlan()
	plan.Condition = sq.Eq{"`birth_year`": 1983}

	query, args, err := plan.DeleteSQL()
	require.NoError(t, err)
	assert.Equal(t,
		"DELETE FROM `actors` WHERE `pk` IN (SELECT `pk` FROM `actors` WHERE `birth_year` = ?)",
		query)
	assert.Equal(t, []interface{}{1983}, args)
}

func TestIntersect(t *testing.T) {
	t.Run("combines two selects and their arguments", func(t *testing.T) {
		a := actorPlan()
		a.Condition = sq.Eq{"`name`": "Tilda Swinton"}
		b := actorPlan()
		b.Condition = sq.Eq{"`birth_year`": 1960}

		plan, err := Intersect(a, b)
		require.NoError(t, err)
		require.NotNil(t, plan.Override)
		assert.Equal(t,
			"(SELECT `pk`, `name`, `birth_year` FROM `actors` WHERE `name` = ?) INTERSECT (SELECT `pk`, `name`, `birth_year` FROM `actors` WHERE `birth_year` = ?)",
			plan.Override.SQL)
		assert.Equal(t, []interface{}{"Tilda Swinton", 1960}, plan.Override.Args)
	})

	t.Run("intersection of an intersection nests overrides", func(t *testing.T) {
		a := actorPlan()
		b := actorPlan()
		first, err := Intersect(a, b)
		require.NoError(t, err)

		second, err := Intersect(first, actorPlan())
		require.NoError(t, err)
		assert.Contains(t, second.Override.SQL, "INTERSECT (SELECT `pk`, `name`, `birth_year` FROM `actors`)")
	})

	t.Run("rejects plans over different tables", func(t *testing.T) {
		other := &Plan{Table: "movies", PK: "pk", Columns: []string{"pk"}}
		_, err := Intersect(actorPlan(), other)
		assert.Error(t, err)
	})
}

func TestClone(t *testing.T) {
	plan := actorPlan()
	plan.OrderBys = []Order{{Column: "name"}}

	clone := plan.Clone()
	clone.Offset = 7
	clone.Limit = 3
	clone.OrderBys[0].Descending = true

	assert.Zero(t, plan.Offset)
	assert.Zero(t, plan.Limit)
	assert.False(t, plan.OrderBys[0].Descending)
}
