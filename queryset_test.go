package blitzorm

import (
	"context"
	"database/sql"
	"testing"

	"blitzorm/schema"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) (*Backend, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	registry := schema.NewRegistry()
	require.NoError(t, registry.Register(schema.Entity{
		Name: "actor",
		Fields: []schema.Field{
			{Name: "name"},
			{Name: "birth_year"},
		},
	}))
	return NewBackend(db, registry), mock
}

func actorRows(pks ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"pk", "name", "birth_year"})
	for _, pk := range pks {
		rows.AddRow(pk, "actor "+pk, 1960)
	}
	return rows
}

func expectMaterialize(mock sqlmock.Sqlmock, pattern string, rows *sqlmock.Rows) {
	mock.ExpectBegin()
	mock.ExpectQuery(pattern).WillReturnRows(rows)
	mock.ExpectCommit()
}

func TestResultViewAll(t *testing.T) {
	b, mock := newTestBackend(t)

	view, err := b.Filter("actor", nil)
	require.NoError(t, err)

	expectMaterialize(mock, "WITH `results` AS", actorRows("a1", "a2"))

	docs, err := view.All(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)
	first, ok := docs[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "a1", first["pk"])
	assert.Equal(t, "actor a1", first["name"])

	// A second read serves from the cache without touching the database.
	docs, err = view.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultViewAt(t *testing.T) {
	b, mock := newTestBackend(t)

	view, err := b.Filter("actor", nil)
	require.NoError(t, err)
	expectMaterialize(mock, "WITH `results` AS", actorRows("a1", "a2", "a3"))

	ctx := context.Background()

	doc, err := view.At(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "a2", doc.(map[string]interface{})["pk"])

	doc, err = view.At(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, "a3", doc.(map[string]interface{})["pk"])

	_, err = view.At(ctx, 3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	_, err = view.At(ctx, -4)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestResultViewLen(t *testing.T) {
	b, mock := newTestBackend(t)

	view, err := b.Filter("actor", map[string]interface{}{"name": "Tilda Swinton"})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectCommit()

	ctx := context.Background()

	n, err := view.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	// Cached until the view is reshaped.
	n, err = view.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	require.NoError(t, mock.ExpectationsWereMet())

	view.Limit(5)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectCommit()

	n, err = view.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultViewSort(t *testing.T) {
	b, mock := newTestBackend(t)

	view, err := b.Filter("actor", nil)
	require.NoError(t, err)

	t.Run("negative direction sorts descending", func(t *testing.T) {
		_, err := view.Sort(SortKey{Field: "birth_year", Direction: -1})
		require.NoError(t, err)

		expectMaterialize(mock, "ORDER BY `birth_year` DESC", actorRows("a1"))
		_, err = view.All(context.Background())
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sorting drops the cached result", func(t *testing.T) {
		_, err := view.Sort(SortKey{Field: "name", Direction: 1})
		require.NoError(t, err)

		expectMaterialize(mock, "ORDER BY `name` ASC", actorRows("a1"))
		_, err = view.All(context.Background())
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-indexed field is rejected", func(t *testing.T) {
		_, err := view.Sort(SortKey{Field: "height", Direction: 1})
		assert.Error(t, err)
	})
}

func TestResultViewSlice(t *testing.T) {
	ctx := context.Background()

	t.Run("steps other than one are rejected", func(t *testing.T) {
		b, _ := newTestBackend(t)
		view, err := b.Filter("actor", nil)
		require.NoError(t, err)

		_, err = view.Slice(ctx, 0, 4, 2)
		assert.ErrorIs(t, err, ErrSliceStep)
	})

	t.Run("returns a shifted copy and leaves the receiver alone", func(t *testing.T) {
		b, mock := newTestBackend(t)
		view, err := b.Filter("actor", nil)
		require.NoError(t, err)

		sliced, err := view.Slice(ctx, 1, 3, 1)
		require.NoError(t, err)

		expectMaterialize(mock, "LIMIT 2 OFFSET 1", actorRows("a2", "a3"))
		docs, err := sliced.All(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 2)

		// The original still selects everything.
		expectMaterialize(mock, "WITH `results` AS", actorRows("a1", "a2", "a3", "a4"))
		docs, err = view.All(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 4)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty range never queries", func(t *testing.T) {
		b, mock := newTestBackend(t)
		view, err := b.Filter("actor", nil)
		require.NoError(t, err)

		sliced, err := view.Slice(ctx, 2, 2, 1)
		require.NoError(t, err)

		docs, err := sliced.All(ctx)
		require.NoError(t, err)
		assert.Empty(t, docs)

		n, err := sliced.Len(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("negative bounds resolve against the count", func(t *testing.T) {
		b, mock := newTestBackend(t)
		view, err := b.Filter("actor", nil)
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
		mock.ExpectCommit()

		sliced, err := view.Slice(ctx, 0, -1, 1)
		require.NoError(t, err)

		expectMaterialize(mock, "LIMIT 4", actorRows("a1", "a2", "a3", "a4"))
		docs, err := sliced.All(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 4)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestResultViewPop(t *testing.T) {
	b, mock := newTestBackend(t)

	view, err := b.Filter("actor", nil)
	require.NoError(t, err)
	expectMaterialize(mock, "WITH `results` AS", actorRows("a1", "a2", "a3"))

	ctx := context.Background()

	doc, err := view.Pop(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "a1", doc.(map[string]interface{})["pk"])

	doc, err = view.Pop(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, "a3", doc.(map[string]interface{})["pk"])

	_, err = view.Pop(ctx, 5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	doc, err = view.Pop(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "a2", doc.(map[string]interface{})["pk"])

	_, err = view.Pop(ctx, 0)
	assert.ErrorIs(t, err, ErrEmptyResult)

	// Popping drains only the working copy; the cached result and the
	// database are untouched.
	docs, err := view.All(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 3)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultViewFilterIntersection(t *testing.T) {
	b, mock := newTestBackend(t)

	view, err := b.Filter("actor", map[string]interface{}{"name": "Tilda Swinton"})
	require.NoError(t, err)

	narrowed, err := view.Filter(map[string]interface{}{"birth_year": 1960})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("INTERSECT").
		WithArgs("Tilda Swinton", 1960).
		WillReturnRows(actorRows("a1"))
	mock.ExpectCommit()

	docs, err := narrowed.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultViewDistinctPKs(t *testing.T) {
	b, mock := newTestBackend(t)

	view, err := b.Filter("actor", nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT DISTINCT `pk`").
		WillReturnRows(sqlmock.NewRows([]string{"pk"}).AddRow("a1").AddRow([]byte("a2")))
	mock.ExpectCommit()

	pks, err := view.DistinctPKs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"a1": {}, "a2": {}}, pks)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultViewContains(t *testing.T) {
	b, mock := newTestBackend(t)

	view, err := b.Filter("actor", nil)
	require.NoError(t, err)
	ctx := context.Background()

	distinctRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"pk"}).AddRow("a1").AddRow("a2")
	}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT DISTINCT `pk`").WillReturnRows(distinctRows())
	mock.ExpectCommit()

	ok, err := view.Contains(ctx, map[string]interface{}{"pk": "a1"}, map[string]interface{}{"pk": "a2"})
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT DISTINCT `pk`").WillReturnRows(distinctRows())
	mock.ExpectCommit()

	ok, err = view.Contains(ctx, map[string]interface{}{"pk": "a9"})
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT DISTINCT `pk`").WillReturnRows(distinctRows())
	mock.ExpectCommit()

	_, err = view.Contains(ctx, map[string]interface{}{"name": "no pk"})
	assert.ErrorIs(t, err, ErrNoPrimaryKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultViewEqual(t *testing.T) {
	b, mock := newTestBackend(t)
	ctx := context.Background()

	left, err := b.Filter("actor", map[string]interface{}{"name": "Tilda Swinton"})
	require.NoError(t, err)
	right, err := b.Filter("actor", map[string]interface{}{"birth_year": 1960})
	require.NoError(t, err)

	expectCount := func(n int) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT COUNT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(n))
		mock.ExpectCommit()
	}
	expectDistinct := func(pks ...string) {
		rows := sqlmock.NewRows([]string{"pk"})
		for _, pk := range pks {
			rows.AddRow(pk)
		}
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT DISTINCT `pk`").WillReturnRows(rows)
		mock.ExpectCommit()
	}

	expectCount(2)
	expectCount(2)
	expectDistinct("a1", "a2")
	expectDistinct("a2", "a1")
	ok, err := left.Equal(ctx, right)
	require.NoError(t, err)
	assert.True(t, ok)

	// Counts are cached; key sets of the same size but with different
	// members still break equality.
	expectDistinct("a1", "a3")
	expectDistinct("a1", "a2")
	ok, err = left.Equal(ctx, right)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultViewEqualDifferentLengths(t *testing.T) {
	b, mock := newTestBackend(t)
	ctx := context.Background()

	left, err := b.Filter("actor", map[string]interface{}{"name": "Tilda Swinton"})
	require.NoError(t, err)
	right, err := b.Filter("actor", map[string]interface{}{"birth_year": 1960})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectCommit()

	// Differing counts settle equality before any distinct-key query.
	ok, err := left.Equal(ctx, right)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultViewEqualDifferentCollections(t *testing.T) {
	b, mock := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.registry.Register(schema.Entity{
		Name:   "movie",
		Fields: []schema.Field{{Name: "title"}},
	}))

	actors, err := b.Filter("actor", map[string]interface{}{"pk": "x1"})
	require.NoError(t, err)
	movies, err := b.Filter("movie", map[string]interface{}{"pk": "x1"})
	require.NoError(t, err)

	// Views over different collections are unequal even when their key
	// sets would coincide; the database is never consulted.
	ok, err := actors.Equal(ctx, movies)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = movies.Equal(ctx, actors)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultViewEqualDocs(t *testing.T) {
	b, mock := newTestBackend(t)
	ctx := context.Background()

	view, err := b.Filter("actor", nil)
	require.NoError(t, err)
	expectMaterialize(mock, "WITH `results` AS", actorRows("a1", "a2"))

	ok, err := view.EqualDocs(ctx, []interface{}{
		map[string]interface{}{"pk": "a1"},
		map[string]interface{}{"pk": "a2"},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	// Position matters.
	ok, err = view.EqualDocs(ctx, []interface{}{
		map[string]interface{}{"pk": "a2"},
		map[string]interface{}{"pk": "a1"},
	})
	require.NoError(t, err)
	assert.False(t, ok)

	// Repeating a document does not stand in for a missing one.
	ok, err = view.EqualDocs(ctx, []interface{}{
		map[string]interface{}{"pk": "a1"},
		map[string]interface{}{"pk": "a1"},
	})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = view.EqualDocs(ctx, []interface{}{map[string]interface{}{"pk": "a1"}})
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultViewDelete(t *testing.T) {
	b, mock := newTestBackend(t)

	view, err := b.Filter("actor", map[string]interface{}{"birth_year": 1960})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `actors` WHERE `pk` IN").
		WithArgs(1960).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, view.Delete(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultViewIter(t *testing.T) {
	b, mock := newTestBackend(t)

	view, err := b.Filter("actor", nil)
	require.NoError(t, err)
	expectMaterialize(mock, "WITH `results` AS", actorRows("a1", "a2"))

	ctx := context.Background()

	it, err := view.Iter(ctx)
	require.NoError(t, err)

	var pks []string
	for it.Next() {
		pks = append(pks, it.Value().(map[string]interface{})["pk"].(string))
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []string{"a1", "a2"}, pks)

	// A fresh iterator restarts from the beginning of the cached result.
	it, err = view.Iter(ctx)
	require.NoError(t, err)
	require.True(t, it.Next())
	assert.Equal(t, "a1", it.Value().(map[string]interface{})["pk"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultViewQueryErrorPropagates(t *testing.T) {
	b, mock := newTestBackend(t)

	view, err := b.Filter("actor", nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("WITH `results` AS").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err = view.All(context.Background())
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
