package blitzorm

import (
	"context"
	"database/sql"
	"fmt"

	"blitzorm/internal/dbexec"
	"blitzorm/internal/planner"
	"blitzorm/internal/unpack"
	"blitzorm/schema"
)

// SortKey pairs a logical field with a signed direction: positive
// sorts ascending, negative descending.
type SortKey = planner.SortKey

// Include specifies which related entities to eagerly load, keyed by
// relationship name. A nil value loads all of the target's fields.
type Include = planner.Include

// ResultView is a lazy, chainable view over the documents matching a
// filter. No SQL runs until a materializing operation (All, At, Pop,
// Len, Contains, and friends) is called, and the materialized result
// is cached until the view is reshaped.
//
// Sort, Limit and Offset reshape the view in place and drop any cached
// result. Filter, Intersect and Slice return new views and leave the
// receiver untouched.
type ResultView struct {
	backend *Backend
	entity  schema.Entity
	plan    *planner.Plan
	include *Include

	objects    []map[string]interface{}
	popObjects []map[string]interface{}
	count      int
	countValid bool
}

func newResultView(b *Backend, entity schema.Entity, plan *planner.Plan) *ResultView {
	return &ResultView{backend: b, entity: entity, plan: plan}
}

// Collection returns the name of the collection the view ranges over.
func (v *ResultView) Collection() string {
	return v.entity.Name
}

// invalidate drops every cached result so the next materializing
// operation re-runs the query.
func (v *ResultView) invalidate() {
	v.objects = nil
	v.popObjects = nil
	v.countValid = false
}

// Sort orders the view by the given keys, applied in sequence. A
// positive direction sorts ascending, a negative one descending.
// Documents missing a sort field order before present values when
// ascending and after them when descending.
func (v *ResultView) Sort(keys ...SortKey) (*ResultView, error) {
	orderBys, err := planner.ResolveOrderBys(v.backend.registry, v.entity, keys)
	if err != nil {
		return nil, err
	}
	v.plan.OrderBys = orderBys
	v.invalidate()
	return v, nil
}

// Limit caps the number of documents the view yields. Zero removes the cap.
func (v *ResultView) Limit(n uint64) *ResultView {
	v.plan.Limit = n
	v.invalidate()
	return v
}

// Offset skips the first n documents. Zero removes the offset.
func (v *ResultView) Offset(n uint64) *ResultView {
	v.plan.Offset = n
	v.invalidate()
	return v
}

// Include attaches an eager-load specification so that related
// documents are folded into the results on materialization.
func (v *ResultView) Include(spec *Include) *ResultView {
	v.include = spec
	v.invalidate()
	return v
}

// Filter narrows the view with additional criteria, returning a new
// view over the intersection of both result sets. The receiver is
// unchanged.
func (v *ResultView) Filter(query map[string]interface{}) (*ResultView, error) {
	other, err := v.backend.Filter(v.entity.Name, query)
	if err != nil {
		return nil, err
	}
	return v.Intersect(other)
}

// Intersect returns a new view over the documents present in both
// views. Both must range over the same collection.
func (v *ResultView) Intersect(other *ResultView) (*ResultView, error) {
	plan, err := planner.Intersect(v.plan, other.plan)
	if err != nil {
		return nil, err
	}
	combined := newResultView(v.backend, v.entity, plan)
	combined.include = v.include
	return combined, nil
}

// materialize runs the view's query once and caches the unpacked
// documents. The working copy used by Pop is seeded from the same
// result.
func (v *ResultView) materialize(ctx context.Context) error {
	if v.objects != nil {
		return nil
	}

	includePlan, err := planner.PlanInclude(v.backend.registry, v.entity, v.include)
	if err != nil {
		return err
	}
	query, args, err := v.plan.IncludeSelectSQL(includePlan)
	if err != nil {
		return err
	}

	v.backend.logger.WithCollection(v.entity.Name).Debug("materializing result view", "query", query)

	var rows []map[string]interface{}
	err = dbexec.WithinTransaction(ctx, v.backend.db, func(tx *sql.Tx) error {
		result, queryErr := dbexec.NewExecutor(tx, v.backend.metrics).Query(ctx, "select", query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer result.Close()
		rows, queryErr = dbexec.ScanMaps(result)
		return queryErr
	})
	if err != nil {
		return err
	}

	v.objects = unpack.Documents(rows, includePlan.Keymap)
	v.popObjects = append([]map[string]interface{}(nil), v.objects...)
	return nil
}

// All materializes the view and returns every document, deserialized.
func (v *ResultView) All(ctx context.Context) ([]interface{}, error) {
	if err := v.materialize(ctx); err != nil {
		return nil, err
	}
	out := make([]interface{}, len(v.objects))
	for i, doc := range v.objects {
		obj, err := v.backend.deserializer.Materialize(v.entity.Name, doc)
		if err != nil {
			return nil, err
		}
		out[i] = obj
	}
	return out, nil
}

// At returns the document at index i. Negative indexes count from the
// end of the result.
func (v *ResultView) At(ctx context.Context, i int) (interface{}, error) {
	if err := v.materialize(ctx); err != nil {
		return nil, err
	}
	if i < 0 {
		i += len(v.objects)
	}
	if i < 0 || i >= len(v.objects) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	return v.backend.deserializer.Materialize(v.entity.Name, v.objects[i])
}

// Slice returns a new view over the half-open range [start, stop).
// Negative bounds count from the end of the result and are resolved
// against Len. Steps other than one are not supported. The receiver
// and its caches are untouched.
func (v *ResultView) Slice(ctx context.Context, start, stop, step int) (*ResultView, error) {
	if step != 1 {
		return nil, fmt.Errorf("%w: %d", ErrSliceStep, step)
	}
	if start < 0 || stop < 0 {
		total, err := v.Len(ctx)
		if err != nil {
			return nil, err
		}
		if start < 0 {
			start += total
		}
		if stop < 0 {
			stop += total
		}
	}
	if start < 0 {
		start = 0
	}
	if stop < start {
		stop = start
	}

	plan := v.plan.Clone()
	plan.Offset = uint64(start)
	plan.Limit = uint64(stop - start)

	sliced := newResultView(v.backend, v.entity, plan)
	sliced.include = v.include
	if stop == start {
		// An empty range never touches the database; a limit of zero
		// would otherwise mean "no limit" to the plan.
		sliced.objects = []map[string]interface{}{}
		sliced.popObjects = []map[string]interface{}{}
		sliced.countValid = true
	}
	return sliced, nil
}

// Pop materializes the view and removes the document at index i from
// the working copy, returning it. Negative indexes count from the end.
// The cached result and the database are untouched; successive pops
// drain the working copy until it reports an empty result.
func (v *ResultView) Pop(ctx context.Context, i int) (interface{}, error) {
	if err := v.materialize(ctx); err != nil {
		return nil, err
	}
	if len(v.popObjects) == 0 {
		return nil, ErrEmptyResult
	}
	if i < 0 {
		i += len(v.popObjects)
	}
	if i < 0 || i >= len(v.popObjects) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	doc := v.popObjects[i]
	v.popObjects = append(v.popObjects[:i:i], v.popObjects[i+1:]...)
	return v.backend.deserializer.Materialize(v.entity.Name, doc)
}

// Delete removes every document the view matches from the store, then
// drops the cached result.
func (v *ResultView) Delete(ctx context.Context) error {
	query, args, err := v.plan.DeleteSQL()
	if err != nil {
		return err
	}
	err = dbexec.WithinTransaction(ctx, v.backend.db, func(tx *sql.Tx) error {
		_, execErr := dbexec.NewExecutor(tx, v.backend.metrics).Exec(ctx, "delete", query, args...)
		return execErr
	})
	if err != nil {
		return err
	}
	v.invalidate()
	return nil
}

// Len returns the number of documents the view matches. The count is
// cached until the view is reshaped.
func (v *ResultView) Len(ctx context.Context) (int, error) {
	if v.countValid {
		return v.count, nil
	}

	query, args, err := v.plan.CountSQL()
	if err != nil {
		return 0, err
	}

	var count int
	err = dbexec.WithinTransaction(ctx, v.backend.db, func(tx *sql.Tx) error {
		rows, queryErr := dbexec.NewExecutor(tx, v.backend.metrics).Query(ctx, "count", query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		if !rows.Next() {
			if rowsErr := rows.Err(); rowsErr != nil {
				return rowsErr
			}
			return sql.ErrNoRows
		}
		return rows.Scan(&count)
	})
	if err != nil {
		return 0, err
	}

	v.count = count
	v.countValid = true
	return count, nil
}

// DistinctPKs returns the set of distinct primary keys the view
// matches, without materializing full documents.
func (v *ResultView) DistinctPKs(ctx context.Context) (map[string]struct{}, error) {
	query, args, err := v.plan.DistinctPKsSQL()
	if err != nil {
		return nil, err
	}

	pks := make(map[string]struct{})
	err = dbexec.WithinTransaction(ctx, v.backend.db, func(tx *sql.Tx) error {
		rows, queryErr := dbexec.NewExecutor(tx, v.backend.metrics).Query(ctx, "distinct_pks", query, args...)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()
		for rows.Next() {
			var pk interface{}
			if scanErr := rows.Scan(&pk); scanErr != nil {
				return scanErr
			}
			pks[pkKey(pk)] = struct{}{}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return pks, nil
}

// Contains reports whether every given object is present in the view.
// Objects may implement Document or be logical maps carrying their
// primary key.
func (v *ResultView) Contains(ctx context.Context, objs ...interface{}) (bool, error) {
	pks, err := v.DistinctPKs(ctx)
	if err != nil {
		return false, err
	}
	for _, obj := range objs {
		pk, pkErr := documentPK(v.entity, obj)
		if pkErr != nil {
			return false, pkErr
		}
		if _, ok := pks[pk]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// Equal reports whether two views range over the same collection,
// match the same number of documents, and match exactly the same set
// of primary keys. The collection and length checks run first, so
// views that trivially differ never reach the distinct-key queries.
func (v *ResultView) Equal(ctx context.Context, other *ResultView) (bool, error) {
	if v.entity.Name != other.entity.Name {
		return false, nil
	}
	myLen, err := v.Len(ctx)
	if err != nil {
		return false, err
	}
	otherLen, err := other.Len(ctx)
	if err != nil {
		return false, err
	}
	if myLen != otherLen {
		return false, nil
	}

	mine, err := v.DistinctPKs(ctx)
	if err != nil {
		return false, err
	}
	theirs, err := other.DistinctPKs(ctx)
	if err != nil {
		return false, err
	}
	if len(mine) != len(theirs) {
		return false, nil
	}
	for pk := range mine {
		if _, ok := theirs[pk]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// EqualDocs reports whether materializing the view yields the given
// sequence: same length, and the document at each position carries the
// same primary key as the candidate at that position.
func (v *ResultView) EqualDocs(ctx context.Context, objs []interface{}) (bool, error) {
	if err := v.materialize(ctx); err != nil {
		return false, err
	}
	if len(v.objects) != len(objs) {
		return false, nil
	}
	for i, obj := range objs {
		pk, err := documentPK(v.entity, obj)
		if err != nil {
			return false, err
		}
		mine, err := documentPK(v.entity, v.objects[i])
		if err != nil {
			return false, err
		}
		if mine != pk {
			return false, nil
		}
	}
	return true, nil
}

// Iter returns a restartable iterator over the materialized documents.
// Each call starts from the beginning of the cached result.
func (v *ResultView) Iter(ctx context.Context) (*Iterator, error) {
	if err := v.materialize(ctx); err != nil {
		return nil, err
	}
	return &Iterator{view: v}, nil
}

// Iterator walks a materialized result view in order.
type Iterator struct {
	view *ResultView
	pos  int
	cur  interface{}
	err  error
}

// Next advances the iterator and reports whether a document is
// available. It returns false on exhaustion or deserialization error;
// check Err afterwards.
func (it *Iterator) Next() bool {
	if it.err != nil || it.pos >= len(it.view.objects) {
		return false
	}
	obj, err := it.view.backend.deserializer.Materialize(it.view.entity.Name, it.view.objects[it.pos])
	if err != nil {
		it.err = err
		return false
	}
	it.cur = obj
	it.pos++
	return true
}

// Value returns the document at the iterator's position.
func (it *Iterator) Value() interface{} {
	return it.cur
}

// Err returns the first error the iterator encountered.
func (it *Iterator) Err() error {
	return it.err
}
