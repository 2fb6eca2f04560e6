package planner

import (
	"fmt"

	"blitzorm/schema"
)

// SortKey pairs a logical field with a signed direction:
// positive sorts ascending, negative descending.
type SortKey struct {
	Field     string
	Direction int
}

// ResolveOrderBys maps sort keys to order-by terms over physical
// columns. Fields that are not indexed on the entity are rejected.
func ResolveOrderBys(registry *schema.Registry, entity schema.Entity, keys []SortKey) ([]Order, error) {
	orderBys := make([]Order, 0, len(keys))
	for _, key := range keys {
		ref, err := registry.ResolveField(entity, key.Field)
		if err != nil {
			return nil, fmt.Errorf("cannot sort by non-indexed field %s: %w", key.Field, err)
		}
		orderBys = append(orderBys, Order{Column: ref.Column, Descending: key.Direction < 0})
	}
	return orderBys, nil
}
