// Package unpack folds a flat, joined row-set back into nested logical
// documents using the keymap produced by the join planner.
//
// Outer joins against multi-valued relationships duplicate the parent
// row once per related child; consecutive rows for the same parent
// differ only in the many-to-many branch's columns. The fold walks the
// rows with an explicit cursor, collapsing those duplicates into one
// parent document carrying a child list.
package unpack

import (
	"fmt"

	"blitzorm/internal/planner"
)

// cursor is a read position into an immutable row buffer.
type cursor struct {
	rows []map[string]interface{}
	pos  int
}

func (c *cursor) done() bool {
	return c.pos >= len(c.rows)
}

func (c *cursor) current() map[string]interface{} {
	return c.rows[c.pos]
}

// peek returns the row at the given offset from the cursor, if any.
func (c *cursor) peek(offset int) (map[string]interface{}, bool) {
	idx := c.pos + offset
	if idx >= len(c.rows) {
		return nil, false
	}
	return c.rows[idx], true
}

func (c *cursor) advance() {
	c.pos++
}

// Documents folds the row-set into one nested document per distinct
// root entity, in row order. Rows sharing a parent primary key must be
// contiguous; the planner guarantees this for a single CTE-anchored
// join chain.
func Documents(rows []map[string]interface{}, keymap *planner.Keymap) []map[string]interface{} {
	documents := []map[string]interface{}{}
	cur := &cursor{rows: rows}
	for !cur.done() {
		documents = append(documents, unpackObject(cur, keymap, false))
	}
	return documents
}

// unpackObject reads one document at the given keymap level from the
// current row. Nested calls share the row with their parent and must
// not advance the cursor; only the top-level call consumes the row.
func unpackObject(cur *cursor, keymap *planner.Keymap, nested bool) map[string]interface{} {
	row := cur.current()
	doc := make(map[string]interface{}, keymap.Len())
	for _, name := range keymap.Names() {
		entry, _ := keymap.Get(name)
		switch entry.Kind {
		case planner.KindColumn:
			doc[name] = row[entry.Label]
		case planner.KindForeignKey:
			doc[name] = unpackObject(cur, entry.Branch, true)
		case planner.KindManyToMany:
			doc[name] = unpackManyToMany(cur, entry.Branch, keymap.PKLabel, row[keymap.PKLabel])
		}
	}
	if !nested {
		cur.advance()
	}
	return doc
}

// unpackManyToMany accumulates related documents for one parent:
// it unpacks a child from the current row, then keeps consuming rows
// for as long as the next row still belongs to the same parent.
func unpackManyToMany(cur *cursor, branch *planner.Keymap, parentPKLabel string, parentPK interface{}) []map[string]interface{} {
	children := []map[string]interface{}{}
	for {
		children = append(children, unpackObject(cur, branch, true))
		next, ok := cur.peek(1)
		if !ok || !samePK(next[parentPKLabel], parentPK) {
			break
		}
		cur.advance()
	}
	return children
}

// samePK compares primary key values across rows, normalizing the
// []byte values some drivers return for text columns.
func samePK(a, b interface{}) bool {
	if a == nil || b == nil {
		return false
	}
	return pkString(a) == pkString(b)
}

func pkString(value interface{}) string {
	if b, ok := value.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(value)
}
