// Package planner composes logical queries into parameterized SQL.
// It builds select plans with filtering, ordering, and pagination,
// expands eager-include specifications into outer joins against a
// common table expression, and produces the keymap the unpacking
// engine uses to fold the joined row-set back into nested documents.
package planner
