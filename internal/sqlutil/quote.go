// Package sqlutil provides SQL identifier helpers shared by the planner.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table, column, alias) with
// backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// Qualify renders alias.column with both parts quoted. An empty alias
// yields just the quoted column.
func Qualify(alias, column string) string {
	if alias == "" {
		return QuoteIdentifier(column)
	}
	return QuoteIdentifier(alias) + "." + QuoteIdentifier(column)
}

// Aliased renders "table AS alias" with both parts quoted, or just the
// quoted table when no alias is given.
func Aliased(table, alias string) string {
	if alias == "" {
		return QuoteIdentifier(table)
	}
	return QuoteIdentifier(table) + " AS " + QuoteIdentifier(alias)
}
