// Package expr parses and evaluates SQL-like filter predicates over record
// batches.
//
// Supported syntax:
//
//	price >= 10 AND category = 'books'
//	NOT (id IN (1, 2, 3)) OR name LIKE 'vec%'
//	score BETWEEN 0.5 AND 1.0
//	tags IS NOT NULL
//
// Comparisons are =, == (alias), !=, <> (alias), <, <=, > and >=. Numbers
// of any width compare with each other; strings, booleans and binaries only
// with their own kind. Keywords are case-insensitive and column names that
// collide with keywords can be quoted with backticks or double quotes.
//
// Evaluation follows SQL three-valued logic: a comparison involving NULL is
// unknown, and only rows for which the predicate is true are selected.
package expr
