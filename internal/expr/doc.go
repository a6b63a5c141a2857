// Package expr provides the query expression language that view state compiles
// into and the engine executes.
//
// Expressions form a chain in the style of a fluent query builder:
//
//	ply()
//	  .apply('main', $main.filter($time.overlap([2024-01-01T00:00:00Z,2024-01-02T00:00:00Z))))
//	  .apply('count', $main.count())
//	  .apply('SPLIT', $main.split($channel,'channel','main').apply('count', $main.count()).sort($count,'descending').limit(5))
//
// ARCHITECTURE:
//
//	[essence / series / filter] → [expr AST] → [querysql] → SQLite
//	                                         → [engine]   (in-process evaluation)
//
// SEALED INTERFACE:
//
// Expression is sealed with a marker method. Only types in this package
// implement it, so compilers can switch exhaustively over node types.
//
// Every chain node carries its Operand; leaves are Ref and Literal. The tree
// is immutable: rewriting functions such as Substitute return new nodes and
// leave the input untouched.
//
// TEXT AND JSON:
//
// String renders a stable text form used in logs, golden files and cache
// keys. Parse reads the subset used by measure and dimension formulas.
// Marshal and Unmarshal convert to and from the JSON wire form
// {"op": "...", "operand": {...}, ...} accepted by the /plywood endpoint.
package expr
