// Package engine evaluates query expressions against the SQLite store.
//
// A query is a tree of applies over ply(). The executor walks it datum by
// datum:
//
//   - $main is a relation: the rows of the cube's source matching a list of
//     compiled conditions. Filtering a relation adds a condition.
//   - Aggregates over a relation compile to SQL. Consecutive aggregates are
//     batched into one statement per datum.
//   - A split runs one GROUP BY statement. Aggregates applied right after
//     it ride along in the same statement, and so do a following sort and
//     limit when they only need the key or those aggregates.
//   - Everything else (arithmetic between applies, $^ references to parent
//     datums, quantiles, having filters, sorts on derived values) is
//     evaluated in process.
//
// Every statement has a deterministic ORDER BY, so the same query over the
// same rows always yields the same dataset.
//
// Engine adds the outer concerns: cube lookup, per-cluster timeouts, the
// result cache, metrics, query ids and the error taxonomy in QueryError.
// Fetcher cancels superseded requests for the same tile.
package engine
