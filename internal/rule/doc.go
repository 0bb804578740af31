// Package rule keeps rule tags consistent with the tags they read.
//
// A rule tag carries an expression over other tags, written as "#<id>"
// references in ECMAScript (evaluated by goja). Every accepted update of an
// input schedules the dependent rules through a debounce Buffer so a burst
// of updates costs one evaluation. Evaluations run on a worker pool and
// write their result back into the tag cache, which in turn schedules the
// rules reading the result.
//
// Result quality:
//
//	input missing from cache      → UNKNOWN, previous value kept
//	input without a value         → UNINITIALISED, not evaluated
//	input with invalid quality    → evaluated, UNKNOWN_REASON
//	expression error or timeout   → UNKNOWN, previous value kept
//
// Chains deeper than Config.MaxDepth are cut and counted.
package rule
