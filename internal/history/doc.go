// Package history persists orchestrator runs and card farm completions in a
// SQLite database under the state directory.
//
// Store implements orchestrator.Recorder. Writes retry briefly when SQLite
// reports the database busy; the schema carries a version row and a
// mismatched database must be removed by the operator.
package history
