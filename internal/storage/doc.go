// Package storage persists quests, workflow states and tasks for the
// scheduling core.
//
// Drivers:
//   - "memory": process-local maps (tests, local runs)
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// It also keeps a run log: one entry per expansion or reconcile sweep.
package storage
