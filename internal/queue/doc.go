// Package queue persists translation tasks, directory watchers, runtime
// settings, and completion history in SQLite.
//
// The Store manages the database connection, schema initialization, the
// atomic pending-task claim used by scheduler workers, batch status
// transitions, and the translated-file history the skip rules consult.
// Statuses mirror the public task lifecycle: pending, processing, paused,
// completed, failed, cancelled.
//
// The database is the source of truth for task state; in-memory control
// signals only accelerate delivery. Schema changes bump the version in
// schema.go; users clear the database to adopt the new schema.
package queue
