// Package settings manages the runtime settings singleton persisted in the
// queue store.
//
// Settings are key/value rows in SQLite. The Service keeps an immutable,
// versioned Snapshot in memory so readers never block writers; every update
// normalizes the mutually constrained keys, persists the delta, bumps the
// version, and fires registered change hooks. Environment variables mirror
// the keys in uppercase and seed initial values for keys absent from the
// store. API keys are masked for display and masked values are ignored on
// write so a round-tripped settings form never clobbers a stored secret.
package settings
