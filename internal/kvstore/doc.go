// Package kvstore is the daemon's durable key-value area, backed by SQLite.
//
// Engine snapshots, user settings, and pending alarm deadlines are stored
// here as JSON documents under fixed keys. Writes replace the whole value;
// there are no partial updates. The schema is versioned in schema.go and a
// mismatch is reported as ErrSchemaMismatch rather than migrated.
package kvstore
