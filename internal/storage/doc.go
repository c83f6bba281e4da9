// Package storage persists notification preferences, dedup claims and small
// key/value blobs (message history).
//
// Drivers:
//   - "memory": process-local maps, for tests and single-shot CLI use
//   - "sqlite": a local SQLite file (modernc.org/sqlite, no cgo)
//   - "postgres": a shared PostgreSQL database (pgx)
//
// Preference rows are never hard-deleted. Legacy data may hold several rows
// per user; readers resolve them with model.Latest.
package storage
