// Package stores provides persistence layer implementations for Smelt.
// It includes SQLite-based storage with WAL mode, connection pooling,
// and CRUD operations for evaluations and their frozen analysis results,
// guarded by BLAKE2b digest verification on read.
package stores
