// Package stores provides the apply history ledger.
// Records live in an append-only SQLite table (WAL mode for file databases)
// created by embedded golang-migrate migrations.
package stores
