// Package store is the persistence layer: extracted products, saved
// session blobs and append-only profile/post snapshots.
//
// PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite) share one set of
// queries written with ? placeholders; they are rebound to $n for
// PostgreSQL. Each dialect has its own migrations, embedded and applied
// with golang-migrate.
package store
