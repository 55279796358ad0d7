// Package stores provides the SQL persistence used by allocsync.
//
// ColdFrontStore reads desired state from the ColdFront portal database and
// writes back activation flags, e-mail addresses and usage values.
// HistoryStore records every run and its report rows in a separate SQLite
// database migrated with golang-migrate.
package stores
