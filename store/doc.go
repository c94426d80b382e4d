// Package store defines the [Store] interface for persisting token bucket
// state between process runs, and provides three implementations:
//
//   - [MemoryStore]: in-memory state, lost on restart.
//   - [SQLiteStore]: state kept in a SQLite database.
//   - [TieredStore]: a MemoryStore in front of a persistent store.
//
// A Redis-backed store lives in the store/redis module. Custom backends
// implement the [Store] interface.
package store
