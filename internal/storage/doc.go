// Package storage is the durable record of every task: the single source of
// truth the scheduler reads from and writes to.
//
// Two drivers are provided:
//   - "memory": process-local map, used by tests and embedders
//   - "sqlite": SQLite database file (modernc.org/sqlite, WAL)
//
// Writes are synchronous; reads return the latest written value.
package storage
