// Package storage is the durable source of truth for books, fragments and
// per-subscriber state (reading position, schedule window, preferred voice).
//
// Drivers:
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "memory": process-local maps; state is lost on restart
package storage
