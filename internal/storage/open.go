package storage

import (
	"errors"
	"fmt"
	"strings"

	logx "readerbot/pkg/logx"
)

// ErrUnknownDriver is returned by Open for a driver it cannot build.
var ErrUnknownDriver = errors.New("storage: unknown driver")

// Open builds the store named by cfg.Driver ("sqlite" when empty). The
// memory driver keeps nothing across restarts and exists for tests and dry
// runs.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch d := strings.ToLower(strings.TrimSpace(cfg.Driver)); d {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		log.Warn("memory storage selected; books and positions are lost on restart")
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, d)
	}
}
