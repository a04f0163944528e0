package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration parses a config duration such as "90s" or "2m". A bare integer
// counts seconds. Empty or zero yields def; negative values are rejected.
func Duration(key, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	var d time.Duration
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d = time.Duration(n) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: duration %q is negative", key, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
