package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"readerbot/internal/ai"
)

// EnvToken overrides telegram.token when set.
const EnvToken = "READERBOT_TELEGRAM_TOKEN"

func applyEnv(cfg *Config) {
	if tok := strings.TrimSpace(os.Getenv(EnvToken)); tok != "" {
		cfg.Telegram.Token = tok
	}
}

// Validate rejects configs that would fail at wiring time. It runs before a
// hot reload is committed, so a bad edit keeps the previous config live.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		check(fmt.Errorf("telegram.token is required (or set %s)", EnvToken))
	}
	if g := strings.TrimSpace(cfg.Telegram.GroupLog); g != "" {
		if _, err := strconv.ParseInt(g, 10, 64); err != nil {
			check(fmt.Errorf("telegram.group_log: invalid chat id %q", g))
		}
	}
	if cfg.Telegram.ChatQueue < 0 {
		check(errors.New("telegram.chat_queue must be >= 0"))
	}

	durations := map[string]string{
		"telegram.poll_timeout":    cfg.Telegram.PollTimeout,
		"telegram.handler_timeout": cfg.Telegram.HandlerTimeout,
		"storage.busy_timeout":     cfg.Storage.BusyTimeout,
		"reading.fetch_timeout":    cfg.Reading.FetchTimeout,
		"ai.timeout":               cfg.AI.Timeout,
		"countdown.tick":           cfg.Countdown.Tick,
		"countdown.format_wait":    cfg.Countdown.FormatWait,
		"countdown.audio_wait":     cfg.Countdown.AudioWait,
		"webapp.read_timeout":      cfg.WebApp.ReadTimeout,
		"webapp.write_timeout":     cfg.WebApp.WriteTimeout,
		"webapp.idle_timeout":      cfg.WebApp.IdleTimeout,
	}
	for key, raw := range durations {
		_, err := Duration(key, raw, 0)
		check(err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "memory":
	default:
		check(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	if cfg.Reading.FragmentMaxChars < 0 {
		check(errors.New("reading.fragment_max_chars must be >= 0"))
	}
	if cfg.Reading.MaxBooks < 0 {
		check(errors.New("reading.max_books must be >= 0"))
	}
	if cfg.Reading.MaxUploadBytes < 0 {
		check(errors.New("reading.max_upload_bytes must be >= 0"))
	}

	if _, err := cfg.Location(); err != nil {
		check(err)
	}

	if v := strings.TrimSpace(cfg.AI.DefaultVoice); v != "" && !ai.IsVoice(v) {
		check(fmt.Errorf("ai.default_voice: unknown voice %q", v))
	}
	if cfg.AI.RatePerSec < 0 {
		check(errors.New("ai.rate_per_sec must be >= 0"))
	}

	return errors.Join(errs...)
}

// Location resolves schedule.timezone; empty means the process local zone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Schedule.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

// GroupLogChat returns the parsed telegram.group_log, or 0.
func (c *Config) GroupLogChat() int64 {
	id, _ := strconv.ParseInt(strings.TrimSpace(c.Telegram.GroupLog), 10, 64)
	return id
}
