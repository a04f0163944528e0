package config

import (
	"reflect"
	"strings"

	logx "readerbot/pkg/logx"
)

// Summarize lists the sections that differ between two configs plus safe
// log fields describing them. Secrets (token, api key, pprof token) are only
// reported as set/unset.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if oldCfg.Reading != newCfg.Reading {
		changed = append(changed, "reading")
		attrs = append(attrs,
			logx.Int("reading.fragment_max_chars", newCfg.Reading.FragmentMaxChars),
			logx.Int("reading.max_books", newCfg.Reading.MaxBooks),
		)
	}
	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		attrs = append(attrs, logx.String("schedule.timezone", newCfg.Schedule.Timezone))
	}
	if oldCfg.AI != newCfg.AI {
		changed = append(changed, "ai")
		attrs = append(attrs,
			logx.String("ai.text_model", newCfg.AI.TextModel),
			logx.String("ai.audio_model", newCfg.AI.AudioModel),
			logx.Bool("ai.api_key_set", newCfg.AI.APIKey != ""),
		)
	}
	if oldCfg.Countdown != newCfg.Countdown {
		changed = append(changed, "countdown")
		attrs = append(attrs,
			logx.String("countdown.format_wait", newCfg.Countdown.FormatWait),
			logx.String("countdown.audio_wait", newCfg.Countdown.AudioWait),
		)
	}
	if !reflect.DeepEqual(oldCfg.WebApp, newCfg.WebApp) {
		changed = append(changed, "webapp")
		attrs = append(attrs,
			logx.Bool("webapp.enabled", newCfg.WebApp.Enabled),
			logx.String("webapp.addr", newCfg.WebApp.Addr),
			logx.Bool("webapp.pprof", newCfg.WebApp.PprofToken != ""),
		)
	}
	return changed, attrs
}

// RestartRequired reports sections that only take effect after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "telegram", "storage", "reading", "schedule", "ai", "webapp":
			out = append(out, s)
		}
	}
	return out
}
