package app

import (
	"strings"
	"time"

	"readerbot/internal/ai"
	"readerbot/internal/config"
	"readerbot/internal/delivery"
	"readerbot/internal/ingest"
	"readerbot/internal/storage"
	"readerbot/internal/webapp"
	logx "readerbot/pkg/logx"
)

const defaultDBPath = "./readerbot.db"

func mapStorage(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "sqlite3" {
		driver = "sqlite"
	}
	if driver == "memory" {
		return storage.Config{Driver: driver}, nil
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = defaultDBPath
	}
	busy, err := config.Duration("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

func mapLogging(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapIngest(cfg *config.Config) (ingest.Config, error) {
	fetch, err := config.Duration("reading.fetch_timeout", cfg.Reading.FetchTimeout, ingest.DefaultFetchTimeout)
	if err != nil {
		return ingest.Config{}, err
	}
	return ingest.Config{
		MaxChars:     cfg.Reading.FragmentMaxChars,
		MaxBooks:     cfg.Reading.MaxBooks,
		MaxBytes:     cfg.Reading.MaxUploadBytes,
		FetchTimeout: fetch,
	}, nil
}

// mapAI returns ok=false when no API key is configured; formatting then
// falls back to escaped text and narration is unavailable.
func mapAI(cfg *config.Config) (ai.Config, bool, error) {
	ac := cfg.AI
	timeout, err := config.Duration("ai.timeout", ac.Timeout, 0)
	if err != nil {
		return ai.Config{}, false, err
	}
	return ai.Config{
		BaseURL:    ac.BaseURL,
		APIKey:     ac.APIKey,
		TextModel:  ac.TextModel,
		AudioModel: ac.AudioModel,
		Timeout:    timeout,
		RatePerSec: ac.RatePerSec,
	}, strings.TrimSpace(ac.APIKey) != "", nil
}

func defaultVoice(cfg *config.Config) string {
	for _, v := range ai.Voices {
		if strings.EqualFold(v, strings.TrimSpace(cfg.AI.DefaultVoice)) {
			return v
		}
	}
	return ai.DefaultVoice
}

func mapWaits(cfg *config.Config) (delivery.Waits, time.Duration, error) {
	cc := cfg.Countdown
	format, err := config.Duration("countdown.format_wait", cc.FormatWait, 0)
	if err != nil {
		return delivery.Waits{}, 0, err
	}
	audio, err := config.Duration("countdown.audio_wait", cc.AudioWait, 0)
	if err != nil {
		return delivery.Waits{}, 0, err
	}
	tick, err := config.Duration("countdown.tick", cc.Tick, time.Second)
	if err != nil {
		return delivery.Waits{}, 0, err
	}
	return delivery.Waits{Format: format, Audio: audio}, tick, nil
}

func mapWebApp(cfg *config.Config) (webapp.Config, error) {
	wc := cfg.WebApp
	read, err := config.Duration("webapp.read_timeout", wc.ReadTimeout, 10*time.Second)
	if err != nil {
		return webapp.Config{}, err
	}
	write, err := config.Duration("webapp.write_timeout", wc.WriteTimeout, 30*time.Second)
	if err != nil {
		return webapp.Config{}, err
	}
	idle, err := config.Duration("webapp.idle_timeout", wc.IdleTimeout, 60*time.Second)
	if err != nil {
		return webapp.Config{}, err
	}
	return webapp.Config{
		Enabled:        wc.Enabled,
		Addr:           wc.Addr,
		AllowedOrigins: wc.AllowedOrigins,
		ReadTimeout:    read,
		WriteTimeout:   write,
		IdleTimeout:    idle,
		PprofToken:     strings.TrimSpace(wc.PprofToken),
	}, nil
}
