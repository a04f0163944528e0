package app

import (
	"testing"
	"time"

	"readerbot/internal/config"
)

func TestMapStorage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       config.StorageConfig
		driver   string
		path     string
		busy     time.Duration
		wantFail bool
	}{
		{config.StorageConfig{}, "sqlite", defaultDBPath, time.Second, false},
		{config.StorageConfig{Driver: "SQLite3", Path: "/data/r.db", BusyTimeout: "5s"}, "sqlite", "/data/r.db", 5 * time.Second, false},
		{config.StorageConfig{Driver: "memory", Path: "ignored"}, "memory", "", 0, false},
		{config.StorageConfig{BusyTimeout: "later"}, "", "", 0, true},
	}
	for _, tc := range cases {
		got, err := mapStorage(&config.Config{Storage: tc.in})
		if tc.wantFail {
			if err == nil {
				t.Fatalf("%+v: expected error", tc.in)
			}
			continue
		}
		if err != nil || got.Driver != tc.driver || got.Path != tc.path || got.BusyTimeout != tc.busy {
			t.Fatalf("%+v: got %+v err=%v", tc.in, got, err)
		}
	}
}

func TestMapAIAndVoice(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{AI: config.AIConfig{DefaultVoice: "nova", Timeout: "45s"}}
	ac, on, err := mapAI(cfg)
	if err != nil || on || ac.Timeout != 45*time.Second {
		t.Fatalf("ac=%+v on=%v err=%v", ac, on, err)
	}
	if v := defaultVoice(cfg); v != "Nova" {
		t.Fatalf("voice=%q", v)
	}

	cfg.AI.APIKey = "k"
	cfg.AI.DefaultVoice = ""
	if _, on, _ := mapAI(cfg); !on {
		t.Fatal("expected ai enabled with a key")
	}
	if v := defaultVoice(cfg); v != "Alloy" {
		t.Fatalf("voice=%q", v)
	}
}

func TestMapWaits(t *testing.T) {
	t.Parallel()

	waits, tick, err := mapWaits(&config.Config{Countdown: config.CountdownConfig{FormatWait: "3s", Tick: "250ms"}})
	if err != nil {
		t.Fatal(err)
	}
	// Zero audio wait keeps the pipeline default.
	if waits.Format != 3*time.Second || waits.Audio != 0 || tick != 250*time.Millisecond {
		t.Fatalf("waits=%+v tick=%v", waits, tick)
	}
}

func TestMapWebAppDefaults(t *testing.T) {
	t.Parallel()

	wc, err := mapWebApp(&config.Config{WebApp: config.WebAppConfig{Enabled: true, PprofToken: "  t  "}})
	if err != nil {
		t.Fatal(err)
	}
	if !wc.Enabled || wc.ReadTimeout != 10*time.Second || wc.PprofToken != "t" {
		t.Fatalf("wc=%+v", wc)
	}
}
