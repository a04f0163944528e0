package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("500ms", "10s", "1m") or bare seconds; empty means the
// default.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Reading   ReadingConfig   `json:"reading"`
	Schedule  ScheduleConfig  `json:"schedule"`
	AI        AIConfig        `json:"ai"`
	Countdown CountdownConfig `json:"countdown"`
	WebApp    WebAppConfig    `json:"webapp"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// GroupLog is the chat id that receives mirrored warnings/errors.
	GroupLog string `json:"group_log,omitempty"`
	// WebAppURL is the public URL of GET /webapp, used for keyboard buttons.
	WebAppURL string `json:"webapp_url,omitempty"`
	// ChatQueue caps the updates waiting on one chat (default 16).
	ChatQueue int `json:"chat_queue,omitempty"`
	// HandlerTimeout bounds one command or callback (default "2m").
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./readerbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // sqlite (default) or memory
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type ReadingConfig struct {
	FragmentMaxChars int `json:"fragment_max_chars,omitempty"` // default 4000
	MaxBooks         int `json:"max_books,omitempty"`          // default 5
	// MaxUploadBytes caps downloaded documents (default 20 MiB).
	MaxUploadBytes int64  `json:"max_upload_bytes,omitempty"`
	FetchTimeout   string `json:"fetch_timeout,omitempty"`
}

type ScheduleConfig struct {
	// Timezone the delivery windows are read in (default: local).
	Timezone string `json:"timezone,omitempty"`
}

// AIConfig points at an OpenAI-compatible API. An empty APIKey disables
// formatting and narration.
type AIConfig struct {
	BaseURL      string  `json:"base_url,omitempty"`
	APIKey       string  `json:"api_key,omitempty"`
	TextModel    string  `json:"text_model,omitempty"`
	AudioModel   string  `json:"audio_model,omitempty"`
	DefaultVoice string  `json:"default_voice,omitempty"`
	RatePerSec   float64 `json:"rate_per_sec,omitempty"`
	Timeout      string  `json:"timeout,omitempty"`
}

type CountdownConfig struct {
	Tick       string `json:"tick,omitempty"`        // default "1s"
	FormatWait string `json:"format_wait,omitempty"` // default "10s"
	AudioWait  string `json:"audio_wait,omitempty"`  // default "30s"
}

// WebAppConfig controls the browser HTTP surface.
//
// Security note: pprof_token mounts /debug/pprof/ on the same listener; keep
// it empty unless the address is private.
type WebAppConfig struct {
	Enabled        bool     `json:"enabled"`
	Addr           string   `json:"addr,omitempty"` // default ":8080"
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	ReadTimeout    string   `json:"read_timeout,omitempty"`
	WriteTimeout   string   `json:"write_timeout,omitempty"`
	IdleTimeout    string   `json:"idle_timeout,omitempty"`
	PprofToken     string   `json:"pprof_token,omitempty"`
}
