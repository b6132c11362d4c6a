package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server        ServerConfig        `toml:"server"`        // HTTP server settings
	Logging       LoggingConfig       `toml:"logging"`       // Application logging settings
	Storage       StorageConfig       `toml:"storage"`       // Data persistence settings
	Capture       CaptureConfig       `toml:"capture"`       // Live speech capture settings
	Recording     RecordingConfig     `toml:"recording"`     // Recording session settings
	Transcription TranscriptionConfig `toml:"transcription"` // External transcription sidecar settings
	Notes         NotesConfig         `toml:"notes"`         // Structured notes generation settings
	Enhance       EnhanceConfig       `toml:"enhance"`       // Transcript enhancement settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
	StaticFilesDir     string   `toml:"static_files_dir"`      // Directory to serve static files from (e.g., "www"); empty disables static serving
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	Type       string `toml:"type"`        // Storage backend type (currently only "sqlite" is supported)
	SQLitePath string `toml:"sqlite_path"` // Path to the SQLite database file
}

// CaptureConfig contains settings for the live speech capture controller.
// The defaults mirror the behavior browsers exhibit with continuous
// recognition: engines stall silently, end sessions on their own schedule,
// and cap session length, so the controller restarts aggressively.
type CaptureConfig struct {
	Locale             string `toml:"locale"`               // Recognition locale (e.g., "en-US")
	WatchdogIntervalMs int    `toml:"watchdog_interval_ms"` // Watchdog tick cadence in milliseconds (default: 2000)
	StallTimeoutMs     int    `toml:"stall_timeout_ms"`     // Force a restart when no results arrive for this long (default: 5000)
	CycleSeconds       int    `toml:"cycle_seconds"`        // Hard recognition cycle length in seconds, kept below engine session caps (default: 25)
	RestartDelayMs     int    `toml:"restart_delay_ms"`     // Delay before restarting after a transient engine error (default: 200)
	PersistEveryChars  int    `toml:"persist_every_chars"`  // Persist the live transcript every N characters of final text growth (default: 400)
}

// RecordingConfig contains recording session settings
type RecordingConfig struct {
	DefaultCourse string `toml:"default_course"` // Course label applied to new recordings when the client does not supply one
	MaxMarkers    int    `toml:"max_markers"`    // Maximum number of markers per session (0 = unlimited)
}

// TranscriptionConfig contains settings for the external transcription sidecar
type TranscriptionConfig struct {
	BaseURL        string `toml:"base_url"`        // Base URL of the transcription sidecar (e.g., http://localhost:8000)
	TimeoutSeconds int    `toml:"timeout_seconds"` // HTTP timeout for transcription requests in seconds
	MaxRetries     int    `toml:"max_retries"`     // Maximum number of connection retry attempts for health checks
}

// NotesConfig contains settings for structured notes generation
type NotesConfig struct {
	Provider       string  `toml:"provider"`        // Chat provider: "openai" (OpenAI-compatible, incl. OpenRouter), "ollama", or "gemini"
	BaseURL        string  `toml:"base_url"`        // Base URL for the provider API (e.g., https://openrouter.ai/api, http://localhost:11434)
	APIKey         string  `toml:"api_key"`         // API key for the provider (unused for ollama)
	Model          string  `toml:"model"`           // Model name (e.g., "gpt-4o-mini", "llama3.1", "gemini-2.0-flash")
	Temperature    float64 `toml:"temperature"`     // Sampling temperature for the first generation attempt (default: 0.2)
	MaxTokens      int     `toml:"max_tokens"`      // Maximum tokens in the generated response
	TimeoutSeconds int     `toml:"timeout_seconds"` // HTTP timeout for chat requests in seconds
}

// EnhanceConfig contains settings for transcript enhancement requests
type EnhanceConfig struct {
	Temperature float64 `toml:"temperature"` // Sampling temperature for enhancement requests (default: 0.3)
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in the enhancement response
}

// DefaultConfig returns a configuration populated with working defaults
// for a local development setup.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:               8080,
			Host:               "127.0.0.1",
			CORSAllowedOrigins: []string{"*"},
			ReadTimeoutSecs:    30,
			WriteTimeoutSecs:   60,
			IdleTimeoutSecs:    120,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLitePath: "classnote.db",
		},
		Capture: CaptureConfig{
			Locale:             "en-US",
			WatchdogIntervalMs: 2000,
			StallTimeoutMs:     5000,
			CycleSeconds:       25,
			RestartDelayMs:     200,
			PersistEveryChars:  400,
		},
		Recording: RecordingConfig{
			DefaultCourse: "CS101 – Intro to Algorithms",
		},
		Transcription: TranscriptionConfig{
			BaseURL:        "http://localhost:8000",
			TimeoutSeconds: 300,
			MaxRetries:     3,
		},
		Notes: NotesConfig{
			Provider:       "ollama",
			BaseURL:        "http://localhost:11434",
			Model:          "llama3.1",
			Temperature:    0.2,
			MaxTokens:      4096,
			TimeoutSeconds: 120,
		},
		Enhance: EnhanceConfig{
			Temperature: 0.3,
			MaxTokens:   2048,
		},
	}
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	// Read the config file
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in
// order of preference, falling back to defaults when no file is found.
func LoadWithFallback(preferredPath string) (*Config, error) {
	// List of paths to check in order of preference
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	for _, path := range searchPaths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
			}
			return config, nil
		}
	}

	// No config file found anywhere; run with defaults
	return DefaultConfig(), nil
}

// Validate validates the configuration and applies defaults for
// unset optional values.
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}

	// Validate static files directory if configured
	if c.Server.StaticFilesDir != "" {
		if _, err := os.Stat(c.Server.StaticFilesDir); os.IsNotExist(err) {
			return fmt.Errorf("static files directory does not exist: %s", c.Server.StaticFilesDir)
		}
	}

	// Validate logging config
	switch c.Logging.Level {
	case "":
		c.Logging.Level = "info"
	case "debug", "info", "warn", "error":
		// Valid log level
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "":
		c.Logging.Format = "console"
	case "json", "console":
		// Valid log format
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	// Validate storage config
	if c.Storage.Type == "" {
		c.Storage.Type = "sqlite"
	}
	if c.Storage.Type != "sqlite" {
		return fmt.Errorf("invalid storage type: %s (only 'sqlite' is supported)", c.Storage.Type)
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "classnote.db"
	}

	if err := c.validateCapture(); err != nil {
		return err
	}

	if c.Recording.DefaultCourse == "" {
		c.Recording.DefaultCourse = DefaultConfig().Recording.DefaultCourse
	}
	if c.Recording.MaxMarkers < 0 {
		return fmt.Errorf("max_markers must be >= 0: %d", c.Recording.MaxMarkers)
	}

	// Validate transcription sidecar config
	if c.Transcription.BaseURL == "" {
		c.Transcription.BaseURL = "http://localhost:8000"
	}
	if c.Transcription.TimeoutSeconds <= 0 {
		c.Transcription.TimeoutSeconds = 300
	}
	if c.Transcription.MaxRetries < 0 {
		return fmt.Errorf("transcription max_retries must be >= 0: %d", c.Transcription.MaxRetries)
	}

	if err := c.validateNotes(); err != nil {
		return err
	}

	// Validate enhancement config
	if c.Enhance.Temperature == 0 {
		c.Enhance.Temperature = 0.3
	}
	if c.Enhance.Temperature < 0 || c.Enhance.Temperature > 2 {
		return fmt.Errorf("invalid enhance temperature: %f", c.Enhance.Temperature)
	}
	if c.Enhance.MaxTokens <= 0 {
		c.Enhance.MaxTokens = 2048
	}

	return nil
}

// validateCapture validates the capture section and applies defaults.
// The timing values interlock: the stall timeout must exceed the watchdog
// cadence or every tick would force a restart.
func (c *Config) validateCapture() error {
	if c.Capture.Locale == "" {
		c.Capture.Locale = "en-US"
	}
	if c.Capture.WatchdogIntervalMs == 0 {
		c.Capture.WatchdogIntervalMs = 2000
	}
	if c.Capture.StallTimeoutMs == 0 {
		c.Capture.StallTimeoutMs = 5000
	}
	if c.Capture.CycleSeconds == 0 {
		c.Capture.CycleSeconds = 25
	}
	if c.Capture.RestartDelayMs == 0 {
		c.Capture.RestartDelayMs = 200
	}
	if c.Capture.PersistEveryChars == 0 {
		c.Capture.PersistEveryChars = 400
	}

	if c.Capture.WatchdogIntervalMs < 0 {
		return fmt.Errorf("watchdog_interval_ms must be positive: %d", c.Capture.WatchdogIntervalMs)
	}
	if c.Capture.StallTimeoutMs <= c.Capture.WatchdogIntervalMs {
		return fmt.Errorf("stall_timeout_ms (%d) must be greater than watchdog_interval_ms (%d)",
			c.Capture.StallTimeoutMs, c.Capture.WatchdogIntervalMs)
	}
	if c.Capture.CycleSeconds <= 0 {
		return fmt.Errorf("cycle_seconds must be positive: %d", c.Capture.CycleSeconds)
	}
	if c.Capture.RestartDelayMs < 0 {
		return fmt.Errorf("restart_delay_ms must be >= 0: %d", c.Capture.RestartDelayMs)
	}
	if c.Capture.PersistEveryChars <= 0 {
		return fmt.Errorf("persist_every_chars must be positive: %d", c.Capture.PersistEveryChars)
	}

	return nil
}

// validateNotes validates the notes provider section and applies defaults
func (c *Config) validateNotes() error {
	if c.Notes.Provider == "" {
		c.Notes.Provider = "ollama"
	}
	switch c.Notes.Provider {
	case "openai", "ollama", "gemini":
		// Valid provider
	default:
		return fmt.Errorf("invalid notes provider: %s (must be 'openai', 'ollama', or 'gemini')", c.Notes.Provider)
	}

	if c.Notes.BaseURL == "" {
		switch c.Notes.Provider {
		case "openai":
			c.Notes.BaseURL = "https://api.openai.com"
		case "ollama":
			c.Notes.BaseURL = "http://localhost:11434"
		}
	}

	if c.Notes.Provider != "ollama" && c.Notes.APIKey == "" {
		fmt.Printf("WARN: No API key provided for notes provider %q - notes generation will be disabled\n", c.Notes.Provider)
	}

	if c.Notes.Model == "" {
		return fmt.Errorf("notes model is required")
	}
	if c.Notes.Temperature == 0 {
		c.Notes.Temperature = 0.2
	}
	if c.Notes.Temperature < 0 || c.Notes.Temperature > 2 {
		return fmt.Errorf("invalid notes temperature: %f", c.Notes.Temperature)
	}
	if c.Notes.MaxTokens <= 0 {
		c.Notes.MaxTokens = 4096
	}
	if c.Notes.TimeoutSeconds <= 0 {
		c.Notes.TimeoutSeconds = 120
	}

	return nil
}
