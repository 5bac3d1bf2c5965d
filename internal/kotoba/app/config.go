package app

import (
	"time"

	"github.com/bdobrica/kotoba/common/environment"
	"github.com/bdobrica/kotoba/internal/kotoba/conversation"
	"github.com/bdobrica/kotoba/internal/kotoba/dispatch"
	"github.com/bdobrica/kotoba/internal/kotoba/intent"
	"github.com/bdobrica/kotoba/internal/kotoba/matrix"
	"github.com/bdobrica/kotoba/internal/kotoba/memory"
)

// EnvPrefix namespaces every environment variable kotoba reads.
const EnvPrefix = "KOTOBA_"

// Config holds application configuration. Runtime overrides stored in the
// database take precedence over the conversation and memory fields.
type Config struct {
	DatabasePath string

	// HTTPAddr is the listen address of the HTTP API (e.g. ":8080"). When
	// empty the API is disabled.
	HTTPAddr string

	SessionTimeout  time.Duration
	CleanupInterval time.Duration
	WaitingBelow    float64
	ActiveAt        float64

	MemoryMaxTurns    int
	HistoryScanFactor int

	// TopicsFile points at a YAML topic table. Empty uses the built-in one.
	TopicsFile string

	// RateLimit is the per-user message budget per minute.
	RateLimit int

	// OpenAI configures the model-backed intent parser. When APIKey is empty
	// the keyword parser is used.
	OpenAI intent.OpenAIConfig

	// Matrix is optional; an empty Homeserver disables the transport.
	Matrix matrix.Config

	// ArchiveRoomID receives a notice per archived session when Matrix is
	// enabled.
	ArchiveRoomID string
}

// LoadConfig reads configuration from KOTOBA_* environment variables.
func LoadConfig() *Config {
	env := environment.New(EnvPrefix)
	return &Config{
		DatabasePath:      env.StringOr("DATABASE_PATH", "./kotoba.db"),
		HTTPAddr:          env.StringOr("HTTP_ADDR", ":8080"),
		SessionTimeout:    env.DurationOr("SESSION_TIMEOUT", conversation.DefaultSessionTimeout),
		CleanupInterval:   env.DurationOr("CLEANUP_INTERVAL", conversation.DefaultCleanupInterval),
		WaitingBelow:      env.Float64Or("WAITING_BELOW", conversation.DefaultWaitingBelow),
		ActiveAt:          env.Float64Or("ACTIVE_AT", conversation.DefaultActiveAt),
		MemoryMaxTurns:    env.IntOr("MEMORY_MAX_TURNS", memory.DefaultMaxTurns),
		HistoryScanFactor: env.IntOr("HISTORY_SCAN_FACTOR", memory.DefaultScanFactor),
		TopicsFile:        env.StringOr("TOPICS_FILE", ""),
		RateLimit:         env.IntOr("RATE_LIMIT", dispatch.DefaultRatePerMinute),
		OpenAI: intent.OpenAIConfig{
			APIKey:            env.StringOr("OPENAI_API_KEY", ""),
			BaseURL:           env.StringOr("OPENAI_BASE_URL", ""),
			Model:             env.StringOr("OPENAI_MODEL", ""),
			Timeout:           env.DurationOr("OPENAI_TIMEOUT", 0),
			RequestsPerSecond: env.Float64Or("OPENAI_RPS", 0),
		},
		Matrix: matrix.Config{
			Homeserver:  env.StringOr("MATRIX_HOMESERVER", ""),
			UserID:      env.StringOr("MATRIX_USER_ID", ""),
			AccessToken: env.StringOr("MATRIX_ACCESS_TOKEN", ""),
			Rooms:       env.StringSliceOr("MATRIX_ROOMS", nil),
		},
		ArchiveRoomID: env.StringOr("MATRIX_ARCHIVE_ROOM", ""),
	}
}
