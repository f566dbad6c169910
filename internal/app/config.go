package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	APIBaseURL string
	WSBaseURL  string

	LogLevel  string
	LogPretty bool

	// TokenDB is the sqlite file holding the persisted token pair.
	TokenDB string

	RequestTimeout time.Duration
	ReconnectDelay time.Duration

	// Optional credentials for a non-interactive login at startup.
	Email    string
	Password string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		APIBaseURL: EnvString("CAMPUS_API_BASE_URL", "http://127.0.0.1:8000"),
		WSBaseURL:  EnvString("CAMPUS_WS_BASE_URL", "ws://127.0.0.1:8000/ws"),

		LogLevel:  EnvString("CAMPUS_LOG_LEVEL", "info"),
		LogPretty: EnvBool("CAMPUS_LOG_PRETTY", false),

		TokenDB: EnvString("CAMPUS_TOKEN_DB", "./data/campus.db"),

		RequestTimeout: EnvDuration("CAMPUS_REQUEST_TIMEOUT", 30*time.Second),
		ReconnectDelay: EnvDuration("CAMPUS_RECONNECT_DELAY", 5*time.Second),

		Email:    EnvString("CAMPUS_EMAIL", ""),
		Password: EnvString("CAMPUS_PASSWORD", ""),
	}
}
