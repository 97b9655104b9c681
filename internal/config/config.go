package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	AllowedOrigin string
	// Remote customer-service backend (structured chat + transcription + FAQ/schedule APIs)
	BackendBaseURL string
	BackendTimeout time.Duration
	// Completion fallback (openai-compatible endpoint used when the structured path fails)
	CompletionAPIKey  string
	CompletionBaseURL string
	CompletionModel   string
	// Conversation policy file (trigger phrases, canned strings, reveal cadence)
	PolicyFile string
	// Database (optional; confirmed-callback audit log)
	DatabaseURL string
	// Transcript archive directory (optional)
	TranscriptDir string
	// Agent OAuth for the dashboard routes (optional; routes are open when unset)
	OAuthClientID     string
	OAuthClientSecret string
	OAuthAuthURL      string
	OAuthTokenURL     string
	OAuthRedirectURL  string
	OAuthScopes       []string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Port:              getEnvDefault("PORT", "8080"),
		AllowedOrigin:     getEnvDefault("ALLOWED_ORIGIN", "*"),
		BackendBaseURL:    getEnvDefault("BACKEND_URL", "http://localhost:8000"),
		BackendTimeout:    getEnvDurationDefault("BACKEND_TIMEOUT", 20*time.Second),
		CompletionAPIKey:  os.Getenv("COMPLETION_API_KEY"),
		CompletionBaseURL: os.Getenv("COMPLETION_BASE_URL"),
		CompletionModel:   getEnvDefault("COMPLETION_MODEL", "gpt-4o-mini"),
		PolicyFile:        getEnvDefault("POLICY_FILE", "prompts/assistant.yaml"),
		DatabaseURL:       os.Getenv("DB_URL"),
		TranscriptDir:     os.Getenv("TRANSCRIPT_DIR"),
		OAuthClientID:     os.Getenv("OAUTH_CLIENT_ID"),
		OAuthClientSecret: os.Getenv("OAUTH_CLIENT_SECRET"),
		OAuthAuthURL:      os.Getenv("OAUTH_AUTH_URL"),
		OAuthTokenURL:     os.Getenv("OAUTH_TOKEN_URL"),
		OAuthRedirectURL:  getEnvDefault("OAUTH_REDIRECT_URL", "http://localhost:8080/api/auth/callback"),
		OAuthScopes:       getEnvListDefault("OAUTH_SCOPES", []string{"openid", "profile"}),
	}
	if cfg.CompletionAPIKey == "" {
		log.Println("warning: COMPLETION_API_KEY is not set; the completion fallback will be skipped")
	}
	return cfg
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvListDefault(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			s := strings.TrimSpace(p)
			if s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

func getEnvDurationDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		log.Printf("warning: invalid duration for %s: %q, using %s", key, v, def)
	}
	return def
}
