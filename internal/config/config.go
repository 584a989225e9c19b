package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverSQLite   = "sqlite"
	StoreDriverPostgres = "postgres"
)

// Config centralizes runtime settings for the gateway and workers.
// It is built once at startup and passed to constructors by value.
type Config struct {
	Port string

	AuthToken string
	LogMode   string

	SlackSigningSecret     string
	SlackBotToken          string
	SlackAPIBaseURL        string
	SlackPostMaxAttempts   int
	ChannelID              string
	SignatureMaxAgeSeconds int

	StoreDriver string
	DBPath      string
	DatabaseURL string

	MaxLinksPerMessage int

	WorkerEnabled         bool
	WorkerConcurrency     int
	PollInterval          time.Duration
	WorkerErrorBackoff    time.Duration
	JobTimeout            time.Duration
	FetchTimeout          time.Duration
	FetchMaxAttempts      int
	FetchRetryDelay       time.Duration
	FetchUserAgent        string
	GateMinThemedProjects int

	OpenAIAPIKey         string
	OpenAIBaseURL        string
	OpenAITimeoutMS      int
	OpenAIMaxRetries     int
	Model                string
	ModelFallback        string
	AnalysisMaxToolCalls int
	PromptsDir           string
	ProjectContextFile   string

	AnalysisCacheTTL        time.Duration
	AnalysisCacheMaxEntries int

	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RedisWakeChannel string

	RateLimitRPS   float64
	RateLimitBurst int
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),
		LogMode:   getEnv("LOG_MODE", "dev"),

		SlackSigningSecret:     getEnv("SLACK_SIGNING_SECRET", ""),
		SlackBotToken:          getEnv("SLACK_BOT_TOKEN", ""),
		SlackAPIBaseURL:        getEnv("SLACK_API_BASE_URL", "https://slack.com/api"),
		SlackPostMaxAttempts:   getEnvInt("SLACK_POST_MAX_ATTEMPTS", 4),
		ChannelID:              getEnv("TECHNOSHARE_CHANNEL_ID", ""),
		SignatureMaxAgeSeconds: getEnvInt("SIGNATURE_MAX_AGE_SECONDS", 300),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverSQLite)),
		DBPath:      getEnv("DB_PATH", "./db.sqlite"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		MaxLinksPerMessage: getEnvInt("MAX_LINKS_PER_MESSAGE", 3),

		WorkerEnabled:         getEnvBool("WORKER_ENABLED", false),
		WorkerConcurrency:     getEnvInt("WORKER_CONCURRENCY", 1),
		PollInterval:          getEnvDurationMS("POLL_INTERVAL_MS", 5000),
		WorkerErrorBackoff:    getEnvDurationMS("WORKER_ERROR_BACKOFF_MS", 5000),
		JobTimeout:            time.Duration(getEnvInt("JOB_TIMEOUT_SECONDS", 300)) * time.Second,
		FetchTimeout:          getEnvDurationMS("FETCH_TIMEOUT_MS", 15000),
		FetchMaxAttempts:      getEnvInt("FETCH_MAX_ATTEMPTS", 3),
		FetchRetryDelay:       getEnvDurationMS("FETCH_RETRY_DELAY_MS", 2000),
		FetchUserAgent:        getEnv("FETCH_USER_AGENT", "TechnoShareCommentator/1.0"),
		GateMinThemedProjects: getEnvInt("GATE_MIN_THEMED_PROJECTS", 1),

		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAITimeoutMS:      getEnvInt("OPENAI_TIMEOUT_MS", 90000),
		OpenAIMaxRetries:     getEnvInt("OPENAI_MAX_RETRIES", 2),
		Model:                getEnv("MODEL", "gpt-4.1"),
		ModelFallback:        getEnv("MODEL_FALLBACK", "gpt-4.1-mini"),
		AnalysisMaxToolCalls: getEnvInt("ANALYSIS_MAX_TOOL_CALLS", 3),
		PromptsDir:           getEnv("PROMPTS_DIR", ""),
		ProjectContextFile:   getEnv("PROJECT_CONTEXT_FILE", ""),

		AnalysisCacheTTL:        time.Duration(getEnvInt("ANALYSIS_CACHE_TTL_MINUTES", 60)) * time.Minute,
		AnalysisCacheMaxEntries: getEnvInt("ANALYSIS_CACHE_MAX_ENTRIES", 500),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("REDIS_DB", 0),
		RedisWakeChannel: getEnv("REDIS_WAKE_CHANNEL", "technoshare:jobs"),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 40),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDurationMS(key string, fallbackMS int) time.Duration {
	ms := getEnvInt(key, fallbackMS)
	if ms < 0 {
		ms = fallbackMS
	}
	return time.Duration(ms) * time.Millisecond
}
