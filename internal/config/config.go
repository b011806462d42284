package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by CORTEX_ENV (or .env by default),
// then loads the corresponding .secret file if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("CORTEX_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

// LLMProvider returns the configured LLM provider.
// Valid values: openai, anthropic, mock. Defaults to "openai".
func LLMProvider() string {
	p := os.Getenv("LLM_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

func AnthropicAPIKey() string {
	return os.Getenv("ANTHROPIC_API_KEY")
}

// LLMAPIKey returns the API key for the configured LLM provider.
func LLMAPIKey() string {
	switch LLMProvider() {
	case "anthropic":
		return AnthropicAPIKey()
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// EmbeddingProvider returns the configured embedding provider.
// Valid values: openai, mock. Defaults to "openai".
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "openai"
	}
	return p
}

func EmbeddingAPIKey() string {
	switch EmbeddingProvider() {
	case "mock":
		return ""
	default:
		return OpenAIAPIKey()
	}
}

// LLMTimeout returns the LLM request timeout. Defaults to 60s; request-level
// overrides are bounded to [1s, 60s] by the API layer.
func LLMTimeout() time.Duration {
	ms, err := strconv.Atoi(os.Getenv("LLM_TIMEOUT_MS"))
	if err != nil || ms < 1000 || ms > 60000 {
		return 60 * time.Second
	}
	return time.Duration(ms) * time.Millisecond
}

// QuotaBytes returns the per-user storage quota. Defaults to 1 GiB.
func QuotaBytes() int64 {
	q, err := strconv.ParseInt(os.Getenv("QUOTA_BYTES"), 10, 64)
	if err != nil || q <= 0 {
		return 1 << 30
	}
	return q
}

// SchedulerCron returns the consolidation cron expression.
// Defaults to "0 3 * * *" (daily at 03:00).
func SchedulerCron() string {
	c := os.Getenv("SCHEDULER_CRON")
	if c == "" {
		return "0 3 * * *"
	}
	return c
}

func SchedulerEnabled() bool {
	v, err := strconv.ParseBool(os.Getenv("SCHEDULER_ENABLED"))
	if err != nil {
		return true
	}
	return v
}

// SchedulerMaxLoad returns the load threshold above which scheduled
// consolidation is suppressed. Defaults to 0.8.
func SchedulerMaxLoad() float64 {
	l, err := strconv.ParseFloat(os.Getenv("SCHEDULER_MAX_LOAD"), 64)
	if err != nil || l < 0 || l > 1 {
		return 0.8
	}
	return l
}

// SchedulerMaxRetries returns how many times a failed consolidation run is
// retried before giving up. Defaults to 3.
func SchedulerMaxRetries() int {
	n, err := strconv.Atoi(os.Getenv("SCHEDULER_MAX_RETRIES"))
	if err != nil || n < 0 {
		return 3
	}
	return n
}

// SchedulerRetryDelay returns the base backoff between retries; each retry
// doubles it. Defaults to 1s.
func SchedulerRetryDelay() time.Duration {
	ms, err := strconv.Atoi(os.Getenv("SCHEDULER_RETRY_DELAY_MS"))
	if err != nil || ms <= 0 {
		return time.Second
	}
	return time.Duration(ms) * time.Millisecond
}

// ConsolidationBatchSize returns the per-run memory batch size. Minimum 1.
func ConsolidationBatchSize() int {
	n, err := strconv.Atoi(os.Getenv("CONSOLIDATION_BATCH_SIZE"))
	if err != nil || n < 1 {
		return 100
	}
	return n
}

// ArchiveAgeDays returns the default age threshold for archival. Minimum 1.
func ArchiveAgeDays() int {
	n, err := strconv.Atoi(os.Getenv("ARCHIVE_AGE_DAYS"))
	if err != nil || n < 1 {
		return 180
	}
	return n
}

// SessionTTL returns how long finished reasoning sessions are retained.
func SessionTTL() time.Duration {
	m, err := strconv.Atoi(os.Getenv("SESSION_TTL_MINUTES"))
	if err != nil || m <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(m) * time.Minute
}

// RateLimitRPS returns requests per second limit. Defaults to 100.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst returns the burst size for rate limiting. Defaults to 20.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// LogLevel returns the log level (debug, info, warn, error). Defaults to "info".
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return level
}
