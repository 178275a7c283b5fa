package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Port            string
	PostgresURL     string
	SecretsKey      string
	OpenAIAPIKey    string
	OpenAIOrg       string
	LLMProvider     string
	LLMModel        string
	LLMBaseURL      string
	SummaryTokens   int
	ChromeRemoteURL string
	ChromePath      string
	CaptureDir      string
	PollInterval    int
	BootWaitIters   int
	FetchWaitIters  int
}

func Load() Config {
	postgresURL := getEnv("POSTGRES_URL", "")
	if postgresURL == "" {
		postgresURL = buildPostgresURL()
	}
	return Config{
		Port:            getEnv("CATCHUP_PORT", "8090"),
		PostgresURL:     postgresURL,
		SecretsKey:      getEnv("CATCHUP_SECRETS_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIOrg:       getEnv("OPENAI_ORG", ""),
		LLMProvider:     getEnv("LLM_PROVIDER", "openai"),
		LLMModel:        getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMBaseURL:      getEnv("LLM_BASE_URL", ""),
		SummaryTokens:   getEnvInt("SUMMARY_MAX_TOKENS", 64),
		ChromeRemoteURL: getEnv("CHROME_REMOTE_URL", ""),
		ChromePath:      getEnv("CHROME_PATH", ""),
		CaptureDir:      getEnv("CATCHUP_CAPTURE_DIR", ""),
		PollInterval:    getEnvInt("CATCHUP_POLL_INTERVAL_MS", 1000),
		BootWaitIters:   getEnvInt("CATCHUP_BOOT_WAIT_ITERS", 16),
		FetchWaitIters:  getEnvInt("CATCHUP_FETCH_WAIT_ITERS", 20),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func buildPostgresURL() string {
	user := getEnv("POSTGRES_USER", "catchup")
	password := getEnv("POSTGRES_PASSWORD", "catchup")
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	database := getEnv("POSTGRES_DB", "catchup")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, database)
}
