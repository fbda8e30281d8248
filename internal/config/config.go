package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                   string
	Environment            string
	AllowedOrigin          string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	BarcodeCacheTTLSeconds int
	KafkaBrokers           []string
	KafkaTopicSettlements  string
	KafkaTopicScans        string
	KafkaClientID          string
	StoreID                string
	AuthSecret             string
	AccessTokenTTLMinutes  int
	FinalizeTimeoutSeconds int
}

// Load reads .env when present, then the process environment. A missing
// .env file is not an error.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                   getEnv("PORT", "8080"),
		Environment:            getEnv("ENVIRONMENT", "development"),
		AllowedOrigin:          getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		RedisPassword:          os.Getenv("REDIS_PASSWORD"),
		RedisDB:                redisDB,
		BarcodeCacheTTLSeconds: getPositiveInt("BARCODE_CACHE_TTL_SECONDS", 300),
		KafkaBrokers:           splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopicSettlements:  getEnv("KAFKA_TOPIC_SETTLEMENTS", "labelstock.settlements"),
		KafkaTopicScans:        getEnv("KAFKA_TOPIC_SCANS", "labelstock.scans"),
		KafkaClientID:          getEnv("KAFKA_CLIENT_ID", "labelstock"),
		StoreID:                getEnv("DEFAULT_STORE_ID", "main-store"),
		AuthSecret:             strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes:  getPositiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		FinalizeTimeoutSeconds: getPositiveInt("FINALIZE_TIMEOUT_SECONDS", 5),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) BarcodeCacheTTL() time.Duration {
	return time.Duration(c.BarcodeCacheTTLSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) FinalizeTimeout() time.Duration {
	return time.Duration(c.FinalizeTimeoutSeconds) * time.Second
}

func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getPositiveInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
