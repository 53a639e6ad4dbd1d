package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the environment-derived knobs shared by every agent
// process. Positional CLI args (robot_count, position,
// capabilities_file_name) are parsed separately in each cmd/ entrypoint —
// only the non-positional ambient settings live here.
type Config struct {
	DiscoveryEndpoint string
	RedisURL          string
	KafkaBrokers      string
	AdminPort         string
	Environment       string

	RetoolCost   time.Duration
	TimeUnit     time.Duration
	TRenew       time.Duration
	TDiscover    time.Duration
	PlacingRate  time.Duration
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
}

// Load reads the process environment and fills in the defaults spelled
// out in spec.md §4/§5/§6.
func Load() *Config {
	return &Config{
		DiscoveryEndpoint: getEnv("DISCOVERY_ENDPOINT", "opc.tcp://localhost:4840"),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		KafkaBrokers:      getEnv("KAFKA_BROKERS", ""),
		AdminPort:         getEnv("ADMIN_PORT", "8080"),
		Environment:       getEnv("ENV", "development"),

		RetoolCost:     getEnvDuration("RETOOL_COST", 2*time.Second),
		TimeUnit:       getEnvDuration("TIME_UNIT", 500*time.Millisecond),
		TRenew:         getEnvDuration("T_RENEW", 50*time.Minute),
		TDiscover:      getEnvDuration("T_DISCOVER", 1*time.Second),
		PlacingRate:    getEnvDuration("PLACING_RATE", 5*500*time.Millisecond),
		ConnectTimeout: getEnvDuration("CONNECT_TIMEOUT", 1*time.Second),
		CallTimeout:    getEnvDuration("CALL_TIMEOUT", 2*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
