package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the configuration from the environment. A .env file in the
// working directory is applied first when present; real env vars win.
func Load() *Config {
	_ = godotenv.Load()
	return &Config{
		Service: &ServiceConfig{
			Name:      getEnv("SERVICE_NAME", "tutorlink"),
			Env:       getEnv("SERVICE_ENV", "development"),
			DebugAddr: getEnv("DEBUG_ADDR", ":9090"),
		},
		Actor: &ActorConfig{
			ID:   getEnv("ACTOR_ID", ""),
			Role: getEnv("ACTOR_ROLE", ""),
		},
		Socket: &SocketConfig{
			URL:          getEnv("SOCKET_URL", "ws://localhost:8080/socket"),
			MaxAttempts:  getEnvInt("SOCKET_MAX_ATTEMPTS", 5),
			InitialDelay: getEnvDuration("SOCKET_INITIAL_DELAY", time.Second),
			MaxDelay:     getEnvDuration("SOCKET_MAX_DELAY", 5*time.Second),
			WriteTimeout: getEnvDuration("SOCKET_WRITE_TIMEOUT", 10*time.Second),
			ReadLimit:    int64(getEnvInt("SOCKET_READ_LIMIT", 512*1024)),
		},
		API: &APIConfig{
			BaseURL:      getEnv("API_BASE_URL", "http://localhost:8080/api"),
			Timeout:      getEnvDuration("API_TIMEOUT", 10*time.Second),
			AccessToken:  getEnv("API_ACCESS_TOKEN", ""),
			RefreshToken: getEnv("API_REFRESH_TOKEN", ""),
		},
		Calls: &CallConfig{
			AcceptTimeout: getEnvDuration("CALL_ACCEPT_TIMEOUT", 60*time.Second),
		},
		Video: &VideoConfig{
			SID:     getEnv("TWILIO_ACCOUNT_SID", ""),
			Token:   getEnv("TWILIO_AUTH_TOKEN", ""),
			BaseURL: getEnv("TWILIO_VIDEO_URL", "https://video.twilio.com"),
			Timeout: getEnvDuration("TWILIO_TIMEOUT", 10*time.Second),
		},
		Notifications: &NotificationConfig{
			PollSchedule: getEnv("NOTIFICATION_POLL_SCHEDULE", "@every 30s"),
		},
		Store: &StoreConfig{
			Driver:      strings.ToLower(getEnv("STORE_DRIVER", "memory")),
			SQLitePath:  getEnv("SQLITE_PATH", "tutorlink.db"),
			LastRoomTTL: getEnvDuration("LAST_ROOM_TTL", 30*24*time.Hour),
		},
		Redis: &RedisConfig{
			URL:          getEnv("REDIS_URL", "redis://localhost:6379"),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 4),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE", 1),
			PingTimeout:  getEnvDuration("REDIS_PING_TIMEOUT", 2*time.Second),
		},
		Logger: &LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "JSON"),
		},
		Tracer: &TracerConfig{
			Enabled: getEnvBool("OTEL_ENABLED", false),
			Address: getEnv("OTEL_ENDPOINT", "localhost:4317"),
		},
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}
