package config

import "time"

type Config struct {
	Service       *ServiceConfig
	Actor         *ActorConfig
	Socket        *SocketConfig
	API           *APIConfig
	Calls         *CallConfig
	Video         *VideoConfig
	Notifications *NotificationConfig
	Store         *StoreConfig
	Redis         *RedisConfig
	Logger        *LoggerConfig
	Tracer        *TracerConfig
}

type ServiceConfig struct {
	Name      string
	Env       string
	DebugAddr string
}

// ActorConfig is the identity the daemon logs in as on start.
type ActorConfig struct {
	ID   string
	Role string
}

type SocketConfig struct {
	URL          string
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	WriteTimeout time.Duration
	ReadLimit    int64
}

type APIConfig struct {
	BaseURL      string
	Timeout      time.Duration
	AccessToken  string
	RefreshToken string
}

type CallConfig struct {
	AcceptTimeout time.Duration
}

// VideoConfig points at the Twilio video API. An empty SID disables media
// rooms; calls then only carry signaling.
type VideoConfig struct {
	SID     string
	Token   string
	BaseURL string
	Timeout time.Duration
}

type NotificationConfig struct {
	PollSchedule string
}

type StoreConfig struct {
	Driver      string // memory | sqlite | redis
	SQLitePath  string
	LastRoomTTL time.Duration
}

type RedisConfig struct {
	URL          string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
	PingTimeout  time.Duration
}

type LoggerConfig struct {
	Level  string
	Format string
}

type TracerConfig struct {
	Enabled bool
	Address string
}
