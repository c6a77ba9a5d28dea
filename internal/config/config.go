package config

import (
	"fmt"
	"strings"
	"time"

	"callcore/pkg/constants"
	"callcore/pkg/env"
)

// Config holds all environment-driven settings for the call agent
type Config struct {
	Env  string
	Port string

	// Signaling bus
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// Object store
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOSecure    bool

	// Durable message store
	CassandraHosts    string
	CassandraKeyspace string

	// Call log
	CockroachHost string
	CockroachPort int
	CockroachUser string
	CockroachDB   string

	// Identity
	JWTSecret   string
	AccessToken string

	// ICE servers for the call transport (comma-separated URLs)
	IceServers []string

	// Tunables
	HeartbeatInterval time.Duration
	PresenceTimeout   time.Duration
	TypingDebounce    time.Duration
	TypingExpiry      time.Duration
}

// Load reads configuration from the environment with sane defaults
func Load() *Config {
	return &Config{
		Env:  env.GetString("ENV", "development"),
		Port: env.GetString("PORT", "8084"),

		RedisHost:     env.GetString("REDIS_HOST", "localhost"),
		RedisPort:     env.GetInt("REDIS_PORT", 6379),
		RedisPassword: env.GetStringFromFile("REDIS_PASSWORD", ""),

		MinIOEndpoint:  env.GetString("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey: env.GetStringFromFile("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey: env.GetStringFromFile("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucket:    env.GetString("MINIO_BUCKET", "attachments"),
		MinIOSecure:    env.GetBool("MINIO_SECURE", false),

		CassandraHosts:    env.GetString("CASSANDRA_HOSTS", "localhost"),
		CassandraKeyspace: env.GetString("CASSANDRA_KEYSPACE", "messenger"),

		CockroachHost: env.GetString("DB_HOST", "localhost"),
		CockroachPort: env.GetInt("DB_PORT", 26257),
		CockroachUser: env.GetString("DB_USER", "root"),
		CockroachDB:   env.GetString("DB_NAME", "callcore"),

		JWTSecret:   env.GetStringFromFile("JWT_SECRET", ""),
		AccessToken: env.GetStringFromFile("ACCESS_TOKEN", ""),

		IceServers: SplitHosts(env.GetString("ICE_SERVERS", "stun:stun.l.google.com:19302")),

		HeartbeatInterval: env.GetDuration("PRESENCE_HEARTBEAT_INTERVAL", constants.PresenceHeartbeatInterval),
		PresenceTimeout:   env.GetDuration("PRESENCE_STALE_TIMEOUT", constants.PresenceStaleTimeout),
		TypingDebounce:    env.GetDuration("TYPING_DEBOUNCE", constants.TypingRebroadcastInterval),
		TypingExpiry:      env.GetDuration("TYPING_EXPIRY", constants.TypingExpiry),
	}
}

// RedisAddr returns the host:port address for Redis
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// SplitHosts splits a comma-separated list, dropping blanks
func SplitHosts(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
