package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP
	HTTPPort          string
	TrustProxyHeaders bool

	// Storage backend: "postgres" or "memory"
	StorageBackend string

	// TimescaleDB
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBMaxConns int32

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Pipeline channels
	StateChannelSize        int
	AccessLogChannelSize    int
	NotificationChannelSize int

	// Batch writer tuning
	AccessLogBatchSize       int
	AccessLogFlushIntervalMS int

	// Worker counts
	StateWriterWorkers     int
	AccessLogWriterWorkers int

	// Device auth
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string
	DefaultEntityID     string

	// Admin auth
	AdminUsername     string
	AdminPasswordHash string
	JWTSecret         string
	JWTTTL            time.Duration

	// Pushover
	PushoverAppToken string
	PushoverUserKey  string

	// Notification intervals
	AlarmNotifyInterval time.Duration

	// Monitors
	ConnectivityCheckEvery  time.Duration
	ConnectivityThreshold   time.Duration
	BatteryCheckEvery       time.Duration
	BatteryCheckThreshold   int
	BatteryCheckMaxAge      time.Duration
	IngestLowBatteryPercent int

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		HTTPPort:                 getEnv("HTTP_PORT", "8001"),
		TrustProxyHeaders:        getEnvBool("TRUST_PROXY_HEADERS", false),
		StorageBackend:           strings.ToLower(getEnv("STORAGE_BACKEND", "postgres")),
		DBHost:                   getEnv("DB_HOST", "localhost"),
		DBPort:                   getEnv("DB_PORT", "5432"),
		DBUser:                   getEnv("DB_USER", "tracker_user"),
		DBPassword:               getEnv("DB_PASSWORD", "tracker_password"),
		DBName:                   getEnv("DB_NAME", "moto_alarm"),
		DBMaxConns:               int32(getEnvInt("DB_MAX_CONNS", 10)),
		RedisAddr:                getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:            getEnv("REDIS_PASSWORD", ""),
		RedisDB:                  getEnvInt("REDIS_DB", 0),
		StateChannelSize:         getEnvInt("STATE_CHANNEL_SIZE", 1000),
		AccessLogChannelSize:     getEnvInt("ACCESS_LOG_CHANNEL_SIZE", 5000),
		NotificationChannelSize:  getEnvInt("NOTIFICATION_CHANNEL_SIZE", 100),
		AccessLogBatchSize:       getEnvInt("ACCESS_LOG_BATCH_SIZE", 200),
		AccessLogFlushIntervalMS: getEnvInt("ACCESS_LOG_FLUSH_INTERVAL_MS", 1000),
		StateWriterWorkers:       getEnvInt("STATE_WRITER_WORKERS", 2),
		AccessLogWriterWorkers:   getEnvInt("ACCESS_LOG_WRITER_WORKERS", 1),
		AuthCacheTTLSeconds:      getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:             splitList(getEnv("VALID_API_KEYS", "")),
		DefaultEntityID:          getEnv("DEFAULT_ENTITY_ID", "motorcycle"),
		AdminUsername:            getEnv("ADMIN_USERNAME", "admin"),
		AdminPasswordHash:        getEnv("ADMIN_PASSWORD_HASH", ""),
		JWTSecret:                getEnv("JWT_SECRET", ""),
		JWTTTL:                   getEnvDuration("JWT_TTL", 12*time.Hour),
		PushoverAppToken:         getEnv("PUSHOVER_APP_TOKEN", ""),
		PushoverUserKey:          getEnv("PUSHOVER_USER_KEY", ""),
		AlarmNotifyInterval:      getEnvDuration("ALARM_NOTIFY_INTERVAL", time.Minute),
		ConnectivityCheckEvery:   getEnvDuration("CONNECTIVITY_CHECK_INTERVAL", 2*time.Minute),
		ConnectivityThreshold:    getEnvDuration("CONNECTIVITY_THRESHOLD", 5*time.Minute),
		BatteryCheckEvery:        getEnvDuration("BATTERY_CHECK_INTERVAL", 30*time.Minute),
		BatteryCheckThreshold:    getEnvInt("BATTERY_CHECK_THRESHOLD", 30),
		BatteryCheckMaxAge:       getEnvDuration("BATTERY_CHECK_MAX_AGE", 25*time.Minute),
		IngestLowBatteryPercent:  getEnvInt("INGEST_LOW_BATTERY_PERCENT", 20),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		LogFormat:                getEnv("LOG_FORMAT", "json"),
	}
}

// DatabaseURL builds a pgx connection string from the DB_* settings.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   c.DBHost + ":" + c.DBPort,
		Path:   c.DBName,
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	q.Set("pool_max_conns", strconv.Itoa(int(c.DBMaxConns)))
	u.RawQuery = q.Encode()
	return u.String()
}

// Validate reports settings that make the service unusable.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.DefaultEntityID == "" {
		return fmt.Errorf("DEFAULT_ENTITY_ID must not be empty")
	}
	if c.ConnectivityThreshold <= 0 || c.ConnectivityCheckEvery <= 0 || c.BatteryCheckEvery <= 0 {
		return fmt.Errorf("monitor periods must be positive")
	}
	return nil
}

// PushoverEnabled is true when both Pushover credentials are set.
func (c *Config) PushoverEnabled() bool {
	return c.PushoverAppToken != "" && c.PushoverUserKey != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
