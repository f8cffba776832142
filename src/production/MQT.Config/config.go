package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// StorageConfig selects and configures the storage backend
type StorageConfig struct {
	Driver         string         `json:"driver"` // postgres, mongo or memory
	ConnectTimeout time.Duration  `json:"connect_timeout"`
	Postgres       PostgresConfig `json:"postgres"`
	Mongo          MongoConfig    `json:"mongo"`
}

// PostgresConfig holds database-related configuration
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
	MinConns int    `json:"min_conns"`
}

// MongoConfig holds MongoDB-related configuration
type MongoConfig struct {
	URI    string `json:"uri"`
	DBName string `json:"db_name"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost  string        `json:"broker_host"`
	BrokerPort  int           `json:"broker_port"`
	BrokerUser  string        `json:"broker_user"`
	BrokerPass  string        `json:"broker_pass"`
	UseTLS      bool          `json:"use_tls"`
	CACertPath  string        `json:"ca_cert_path"`
	Topics      []string      `json:"topics"`
	ClientID    string        `json:"client_id"`
	SharedGroup string        `json:"shared_group"`
	QoS         byte          `json:"qos"`
	KeepAlive   time.Duration `json:"keep_alive"`
	PingTimeout time.Duration `json:"ping_timeout"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout, stderr, or file path
	EnableCaller bool   `json:"enable_caller"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// TelemetryConfig tunes the ingestion pipeline
type TelemetryConfig struct {
	Workers       int           `json:"workers"`
	QueueSize     int           `json:"queue_size"`
	HandleTimeout time.Duration `json:"handle_timeout"`
	ErrorTopic    string        `json:"error_topic"`
}

// InfluxConfig holds the optional InfluxDB rate mirror configuration
type InfluxConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token"`
	Org     string `json:"org"`
	Bucket  string `json:"bucket"`
}

// QueryConfig holds defaults for the read-only query path
type QueryConfig struct {
	DefaultLimit  int           `json:"default_limit"`
	MaxLimit      int           `json:"max_limit"`
	ExportCap     int           `json:"export_cap"`
	BoxcarWindow  time.Duration `json:"boxcar_window"`
	RollingWindow int           `json:"rolling_window"`
	LiveBuffer    int           `json:"live_buffer"`
}

// IngestorConfig holds configuration for the MQTT Ingestor service
type IngestorConfig struct {
	Server    ServerConfig    `json:"server"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Influx    InfluxConfig    `json:"influx"`
}

// ApiConfig holds configuration for the API service
type ApiConfig struct {
	Server  ServerConfig  `json:"server"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Storage StorageConfig `json:"storage"`
	Logging LoggingConfig `json:"logging"`
	CORS    CORSConfig    `json:"cors"`
	Query   QueryConfig   `json:"query"`
}

// LoadIngestorConfig loads configuration for the MQTT Ingestor service
func LoadIngestorConfig() (*IngestorConfig, error) {
	// A missing .env is fine, variables may be set directly
	_ = godotenv.Load()

	cfg := &IngestorConfig{
		Server: ServerConfig{
			Port:         getEnv("INGESTOR_PORT", "9003"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		MQTT:    loadMQTT("cuwatch-ingestor"),
		Storage: loadStorage(),
		Logging: loadLogging(),
		Telemetry: TelemetryConfig{
			Workers:       getInt("INGEST_WORKERS", 8),
			QueueSize:     getInt("INGEST_QUEUE_SIZE", 1024),
			HandleTimeout: getDuration("INGEST_HANDLE_TIMEOUT", 10*time.Second),
			ErrorTopic:    getEnv("INGEST_ERROR_TOPIC", "ingestor/errors"),
		},
		Influx: InfluxConfig{
			Enabled: getBool("INFLUX_ENABLED", false),
			URL:     getEnv("INFLUX_URL", "http://localhost:8086"),
			Token:   getEnv("INFLUX_TOKEN", ""),
			Org:     getEnv("INFLUX_ORG", "cuwatch"),
			Bucket:  getEnv("INFLUX_BUCKET", "rates"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadApiConfig loads configuration for the API service
func LoadApiConfig() (*ApiConfig, error) {
	_ = godotenv.Load()

	cfg := &ApiConfig{
		Server: ServerConfig{
			Port:         getEnv("PORT", "9002"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 0),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		MQTT:    loadMQTT("cuwatch-api"),
		Storage: loadStorage(),
		Logging: loadLogging(),
		CORS: CORSConfig{
			AllowedOrigins:   getStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   getStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   getStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept"}),
			ExposedHeaders:   getStringSlice("CORS_EXPOSED_HEADERS", []string{"Content-Length", "X-Request-ID"}),
			AllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           getInt("CORS_MAX_AGE", 43200), // 12 hours
		},
		Query: QueryConfig{
			DefaultLimit:  getInt("QUERY_DEFAULT_LIMIT", 500),
			MaxLimit:      getInt("QUERY_MAX_LIMIT", 20000),
			ExportCap:     getInt("EXPORT_CAP", 10000),
			BoxcarWindow:  getDuration("BOXCAR_WINDOW", 60*time.Second),
			RollingWindow: getInt("ROLLING_WINDOW", 30),
			LiveBuffer:    getInt("LIVE_BUFFER", 2000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate validates the ingestor configuration
func (c *IngestorConfig) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if c.MQTT.BrokerHost == "" {
		return fmt.Errorf("BROKER_HOST is required")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2")
	}
	if c.Telemetry.Workers < 1 {
		return fmt.Errorf("INGEST_WORKERS must be at least 1")
	}
	if c.Influx.Enabled && c.Influx.Token == "" {
		return fmt.Errorf("INFLUX_TOKEN is required when INFLUX_ENABLED is set")
	}
	return nil
}

// Validate validates the API configuration
func (c *ApiConfig) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if c.Query.DefaultLimit < 1 || c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("QUERY_DEFAULT_LIMIT must be between 1 and QUERY_MAX_LIMIT")
	}
	if c.Query.BoxcarWindow <= 0 {
		return fmt.Errorf("BOXCAR_WINDOW must be positive")
	}
	return nil
}

// Validate validates the storage section
func (s *StorageConfig) Validate() error {
	switch s.Driver {
	case "postgres":
		if s.Postgres.User == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
		if s.Postgres.Password == "" {
			return fmt.Errorf("POSTGRES_PASSWORD is required")
		}
	case "mongo":
		if s.Mongo.URI == "" {
			return fmt.Errorf("MONGODB_URI is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", s.Driver)
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// BrokerURL returns the MQTT broker URL
func (m MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if m.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.BrokerHost, m.BrokerPort)
}

// SubscriptionTopics returns the topics to subscribe to, wrapped in the
// shared subscription group when one is configured.
func (m MQTTConfig) SubscriptionTopics() []string {
	out := make([]string, 0, len(m.Topics))
	for _, t := range m.Topics {
		if m.SharedGroup != "" {
			t = fmt.Sprintf("$share/%s/%s", m.SharedGroup, t)
		}
		out = append(out, t)
	}
	return out
}

func loadMQTT(defaultClientID string) MQTTConfig {
	return MQTTConfig{
		BrokerHost:  getEnv("BROKER_HOST", "mqtt-broker"),
		BrokerPort:  getInt("BROKER_PORT", 1883),
		BrokerUser:  getEnv("BROKER_USER", ""),
		BrokerPass:  getEnv("BROKER_PASS", ""),
		UseTLS:      getBool("BROKER_TLS", false),
		CACertPath:  getEnv("BROKER_CA_FILE", ""),
		Topics:      getStringSlice("MQTT_TOPICS", []string{"telemetry/#", "status/+"}),
		ClientID:    getEnv("MQTT_CLIENT_ID", defaultClientID),
		SharedGroup: getEnv("MQTT_SHARED_GROUP", ""),
		QoS:         byte(getInt("MQTT_QOS", 1)),
		KeepAlive:   getDuration("MQTT_KEEP_ALIVE", 30*time.Second),
		PingTimeout: getDuration("MQTT_PING_TIMEOUT", 10*time.Second),
	}
}

func loadStorage() StorageConfig {
	return StorageConfig{
		Driver:         strings.ToLower(getEnv("STORAGE_DRIVER", "postgres")),
		ConnectTimeout: getDuration("STORAGE_CONNECT_TIMEOUT", 20*time.Second),
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", "db"),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", ""),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			DBName:   getEnv("POSTGRES_DB", "iot"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns: getInt("POSTGRES_MAX_CONNS", 25),
			MinConns: getInt("POSTGRES_MIN_CONNS", 5),
		},
		Mongo: MongoConfig{
			URI:    getEnv("MONGODB_URI", ""),
			DBName: getEnv("MONGODB_DB", "iot"),
		},
	}
}

func loadLogging() LoggingConfig {
	return LoggingConfig{
		Level:        getEnv("LOG_LEVEL", "info"),
		Format:       getEnv("LOG_FORMAT", "text"),
		Output:       getEnv("LOG_OUTPUT", "stdout"),
		EnableCaller: getBool("LOG_ENABLE_CALLER", false),
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return intValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if value == "1" || value == "true" || value == "TRUE" {
		return true
	}
	if value == "0" || value == "false" || value == "FALSE" {
		return false
	}
	log.Fatalf("invalid %s: %q (expected true/false or 1/0)", key, value)
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return duration
}

func getStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
