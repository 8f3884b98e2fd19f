package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// MongoDB Configuration
	MongoURI      string
	MongoDatabase string
	MongoTimeout  time.Duration

	// HTTP Server Configuration
	HTTPPort         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	// Logging Configuration
	LogLevel  string
	LogFormat string

	// CORS Configuration
	CORSAllowedOrigins   string
	CORSAllowedMethods   string
	CORSAllowedHeaders   string
	CORSAllowCredentials bool
	CORSMaxAge           int

	// Lock Configuration
	LockDefaultTTL    time.Duration
	LockMaxTTL        time.Duration
	InlineCollections []string
	ReaperEnabled     bool
	ReaperInterval    time.Duration

	// Topology Configuration
	FetchEnabled      bool
	FetchInterval     time.Duration
	FetchTimeout      time.Duration
	FetchAllowPartial bool
	VSphereHost       string
	VSphereUsername   string
	VSpherePassword   string
	VSphereInsecure   bool
	TopologyRoot      string
	TopologyUseMock   bool
	MockHosts         int
	MockVMsPerHost    int
	TopologyGroupBy   string

	// External cache Configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration

	// Notification Configuration
	DeploymentName        string
	AlertWebhookURL       string
	AlertFailureThreshold int
	AlertWebhookTimeout   time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() *Config {
	return &Config{
		// MongoDB
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017/vcollab?authSource=admin"),
		MongoDatabase: getEnv("MONGO_DATABASE", "vcollab"),
		MongoTimeout:  getDurationEnv("MONGO_TIMEOUT_SEC", 10) * time.Second,

		// HTTP Server
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		HTTPReadTimeout:  getDurationEnv("HTTP_READ_TIMEOUT_SEC", 30) * time.Second,
		HTTPWriteTimeout: getDurationEnv("HTTP_WRITE_TIMEOUT_SEC", 30) * time.Second,

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// CORS
		CORSAllowedOrigins:   getEnv("CORS_ALLOWED_ORIGINS", "*"),
		CORSAllowedMethods:   getEnv("CORS_ALLOWED_METHODS", "GET, POST, OPTIONS"),
		CORSAllowedHeaders:   getEnv("CORS_ALLOWED_HEADERS", "Content-Type, X-User-ID, X-Correlation-ID"),
		CORSAllowCredentials: getBoolEnv("CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAge:           getIntEnv("CORS_MAX_AGE", 3600),

		// Locks
		LockDefaultTTL:    getDurationEnv("LOCK_DEFAULT_TTL_SEC", 30) * time.Second,
		LockMaxTTL:        getDurationEnv("LOCK_MAX_TTL_SEC", 600) * time.Second,
		InlineCollections: getListEnv("LOCK_INLINE_COLLECTIONS", []string{"assets"}),
		ReaperEnabled:     getBoolEnv("REAPER_ENABLED", true),
		ReaperInterval:    getDurationEnv("REAPER_INTERVAL_SEC", 10) * time.Second,

		// Topology
		FetchEnabled:      getBoolEnv("FETCH_ENABLED", true),
		FetchInterval:     getDurationEnv("FETCH_INTERVAL_SEC", 60) * time.Second,
		FetchTimeout:      getDurationEnv("FETCH_TIMEOUT_SEC", 30) * time.Second,
		FetchAllowPartial: getBoolEnv("FETCH_ALLOW_PARTIAL", true),
		VSphereHost:       getEnv("VSPHERE_HOST", ""),
		VSphereUsername:   getEnv("VSPHERE_USERNAME", ""),
		VSpherePassword:   getEnv("VSPHERE_PASSWORD", ""),
		VSphereInsecure:   getBoolEnv("VSPHERE_INSECURE", false),
		TopologyRoot:      getEnv("TOPOLOGY_ROOT", ""),
		TopologyUseMock:   getBoolEnv("TOPOLOGY_USE_MOCK", false),
		MockHosts:         getIntEnv("MOCK_HOSTS", 3),
		MockVMsPerHost:    getIntEnv("MOCK_VMS_PER_HOST", 4),
		TopologyGroupBy:   getEnv("TOPOLOGY_GROUP_BY", "$.parent"),

		// External cache
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		RedisTTL:      getDurationEnv("REDIS_SNAPSHOT_TTL_SEC", 86400) * time.Second,

		// Notifications
		DeploymentName:        getEnv("DEPLOYMENT_NAME", "vcollab"),
		AlertWebhookURL:       getEnv("ALERT_WEBHOOK_URL", ""),
		AlertFailureThreshold: getIntEnv("ALERT_FAILURE_THRESHOLD", 2),
		AlertWebhookTimeout:   getDurationEnv("ALERT_WEBHOOK_TIMEOUT_SEC", 10) * time.Second,
	}
}

// Validate checks settings that would otherwise fail late at runtime
func (c *Config) Validate() error {
	var errs []error

	if c.LockDefaultTTL <= 0 {
		errs = append(errs, errors.New("LOCK_DEFAULT_TTL_SEC must be positive"))
	}
	if c.LockMaxTTL < c.LockDefaultTTL {
		errs = append(errs, fmt.Errorf("LOCK_MAX_TTL_SEC (%s) must not be below LOCK_DEFAULT_TTL_SEC (%s)", c.LockMaxTTL, c.LockDefaultTTL))
	}
	if c.ReaperEnabled && c.ReaperInterval <= 0 {
		errs = append(errs, errors.New("REAPER_INTERVAL_SEC must be positive"))
	}
	if c.FetchEnabled {
		if c.FetchInterval <= 0 {
			errs = append(errs, errors.New("FETCH_INTERVAL_SEC must be positive"))
		}
		if c.FetchTimeout <= 0 {
			errs = append(errs, errors.New("FETCH_TIMEOUT_SEC must be positive"))
		}
		if !c.TopologyUseMock && c.VSphereHost == "" {
			errs = append(errs, errors.New("VSPHERE_HOST is required unless TOPOLOGY_USE_MOCK is set"))
		}
	}
	if c.AlertFailureThreshold <= 0 {
		errs = append(errs, errors.New("ALERT_FAILURE_THRESHOLD must be positive"))
	}

	return errors.Join(errs...)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		log.Printf("Warning: Invalid integer value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue int) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal)
		}
		log.Printf("Warning: Invalid duration value for %s, using default %d", key, defaultValue)
	}
	return time.Duration(defaultValue)
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		log.Printf("Warning: Invalid boolean value for %s, using default %t", key, defaultValue)
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
