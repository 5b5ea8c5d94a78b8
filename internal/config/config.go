package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"sos-notifications-worker/internal/constants"
)

// Config / tuning - defaults
const (
	DefaultHttpPort                   = "8080"
	DefaultFirebaseCredentialsFile    = "firebase-adminsdk.json"
	DefaultSecurityTopic              = "security"
	DefaultUsersCollection            = "users"
	DefaultIncidentsCollection        = "incidents"
	DefaultPushBatchSize              = constants.MaxMulticastTokens
	DefaultPushBatchWorkers           = 4
	DefaultPushRateLimit              = 50
	DefaultPlatformCallTimeoutSeconds = 10
	DefaultListenerWorkerPoolSize     = 8
	DefaultListenerQueueSize          = 256
	DefaultIncidentRateLimit          = 20
	DefaultListenerReplayWindowSecs   = 900
	DefaultDbMaxOpenConns             = 10
	DefaultDbMaxIdleConns             = 5
	DefaultDbConnMaxLifetimeMinutes   = 30
	DefaultDbConnMaxIdleTimeMinutes   = 5
	DefaultMetricsLogIntervalSeconds  = 30
	DefaultLogLevel                   = "info"
	DefaultLogFormat                  = "json"
)

// Configuration loaded from environment
var (
	HttpPort                   string
	FirebaseCredentialsFile    string
	FirebaseProjectId          string
	SecurityTopic              string
	UsersCollection            string
	IncidentsCollection        string
	PushBatchSize              int
	PushBatchWorkers           int
	PushRateLimit              int
	PlatformCallTimeoutSeconds int
	ListenerEnabled            bool
	ListenerWorkerPoolSize     int
	ListenerQueueSize          int
	IncidentRateLimit          int
	ListenerReplayWindowSecs   int
	SqlConnString              string
	DbMaxOpenConns             int
	DbMaxIdleConns             int
	DbConnMaxLifetimeMinutes   int
	DbConnMaxIdleTimeMinutes   int
	MetricsLogIntervalSeconds  int
	LogLevel                   string
	LogFormat                  string
)

// WorkerId unique for this process
var WorkerId string

// EnvFileLoaded reports whether a .env file was found at startup.
var EnvFileLoaded bool

// invalidValues collects keys whose values could not be parsed, reported by Validate.
var invalidValues []string

func init() {
	WorkerId = fmt.Sprintf("%s-%d", uuid.New().String(), os.Getpid())

	// Load environment variables from .env file
	EnvFileLoaded = godotenv.Load() == nil

	LoadConfig()
}

// GetEnv retrieves an environment variable or returns a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt retrieves an integer environment variable or returns a default value
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		invalidValues = append(invalidValues, key)
	}
	return defaultValue
}

// GetEnvBool retrieves a boolean environment variable or returns a default value
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
		invalidValues = append(invalidValues, key)
	}
	return defaultValue
}

// LoadConfig loads all configuration from environment variables
func LoadConfig() {
	invalidValues = nil

	HttpPort = GetEnv("HTTP_PORT", DefaultHttpPort)

	// Firebase configuration
	FirebaseCredentialsFile = GetEnv("FIREBASE_CREDENTIALS_FILE", DefaultFirebaseCredentialsFile)
	FirebaseProjectId = GetEnv("FIREBASE_PROJECT_ID", "")
	SecurityTopic = GetEnv("SECURITY_TOPIC", DefaultSecurityTopic)
	UsersCollection = GetEnv("USERS_COLLECTION", DefaultUsersCollection)
	IncidentsCollection = GetEnv("INCIDENTS_COLLECTION", DefaultIncidentsCollection)

	// Push fan-out
	PushBatchSize = GetEnvInt("PUSH_BATCH_SIZE", DefaultPushBatchSize)
	if PushBatchSize <= 0 || PushBatchSize > constants.MaxMulticastTokens {
		PushBatchSize = constants.MaxMulticastTokens
	}
	PushBatchWorkers = GetEnvInt("PUSH_BATCH_WORKERS", DefaultPushBatchWorkers)
	PushRateLimit = GetEnvInt("PUSH_RATE_LIMIT", DefaultPushRateLimit)
	PlatformCallTimeoutSeconds = GetEnvInt("PLATFORM_CALL_TIMEOUT_SECONDS", DefaultPlatformCallTimeoutSeconds)

	// Incident listener
	ListenerEnabled = GetEnvBool("LISTENER_ENABLED", true)
	ListenerWorkerPoolSize = GetEnvInt("LISTENER_WORKER_POOL_SIZE", DefaultListenerWorkerPoolSize)
	ListenerQueueSize = GetEnvInt("LISTENER_QUEUE_SIZE", DefaultListenerQueueSize)
	IncidentRateLimit = GetEnvInt("INCIDENT_RATE_LIMIT", DefaultIncidentRateLimit)
	ListenerReplayWindowSecs = GetEnvInt("LISTENER_REPLAY_WINDOW_SECONDS", DefaultListenerReplayWindowSecs)

	// Dispatch journal (optional)
	SqlConnString = GetEnv("DB_CONNECTION_STRING", "")
	DbMaxOpenConns = GetEnvInt("DB_MAX_OPEN_CONNS", DefaultDbMaxOpenConns)
	DbMaxIdleConns = GetEnvInt("DB_MAX_IDLE_CONNS", DefaultDbMaxIdleConns)
	DbConnMaxLifetimeMinutes = GetEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", DefaultDbConnMaxLifetimeMinutes)
	DbConnMaxIdleTimeMinutes = GetEnvInt("DB_CONN_MAX_IDLE_TIME_MINUTES", DefaultDbConnMaxIdleTimeMinutes)

	MetricsLogIntervalSeconds = GetEnvInt("METRICS_LOG_INTERVAL_SECONDS", DefaultMetricsLogIntervalSeconds)
	LogLevel = strings.ToLower(GetEnv("LOG_LEVEL", DefaultLogLevel))
	LogFormat = strings.ToLower(GetEnv("LOG_FORMAT", DefaultLogFormat))
}

// Validate reports unparseable values and out-of-range settings.
func Validate() error {
	var errs []error
	for _, key := range invalidValues {
		errs = append(errs, fmt.Errorf("%s: invalid value %q", key, os.Getenv(key)))
	}
	positive := map[string]int{
		"PUSH_BATCH_WORKERS":            PushBatchWorkers,
		"PUSH_RATE_LIMIT":               PushRateLimit,
		"PLATFORM_CALL_TIMEOUT_SECONDS": PlatformCallTimeoutSeconds,
		"LISTENER_WORKER_POOL_SIZE":     ListenerWorkerPoolSize,
		"LISTENER_QUEUE_SIZE":           ListenerQueueSize,
		"INCIDENT_RATE_LIMIT":           IncidentRateLimit,
		"METRICS_LOG_INTERVAL_SECONDS":  MetricsLogIntervalSeconds,
	}
	for key, value := range positive {
		if value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, value))
		}
	}
	if ListenerReplayWindowSecs < 0 {
		errs = append(errs, fmt.Errorf("LISTENER_REPLAY_WINDOW_SECONDS must not be negative, got %d", ListenerReplayWindowSecs))
	}
	return errors.Join(errs...)
}
