package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Deployment modes.
const (
	ModeAMP         = "amp"
	ModeSelfManaged = "self_managed"
)

var (
	ErrMissingEnv  = errors.New("missing required environment variables")
	ErrInvalidMode = errors.New("invalid configuration: unknown GAE_DEPLOYMENT_MODE")
)

// Config holds application configuration.
type Config struct {
	Env  string
	Port string
	// APIRateLimit is requests per second per client on the ledger API; 0 disables.
	APIRateLimit float64

	ArangoEndpoint  string
	ArangoUser      string
	ArangoPassword  string
	ArangoDatabase  string
	ArangoVerifySSL bool
	ArangoTimeout   time.Duration

	DeploymentMode    string
	rawMode           string
	GraphAPIKeyID     string
	GraphAPIKeySecret string
	GraphToken        string
	GAEPort           int
	PollInterval      time.Duration
	RequestsPerSecond float64

	DatabaseURL     string
	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string
	HistoryKey      string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")
	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	rawMode := getEnv("GAE_DEPLOYMENT_MODE", ModeAMP)
	return Config{
		Env:  env,
		Port: getEnv("PORT", "8080"),

		APIRateLimit: getEnvFloat("API_RATE_LIMIT", 20),

		ArangoEndpoint:  strings.TrimRight(strings.TrimSpace(os.Getenv("ARANGO_ENDPOINT")), "/"),
		ArangoUser:      getEnv("ARANGO_USER", "root"),
		ArangoPassword:  os.Getenv("ARANGO_PASSWORD"),
		ArangoDatabase:  strings.TrimSpace(os.Getenv("ARANGO_DATABASE")),
		ArangoVerifySSL: ParseBool(getEnv("ARANGO_VERIFY_SSL", "true")),
		ArangoTimeout:   time.Duration(getEnvInt("ARANGO_TIMEOUT", 300)) * time.Second,

		DeploymentMode:    normalizeMode(rawMode),
		rawMode:           rawMode,
		GraphAPIKeyID:     strings.TrimSpace(os.Getenv("ARANGO_GRAPH_API_KEY_ID")),
		GraphAPIKeySecret: strings.TrimSpace(os.Getenv("ARANGO_GRAPH_API_KEY_SECRET")),
		GraphToken:        strings.TrimSpace(os.Getenv("ARANGO_GRAPH_TOKEN")),
		GAEPort:           getEnvInt("ARANGO_GAE_PORT", 8829),
		PollInterval:      getEnvDuration("GAE_POLL_INTERVAL", 2*time.Second),
		RequestsPerSecond: getEnvFloat("GAE_REQUESTS_PER_SECOND", 5),

		DatabaseURL:     dbURL,
		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),
		HistoryKey:      getEnv("HISTORY_KEY", "analysis_history.json"),
	}
}

// Validate checks that the variables required by the selected deployment mode are present.
func (c Config) Validate() error {
	if c.DeploymentMode == "" {
		return fmt.Errorf("%w %q (valid: amp, self_managed)", ErrInvalidMode, c.rawMode)
	}
	var missing []string
	if c.ArangoEndpoint == "" {
		missing = append(missing, "ARANGO_ENDPOINT")
	}
	if c.ArangoDatabase == "" {
		missing = append(missing, "ARANGO_DATABASE")
	}
	switch c.DeploymentMode {
	case ModeAMP:
		if c.GraphToken == "" && (c.GraphAPIKeyID == "" || c.GraphAPIKeySecret == "") {
			missing = append(missing, "ARANGO_GRAPH_API_KEY_ID", "ARANGO_GRAPH_API_KEY_SECRET")
		}
	case ModeSelfManaged:
		if c.ArangoPassword == "" {
			missing = append(missing, "ARANGO_PASSWORD")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return nil
}

// DeploymentURL returns the endpoint with any explicit port removed.
func (c Config) DeploymentURL() string {
	u, err := url.Parse(c.ArangoEndpoint)
	if err != nil || u.Host == "" {
		return c.ArangoEndpoint
	}
	return u.Scheme + "://" + u.Hostname()
}

// Masked returns configuration values suitable for printing.
func (c Config) Masked() map[string]any {
	return map[string]any{
		"env":             c.Env,
		"deployment_mode": c.DeploymentMode,
		"endpoint":        c.ArangoEndpoint,
		"database":        c.ArangoDatabase,
		"user":            c.ArangoUser,
		"password":        mask(c.ArangoPassword),
		"verify_ssl":      c.ArangoVerifySSL,
		"timeout_seconds": int(c.ArangoTimeout / time.Second),
		"gae_port":        c.GAEPort,
		"api_key_id":      mask(c.GraphAPIKeyID),
		"api_key_secret":  mask(c.GraphAPIKeySecret),
		"graph_token":     mask(c.GraphToken),
		"object_store":    c.ObjectStoreType,
		"ledger_enabled":  c.DatabaseURL != "",
	}
}

// ParseBool accepts true/1/yes/on in any case.
func ParseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	return "***"
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config env %s invalid int: %v", key, err)
		return def
	}
	return val
}

func getEnvFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("config env %s invalid float: %v", key, err)
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("config env %s invalid duration: %v", key, err)
		return def
	}
	return val
}

func normalizeMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "amp", "managed", "arangograph":
		return ModeAMP
	case "self_managed", "self-managed", "genai", "gen-ai":
		return ModeSelfManaged
	default:
		return ""
	}
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}
