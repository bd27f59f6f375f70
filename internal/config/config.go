package config // package config loads application configuration from environment variables

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable.
type Config struct {
	Env            string // application environment (dev, test, prod)
	Port           string // HTTP port to listen on
	DBUser         string // database username
	DBPass         string // database password (optional)
	DBHost         string // database host address
	DBPort         string // database port number
	DBName         string // database name
	JWTSecret      string // secret used to sign JWTs
	AccessTTLMin   int    // access token time-to-live in minutes
	RefreshTTLDays int    // refresh token time-to-live in days
	BcryptCost     int    // bcrypt cost for password hashing

	SigningLinkBaseURL  string // prefix of public links: {base}/sign/{token}
	DefaultExpiryDays   int    // link lifetime when a request does not set one
	TemplateCatalogPath string // optional YAML catalog seeded at startup
	ReconcileInterval   time.Duration
	ReconcileBatch      int

	ArtifactDir string // local artifact directory used when S3 is not configured
	S3          S3Config

	RabbitURL   string // empty disables event publishing
	EventLogDir string // directory the event consumer appends to
}

// S3Config selects the S3-compatible bucket for signed artifacts.
type S3Config struct {
	Bucket       string
	Region       string
	BaseEndpoint string // set for MinIO and other S3-compatible stores
	AccessKey    string
	SecretKey    string
}

// Enabled reports whether a bucket has been configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error so deployments can rely on the real environment alone.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads configuration values from environment variables and returns a
// Config. Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:            getenv("APP_ENV", "dev"),
		Port:           getenv("APP_PORT", "8080"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"), // empty allowed
		DBHost:         must("DB_HOST"),
		DBPort:         getenv("DB_PORT", "3306"),
		DBName:         must("DB_NAME"),
		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     envInt("BCRYPT_COST", 12),

		SigningLinkBaseURL:  strings.TrimRight(must("SIGNING_LINK_BASE_URL"), "/"),
		DefaultExpiryDays:   envInt("DEFAULT_EXPIRY_DAYS", 30),
		TemplateCatalogPath: os.Getenv("TEMPLATE_CATALOG_PATH"),
		ReconcileInterval:   envDur("EXPIRY_RECONCILE_INTERVAL", 0),
		ReconcileBatch:      envInt("EXPIRY_RECONCILE_BATCH", 200),

		ArtifactDir: os.Getenv("ARTIFACT_DIR"),
		S3: S3Config{
			Bucket:       os.Getenv("S3_BUCKET"),
			Region:       getenv("S3_REGION", "us-east-1"),
			BaseEndpoint: os.Getenv("S3_ENDPOINT"),
			AccessKey:    os.Getenv("S3_ACCESS_KEY"),
			SecretKey:    os.Getenv("S3_SECRET_KEY"),
		},

		RabbitURL:   os.Getenv("RABBITMQ_URL"),
		EventLogDir: getenv("EVENT_LOG_DIR", "logs"),
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
