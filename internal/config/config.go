package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv    string
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	DatabaseURL      string
	DBConnectTimeout time.Duration
	UploadDir        string
	OutputDir        string
	ProfilePath      string
	Profile          Profile

	MailTransport    string
	SMTPHost         string
	SMTPPort         int
	SMTPUser         string
	SMTPPass         string
	SMTPFrom         string
	SMTPFromName     string
	SMTPTimeout      time.Duration
	EmailSettingsTTL time.Duration

	GmailClientID     string
	GmailClientSecret string
	GmailRedirectURI  string
	GmailRefreshToken string

	RegistryAPIBaseURL   string
	RegistryAPIToken     string
	RegistryRateLimitRPS int
	RegistryTimeoutMs    int
	RegistryLookup       time.Duration

	MatchTopK          int
	MatchMinSimilarity float64

	BlobProvider        string
	BlobLocalDir        string
	BlobPrefix          string
	BlobAzureConnString string
	BlobAzureContainer  string
	BlobGCSBucket       string

	PDFFontFile string

	MaintenanceInterval time.Duration
	UploadRetention     time.Duration
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	profilePath := getEnv("POFLOW_PROFILE", filepath.Join(cwd, "poflow.toml"))
	profile, err := LoadProfile(profilePath)
	if err != nil {
		return Config{}, err
	}
	profile.GroupOrders = getEnvBool("GROUP_ORDERS", profile.GroupOrders)

	cfg := Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		DatabaseURL:      getEnv("DATABASE_URL", ""),
		DBConnectTimeout: getEnvDuration("DB_CONNECT_TIMEOUT", 5*time.Second),
		UploadDir:        getEnv("UPLOAD_DIR", filepath.Join(cwd, "data", "uploads")),
		OutputDir:        getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),
		ProfilePath:      profilePath,
		Profile:          profile,

		MailTransport:    strings.ToLower(getEnv("MAIL_TRANSPORT", "auto")),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         getEnvInt("SMTP_PORT", 587),
		SMTPUser:         getEnv("SMTP_USER", ""),
		SMTPPass:         getEnv("SMTP_PASS", ""),
		SMTPFrom:         getEnv("SMTP_FROM", ""),
		SMTPFromName:     getEnv("SMTP_FROM_NAME", "발주 시스템"),
		SMTPTimeout:      getEnvDuration("SMTP_TIMEOUT", 30*time.Second),
		EmailSettingsTTL: getEnvDuration("EMAIL_SETTINGS_TTL", 5*time.Minute),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRedirectURI:  getEnv("GMAIL_REDIRECT_URI", "https://developers.google.com/oauthplayground"),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),

		RegistryAPIBaseURL:   getEnv("REGISTRY_API_BASE_URL", ""),
		RegistryAPIToken:     getEnv("REGISTRY_API_TOKEN", ""),
		RegistryRateLimitRPS: getEnvInt("REGISTRY_RATE_LIMIT_RPS", 5),
		RegistryTimeoutMs:    getEnvInt("REGISTRY_TIMEOUT_MS", 30000),
		RegistryLookup:       getEnvDuration("REGISTRY_LOOKUP_TIMEOUT", 3*time.Second),

		MatchTopK:          getEnvInt("MATCH_TOP_K", profile.Matching.TopK),
		MatchMinSimilarity: getEnvFloat("MATCH_MIN_SIMILARITY", profile.Matching.MinSimilarity),

		BlobProvider:        strings.ToLower(getEnv("BLOB_PROVIDER", "local")),
		BlobLocalDir:        getEnv("BLOB_LOCAL_DIR", filepath.Join(cwd, "data", "archive")),
		BlobPrefix:          getEnv("BLOB_PREFIX", "po-template"),
		BlobAzureConnString: getEnv("BLOB_AZURE_CONNECTION_STRING", ""),
		BlobAzureContainer:  getEnv("BLOB_AZURE_CONTAINER", "po-artifacts"),
		BlobGCSBucket:       getEnv("BLOB_GCS_BUCKET", ""),

		PDFFontFile: getEnv("PDF_FONT_FILE", ""),

		MaintenanceInterval: getEnvDuration("MAINTENANCE_INTERVAL", 10*time.Minute),
		UploadRetention:     getEnvDuration("UPLOAD_RETENTION", 24*time.Hour),
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	if value == "" {
		return fallback
	}
	if value == "1" || value == "true" || value == "yes" || value == "on" {
		return true
	}
	if value == "0" || value == "false" || value == "no" || value == "off" {
		return false
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("30s") or bare milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(getEnv(key, ""))
	if value == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
