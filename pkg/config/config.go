package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Upload     UploadConfig
	Extraction ExtractionConfig
	Analysis   AnalysisConfig
	Cache      CacheConfig
	Logger     LoggerConfig
}

type LoggerConfig struct {
	Level  string
	Format string // json or console
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey  string
	Expiration time.Duration
}

type UploadConfig struct {
	MaxFileBytes int64
	// RowPolicy is the default CSV row error policy: "lenient" or "strict".
	RowPolicy string
}

type ExtractionConfig struct {
	Provider string // "remote" (OCR endpoint) or "local" (go-fitz, PDF only)
	URL      string
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
}

type AnalysisConfig struct {
	URL            string
	DialTimeout    time.Duration
	DialAttempts   int
	DialBackoff    time.Duration
	RequestTimeout time.Duration
}

type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int64
}

func Load() (*Config, error) {
	// .env is optional; plain environment variables work the same way (Docker/K8s)
	envFiles := []string{".env", "../.env", "../../.env"}
	for _, envFile := range envFiles {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getSeconds("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getSeconds("SERVER_WRITE_TIMEOUT", 30),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "statement_relay"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey:  getEnv("JWT_SECRET_KEY", "your-secret-key-change-in-production"),
			Expiration: time.Duration(getInt("JWT_EXPIRATION_HOURS", 24)) * time.Hour,
		},
		Upload: UploadConfig{
			MaxFileBytes: int64(getInt("UPLOAD_MAX_BYTES", 20<<20)),
			RowPolicy:    strings.ToLower(getEnv("CSV_ROW_POLICY", "lenient")),
		},
		Extraction: ExtractionConfig{
			Provider: strings.ToLower(getEnv("EXTRACTION_PROVIDER", "remote")),
			URL:      getEnv("EXTRACTION_URL", "http://localhost:5173/extract-text"),
			Timeout:  getSeconds("EXTRACTION_TIMEOUT", 30),
			Attempts: getInt("EXTRACTION_ATTEMPTS", 3),
			Backoff:  getMillis("EXTRACTION_BACKOFF_MS", 1000),
		},
		Analysis: AnalysisConfig{
			URL:            getEnv("ANALYSIS_WS_URL", "ws://localhost:5173/ws"),
			DialTimeout:    getSeconds("ANALYSIS_DIAL_TIMEOUT", 10),
			DialAttempts:   getInt("ANALYSIS_DIAL_ATTEMPTS", 3),
			DialBackoff:    getMillis("ANALYSIS_DIAL_BACKOFF_MS", 1000),
			RequestTimeout: getSeconds("ANALYSIS_REQUEST_TIMEOUT", 120),
		},
		Cache: CacheConfig{
			TTL:        getSeconds("CACHE_TTL", 60),
			MaxEntries: int64(getInt("CACHE_MAX_ENTRIES", 1000)),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt falls back to the default when the variable is unset or not a number.
func getInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return n
}

func getSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getInt(key, defaultValue)) * time.Second
}

func getMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getInt(key, defaultValue)) * time.Millisecond
}
