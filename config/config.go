package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultMaxUploadBytes is the hard ceiling for a single uploaded file (5 GiB).
const DefaultMaxUploadBytes int64 = 5 << 30

// Config stores the application configuration.
type Config struct {
	Port       string
	CORSOrigin string

	UploadDir      string // Directory holding ingested media files
	MaxUploadBytes int64

	// 数据库配置
	DBDriver   string // mysql, postgres or sqlite
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	// Redis配置，RedisHost 为空时不发布状态事件
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	// 外部服务
	TranscribeURL     string
	TranscribeTimeout time.Duration
	AnalysisURL       string
	AnalysisTimeout   time.Duration
	TagTimeout        time.Duration // processAudio 分类标注的 LLM 超时
	LemonadeBaseURL   string
	LemonadeAPIKey    string
	LemonadeModel     string
	LemonadeTimeout   time.Duration

	ExtremismObserver bool          // Run the per-segment LLM pass after transcription
	SegmentDelay      time.Duration // Pause between per-segment LLM calls

	// 日志配置
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseInt(value, 10, 64); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if v, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return v
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("30s") or bare milliseconds ("30000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment without touching .env.
func FromEnv() *Config {
	uploadBase := getEnv("UPLOAD_DIR", "uploads")

	return &Config{
		Port:       getEnv("PORT", "3000"),
		CORSOrigin: getEnv("CORS_ORIGIN", "*"),

		UploadDir:      uploadBase,
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", DefaultMaxUploadBytes),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // 密码不设默认值
		DBName:     getEnv("DB_NAME", "mediaguard"),
		SQLitePath: getEnv("SQLITE_PATH", filepath.Join("data", "mediaguard.db")),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisChannel:  getEnv("REDIS_STATUS_CHANNEL", "media:status"),

		TranscribeURL:     getEnv("TRANSCRIBE_URL", "http://localhost:8000"),
		TranscribeTimeout: getEnvDuration("TRANSCRIBE_TIMEOUT", 30*time.Minute),
		AnalysisURL:       getEnv("ANALYSIS_API_URL", "http://localhost:8001"),
		AnalysisTimeout:   getEnvDuration("ANALYSIS_TIMEOUT", 5*time.Minute),
		TagTimeout:        getEnvDuration("TAG_TIMEOUT", 2*time.Minute),
		LemonadeBaseURL:   getEnv("LEMONADE_BASE_URL", "http://localhost:8080"),
		LemonadeAPIKey:    os.Getenv("LEMONADE_API_KEY"),
		LemonadeModel:     getEnv("LEMONADE_MODEL", "llama2"),
		LemonadeTimeout:   getEnvDuration("LEMONADE_TIMEOUT", 30*time.Second),

		ExtremismObserver: getEnvBool("EXTREMISM_OBSERVER", true),
		SegmentDelay:      getEnvDuration("SEGMENT_DELAY", 100*time.Millisecond),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", filepath.Join("logs", "mediaguard.log")),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
	}
}
