package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultJWTSecret     = "your-secret-key-change-in-production"
	defaultExtractPrompt = "please extract the author and also the publishedAt timestamps"

	// MaxMapLimit 站点映射返回链接数上限
	MaxMapLimit = 25
)

// Config 应用配置结构
type Config struct {
	// 环境配置
	Environment string
	Port        string
	LogLevel    string

	// 数据库配置
	UseLocalDB  bool
	LocalDBPath string
	PostgresDSN string
	SupabaseURL string
	SupabaseKey string

	// JWT配置
	JWTSecret string

	// 抓取服务配置
	FirecrawlAPIKey  string
	FirecrawlBaseURL string
	ScrapeTimeout    time.Duration
	RequestTimeout   time.Duration
	ExtractPrompt    string
	BulkConcurrency  int
	MapLimit         int
	MapCountry       string
	MapLanguages     []string

	// CORS配置
	AllowedOrigins []string

	// 调试配置
	Debug bool
}

// LoadConfig 加载配置（支持本地和Vercel环境）
func LoadConfig() *Config {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	// 已存在的环境变量优先，.env 文件只补充缺失值
	if env == "production" {
		_ = godotenv.Load(".env.production")
	} else {
		_ = godotenv.Load(".env.local")
	}

	config := &Config{
		Environment: getEnvWithDefault("ENVIRONMENT", "development"),
		Port:        getEnvWithDefault("PORT", "3000"),
		LogLevel:    getEnvWithDefault("LOG_LEVEL", "info"),
		UseLocalDB:  getEnvBool("USE_LOCAL_DB", false),
		LocalDBPath: getEnvWithDefault("LOCAL_DB_PATH", "./data/saved_items.json"),
		JWTSecret:   getEnvWithDefault("JWT_SECRET", defaultJWTSecret),
		Debug:       getEnvBool("DEBUG", false),
	}

	// Trim whitespace to avoid trailing spaces/newlines from env sources
	config.PostgresDSN = strings.TrimSpace(os.Getenv("POSTGRES_DSN"))
	config.SupabaseURL = strings.TrimSpace(os.Getenv("SUPABASE_URL"))
	config.SupabaseKey = strings.TrimSpace(os.Getenv("SUPABASE_SERVICE_KEY"))

	// 抓取服务
	config.FirecrawlAPIKey = strings.TrimSpace(os.Getenv("FIRECRAWL_API_KEY"))
	config.FirecrawlBaseURL = strings.TrimRight(getEnvWithDefault("FIRECRAWL_BASE_URL", "https://api.firecrawl.dev"), "/")
	config.ScrapeTimeout = getEnvDuration("SCRAPE_TIMEOUT", 60*time.Second)
	// Vercel 函数有执行时限，留 5 秒缓冲
	defaultRequestTimeout := 5 * time.Minute
	if os.Getenv("VERCEL_ENV") != "" || os.Getenv("VERCEL_URL") != "" {
		defaultRequestTimeout = 25 * time.Second
	}
	config.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", defaultRequestTimeout)
	config.ExtractPrompt = getEnvWithDefault("EXTRACT_PROMPT", defaultExtractPrompt)
	config.BulkConcurrency = getEnvInt("BULK_CONCURRENCY", 1)
	config.MapLimit = getEnvInt("MAP_LIMIT", MaxMapLimit)
	if config.MapLimit <= 0 || config.MapLimit > MaxMapLimit {
		config.MapLimit = MaxMapLimit
	}
	config.MapCountry = getEnvWithDefault("MAP_COUNTRY", "US")
	config.MapLanguages = splitList(getEnvWithDefault("MAP_LANGUAGES", "en"))

	// CORS配置
	allowedOrigins := getEnvWithDefault("ALLOWED_ORIGINS", "*")
	if allowedOrigins == "*" {
		config.AllowedOrigins = []string{"*"}
	} else {
		config.AllowedOrigins = splitList(allowedOrigins)
	}

	// 生产环境关闭调试，且不允许使用本地文件数据库
	if config.Environment == "production" {
		config.Debug = false
		if config.PostgresDSN != "" || (config.SupabaseURL != "" && config.SupabaseKey != "") {
			config.UseLocalDB = false
		}
	}

	return config
}

// Cached config (initialized once per cold start)
var (
	cachedConfig *Config
	configOnce   sync.Once
)

// GetCached returns the process-wide cached Config.
// On serverless (Vercel), it initializes once per cold start and
// reuses it across warm invocations, avoiding per-request parsing.
func GetCached() *Config {
	configOnce.Do(func() {
		cachedConfig = LoadConfig()
	})
	return cachedConfig
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.IsProduction() && (c.JWTSecret == "" || c.JWTSecret == defaultJWTSecret) {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}

	switch {
	case c.UseLocalDB:
		if c.LocalDBPath == "" {
			return fmt.Errorf("LOCAL_DB_PATH is required when USE_LOCAL_DB is set")
		}
	case c.PostgresDSN != "":
	case c.SupabaseURL != "" && c.SupabaseKey != "":
	default:
		return fmt.Errorf("database configuration incomplete: set POSTGRES_DSN, SUPABASE_URL+SUPABASE_SERVICE_KEY or USE_LOCAL_DB")
	}

	if c.BulkConcurrency < 1 {
		return fmt.Errorf("BULK_CONCURRENCY must be at least 1, got %d", c.BulkConcurrency)
	}
	if c.ScrapeTimeout <= 0 {
		return fmt.Errorf("SCRAPE_TIMEOUT must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	return nil
}

// UsesDefaultJWTSecret reports whether the placeholder secret is in use.
func (c *Config) UsesDefaultJWTSecret() bool {
	return c.JWTSecret == defaultJWTSecret
}

// IsProduction 检查是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// IsDevelopment 检查是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// DatabaseType 返回当前生效的数据库类型
func (c *Config) DatabaseType() string {
	switch {
	case c.UseLocalDB:
		return "local"
	case c.PostgresDSN != "":
		return "postgresql"
	case c.SupabaseURL != "" && c.SupabaseKey != "":
		return "supabase"
	}
	return "unknown"
}

// 辅助函数

// getEnvWithDefault 获取环境变量，如果不存在则使用默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool 获取布尔类型的环境变量
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
