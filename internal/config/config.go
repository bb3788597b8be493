package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义本地 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "127.0.0.1"（仅本机 UI 访问）
	Port int    // 监听端口，默认 8180
}

// UpstreamConfig 定义 EcoDoc 门户后端的访问配置
type UpstreamConfig struct {
	BaseURL       string        // 门户 API 基地址，必填
	SessionCookie string        // 会话 Cookie，格式 "name=value"，随投递请求携带
	ProbeInterval time.Duration // 连通性探测间隔，默认 30s
}

// StoreConfig 定义本地持久化存储配置
type StoreConfig struct {
	Type                string        // 存储类型: "sqlite"（默认）、"postgres" 或 "memory"
	DSN                 string        // sqlite 文件路径或 postgres 连接字符串
	AttachmentRetention time.Duration // 附件缓存保留窗口，默认 7 天
}

// CacheConfig 定义离线读缓存配置
type CacheConfig struct {
	RedisAddress  string        // Redis 服务地址，留空禁用缓存（透明直通）
	RedisPassword string        // Redis 认证密码
	RedisDB       int           // Redis 数据库编号
	TTL           time.Duration // API 响应缓存最大存活时间，默认 10 分钟
	StaticTTL     time.Duration // 静态资源缓存存活时间，默认 30 天
	MaxEntries    int64         // API 缓存最大条目数（LRU），默认 100
	Version       string        // 缓存命名空间版本，升级时旧版本缓存被清除
	Precache      []string      // 启动时预缓存的静态资源路径列表
}

// SyncConfig 定义后台同步调度配置
type SyncConfig struct {
	FallbackInterval time.Duration // 周期性兜底同步间隔，默认 5 分钟
	BackoffBase      time.Duration // 同步事件失败后的退避基数，默认 30s
	BackoffMax       time.Duration // 退避上限，默认 10 分钟
	RetryFailed      bool          // 自动同步是否包含 failed 草稿，默认 false
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	LogFile     string // 日志文件路径，留空只输出到控制台
}

// Config 是同步代理的根配置结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	Store    StoreConfig
	Cache    CacheConfig
	Sync     SyncConfig
	CORS     CORSConfig
	Log      LogConfig
}

// Load 从环境变量和 .env 文件加载配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: ECODOC_
// 例如: ECODOC_UPSTREAM_BASE_URL, ECODOC_STORE_DSN
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("ecodoc")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8180)
	viper.SetDefault("upstream.base_url", "")
	viper.SetDefault("upstream.session_cookie", "")
	viper.SetDefault("upstream.probe_interval", "30s")
	viper.SetDefault("store.type", "sqlite")
	viper.SetDefault("store.dsn", "./data/ecodoc-agent.db")
	viper.SetDefault("store.attachment_retention", "168h") // 7 天
	viper.SetDefault("cache.redis_address", "")
	viper.SetDefault("cache.redis_password", "")
	viper.SetDefault("cache.redis_db", 0)
	viper.SetDefault("cache.ttl", "10m")
	viper.SetDefault("cache.static_ttl", "720h") // 30 天
	viper.SetDefault("cache.max_entries", 100)
	viper.SetDefault("cache.version", "v1")
	viper.SetDefault("cache.precache", "")
	viper.SetDefault("sync.fallback_interval", "5m")
	viper.SetDefault("sync.backoff_base", "30s")
	viper.SetDefault("sync.backoff_max", "10m")
	viper.SetDefault("sync.retry_failed", false)
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")

	baseURL := strings.TrimRight(viper.GetString("upstream.base_url"), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("upstream.base_url must not be empty (set ECODOC_UPSTREAM_BASE_URL)")
	}

	probeInterval, err := time.ParseDuration(viper.GetString("upstream.probe_interval"))
	if err != nil {
		probeInterval = 30 * time.Second
	}

	retention, err := time.ParseDuration(viper.GetString("store.attachment_retention"))
	if err != nil {
		return nil, fmt.Errorf("invalid store.attachment_retention: %w", err)
	}

	storeType := viper.GetString("store.type")
	switch storeType {
	case "sqlite", "postgres", "memory":
	default:
		return nil, fmt.Errorf("unsupported store.type: %s (supported: sqlite, postgres, memory)", storeType)
	}

	cacheTTL, err := time.ParseDuration(viper.GetString("cache.ttl"))
	if err != nil {
		cacheTTL = 10 * time.Minute
	}

	staticTTL, err := time.ParseDuration(viper.GetString("cache.static_ttl"))
	if err != nil {
		staticTTL = 30 * 24 * time.Hour
	}

	maxEntries := viper.GetInt64("cache.max_entries")
	if maxEntries <= 0 {
		maxEntries = 100
	}

	fallbackInterval, err := time.ParseDuration(viper.GetString("sync.fallback_interval"))
	if err != nil {
		fallbackInterval = 5 * time.Minute
	}

	backoffBase, err := time.ParseDuration(viper.GetString("sync.backoff_base"))
	if err != nil {
		backoffBase = 30 * time.Second
	}

	backoffMax, err := time.ParseDuration(viper.GetString("sync.backoff_max"))
	if err != nil {
		backoffMax = 10 * time.Minute
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Upstream: UpstreamConfig{
			BaseURL:       baseURL,
			SessionCookie: viper.GetString("upstream.session_cookie"),
			ProbeInterval: probeInterval,
		},
		Store: StoreConfig{
			Type:                storeType,
			DSN:                 viper.GetString("store.dsn"),
			AttachmentRetention: retention,
		},
		Cache: CacheConfig{
			RedisAddress:  viper.GetString("cache.redis_address"),
			RedisPassword: viper.GetString("cache.redis_password"),
			RedisDB:       viper.GetInt("cache.redis_db"),
			TTL:           cacheTTL,
			StaticTTL:     staticTTL,
			MaxEntries:    maxEntries,
			Version:       viper.GetString("cache.version"),
			Precache:      parseList(viper.GetString("cache.precache")),
		},
		Sync: SyncConfig{
			FallbackInterval: fallbackInterval,
			BackoffBase:      backoffBase,
			BackoffMax:       backoffMax,
			RetryFailed:      viper.GetBool("sync.retry_failed"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			LogFile:     viper.GetString("log.file"),
		},
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 环境变量不会被覆盖（已存在的环境变量优先级更高）
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
