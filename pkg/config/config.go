package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Log       LogConfig
	Redis     RedisConfig
	CORS      CORSConfig
	Queue     QueueConfig
	Code      CodeConfig
	Upsert    UpsertConfig
	Snowflake SnowflakeConfig
	Cache     CacheConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxOpen  int
	MaxIdle  int
}

type JWTConfig struct {
	SecretKey     string // 会话令牌密钥
	TokenDuration string // 令牌有效期，如 "24h"
	HeaderName    string // 携带会话令牌的请求头
}

type LogConfig struct {
	Level      string
	FilePath   string
	MaxSize    int    // MB
	MaxBackups int    // 保留的备份文件数
	MaxAge     int    // 保留天数
	Compress   bool   // 是否压缩
	Format     string // json 或 text
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string // 队列键前缀
}

type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int // 小时
}

// QueueConfig 用户同步队列配置
type QueueConfig struct {
	WorkQueue         string        // 工作队列名
	DelayQueue        string        // 延时队列名
	DelayTTL          time.Duration // 延时队列消息存活时间，到期后回到工作队列
	MaxAttempts       int           // 超过该次数转入隔离队列，0表示不限制
	Concurrency       int           // 消费者数量
	PollTimeout       time.Duration // 阻塞拉取超时
	VisibilityTimeout time.Duration // 处理中消息超过该时长视为孤儿
	PromoteSpec       string        // 延时消息回投的cron表达式
	RecoverSpec       string        // 孤儿消息恢复的cron表达式
}

// CodeConfig 编码生成配置
type CodeConfig struct {
	TenantFormat string // 租户内用户编码格式
	GlobalFormat string // 平台用户编码格式
	GroupFormat  string // 用户组编码格式
	MaxAttempts  int
}

type UpsertConfig struct {
	Timeout         time.Duration
	DefaultPassword string // 租户开通账号的默认密码
}

type SnowflakeConfig struct {
	Node int64
}

// CacheConfig 用户缓存配置，缓存由读取方按需回填
type CacheConfig struct {
	TTL time.Duration
}

// 获取环境变量，如果不存在则使用默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true"
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// 获取环境变量转换为字符串数组（逗号分隔）
func getEnvAsStringArray(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

// LoadConfig 读取 .env（可选）与环境变量
func LoadConfig() (*Config, error) {
	// .env 不存在时直接使用环境变量
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Mode: getEnv("SERVER_MODE", "debug"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "iam"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxOpen:  getEnvAsInt("DB_MAX_OPEN", 20),
			MaxIdle:  getEnvAsInt("DB_MAX_IDLE", 5),
		},
		JWT: JWTConfig{
			SecretKey:     getEnv("JWT_SECRET_KEY", "default-secret-change-me"),
			TokenDuration: getEnv("JWT_TOKEN_DURATION", "24h"),
			HeaderName:    getEnv("JWT_HEADER_NAME", "Authorization"),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			FilePath:   getEnv("LOG_FILE_PATH", "logs/app.log"),
			MaxSize:    getEnvAsInt("LOG_MAX_SIZE", 100),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 7),
			MaxAge:     getEnvAsInt("LOG_MAX_AGE", 30),
			Compress:   getEnvAsBool("LOG_COMPRESS", true),
			Format:     getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", "iam:queue"),
		},
		CORS: CORSConfig{
			AllowOrigins:     getEnvAsStringArray("CORS_ALLOW_ORIGINS", []string{"*"}),
			AllowMethods:     getEnvAsStringArray("CORS_ALLOW_METHODS", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"}),
			AllowHeaders:     getEnvAsStringArray("CORS_ALLOW_HEADERS", []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Requested-With"}),
			ExposeHeaders:    getEnvAsStringArray("CORS_EXPOSE_HEADERS", []string{"Content-Length", "Content-Type"}),
			AllowCredentials: getEnvAsBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           getEnvAsInt("CORS_MAX_AGE", 12),
		},
		Queue: QueueConfig{
			WorkQueue:         getEnv("QUEUE_WORK_NAME", "insight.user"),
			DelayQueue:        getEnv("QUEUE_DELAY_NAME", "dlx.insight.user"),
			DelayTTL:          getEnvAsDuration("QUEUE_DELAY_TTL", 300*time.Second),
			MaxAttempts:       getEnvAsInt("QUEUE_MAX_ATTEMPTS", 50),
			Concurrency:       getEnvAsInt("QUEUE_CONCURRENCY", 4),
			PollTimeout:       getEnvAsDuration("QUEUE_POLL_TIMEOUT", time.Second),
			VisibilityTimeout: getEnvAsDuration("QUEUE_VISIBILITY_TIMEOUT", 5*time.Minute),
			PromoteSpec:       getEnv("QUEUE_PROMOTE_SPEC", "@every 1s"),
			RecoverSpec:       getEnv("QUEUE_RECOVER_SPEC", "@every 30s"),
		},
		Code: CodeConfig{
			TenantFormat: getEnv("CODE_TENANT_FORMAT", "#6"),
			GlobalFormat: getEnv("CODE_GLOBAL_FORMAT", "IU#8"),
			GroupFormat:  getEnv("CODE_GROUP_FORMAT", "#4"),
			MaxAttempts:  getEnvAsInt("CODE_MAX_ATTEMPTS", 64),
		},
		Upsert: UpsertConfig{
			Timeout:         getEnvAsDuration("UPSERT_TIMEOUT", 10*time.Second),
			DefaultPassword: getEnv("UPSERT_DEFAULT_PASSWORD", "123456"),
		},
		Snowflake: SnowflakeConfig{
			Node: int64(getEnvAsInt("SNOWFLAKE_NODE", 3)),
		},
		Cache: CacheConfig{
			TTL: getEnvAsDuration("CACHE_TTL", 24*time.Hour),
		},
	}

	return config, nil
}
