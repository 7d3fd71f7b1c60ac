// Package config 提供应用程序的配置加载和管理功能
// 使用 TOML 格式的配置文件，支持多路径查找，敏感项可由环境变量 / .env 覆盖
package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml" // TOML 配置文件解析库
	"github.com/joho/godotenv"   // .env 文件加载
)

// MainConfig 主配置，包含应用基本信息
type MainConfig struct {
	AppName  string `toml:"appName"`  // 应用名称，用于日志标识等
	Host     string `toml:"host"`     // 服务器监听地址，如 "0.0.0.0"
	Port     int    `toml:"port"`     // 服务器监听端口，如 8000
	Mode     string `toml:"mode"`     // 运行模式："dev" 或 "release"
	Timezone string `toml:"timezone"` // 连续聊天天数按该时区的自然日计算，如 "Asia/Shanghai"
	ForceTLS bool   `toml:"forceTLS"` // 是否将 HTTP 重定向到 HTTPS
}

// SyncConfig 同步存储配置
type SyncConfig struct {
	Backend   string `toml:"backend"`   // 存储实现："memory" | "redis" | "mysql" | "postgres" | "mongo"
	TxRetries int    `toml:"txRetries"` // 乐观事务冲突时的最大重试次数
}

// MysqlConfig MySQL 数据库连接配置
type MysqlConfig struct {
	Host         string `toml:"host"`         // MySQL 服务器地址
	Port         int    `toml:"port"`         // MySQL 端口，默认 3306
	User         string `toml:"user"`         // 数据库用户名
	Password     string `toml:"password"`     // 数据库密码
	DatabaseName string `toml:"databaseName"` // 数据库名称
}

// PostgresConfig PostgreSQL 连接配置
type PostgresConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	DatabaseName string `toml:"databaseName"`
	SSLMode      string `toml:"sslMode"` // disable | require
}

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Host     string `toml:"host"`     // Redis 服务器地址
	Port     int    `toml:"port"`     // Redis 端口，默认 6379
	Password string `toml:"password"` // Redis 密码，无密码留空
	Db       int    `toml:"db"`       // Redis 数据库编号，默认 0
}

// MongoConfig MongoDB 连接配置
type MongoConfig struct {
	URI          string `toml:"uri"`          // 如 "mongodb://127.0.0.1:27017/?replicaSet=rs0"
	DatabaseName string `toml:"databaseName"` // 数据库名称
}

// LogConfig 日志配置，使用 lumberjack 进行日志轮转
type LogConfig struct {
	LogPath    string `toml:"logPath"`    // 日志文件存储目录
	FileName   string `toml:"fileName"`   // 日志文件名
	MaxSize    int    `toml:"maxSize"`    // 单个日志文件最大大小（MB）
	MaxBackups int    `toml:"maxBackups"` // 保留旧日志文件的最大个数
	MaxAge     int    `toml:"maxAge"`     // 保留旧日志文件的最大天数
	Level      string `toml:"level"`      // 日志级别：debug, info, warn, error
}

// KafkaConfig Kafka 消息队列配置
type KafkaConfig struct {
	MessageMode string        `toml:"messageMode"` // 通知投递模式："channel" 或 "kafka"
	HostPort    string        `toml:"hostPort"`    // Kafka 服务器地址，如 "localhost:9092"
	NotifyTopic string        `toml:"notifyTopic"` // 新消息 / 好友申请通知主题
	GroupID     string        `toml:"groupId"`     // 通知消费者组
	Partition   int           `toml:"partition"`   // 分区数
	Timeout     time.Duration `toml:"timeout"`     // 超时时间（秒）
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	Secret             string `toml:"secret"`             // JWT 签名密钥，建议 32 字符以上
	AccessTokenExpiry  int    `toml:"accessTokenExpiry"`  // Access Token 有效期（分钟）
	RefreshTokenExpiry int    `toml:"refreshTokenExpiry"` // Refresh Token 有效期（小时）
}

// OAuthConfig 第三方身份提供方（Google / Apple ID Token 校验）
type OAuthConfig struct {
	GoogleClientID string `toml:"googleClientId"` // 为空时关闭 Google 登录
	IssuerURL      string `toml:"issuerUrl"`      // 默认 https://accounts.google.com
	AppleClientID  string `toml:"appleClientId"`  // Bundle ID / Services ID，为空时关闭 Apple 登录
}

// SnowflakeConfig 雪花算法配置
type SnowflakeConfig struct {
	MachineID int64 `toml:"machineId"` // 雪花算法节点 ID，范围 0-1023，分布式部署时每台机器需唯一
}

// Config 应用程序总配置，聚合所有子配置
type Config struct {
	MainConfig      `toml:"mainConfig"`      // 主配置
	SyncConfig      `toml:"syncConfig"`      // 同步存储配置
	MysqlConfig     `toml:"mysqlConfig"`     // MySQL 配置
	PostgresConfig  `toml:"postgresConfig"`  // PostgreSQL 配置
	RedisConfig     `toml:"redisConfig"`     // Redis 配置
	MongoConfig     `toml:"mongoConfig"`     // MongoDB 配置
	LogConfig       `toml:"logConfig"`       // 日志配置
	KafkaConfig     `toml:"kafkaConfig"`     // Kafka 配置
	JWTConfig       `toml:"jwtConfig"`       // JWT 配置
	OAuthConfig     `toml:"oauthConfig"`     // 第三方登录配置
	SnowflakeConfig `toml:"snowflakeConfig"` // 雪花算法配置
}

var (
	config     *Config // 全局配置单例，延迟加载
	configOnce sync.Once
)

// searchPaths 候选配置文件路径（优先加载本地配置）
var searchPaths = []string{
	"configs/config_local.toml",
	"configs/config.toml",
	"../../configs/config_local.toml", // 从子目录运行时的路径
	"../../configs/config.toml",
}

// LoadConfig 按顺序尝试候选路径，找到第一个可用的配置文件即停止
// 未找到任何文件时返回错误，但 cfg 仍会填充默认值与环境变量
func LoadConfig(cfg *Config, paths ...string) error {
	if len(paths) == 0 {
		paths = searchPaths
	}
	var loadErr error = fmt.Errorf("could not find configuration file in any of the search paths")
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			loadErr = fmt.Errorf("decode %s: %w", path, err)
			break
		}
		loadErr = nil
		break
	}
	// .env 不存在时忽略
	_ = godotenv.Load()
	applyEnv(cfg)
	applyDefaults(cfg)
	return loadErr
}

// GetConfig 获取全局配置实例（单例模式）
// 首次调用时会自动加载配置文件
func GetConfig() *Config {
	configOnce.Do(func() {
		config = new(Config)
		_ = LoadConfig(config) // 忽略加载错误，使用默认值
	})
	return config
}

// applyEnv 用环境变量覆盖敏感项，便于容器部署
func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setString(&cfg.JWTConfig.Secret, "FRESH_JWT_SECRET")
	setString(&cfg.SyncConfig.Backend, "FRESH_SYNC_BACKEND")
	setString(&cfg.MysqlConfig.Password, "FRESH_MYSQL_PASSWORD")
	setString(&cfg.PostgresConfig.Password, "FRESH_POSTGRES_PASSWORD")
	setString(&cfg.RedisConfig.Password, "FRESH_REDIS_PASSWORD")
	setString(&cfg.MongoConfig.URI, "FRESH_MONGO_URI")
	setString(&cfg.OAuthConfig.GoogleClientID, "FRESH_GOOGLE_CLIENT_ID")
	setString(&cfg.OAuthConfig.AppleClientID, "FRESH_APPLE_CLIENT_ID")
	if v, ok := os.LookupEnv("FRESH_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MainConfig.Port = port
		}
	}
}

// applyDefaults 为缺省项填充默认值，保证零配置也能以内存模式启动
func applyDefaults(cfg *Config) {
	if cfg.AppName == "" {
		cfg.AppName = "fresh_chat_server"
	}
	if cfg.MainConfig.Host == "" {
		cfg.MainConfig.Host = "0.0.0.0"
	}
	if cfg.MainConfig.Port == 0 {
		cfg.MainConfig.Port = 8000
	}
	if cfg.Mode == "" {
		cfg.Mode = "dev"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
	if cfg.Backend == "" {
		cfg.Backend = "memory"
	}
	if cfg.TxRetries <= 0 {
		cfg.TxRetries = 5
	}
	if cfg.MessageMode == "" {
		cfg.MessageMode = "channel"
	}
	if cfg.NotifyTopic == "" {
		cfg.NotifyTopic = "fresh_notify"
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "fresh_notify_push"
	}
	if cfg.KafkaConfig.Timeout == 0 {
		cfg.KafkaConfig.Timeout = 1
	}
	if cfg.JWTConfig.Secret == "" {
		cfg.JWTConfig.Secret = "fresh-chat-dev-secret-change-me"
	}
	if cfg.JWTConfig.AccessTokenExpiry == 0 {
		cfg.JWTConfig.AccessTokenExpiry = 120
	}
	if cfg.JWTConfig.RefreshTokenExpiry == 0 {
		cfg.JWTConfig.RefreshTokenExpiry = 168
	}
	if cfg.IssuerURL == "" {
		cfg.IssuerURL = "https://accounts.google.com"
	}
	if cfg.LogPath == "" {
		cfg.LogPath = "logs"
	}
}

// Location 解析配置的时区，非法值回退为本地时区
func (m MainConfig) Location() *time.Location {
	if m.Timezone == "" || m.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(m.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
