package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	ObjectStorage ObjectStorageConfig `mapstructure:"object_storage"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Log           LogConfig           `mapstructure:"log"`
	Notify        NotifyConfig        `mapstructure:"notify"`
	API           APIConfig           `mapstructure:"api"`
	Comments      CommentConfig       `mapstructure:"comments"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name      string `mapstructure:"name"`
	Version   string `mapstructure:"version"`
	MachineID int64  `mapstructure:"machine_id"`
	JWTSecret string `mapstructure:"jwt_secret"`
	// SessionSecret 匿名用户会话cookie的签名密钥
	SessionSecret string `mapstructure:"session_secret"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP        ListenConfig `mapstructure:"http"`
	GRPC        ListenConfig `mapstructure:"grpc"`
	CORSOrigins []string     `mapstructure:"cors_origins"`
}

// ListenConfig 监听配置
type ListenConfig struct {
	Network string        `mapstructure:"network"`
	Addr    string        `mapstructure:"addr"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// StorageConfig 存储驱动，postgres 或 memory
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	MongoDB    MongoDBConfig    `mapstructure:"mongodb"`
	PostgreSQL PostgreSQLConfig `mapstructure:"postgresql"`
}

// MongoDBConfig MongoDB配置，启用后审核日志写入MongoDB
type MongoDBConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URI     string `mapstructure:"uri"`
	DBName  string `mapstructure:"db_name"`
}

// PostgreSQLConfig PostgreSQL配置
type PostgreSQLConfig struct {
	DSN    string `mapstructure:"dsn"`
	DBName string `mapstructure:"db_name"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// ElasticsearchConfig ElasticSearch配置
type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

// ObjectStorageConfig 清理前归档用的对象存储
type ObjectStorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// TelemetryConfig 链路追踪配置
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// NotifyConfig 通知分发配置
type NotifyConfig struct {
	Workers      int    `mapstructure:"workers"`
	QueueSize    int    `mapstructure:"queue_size"`
	RedisChannel string `mapstructure:"redis_channel"`
	// Enabled 对应 SEND_NOTIFICATIONS，关闭后只写日志
	Enabled bool `mapstructure:"enabled"`
}

// APIConfig 接口级限流
type APIConfig struct {
	RateLimit     RateRule `mapstructure:"rate_limit"`
	AnonRateLimit RateRule `mapstructure:"anon_rate_limit"`
	Burst         RateRule `mapstructure:"burst"`
}

// RateRule 限流规则，Limit 为 0 表示不限
type RateRule struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// CommentConfig 评论审核引擎配置
type CommentConfig struct {
	CommentableTypes []string `mapstructure:"commentable_types"`
	// MaxCommentDepth 小于0表示不限层级
	MaxCommentDepth  int  `mapstructure:"max_comment_depth"`
	MaxCommentLength int  `mapstructure:"max_comment_length"`
	AllowAnonymous   bool `mapstructure:"allow_anonymous"`
	AllowEditing     bool `mapstructure:"allow_editing"`
	// EditWindow 0表示不限时
	EditWindow       time.Duration `mapstructure:"edit_window"`
	TrackEditHistory bool          `mapstructure:"track_edit_history"`

	ModeratorRequired        bool     `mapstructure:"moderator_required"`
	AutoApproveRoles         []string `mapstructure:"auto_approve_roles"`
	AutoApproveAfterApproved int      `mapstructure:"auto_approve_after_approved"`
	ModeratorRoles           []string `mapstructure:"moderator_roles"`
	ExemptRoles              []string `mapstructure:"exempt_roles"`

	Spam      SpamConfig      `mapstructure:"spam"`
	Profanity ProfanityConfig `mapstructure:"profanity"`
	Flags     FlagConfig      `mapstructure:"flags"`
	Ban       BanConfig       `mapstructure:"ban"`

	DefaultSort  string   `mapstructure:"default_sort"`
	AllowedSorts []string `mapstructure:"allowed_sorts"`

	RateLimits   map[string][]RateRule `mapstructure:"rate_limits"`
	CacheTimeout time.Duration         `mapstructure:"cache_timeout"`
	CleanupAfter time.Duration         `mapstructure:"cleanup_after"`
}

// SpamConfig 垃圾评论检测
type SpamConfig struct {
	Words           []string      `mapstructure:"words"`
	Action          string        `mapstructure:"action"`
	DetectorURL     string        `mapstructure:"detector_url"`
	DetectorTimeout time.Duration `mapstructure:"detector_timeout"`
}

// ProfanityConfig 敏感词检测
type ProfanityConfig struct {
	Words  []string `mapstructure:"words"`
	Action string   `mapstructure:"action"`
}

// FlagConfig 举报阈值，0表示关闭对应规则
type FlagConfig struct {
	NotifyThreshold     int `mapstructure:"notify_threshold"`
	AutoHideThreshold   int `mapstructure:"auto_hide_threshold"`
	AutoDeleteThreshold int `mapstructure:"auto_delete_threshold"`
}

// BanConfig 自动封禁，0表示关闭；DefaultDuration 为0表示永久
type BanConfig struct {
	AfterRejections int           `mapstructure:"after_rejections"`
	AfterSpamFlags  int           `mapstructure:"after_spam_flags"`
	DefaultDuration time.Duration `mapstructure:"default_duration"`
}

var validActions = map[string]struct{}{
	"censor": {},
	"flag":   {},
	"hide":   {},
	"delete": {},
}

// Load 读取 .env、配置文件与环境变量；path 为空时按默认路径查找 config.yaml
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../..")
	}

	v.SetEnvPrefix("COMMENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Println("Config file not found, using default values")
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置的取值范围
func (c *Config) Validate() error {
	cc := c.Comments
	if cc.MaxCommentLength <= 0 {
		return fmt.Errorf("comments.max_comment_length must be positive, got %d", cc.MaxCommentLength)
	}
	if _, ok := validActions[cc.Spam.Action]; !ok {
		return fmt.Errorf("comments.spam.action %q is not one of censor, flag, hide, delete", cc.Spam.Action)
	}
	if _, ok := validActions[cc.Profanity.Action]; !ok {
		return fmt.Errorf("comments.profanity.action %q is not one of censor, flag, hide, delete", cc.Profanity.Action)
	}
	if cc.Flags.NotifyThreshold < 0 || cc.Flags.AutoHideThreshold < 0 || cc.Flags.AutoDeleteThreshold < 0 {
		return fmt.Errorf("comments.flags thresholds must not be negative")
	}
	if cc.Ban.AfterRejections < 0 || cc.Ban.AfterSpamFlags < 0 || cc.Ban.DefaultDuration < 0 {
		return fmt.Errorf("comments.ban settings must not be negative")
	}
	for action, rules := range cc.RateLimits {
		for _, r := range rules {
			if r.Limit <= 0 || r.Window <= 0 {
				return fmt.Errorf("comments.rate_limits.%s: limit and window must be positive", action)
			}
		}
	}
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("storage.driver %q is not one of postgres, memory", c.Storage.Driver)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "comment-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.machine_id", 1)
	v.SetDefault("app.jwt_secret", "focusandinsist")
	v.SetDefault("app.session_secret", "comment-session-secret")

	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":21010")
	v.SetDefault("server.http.timeout", "30s")
	v.SetDefault("server.grpc.network", "tcp")
	v.SetDefault("server.grpc.addr", ":22010")
	v.SetDefault("server.grpc.timeout", "30s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("database.postgresql.dsn", "host=localhost user=postgres password=postgres dbname=comment_serviceDB port=5432 sslmode=disable TimeZone=Asia/Shanghai")
	v.SetDefault("database.postgresql.db_name", "comment_serviceDB")
	v.SetDefault("database.mongodb.enabled", false)
	v.SetDefault("database.mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("database.mongodb.db_name", "comment_serviceDB")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "comment-events")

	v.SetDefault("elasticsearch.enabled", false)
	v.SetDefault("elasticsearch.addresses", []string{"http://localhost:9200"})
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index", "comment-moderation-events")

	v.SetDefault("object_storage.enabled", false)
	v.SetDefault("object_storage.endpoint", "localhost:9000")
	v.SetDefault("object_storage.access_key", "")
	v.SetDefault("object_storage.secret_key", "")
	v.SetDefault("object_storage.bucket", "comment-archive")
	v.SetDefault("object_storage.use_ssl", false)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.exporter", "stdout")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.sample_rate", 1.0)

	v.SetDefault("log.level", "info")

	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.queue_size", 1024)
	v.SetDefault("notify.redis_channel", "comment:moderation")

	v.SetDefault("api.rate_limit.limit", 1000)
	v.SetDefault("api.rate_limit.window", "1h")
	v.SetDefault("api.anon_rate_limit.limit", 100)
	v.SetDefault("api.anon_rate_limit.window", "1h")
	v.SetDefault("api.burst.limit", 20)
	v.SetDefault("api.burst.window", "1m")

	v.SetDefault("comments.commentable_types", []string{"post", "article", "video", "product"})
	v.SetDefault("comments.max_comment_depth", 3)
	v.SetDefault("comments.max_comment_length", 3000)
	v.SetDefault("comments.allow_anonymous", false)
	v.SetDefault("comments.allow_editing", true)
	v.SetDefault("comments.edit_window", "5m")
	v.SetDefault("comments.track_edit_history", true)
	v.SetDefault("comments.moderator_required", false)
	v.SetDefault("comments.auto_approve_roles", []string{})
	v.SetDefault("comments.auto_approve_after_approved", 0)
	v.SetDefault("comments.moderator_roles", []string{"moderator", "staff", "admin"})
	v.SetDefault("comments.exempt_roles", []string{"moderator", "staff", "admin"})

	v.SetDefault("comments.spam.words", []string{})
	v.SetDefault("comments.spam.action", "hide")
	v.SetDefault("comments.spam.detector_url", "")
	v.SetDefault("comments.spam.detector_timeout", "2s")
	v.SetDefault("comments.profanity.words", []string{})
	v.SetDefault("comments.profanity.action", "censor")

	v.SetDefault("comments.flags.notify_threshold", 1)
	v.SetDefault("comments.flags.auto_hide_threshold", 3)
	v.SetDefault("comments.flags.auto_delete_threshold", 0)

	v.SetDefault("comments.ban.after_rejections", 0)
	v.SetDefault("comments.ban.after_spam_flags", 0)
	v.SetDefault("comments.ban.default_duration", "0s")

	v.SetDefault("comments.rate_limits", map[string]interface{}{
		"comment": []map[string]interface{}{
			{"limit": 20, "window": "24h"},
			{"limit": 5, "window": "1m"},
		},
		"flag": []map[string]interface{}{
			{"limit": 20, "window": "24h"},
			{"limit": 5, "window": "1h"},
		},
	})
	v.SetDefault("comments.cache_timeout", "5m")
	v.SetDefault("comments.cleanup_after", "720h")
	v.SetDefault("comments.default_sort", "-created_at")
	v.SetDefault("comments.allowed_sorts", []string{"created_at", "-created_at", "updated_at", "-updated_at"})
}
