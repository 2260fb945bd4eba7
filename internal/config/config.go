package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Form    FormConfig    `mapstructure:"form"`
	CORS    CORSConfig    `mapstructure:"cors"`
	Log     LogConfig     `mapstructure:"log"`
	Session SessionConfig `mapstructure:"session"`
	Storage StorageConfig `mapstructure:"storage"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// FormConfig 表单提交的行为参数
type FormConfig struct {
	ResponseDelay     time.Duration `mapstructure:"response_delay"`
	FallbackContext   string        `mapstructure:"fallback_context"`
	EmptyQueryMessage string        `mapstructure:"empty_query_message"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SessionConfig 页面（控制器）的存活时间
type SessionConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	UnusedTTL       time.Duration `mapstructure:"unused_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type StorageConfig struct {
	Type      string `mapstructure:"type"`
	DataDir   string `mapstructure:"data_dir"`
	CacheSize int    `mapstructure:"cache_size"`

	// BackupInterval 为 0 时不做定期备份
	BackupInterval time.Duration `mapstructure:"backup_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	// SSE 连接是长连接，写超时为 0 表示不限制
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.heartbeat_interval", 30*time.Second)

	v.SetDefault("form.response_delay", time.Second)
	v.SetDefault("form.fallback_context", "No context provided")
	v.SetDefault("form.empty_query_message", "Please enter a query")

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Origin", "Content-Type", "Accept"})
	v.SetDefault("cors.max_age", 43200)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("session.ttl", 2*time.Hour)
	// 只打开过页面、没有提交也没有订阅事件的页面
	v.SetDefault("session.unused_ttl", 10*time.Minute)
	v.SetDefault("session.cleanup_interval", 10*time.Minute)

	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.cache_size", 1000)
	v.SetDefault("storage.backup_interval", 24*time.Hour)
}

// Load 读取配置文件；文件不存在时使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// KBQUERY_FORM_RESPONSE_DELAY 覆盖 form.response_delay
	v.SetEnvPrefix("KBQUERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Form.ResponseDelay <= 0 {
		return fmt.Errorf("form.response_delay must be positive, got %s", c.Form.ResponseDelay)
	}
	if c.Form.EmptyQueryMessage == "" {
		return errors.New("form.empty_query_message must not be empty")
	}
	if c.Storage.BackupInterval < 0 {
		return fmt.Errorf("storage.backup_interval must not be negative, got %s", c.Storage.BackupInterval)
	}
	switch c.Storage.Type {
	case "memory", "disk":
	default:
		return fmt.Errorf("unsupported storage.type %q", c.Storage.Type)
	}
	return nil
}
