package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIServerConfig 保存 API 服务器特有的配置。
type APIServerConfig struct {
	Host            string        `mapstructure:"HOST"`
	Port            string        `mapstructure:"PORT"`
	ReadTimeout     time.Duration `mapstructure:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `mapstructure:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `mapstructure:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"` // 收到退出信号后等待进行中请求的最长时间
	CORS            CORSConfig    `mapstructure:"CORS"`
}

// CORSConfig holds configuration for CORS.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `mapstructure:"ALLOWED_METHODS"`
	AllowedHeaders   []string `mapstructure:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `mapstructure:"EXPOSED_HEADERS"`
	AllowCredentials bool     `mapstructure:"ALLOW_CREDENTIALS"`
	MaxAge           int      `mapstructure:"MAX_AGE"`
}

// StorageConfig 描述输入/输出文件所在的本地目录以及上传大小上限。
type StorageConfig struct {
	UploadPath      string `mapstructure:"UPLOAD_PATH"`
	OutputPath      string `mapstructure:"OUTPUT_PATH"`
	MaxUploadSizeMB int64  `mapstructure:"MAX_UPLOAD_SIZE_MB"`
	MaxImagePixels  int64  `mapstructure:"MAX_IMAGE_PIXELS"` // 解码前按图片头检查宽×高，防止解压炸弹
}

// MaxUploadBytes 返回以字节为单位的上传上限。
func (c StorageConfig) MaxUploadBytes() int64 {
	return c.MaxUploadSizeMB << 20
}

// UpscalerConfig holds configuration for the remote super-resolution service.
// An empty APIKey switches the server to local-filter-only mode.
type UpscalerConfig struct {
	APIKey          string        `mapstructure:"API_KEY"`
	Endpoint        string        `mapstructure:"ENDPOINT"`
	Timeout         time.Duration `mapstructure:"TIMEOUT"`
	MaxResultSizeMB int64         `mapstructure:"MAX_RESULT_SIZE_MB"`
}

// RedisConfig holds configuration for the remote result cache.
type RedisConfig struct {
	Enabled   bool          `mapstructure:"ENABLED"`
	Addr      string        `mapstructure:"ADDR"`
	Password  string        `mapstructure:"PASSWORD"`
	DB        int           `mapstructure:"DB"`
	ResultTTL time.Duration `mapstructure:"RESULT_TTL"`
}

// KafkaConfig holds configuration for Kafka.
type KafkaConfig struct {
	Enabled            bool          `mapstructure:"ENABLED"`
	Brokers            []string      `mapstructure:"BROKERS"`
	ClientID           string        `mapstructure:"CLIENT_ID"`
	Protocol           string        `mapstructure:"PROTOCOL"`
	UpscaleEventsTopic string        `mapstructure:"UPSCALE_EVENTS_TOPIC"` // 每次处理完成后发布事件
	ConsumerGroup      string        `mapstructure:"CONSUMER_GROUP"`       // eventtail 使用
	PublishTimeout     time.Duration `mapstructure:"PUBLISH_TIMEOUT"`
}

// WebConfig 前端静态页面。
type WebConfig struct {
	IndexPath string `mapstructure:"INDEX_PATH"`
}

// Config holds all configuration for the application.
// The values are read by viper from a config file or environment variables.
// 构造完成后只读，通过值传递给各个组件。
type Config struct {
	AppName    string          `mapstructure:"APP_NAME"`
	AppVersion string          `mapstructure:"APP_VERSION"`
	LogLevel   string          `mapstructure:"LOG_LEVEL"`
	APIServer  APIServerConfig `mapstructure:"API_SERVER"`
	Storage    StorageConfig   `mapstructure:"STORAGE"`
	Upscaler   UpscalerConfig  `mapstructure:"UPSCALER"`
	Redis      RedisConfig     `mapstructure:"REDIS"`
	Kafka      KafkaConfig     `mapstructure:"KAFKA"`
	Web        WebConfig       `mapstructure:"WEB"`
}

// RemoteEnabled 表示是否配置了远程超分服务的凭证。
func (c Config) RemoteEnabled() bool {
	return strings.TrimSpace(c.Upscaler.APIKey) != ""
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()

	v.SetDefault("APP_NAME", "upscale-go")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("LOG_LEVEL", "info")

	// APIServer Defaults
	v.SetDefault("API_SERVER.HOST", "0.0.0.0")
	v.SetDefault("API_SERVER.PORT", "5000")
	v.SetDefault("API_SERVER.READ_TIMEOUT", 30*time.Second)
	// 远程调用最多 2×120s，写超时要留足
	v.SetDefault("API_SERVER.WRITE_TIMEOUT", 300*time.Second)
	v.SetDefault("API_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("API_SERVER.SHUTDOWN_TIMEOUT", 15*time.Second)
	v.SetDefault("API_SERVER.CORS.ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("API_SERVER.CORS.ALLOWED_HEADERS", []string{"Accept", "Content-Type", "X-Request-ID"})
	v.SetDefault("API_SERVER.CORS.EXPOSED_HEADERS", []string{"Content-Length", "Content-Disposition", "X-Output-Filename", "X-Upscale-Mode", "X-Request-ID"})
	v.SetDefault("API_SERVER.CORS.ALLOW_CREDENTIALS", false)
	v.SetDefault("API_SERVER.CORS.MAX_AGE", 300) // 5 minutes

	// Storage Defaults
	v.SetDefault("STORAGE.UPLOAD_PATH", "./uploads")
	v.SetDefault("STORAGE.OUTPUT_PATH", "./outputs")
	v.SetDefault("STORAGE.MAX_UPLOAD_SIZE_MB", 16)
	v.SetDefault("STORAGE.MAX_IMAGE_PIXELS", 89478485)

	// Upscaler Defaults
	v.SetDefault("UPSCALER.API_KEY", "")
	v.SetDefault("UPSCALER.ENDPOINT", "https://api.deepai.org/api/waifu2x")
	v.SetDefault("UPSCALER.TIMEOUT", 120*time.Second)
	v.SetDefault("UPSCALER.MAX_RESULT_SIZE_MB", 64)

	// Redis Defaults
	v.SetDefault("REDIS.ENABLED", false)
	v.SetDefault("REDIS.ADDR", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.RESULT_TTL", 24*time.Hour)

	// Kafka Defaults
	v.SetDefault("KAFKA.ENABLED", false)
	v.SetDefault("KAFKA.BROKERS", []string{"localhost:9092"})
	v.SetDefault("KAFKA.CLIENT_ID", "upscale-go")
	v.SetDefault("KAFKA.PROTOCOL", "plaintext")
	v.SetDefault("KAFKA.UPSCALE_EVENTS_TOPIC", "upscale-events")
	v.SetDefault("KAFKA.CONSUMER_GROUP", "upscale-eventtail")
	v.SetDefault("KAFKA.PUBLISH_TIMEOUT", 5*time.Second)

	v.SetDefault("WEB.INDEX_PATH", "./web/index.html")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.AutomaticEnv() // Example: API_SERVER_PORT will override APIServer.Port
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 兼容部署环境中常见的变量名
	if err = v.BindEnv("UPSCALER.API_KEY", "UPSCALER_API_KEY", "DEEPAI_API_KEY"); err != nil {
		return
	}
	if err = v.BindEnv("API_SERVER.PORT", "API_SERVER_PORT", "PORT"); err != nil {
		return
	}

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return
		}
		// 没有配置文件时使用默认值
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}
