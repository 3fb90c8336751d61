package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Tracing    TracingConfig `mapstructure:"tracing"`
	Redis      RedisConfig
	CORS       CORSConfig       `mapstructure:"cors"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Proctoring ProctoringConfig `mapstructure:"proctoring"`
	Log        LogConfig        `mapstructure:"log"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool `mapstructure:"-"` // 强制执行数据库迁移
	MigrateOnly  bool `mapstructure:"-"` // 仅迁移模式（迁移后退出）
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Driver    string // mysql | postgres
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
	SSLMode   string `mapstructure:"ssl_mode"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	ExpireTime time.Duration `mapstructure:"expire_hours"`
	Issuer     string        `mapstructure:"issuer"`
}

// LogConfig 日志文件滚动参数，Level 为空时按 server.mode 决定
type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file"`
	Level      string `mapstructure:"level" yaml:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// ProctoringConfig 监考引擎参数，支持热更新
type ProctoringConfig struct {
	FaceAbsentWindow    time.Duration `mapstructure:"face_absent_window"`
	MultipleFacesWindow time.Duration `mapstructure:"multiple_faces_window"`
	NoiseWindow         time.Duration `mapstructure:"noise_window"`
	SilenceWindow       time.Duration `mapstructure:"silence_window"`
	NoiseThreshold      float64       `mapstructure:"noise_threshold"`
	SilenceFloor        float64       `mapstructure:"silence_floor"`
	PenaltyPerViolation int           `mapstructure:"penalty_per_violation"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	FrameMaxBytes       int           `mapstructure:"frame_max_bytes"`
	RetakeReuseSeed     bool          `mapstructure:"retake_reuse_seed"`
}

// DefaultProctoring 默认阈值
func DefaultProctoring() ProctoringConfig {
	return ProctoringConfig{
		FaceAbsentWindow:    10 * time.Second,
		MultipleFacesWindow: 5 * time.Second,
		NoiseWindow:         3 * time.Second,
		SilenceWindow:       30 * time.Second,
		NoiseThreshold:      0.3,
		SilenceFloor:        0.01,
		PenaltyPerViolation: 1,
		SweepInterval:       15 * time.Second,
		FrameMaxBytes:       256 * 1024,
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultProctoring()
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parsetime", true)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("jwt.expire_hours", 24)
	v.SetDefault("jwt.issuer", "exam-proctor")
	v.SetDefault("log.file", "logs/proctor.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("rate_limit.max_requests", 6000)
	v.SetDefault("rate_limit.window_minutes", 1)
	v.SetDefault("proctoring.face_absent_window", d.FaceAbsentWindow)
	v.SetDefault("proctoring.multiple_faces_window", d.MultipleFacesWindow)
	v.SetDefault("proctoring.noise_window", d.NoiseWindow)
	v.SetDefault("proctoring.silence_window", d.SilenceWindow)
	v.SetDefault("proctoring.noise_threshold", d.NoiseThreshold)
	v.SetDefault("proctoring.silence_floor", d.SilenceFloor)
	v.SetDefault("proctoring.penalty_per_violation", d.PenaltyPerViolation)
	v.SetDefault("proctoring.sweep_interval", d.SweepInterval)
	v.SetDefault("proctoring.frame_max_bytes", d.FrameMaxBytes)
	v.SetDefault("proctoring.retake_reuse_seed", false)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("PROCTOR")
	v.AutomaticEnv()
	setDefaults(v)

	// Database
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")
	v.BindEnv("server.port", "SERVER_PORT")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.JWT.ExpireTime = cfg.JWT.ExpireTime * time.Hour

	// 生产环境校验 JWT Secret 强度
	if cfg.Server.Mode == "release" && len(cfg.JWT.Secret) < 32 {
		return nil, fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(cfg.JWT.Secret))
	}

	if err := cfg.Proctoring.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验监考参数
func (p ProctoringConfig) Validate() error {
	if p.FaceAbsentWindow <= 0 || p.MultipleFacesWindow <= 0 || p.NoiseWindow <= 0 || p.SilenceWindow <= 0 {
		return fmt.Errorf("proctoring debounce windows must be positive")
	}
	if p.SilenceFloor >= p.NoiseThreshold {
		return fmt.Errorf("proctoring silence_floor (%v) must be below noise_threshold (%v)", p.SilenceFloor, p.NoiseThreshold)
	}
	if p.PenaltyPerViolation < 0 {
		return fmt.Errorf("proctoring penalty_per_violation must not be negative")
	}
	return nil
}
