package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用全局配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Engine   EngineConfig   `mapstructure:"engine"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port            int             `mapstructure:"port"`
	CORS            CORSConfig      `mapstructure:"cors"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	MaxBodyBytes    int64           `mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
}

// RateLimitConfig 打卡接口限流（需启用 Redis）
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"` // 0 表示不限流
	Window   time.Duration `mapstructure:"window"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DatabaseConfig 数据库配置（postgres 为生产驱动，sqlite 用于单站点嵌入式部署）
type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"` // postgres | sqlite
	Path            string `mapstructure:"path"`   // 仅 sqlite
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 连接最大生命周期（分钟）
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 空闲连接最大存活时间（分钟）
}

// DSN 生成 PostgreSQL 连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig JWT 校验配置（Token 由外部认证服务签发）
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig 异常检测引擎策略
// 站点与排班上的覆盖值优先于此处的默认值
type EngineConfig struct {
	DefaultTimezone     string        `mapstructure:"default_timezone"`
	PlausibilityStart   string        `mapstructure:"plausibility_start"`
	PlausibilityEnd     string        `mapstructure:"plausibility_end"`
	ConsecutiveDebounce time.Duration `mapstructure:"consecutive_debounce"`
	RapidPairGuard      time.Duration `mapstructure:"rapid_pair_guard"`
	IngestDebounce      time.Duration `mapstructure:"ingest_debounce"`
	RescanDefaultDays   int           `mapstructure:"rescan_default_days"`
	LockBackend         string        `mapstructure:"lock_backend"` // local | redis
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	TieBreaker          string        `mapstructure:"tie_breaker"`
	Sweep               SweepConfig   `mapstructure:"sweep"`
}

// SweepConfig 日终对账任务配置
type SweepConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	At      string `mapstructure:"at"` // HH:MM，按 engine.default_timezone 解释
}

// Load 从配置文件与环境变量加载配置
// 优先级：环境变量 > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// ── 配置文件 ──
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ── 环境变量 ──
	v.SetEnvPrefix("POINTAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在时仅依赖默认值和环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.rate_limit.requests", 30)
	v.SetDefault("server.rate_limit.window", "1m")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.path", "pointage.db")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "pg_pointage")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 60)
	v.SetDefault("db.conn_max_idle_time", 30)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.issuer", "pg-pointage")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("engine.default_timezone", "Europe/Paris")
	v.SetDefault("engine.plausibility_start", "07:30")
	v.SetDefault("engine.plausibility_end", "19:00")
	v.SetDefault("engine.consecutive_debounce", "10s")
	v.SetDefault("engine.rapid_pair_guard", "60s")
	v.SetDefault("engine.ingest_debounce", "10m")
	v.SetDefault("engine.rescan_default_days", 30)
	v.SetDefault("engine.lock_backend", "local")
	v.SetDefault("engine.lock_ttl", "30s")
	v.SetDefault("engine.tie_breaker", "most_recent")
	v.SetDefault("engine.sweep.enabled", true)
	v.SetDefault("engine.sweep.at", "00:30")
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("配置校验失败: server.port 必须在 1-65535 之间")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("配置校验失败: db.driver 仅支持 postgres 或 sqlite，当前为 %q", c.Database.Driver)
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 长度不能少于 16 字符")
	}
	if _, err := time.LoadLocation(c.Engine.DefaultTimezone); err != nil {
		return fmt.Errorf("配置校验失败: engine.default_timezone 无效: %w", err)
	}
	if _, err := time.Parse("15:04", c.Engine.PlausibilityStart); err != nil {
		return fmt.Errorf("配置校验失败: engine.plausibility_start 格式应为 HH:MM")
	}
	if _, err := time.Parse("15:04", c.Engine.PlausibilityEnd); err != nil {
		return fmt.Errorf("配置校验失败: engine.plausibility_end 格式应为 HH:MM")
	}
	if c.Engine.PlausibilityStart >= c.Engine.PlausibilityEnd {
		return fmt.Errorf("配置校验失败: engine.plausibility_start 必须早于 plausibility_end")
	}
	if c.Engine.ConsecutiveDebounce < 0 || c.Engine.RapidPairGuard < 0 || c.Engine.IngestDebounce < 0 {
		return fmt.Errorf("配置校验失败: engine 时间阈值不能为负")
	}
	if c.Engine.RescanDefaultDays <= 0 {
		return fmt.Errorf("配置校验失败: engine.rescan_default_days 必须大于 0")
	}
	switch c.Engine.LockBackend {
	case "local":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("配置校验失败: engine.lock_backend=redis 需要启用 redis")
		}
	default:
		return fmt.Errorf("配置校验失败: engine.lock_backend 仅支持 local 或 redis")
	}
	if c.Engine.TieBreaker != "most_recent" {
		return fmt.Errorf("配置校验失败: engine.tie_breaker 仅支持 most_recent")
	}
	if c.Engine.Sweep.Enabled {
		if _, err := time.Parse("15:04", c.Engine.Sweep.At); err != nil {
			return fmt.Errorf("配置校验失败: engine.sweep.at 格式应为 HH:MM")
		}
	}
	return nil
}
