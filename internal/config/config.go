package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Checker  CheckerConfig  `mapstructure:"checker"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	JWTSecret    string `mapstructure:"jwt_secret"`
}

// DatabaseConfig 数据库配置（平台元数据库，MySQL）
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	Charset         string `mapstructure:"charset"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置（任务队列与调度租约）
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AuditConfig 审批流与自动审核配置
type AuditConfig struct {
	AutoReview         bool   `mapstructure:"auto_review"`           // 自动审核总开关
	AutoReviewRegex    string `mapstructure:"auto_review_regex"`     // 高危语句正则，命中则走人工
	AutoReviewMaxRows  int64  `mapstructure:"auto_review_max_rows"`  // UPDATE 影响行数上限
	AutoReviewDBType   string `mapstructure:"auto_review_db_type"`   // 排除的实例类型，逗号分隔
	AutoReviewTag      string `mapstructure:"auto_review_tag"`       // 实例必须携带的标签，空表示不限制
	BanSelfAudit       bool   `mapstructure:"ban_self_audit"`        // 禁止提交人审核自己的工单
	NotifyPhaseControl string `mapstructure:"notify_phase_control"`  // 通知阶段开关，逗号分隔：apply,pass,cancel,execute
}

// CheckerConfig goInception 网关配置
type CheckerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	BackupEnabled  bool   `mapstructure:"backup_enabled"` // 执行时是否开启备份
}

// NotifyConfig 通知渠道配置
type NotifyConfig struct {
	Email   EmailConfig   `mapstructure:"email"`
	Webhook WebhookConfig `mapstructure:"webhook"`
	BaseURL string        `mapstructure:"base_url"` // 工单详情页地址前缀
}

// EmailConfig 邮件通知配置
type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	FromName string `mapstructure:"from_name"`
}

// WebhookConfig IM 机器人 Webhook 配置（钉钉/飞书/企业微信风格）
type WebhookConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	URL     string            `mapstructure:"url"`
	Timeout int               `mapstructure:"timeout"` // 秒
	Headers map[string]string `mapstructure:"headers"`
}

// ArchiveConfig 归档调度配置
type ArchiveConfig struct {
	CronSpec     string `mapstructure:"cron_spec"`     // 归档巡检周期，默认每小时
	LeaseSeconds int    `mapstructure:"lease_seconds"` // 分布式租约时长
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件：APP_DATABASE_HOST 等
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 9123)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 3600)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")
	v.SetDefault("audit.auto_review_regex", `^alter|^drop|^truncate|^rename|^delete|flushdb|flushall`)
	v.SetDefault("audit.auto_review_max_rows", 50)
	v.SetDefault("audit.ban_self_audit", true)
	v.SetDefault("audit.notify_phase_control", "apply,pass,cancel,execute")
	v.SetDefault("checker.timeout_seconds", 600)
	v.SetDefault("archive.cron_spec", "@hourly")
	v.SetDefault("archive.lease_seconds", 300)
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	charset := c.Charset
	if charset == "" {
		charset = "utf8mb4"
	}
	return fmt.Sprintf(
		"%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName, charset,
	)
}

// Addr Redis 连接地址
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// CheckerTimeout 审核网关超时时间
func (c *CheckerConfig) CheckerTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}
