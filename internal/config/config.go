package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Storage  StorageConfig  `mapstructure:"storage"`
	SSH      SSHConfig      `mapstructure:"ssh"`
	Telnet   TelnetConfig   `mapstructure:"telnet"`
	Diff     DiffConfig     `mapstructure:"diff"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// LogLevel GORM 日志级别：silent|error|warn|info
	LogLevel string `mapstructure:"log_level"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// BackupConfig 备份任务编排配置
type BackupConfig struct {
	// MaxRetries 单个任务允许的尝试次数（接口未指定时使用）
	MaxRetries int `mapstructure:"max_retries"`
	// AttemptTimeout 单次设备拉取的超时
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
	// RetryBackoffBase 重试退避基数，第 n 次失败后等待 base*2^(n-1)
	RetryBackoffBase time.Duration `mapstructure:"retry_backoff_base"`
	// RetryBackoffMax 退避上限
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max"`
	// MaxConcurrent 全局同时运行的任务数上限（跨设备）
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// MaxRunningDuration 看门狗强制失败的最长运行时间
	MaxRunningDuration time.Duration `mapstructure:"max_running_duration"`
	WatchdogInterval   time.Duration `mapstructure:"watchdog_interval"`
	// DefaultCommand 设备未设置备份命令时使用
	DefaultCommand string `mapstructure:"default_command"`
	RecentLimit    int    `mapstructure:"recent_limit"`
	// ErrorHints 设备输出中出现即视为命令执行失败
	ErrorHints []string `mapstructure:"error_hints"`
}

// StorageConfig 备份文件（Artifact）存储配置
type StorageConfig struct {
	// Backend 存储后端：local | minio
	Backend string             `mapstructure:"backend"`
	Local   LocalStorageConfig `mapstructure:"local"`
	Minio   MinioConfig        `mapstructure:"minio"`
}

// LocalStorageConfig 本地存储配置
type LocalStorageConfig struct {
	BaseDir  string `mapstructure:"base_dir"`
	Prefix   string `mapstructure:"prefix"`
	Compress bool   `mapstructure:"compress"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Secure    bool   `mapstructure:"secure"`
}

// SSHConfig SSH配置
type SSHConfig struct {
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
	// PromptSuffixes 交互模式下识别设备提示符的后缀
	PromptSuffixes []string `mapstructure:"prompt_suffixes"`
	// DisablePagingCmds 交互模式下在备份命令前执行的分页关闭命令
	DisablePagingCmds []string `mapstructure:"disable_paging_cmds"`
}

// TelnetConfig Telnet 登录提示匹配
type TelnetConfig struct {
	LoginPrompts    []string `mapstructure:"login_prompts"`
	PasswordPrompts []string `mapstructure:"password_prompts"`
}

// DiffConfig 差异比较配置
type DiffConfig struct {
	ContextLines int   `mapstructure:"context_lines"`
	MaxBytes     int64 `mapstructure:"max_bytes"`
	MaxLines     int   `mapstructure:"max_lines"`
}

// ScheduleConfig 定时备份配置
type ScheduleConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Timezone string `mapstructure:"timezone"`
}

// SecurityConfig 凭据加密配置
type SecurityConfig struct {
	// EncryptionKey 设备密码落库加密口令，为空时使用内置口令
	EncryptionKey string `mapstructure:"encryption_key"`
}

var globalConfig *Config

// Load 加载配置文件；configPath 为空时按默认目录查找
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("../configs")
		v.AddConfigPath("../../configs")
	}

	v.SetEnvPrefix("CONFBACKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 未找到配置文件时使用默认值
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !asNotFound(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = replaceEnvVars(config)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &config
	return &config, nil
}

func asNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	nf, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = nf
	}
	return ok
}

// Default 返回仅包含默认值的配置（测试与命令行工具使用）
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("database.sqlite.path", "./data/confbackup.db")
	v.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)
	v.SetDefault("database.sqlite.log_level", "warn")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output", "console")
	v.SetDefault("log.file_path", "./logs/confbackup.log")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 30)

	// 备份编排默认值
	v.SetDefault("backup.max_retries", 3)
	v.SetDefault("backup.attempt_timeout", 30*time.Second)
	v.SetDefault("backup.retry_backoff_base", 2*time.Second)
	v.SetDefault("backup.retry_backoff_max", 60*time.Second)
	v.SetDefault("backup.max_concurrent", 10)
	v.SetDefault("backup.max_running_duration", 5*time.Minute)
	v.SetDefault("backup.watchdog_interval", 10*time.Second)
	v.SetDefault("backup.default_command", "show running-config")
	v.SetDefault("backup.recent_limit", 10)

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.local.base_dir", "./data/artifacts")
	v.SetDefault("storage.local.prefix", "")
	v.SetDefault("storage.local.compress", false)
	v.SetDefault("storage.minio.bucket", "confbackup")
	v.SetDefault("storage.minio.prefix", "artifacts")

	v.SetDefault("ssh.connect_timeout", 10*time.Second)
	v.SetDefault("ssh.keep_alive_interval", 30*time.Second)
	v.SetDefault("ssh.prompt_suffixes", []string{"#", ">", "]"})
	v.SetDefault("ssh.disable_paging_cmds", []string{"terminal length 0"})

	v.SetDefault("telnet.login_prompts", []string{"username:", "login:", "user name:"})
	v.SetDefault("telnet.password_prompts", []string{"password:"})
	v.SetDefault("backup.error_hints", []string{"% invalid input", "% incomplete command", "% unknown command", "% ambiguous command"})

	v.SetDefault("diff.context_lines", 3)
	v.SetDefault("diff.max_bytes", 1024*1024)
	v.SetDefault("diff.max_lines", 10000)

	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.timezone", "Asia/Shanghai")

	v.SetDefault("security.encryption_key", "")
}

// Validate 校验关键参数
func (c *Config) Validate() error {
	if c.Backup.MaxRetries < 1 {
		return fmt.Errorf("backup.max_retries must be >= 1, got %d", c.Backup.MaxRetries)
	}
	if c.Backup.MaxConcurrent < 1 {
		return fmt.Errorf("backup.max_concurrent must be >= 1, got %d", c.Backup.MaxConcurrent)
	}
	if c.Backup.AttemptTimeout <= 0 {
		return fmt.Errorf("backup.attempt_timeout must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Backend)) {
	case "local", "minio":
	default:
		return fmt.Errorf("unsupported storage.backend: %q", c.Storage.Backend)
	}
	return nil
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig
}

// replaceEnvVars 替换 ${VAR} 形式的敏感配置
func replaceEnvVars(config Config) Config {
	config.Storage.Minio.AccessKey = expandEnv(config.Storage.Minio.AccessKey)
	config.Storage.Minio.SecretKey = expandEnv(config.Storage.Minio.SecretKey)
	config.Security.EncryptionKey = expandEnv(config.Security.EncryptionKey)
	return config
}

func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		if value := os.Getenv(strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}")); value != "" {
			return value
		}
	}
	return s
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
