// Package config 基于 Viper 加载 cubesync 配置。
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"cubesync/protocol"
)

// ServerConfig 权威服务端的监听与循环配置
type ServerConfig struct {
	// Host WebSocket 监听的绑定地址
	Host string `mapstructure:"host"`
	// Port WebSocket 监听的 TCP 端口
	Port int `mapstructure:"port"`
	// Path 升级为 WebSocket 的 HTTP 路径
	Path string `mapstructure:"path"`
	// TickRate 每秒网络 Tick 数
	TickRate int `mapstructure:"tick_rate"`
	// BroadcastInterval 全量状态广播周期
	BroadcastInterval time.Duration `mapstructure:"broadcast_interval"`
}

// Addr 返回 "host:port" 形式的监听地址
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ClientConfig 客户端的目标服务端与定时任务配置
type ClientConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Path           string        `mapstructure:"path"`
	TickRate       int           `mapstructure:"tick_rate"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	UploadInterval time.Duration `mapstructure:"upload_interval"`
	// Color 颜色名（"red"、"white" 等）或 "#rrggbb"
	Color string `mapstructure:"color"`
}

// URL 返回目标服务端的 WebSocket 地址
//
// 前置条件：Host 与 Port 必须已设置
func (c ClientConfig) URL() string {
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.Path)
}

// AdminConfig 管理 HTTP 监听配置
type AdminConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

func (a AdminConfig) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// LoggingConfig 结构化日志配置
type LoggingConfig struct {
	// Level 最低日志级别："debug"、"info"、"warn"、"error"
	Level string `mapstructure:"level"`
	// Format 日志输出格式："json" 或 "console"
	Format string `mapstructure:"format"`
	// File 设置后每行日志同时写入该文件（支持滚动）
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	// Verbose 记录每条收发的协议消息
	Verbose bool `mapstructure:"verbose"`
}

// Config 顶层应用配置
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Client  ClientConfig  `mapstructure:"client"`
	Admin   AdminConfig   `mapstructure:"admin"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Validate 校验所有配置约束
//
// 后置条件：配置有效时返回 nil，否则返回描述所有问题的错误
func (c Config) Validate() error {
	var errs []string
	for _, err := range []error{
		validateServer(c.Server),
		validateClient(c.Client),
		validateAdmin(c.Admin),
		validateLogging(c.Logging),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePort(section string, port int) string {
	if port < 1 || port > 65535 {
		return fmt.Sprintf("%s.port must be 1-65535, got %d", section, port)
	}
	return ""
}

func validatePath(section, path string) string {
	if !strings.HasPrefix(path, "/") {
		return fmt.Sprintf("%s.path must start with /, got %q", section, path)
	}
	return ""
}

func joinErrs(errs []string) error {
	var out []string
	for _, e := range errs {
		if e != "" {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return errors.New(strings.Join(out, "; "))
}

func validateServer(s ServerConfig) error {
	errs := []string{
		validatePort("server", s.Port),
		validatePath("server", s.Path),
	}
	if s.TickRate < 1 || s.TickRate > 1000 {
		errs = append(errs, fmt.Sprintf("server.tick_rate must be 1-1000, got %d", s.TickRate))
	}
	if s.BroadcastInterval <= 0 {
		errs = append(errs, "server.broadcast_interval must be positive")
	}
	return joinErrs(errs)
}

func validateClient(c ClientConfig) error {
	errs := []string{
		validatePort("client", c.Port),
		validatePath("client", c.Path),
	}
	if c.Host == "" {
		errs = append(errs, "client.host must not be empty")
	}
	if c.TickRate < 1 || c.TickRate > 1000 {
		errs = append(errs, fmt.Sprintf("client.tick_rate must be 1-1000, got %d", c.TickRate))
	}
	if c.PingInterval <= 0 {
		errs = append(errs, "client.ping_interval must be positive")
	}
	if c.UploadInterval <= 0 {
		errs = append(errs, "client.upload_interval must be positive")
	}
	if _, err := protocol.ParseColor(c.Color); err != nil {
		errs = append(errs, fmt.Sprintf("client.color: %v", err))
	}
	return joinErrs(errs)
}

func validateAdmin(a AdminConfig) error {
	if !a.Enabled {
		return nil
	}
	return joinErrs([]string{validatePort("admin", a.Port)})
}

func validateLogging(l LoggingConfig) error {
	var errs []string
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of [debug, info, warn, error], got %q", l.Level))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		errs = append(errs, fmt.Sprintf("logging.format must be one of [json, console], got %q", l.Format))
	}
	if l.File != "" && (l.MaxSizeMB < 1 || l.MaxBackups < 0 || l.MaxAgeDays < 0) {
		errs = append(errs, "logging rotation needs max_size_mb >= 1 and non-negative max_backups, max_age_days")
	}
	return joinErrs(errs)
}

// Load 从 path 读取配置，应用 CUBESYNC_ 环境变量覆盖并校验。
// path 为空时只使用默认值与环境变量
//
// 后置条件：返回有效的 Config 或非 nil 错误
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetEnvPrefix("CUBESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// LoadFromViper 从已配置的 Viper 实例构建 Config
//
// 前置条件：v 不能为 nil
// 后置条件：返回有效的 Config 或非 nil 错误
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default 返回无配置文件、无环境变量时 Load 得到的配置
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7777)
	v.SetDefault("server.path", "/ws")
	v.SetDefault("server.tick_rate", 60)
	v.SetDefault("server.broadcast_interval", "100ms")

	v.SetDefault("client.host", "127.0.0.1")
	v.SetDefault("client.port", 7777)
	v.SetDefault("client.path", "/ws")
	v.SetDefault("client.tick_rate", 60)
	v.SetDefault("client.ping_interval", "20s")
	v.SetDefault("client.upload_interval", "100ms")
	v.SetDefault("client.color", "white")

	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 7778)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("logging.verbose", false)
}
