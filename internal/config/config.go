// Package config 管理 CLI 客户端配置
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config CLI 配置结构
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Desktop DesktopConfig `mapstructure:"desktop"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	URL            string `mapstructure:"url"`             // HTTP API 地址
	WSURL          string `mapstructure:"ws_url"`          // WebSocket 地址
	TimeoutSeconds int    `mapstructure:"timeout_seconds"` // REST 请求超时（秒）
}

// DesktopConfig 远程桌面配置
// 远程桌面是一个不透明的只读画面，客户端只负责展示它的地址
type DesktopConfig struct {
	VNCURL string `mapstructure:"vnc_url"` // 远程桌面画面地址
}

var (
	cfg        *Config
	configPath string
	configDir  string
)

// Init 初始化配置
func Init() error {
	// 获取用户主目录
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("获取用户目录失败: %w", err)
	}

	// 配置目录
	configDir = filepath.Join(home, ".agent-console")
	configPath = filepath.Join(configDir, "config.yaml")

	// 创建配置目录
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	// 设置 viper
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 设置默认值
	viper.SetDefault("server.url", "http://127.0.0.1:8000")
	viper.SetDefault("server.ws_url", "ws://127.0.0.1:8000")
	viper.SetDefault("server.timeout_seconds", 30)
	viper.SetDefault("desktop.vnc_url", "http://127.0.0.1:6080/vnc.html")

	// 尝试读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		// 如果文件不存在，创建默认配置
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// 忽略文件已存在的错误
			_ = viper.SafeWriteConfig()
		}
	}

	// 解析配置
	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("解析配置失败: %w", err)
	}

	return nil
}

// Get 获取配置
func Get() *Config {
	return cfg
}

// GetServerURL 获取服务器地址
func GetServerURL() string {
	if cfg == nil {
		return "http://127.0.0.1:8000"
	}
	return cfg.Server.URL
}

// GetWSURL 获取 WebSocket 地址
func GetWSURL() string {
	if cfg == nil {
		return "ws://127.0.0.1:8000"
	}
	return cfg.Server.WSURL
}

// GetTimeoutSeconds 获取 REST 请求超时（秒）
func GetTimeoutSeconds() int {
	if cfg == nil || cfg.Server.TimeoutSeconds <= 0 {
		return 30
	}
	return cfg.Server.TimeoutSeconds
}

// GetVNCURL 获取远程桌面画面地址
func GetVNCURL() string {
	if cfg == nil {
		return "http://127.0.0.1:6080/vnc.html"
	}
	return cfg.Desktop.VNCURL
}

// SetServerURL 设置服务器地址
func SetServerURL(url string) {
	viper.Set("server.url", url)
	// 自动设置 WebSocket 地址
	wsURL := DeriveWSURL(url)
	viper.Set("server.ws_url", wsURL)
	if cfg != nil {
		cfg.Server.URL = url
		cfg.Server.WSURL = wsURL
	}
}

// DeriveWSURL 由 HTTP 地址推导 WebSocket 地址
// http -> ws, https -> wss
func DeriveWSURL(url string) string {
	wsURL := strings.Replace(url, "http://", "ws://", 1)
	return strings.Replace(wsURL, "https://", "wss://", 1)
}
