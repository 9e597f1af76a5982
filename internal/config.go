package internal

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 服務配置
type Config struct {
	// HTTP 服務配置
	HTTPPort string `yaml:"http_port"`

	// 日誌配置
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json

	// 排行榜持久化路徑
	LeaderboardPath string `yaml:"leaderboard_path"`

	// 回合時長（秒）
	GameDurationSecs uint64 `yaml:"game_duration_secs"`

	// 倒數計時間隔，正常為 1 秒，測試中壓縮
	TimerTick time.Duration `yaml:"timer_tick"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	return &Config{
		HTTPPort:         "8080",
		LogLevel:         "info",
		LogFormat:        "text",
		LeaderboardPath:  "top10.json",
		GameDurationSecs: 120,             // 兩分鐘一回合
		TimerTick:        1 * time.Second, // 每秒廣播一次倒數
	}
}

// LoadConfig 從 YAML 檔案載入配置，未設置的欄位保留預設值
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("讀取配置檔案: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置檔案: %w", err)
	}
	return cfg, nil
}
