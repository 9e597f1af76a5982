package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koopa0/tileclear/internal"
)

func main() {
	// 解析命令行參數，命令行優先於配置檔案
	var (
		configPath  = flag.String("config", "", "配置檔案路徑 (YAML，可省略)")
		port        = flag.String("port", "", "服務器端口")
		logLevel    = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "日誌格式 (text, json)")
		leaderboard = flag.String("leaderboard", "", "排行榜持久化檔案路徑")
	)
	flag.Parse()

	// 載入配置
	cfg := internal.DefaultConfig()
	if *configPath != "" {
		loaded, err := internal.LoadConfig(*configPath)
		if err != nil {
			slog.Error("載入配置失敗", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *port != "" {
		cfg.HTTPPort = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logFormat != "" {
		cfg.LogFormat = *logFormat
	}
	if *leaderboard != "" {
		cfg.LeaderboardPath = *leaderboard
	}

	// 設置日誌
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// 組裝各層：排行榜 → 註冊表 → 接入層 → HTTP 處理器
	store := internal.NewStore(cfg.LeaderboardPath, logger)
	registry := internal.NewRegistry(store, cfg, logger)
	gateway := internal.NewGateway(registry, store, logger)
	handler := internal.NewHandler(registry, gateway, logger)

	server := &http.Server{
		Addr:         net.JoinHostPort("", cfg.HTTPPort),
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 啟動服務器
	go func() {
		logger.Info("遊戲房間服務器啟動",
			"port", cfg.HTTPPort,
			"log_level", cfg.LogLevel,
			"log_format", cfg.LogFormat,
			"leaderboard", cfg.LeaderboardPath)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到關閉信號，開始優雅關閉...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接，等待在途請求完成
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 關閉所有房間，線上會話觀察到關閉信號後退出
	registry.Stop()

	// 停機前把排行榜落盤
	store.Save()

	logger.Info("服務器已關閉")
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
