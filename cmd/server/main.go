package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/koopa0/system-design/05-dots-and-boxes/internal"
	"github.com/koopa0/system-design/05-dots-and-boxes/internal/leaderboard"
)

func main() {
	// 解析命令行參數
	var (
		logLevel  = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
		logFormat = flag.String("log-format", "text", "日誌格式 (text, json)")
	)
	flag.Parse()

	// 設置日誌
	logger := setupLogger(*logLevel, *logFormat)

	// 監聽端口由環境提供，缺失即快速失敗
	port := os.Getenv("PORT")
	if port == "" {
		logger.Error("缺少 PORT 環境變量")
		os.Exit(1)
	}

	// 排行榜存儲：設置 DATABASE_URL 時用 PostgreSQL，否則用內存後端
	store, dbClose, err := setupStore(logger)
	if err != nil {
		logger.Error("初始化排行榜存儲失敗", "error", err)
		os.Exit(1)
	}
	defer dbClose()

	// 創建指標、註冊表與連接網關
	metrics := internal.NewMetrics(prometheus.DefaultRegisterer)
	registry := internal.NewRegistry(logger, metrics)
	gateway := internal.NewGateway(registry, store, logger, metrics)
	handler := internal.NewHandler(registry, logger)

	// 設置路由
	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("/ws", gateway.ServeWS)

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 啟動服務器
	go func() {
		logger.Info("點格棋服務器啟動",
			"port", port,
			"log_level", *logLevel,
			"log_format", *logFormat)

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

	// 優雅關閉
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 先關連接（觸發各局的斷線拆除），再清註冊表
	gateway.Stop()
	registry.Stop()

	logger.Info("服務器已關閉")
}

// setupStore 初始化排行榜存儲
func setupStore(logger *slog.Logger) (leaderboard.Store, func(), error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Info("排行榜使用內存後端（未設置 DATABASE_URL）")
		return leaderboard.NewMemory(), func() {}, nil
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, err
	}

	logger.Info("排行榜使用 PostgreSQL 後端")
	return leaderboard.NewPostgres(db), func() { db.Close() }, nil
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
