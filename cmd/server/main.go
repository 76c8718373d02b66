/**
 * cmd/server/main.go
 * 预览服务器入口文件
 *
 * 功能：
 * - 服务已构建的输出目录（预压缩 .br、ETag）
 * - 配置来自 .env / 环境变量 / site.yaml（与构建工具一致）
 * - 优雅关闭
 *
 * 用法：
 *   go run ./cmd/build --brotli --fingerprint
 *   go run ./cmd/server
 */

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"site-build/internal/config"
	"site-build/internal/preview"
	"site-build/internal/utils"

	"github.com/gin-gonic/gin"
)

// ====================  常量定义 ====================

const (
	// 优雅关闭超时
	shutdownTimeout = 10 * time.Second
)

// ====================  主函数 ====================

func main() {
	utils.LogPrintf("[SERVER] Starting preview server...")

	if err := run(); err != nil {
		utils.LogFatalf("[SERVER] FATAL: Server failed: %v", err)
	}
}

// run 运行服务器的主逻辑
func run() error {
	// 1. 加载配置
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	// 2. 设置 Gin 模式
	setupGinMode(cfg.Dev)

	// 3. 创建并启动服务器
	srv, err := preview.New(preview.Options{
		Dir:  cfg.OutputPath(),
		Host: os.Getenv("PREVIEW_HOST"),
		Port: cfg.PreviewPort,
	})
	if err != nil {
		return fmt.Errorf("run the build first: %w", err)
	}
	if err := srv.Start(); err != nil {
		return err
	}

	// 4. 等待关闭信号并优雅关闭
	gracefulShutdown(srv)
	return nil
}

// loadConfig 加载配置
func loadConfig() (*config.Config, error) {
	utils.LogPrintf("[CONFIG] Loading configuration...")

	cfg, err := config.Load("")
	if err != nil {
		utils.LogPrintf("[CONFIG] ERROR: Failed to load config: %v", err)
		return nil, err
	}

	if cfg.PreviewPort == "" {
		utils.LogPrintf("[CONFIG] WARN: Port not configured, using default 3000")
		cfg.PreviewPort = "3000"
	}

	utils.LogPrintf("[CONFIG] Configuration loaded: dir=%s, port=%s", cfg.OutputPath(), cfg.PreviewPort)
	return cfg, nil
}

// setupGinMode 设置 Gin 运行模式
func setupGinMode(isDev bool) {
	if isDev {
		gin.SetMode(gin.DebugMode)
		utils.LogPrintf("[GIN] Running in debug mode")
	} else {
		gin.SetMode(gin.ReleaseMode)
		utils.LogPrintf("[GIN] Running in release mode")
	}
}

// ====================  优雅关闭 ====================

// gracefulShutdown 等待信号后关闭服务器
func gracefulShutdown(srv *preview.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	utils.LogPrintf("[SERVER] Received %s signal, initiating graceful shutdown...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		utils.LogPrintf("[SERVER] ERROR: %v", err)
	}

	utils.SyncLogger()
	utils.LogPrintf("[SERVER] Graceful shutdown completed")
}
