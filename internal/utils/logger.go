/**
 * internal/utils/logger.go
 * 构建日志模块（基于 zap）
 *
 * 功能：
 * - 统一控制台日志格式（stderr）
 * - 自动脱敏凭据信息（R2 密钥、token 等）
 * - 支持静默模式（只输出 WARN 及以上）
 * - 支持优雅关闭
 *
 * 用法：
 *   utils.LogPrintf("[BUILD] Minifying %s...", name)
 *   utils.LogPrintf("[COPY] WARN: %s not found, skipped", path)
 */

package utils

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ====================  全局变量 ====================

var (
	// logger zap 日志实例
	logger *zap.Logger

	// sugar zap SugaredLogger（更方便的 API）
	sugar *zap.SugaredLogger

	// loggerOnce 确保只初始化一次
	loggerOnce sync.Once

	// logLevel 动态日志级别（静默模式下提升到 WARN）
	logLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	// 凭据正则：匹配 secret=xxx / access_key: xxx / token=xxx 等键值对
	// token 必须带 = 或 :，避免误伤解析器诊断（found token "async"）
	logCredentialRegex = regexp.MustCompile(`(?i)((?:secret|access[_-]?key|secret[_-]?key|password)[=:\s]+|token\s*[=:]\s*)([^\s,;]{4,})`)
)

// ====================  初始化 ====================

// initLogger 初始化 zap 日志
func initLogger() {
	loggerOnce.Do(func() {
		config := zap.Config{
			Level:            logLevel,
			Development:      false,
			Encoding:         "console",
			OutputPaths:      []string{"stderr"},
			ErrorOutputPaths: []string{"stderr"},
			EncoderConfig: zapcore.EncoderConfig{
				TimeKey:        "time",
				LevelKey:       "level",
				MessageKey:     "msg",
				EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
				EncodeLevel:    zapcore.CapitalLevelEncoder,
				EncodeDuration: zapcore.StringDurationEncoder,
			},
		}

		var err error
		logger, err = config.Build(
			zap.AddCallerSkip(1), // 跳过 LogPrintf 调用层
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[LOGGER] Failed to init zap: %v, falling back to nop logger\n", err)
			logger = zap.NewNop()
		}

		sugar = logger.Sugar()
	})
}

// getLogger 获取 logger 实例（懒加载）
func getLogger() *zap.SugaredLogger {
	initLogger()
	return sugar
}

// ====================  公开函数 ====================

// LogPrintf 日志输出（格式化），自动脱敏凭据
// 消息中包含 "WARN:" 或 "ERROR:" 时使用对应级别，静默模式下仍会输出
func LogPrintf(format string, args ...interface{}) {
	message := maskSensitiveData(fmt.Sprintf(format, args...))

	switch {
	case strings.Contains(message, "ERROR:") || strings.Contains(message, "FATAL:"):
		getLogger().Error(message)
	case strings.Contains(message, "WARN:"):
		getLogger().Warn(message)
	default:
		getLogger().Info(message)
	}
}

// LogFatalf 日志输出后退出（exit code 1）
func LogFatalf(format string, args ...interface{}) {
	message := maskSensitiveData(fmt.Sprintf(format, args...))
	getLogger().Fatal(message)
}

// SetQuiet 设置静默模式
// 静默模式下只输出 WARN 及以上级别
func SetQuiet(quiet bool) {
	if quiet {
		logLevel.SetLevel(zapcore.WarnLevel)
		return
	}
	logLevel.SetLevel(zapcore.InfoLevel)
}

// SyncLogger 同步日志缓冲区（程序退出前调用）
func SyncLogger() {
	if logger != nil {
		_ = logger.Sync()
	}
}

// ====================  私有函数 ====================

// maskSensitiveData 脱敏凭据信息
// 先做字符串包含预检查，避免不必要的正则扫描
func maskSensitiveData(message string) string {
	lower := strings.ToLower(message)
	if !strings.Contains(lower, "secret") && !strings.Contains(lower, "key") &&
		!strings.Contains(lower, "token") && !strings.Contains(lower, "password") {
		return message
	}
	return logCredentialRegex.ReplaceAllStringFunc(message, maskCredential)
}

// maskCredential 对单个凭据键值对进行脱敏
// 将 secret=abcdef123456 转换为 secret=abcd***[MASKED]
func maskCredential(match string) string {
	parts := logCredentialRegex.FindStringSubmatch(match)
	if len(parts) != 3 {
		return match
	}

	prefix, value := parts[1], parts[2]
	if len(value) <= 8 {
		return prefix + "***[MASKED]"
	}

	// 保留前 4 个字符用于识别
	return prefix + value[:4] + "***[MASKED]"
}
