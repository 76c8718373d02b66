/**
 * internal/compress/brotli.go
 * Brotli 预压缩模块
 *
 * 功能：
 * - 为输出目录中的文本文件生成 .br 副本
 * - 并行压缩（errgroup 限制并发数）
 * - 默认保留原文件（预览服务器和不支持 br 的客户端使用）
 *
 * 依赖：
 * - github.com/andybalholm/brotli
 * - golang.org/x/sync/errgroup
 */

package compress

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"site-build/internal/utils"

	"github.com/andybalholm/brotli"
	"golang.org/x/sync/errgroup"
)

// Extension Brotli 文件扩展名
const Extension = ".br"

// ErrCompressFailed 部分文件压缩失败
var ErrCompressFailed = errors.New("BROTLI_COMPRESS_FAILED")

// Options 压缩选项
type Options struct {
	Level          int      // 压缩级别（0-11）
	Concurrency    int      // 最大并发数
	Extensions     []string // 需要压缩的扩展名（小写，带点）
	RemoveOriginal bool     // 压缩后删除原文件
}

// DefaultOptions 默认选项：最高压缩级别，4 并发，保留原文件
func DefaultOptions() Options {
	return Options{
		Level:       brotli.BestCompression,
		Concurrency: 4,
		Extensions:  []string{".html", ".css", ".js", ".json", ".svg", ".xml", ".txt"},
	}
}

// Result 压缩统计
type Result struct {
	Files           int
	OriginalBytes   int64
	CompressedBytes int64
}

// Ratio 压缩后占原始大小的百分比
func (r Result) Ratio() float64 {
	if r.OriginalBytes == 0 {
		return 0
	}
	return float64(r.CompressedBytes) / float64(r.OriginalBytes) * 100
}

// ====================  目录压缩 ====================

// Dir 压缩目录中所有匹配的文件
// 单个文件失败不影响其他文件，全部完成后返回 ErrCompressFailed
func Dir(ctx context.Context, dir string, opts Options) (Result, error) {
	utils.LogPrintf("[BROTLI] Compressing %s...", dir)

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			utils.LogPrintf("[BROTLI] WARN: Walk error for %s: %v", path, err)
			return nil
		}
		if d.IsDir() || strings.HasSuffix(path, Extension) {
			return nil
		}
		if slices.Contains(opts.Extensions, strings.ToLower(filepath.Ext(path))) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to walk directory: %w", err)
	}

	if len(files) == 0 {
		utils.LogPrintf("[BROTLI] WARN: No files to compress")
		return Result{}, nil
	}

	var (
		result Result
		errs   []error
		mu     sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	if opts.Concurrency > 0 {
		g.SetLimit(opts.Concurrency)
	}

	for _, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			original, compressed, err := File(path, opts.Level, opts.RemoveOriginal)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
				return nil
			}
			if compressed > 0 {
				result.Files++
				result.OriginalBytes += original
				result.CompressedBytes += compressed
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	for _, err := range errs {
		utils.LogPrintf("[BROTLI] WARN: Compression failed: %v", err)
	}

	utils.LogPrintf("[BROTLI] Compressed %d files, %s -> %s (%.1f%%)",
		result.Files,
		utils.FormatBytes(result.OriginalBytes),
		utils.FormatBytes(result.CompressedBytes),
		result.Ratio())

	if len(errs) > 0 {
		return result, fmt.Errorf("%w: %d files", ErrCompressFailed, len(errs))
	}
	return result, nil
}

// RemoveStale 删除有明文兄弟文件的 .br 副本
// 明文文件每次构建都会重写，旧副本不能再代表它；目录不存在时返回 0
func RemoveStale(dir string) (int, error) {
	removed := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, Extension) {
			return nil
		}
		if _, err := os.Stat(strings.TrimSuffix(path, Extension)); err != nil {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to remove stale %s files: %w", Extension, err)
	}

	if removed > 0 {
		utils.LogPrintf("[BROTLI] Removed %d stale %s files", removed, Extension)
	}
	return removed, nil
}

// ====================  单文件压缩 ====================

// File 压缩单个文件，生成 src.br
// 空文件跳过（返回 0, 0, nil）
//
// 返回：
//   - int64: 原始大小
//   - int64: 压缩后大小
//   - error: 错误信息
func File(src string, level int, removeOriginal bool) (int64, int64, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read: %w", err)
	}

	originalSize := int64(len(data))
	if originalSize == 0 {
		utils.LogPrintf("[BROTLI] WARN: Skipping empty file: %s", src)
		return 0, 0, nil
	}

	brPath := src + Extension
	brFile, err := os.Create(brPath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create .br file: %w", err)
	}

	brWriter := brotli.NewWriterLevel(brFile, level)
	if _, err := brWriter.Write(data); err != nil {
		_ = brFile.Close()
		_ = os.Remove(brPath)
		return 0, 0, fmt.Errorf("failed to write compressed data: %w", err)
	}

	if err := brWriter.Close(); err != nil {
		_ = brFile.Close()
		_ = os.Remove(brPath)
		return 0, 0, fmt.Errorf("failed to close brotli writer: %w", err)
	}

	if err := brFile.Close(); err != nil {
		_ = os.Remove(brPath)
		return 0, 0, fmt.Errorf("failed to close file: %w", err)
	}

	brInfo, err := os.Stat(brPath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to stat .br file: %w", err)
	}

	if removeOriginal {
		if err := os.Remove(src); err != nil {
			utils.LogPrintf("[BROTLI] WARN: Failed to remove original file %s: %v", src, err)
		}
	}

	return originalSize, brInfo.Size(), nil
}
