/**
 * internal/images/webp.go
 * WebP 副本生成
 *
 * 功能：
 * - 为输出目录中的 PNG/JPEG/GIF 生成同名 .webp 副本（原文件保留）
 * - 纯 Go 编码（无 cgo）
 * - 并发数限制，避免 CPU 过载
 *
 * 依赖：
 * - github.com/HugoSmits86/nativewebp
 */

package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"site-build/internal/utils"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxImageSize 超过此大小的图片不转换
	MaxImageSize = 10 * 1024 * 1024 // 10MB

	// MaxConcurrent 最大并发数
	MaxConcurrent = 2
)

var (
	// ErrImageTooLarge 图片太大
	ErrImageTooLarge = errors.New("image too large")

	// ErrConvertFailed 部分图片转换失败
	ErrConvertFailed = errors.New("WEBP_CONVERT_FAILED")
)

// convertible 可转换的扩展名
var convertible = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
}

// Result 转换统计
type Result struct {
	Converted int
	Skipped   int
	Bytes     int64 // 生成的 .webp 总大小
}

// WebPPath 返回图片对应的 .webp 路径（替换扩展名）
func WebPPath(src string) string {
	return strings.TrimSuffix(src, filepath.Ext(src)) + ".webp"
}

// GenerateWebP 为目录中的位图生成 .webp 副本
// 已存在同名 .webp 的图片会被跳过（不覆盖手工提供的版本）
func GenerateWebP(ctx context.Context, dir string) (Result, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && convertible[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to walk directory: %w", err)
	}

	var (
		result Result
		errs   []error
		mu     sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxConcurrent)

	for _, src := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			dst := WebPPath(src)
			if _, err := os.Stat(dst); err == nil {
				mu.Lock()
				result.Skipped++
				mu.Unlock()
				return nil
			}

			size, err := ConvertFile(src, dst)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, ErrImageTooLarge) {
					result.Skipped++
					return nil
				}
				errs = append(errs, fmt.Errorf("%s: %w", src, err))
				return nil
			}
			result.Converted++
			result.Bytes += size
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	for _, err := range errs {
		utils.LogPrintf("[IMG] WARN: WebP conversion failed: %v", err)
	}
	utils.LogPrintf("[IMG] WebP: converted %d, skipped %d (%s)",
		result.Converted, result.Skipped, utils.FormatBytes(result.Bytes))

	if len(errs) > 0 {
		return result, fmt.Errorf("%w: %d files", ErrConvertFailed, len(errs))
	}
	return result, nil
}

// ConvertFile 将单个图片转换为 WebP 写入 dst
// 返回生成文件大小
func ConvertFile(src, dst string) (int64, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return 0, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > MaxImageSize {
		return 0, ErrImageTooLarge
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("failed to decode image: %w", err)
	}

	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, img, nil); err != nil {
		return 0, fmt.Errorf("failed to encode webp: %w", err)
	}

	if err := os.WriteFile(dst, buf.Bytes(), 0644); err != nil {
		return 0, fmt.Errorf("failed to write webp: %w", err)
	}

	return int64(buf.Len()), nil
}
