/**
 * internal/staticcopy/copier.go
 * 静态资源复制模块
 *
 * 功能：
 * - 递归镜像目录树到输出目录（保持相对路径）
 * - 单文件复制
 * - 源不存在时跳过（返回 0，不报错）
 * - 符号链接解析到目标后复制内容，目录链接环只复制一次
 *
 * 重复执行会直接覆盖目标文件，不做差异比较。
 */

package staticcopy

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"

	"site-build/internal/utils"
)

// 文件权限
const dirPerm = 0755

// Stats 复制统计
type Stats struct {
	FilesCopied  int64
	BytesRead    int64
	BytesWritten int64
}

// Copier 静态资源复制器
// 统计字段使用原子操作，可在多个 goroutine 中共享
type Copier struct {
	Stats Stats
}

// New 创建复制器
func New() *Copier {
	return &Copier{}
}

// Exists 检查路径是否存在
// 不存在返回 (false, nil)，其他错误（权限等）原样返回
func Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// ====================  目录复制 ====================

// dirPair 待处理的 (源目录, 目标目录)
type dirPair struct {
	src string
	dst string
}

// CopyTree 递归复制目录
//
// 参数：
//   - src: 源目录（不存在时返回 0, nil；是文件时按单文件复制）
//   - dst: 目标目录（不存在时创建）
//
// 返回：
//   - int: 复制的文件数
//   - error: 读写错误
func (c *Copier) CopyTree(src, dst string) (int, error) {
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to stat %s: %w", src, err)
	}

	if !info.IsDir() {
		return c.CopyFile(src, dst)
	}

	count := 0
	visited := make(map[string]bool)
	work := []dirPair{{src: src, dst: dst}}

	for len(work) > 0 {
		p := work[0]
		work = work[1:]

		real, err := filepath.EvalSymlinks(p.src)
		if err != nil {
			return count, fmt.Errorf("failed to resolve %s: %w", p.src, err)
		}
		if visited[real] {
			utils.LogPrintf("[STATIC] WARN: Skipping symlink loop at %s", p.src)
			continue
		}
		visited[real] = true

		if err := os.MkdirAll(p.dst, dirPerm); err != nil {
			return count, fmt.Errorf("failed to create directory %s: %w", p.dst, err)
		}

		entries, err := os.ReadDir(p.src)
		if err != nil {
			return count, fmt.Errorf("failed to read directory %s: %w", p.src, err)
		}

		for _, entry := range entries {
			srcPath := filepath.Join(p.src, entry.Name())
			dstPath := filepath.Join(p.dst, entry.Name())

			mode := entry.Type()
			if mode&fs.ModeSymlink != 0 {
				target, err := os.Stat(srcPath)
				if err != nil {
					utils.LogPrintf("[STATIC] WARN: Skipping broken symlink %s", srcPath)
					continue
				}
				mode = target.Mode().Type()
			}

			switch {
			case mode.IsDir():
				work = append(work, dirPair{src: srcPath, dst: dstPath})
			case mode.IsRegular():
				if err := c.copyFile(srcPath, dstPath); err != nil {
					return count, err
				}
				count++
			default:
				utils.LogPrintf("[STATIC] WARN: Skipping special file %s", srcPath)
			}
		}
	}

	return count, nil
}

// ====================  文件复制 ====================

// CopyFile 复制单个文件
// 源不存在时返回 0, nil；源是目录时按目录复制
func (c *Copier) CopyFile(src, dst string) (int, error) {
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to stat %s: %w", src, err)
	}

	if info.IsDir() {
		return c.CopyTree(src, dst)
	}

	if err := c.copyFile(src, dst); err != nil {
		return 0, err
	}
	return 1, nil
}

// copyFile 复制文件内容（目标目录不存在时创建）
func (c *Copier) copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source %s: %w", src, err)
	}
	defer func() { _ = srcFile.Close() }()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source %s: %w", src, err)
	}

	atomic.AddInt64(&c.Stats.BytesRead, srcInfo.Size())

	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination %s: %w", dst, err)
	}

	written, err := io.Copy(dstFile, srcFile)
	if closeErr := dstFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}

	atomic.AddInt64(&c.Stats.BytesWritten, written)
	atomic.AddInt64(&c.Stats.FilesCopied, 1)
	return nil
}
