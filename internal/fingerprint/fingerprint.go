/**
 * internal/fingerprint/fingerprint.go
 * 资源指纹清单
 *
 * 功能：
 * - 计算输出目录中每个文件的 SHA256 前缀
 * - 写入 asset-manifest.json（相对路径 -> 指纹）
 * - 预览服务器读取清单生成 ETag
 */

package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"site-build/internal/utils"
)

const (
	// FileName 清单文件名（位于输出目录根）
	FileName = "asset-manifest.json"

	// hashLength 指纹长度（十六进制字符数）
	hashLength = 8
)

// Manifest 相对路径（正斜杠）-> 指纹
type Manifest map[string]string

// HashFile 计算文件 SHA256 前 8 位
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:hashLength], nil
}

// Build 为目录中的所有文件生成指纹
// 跳过 .br 副本和清单文件本身
func Build(dir string) (Manifest, error) {
	m := make(Manifest)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == FileName || strings.HasSuffix(rel, ".br") {
			return nil
		}

		hash, err := HashFile(path)
		if err != nil {
			return fmt.Errorf("failed to hash %s: %w", rel, err)
		}
		m[rel] = hash
		return nil
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Save 写入 <dir>/asset-manifest.json（键有序，便于比较）
func (m Manifest) Save(dir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	utils.LogPrintf("[FINGERPRINT] Manifest saved: %s (%d entries)", path, len(m))
	return nil
}

// Load 读取 <dir>/asset-manifest.json
// 文件不存在时返回空清单
func Load(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, nil
		}
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	return m, nil
}

// Remove 删除 <dir>/asset-manifest.json（不存在时忽略）
func Remove(dir string) error {
	if err := os.Remove(filepath.Join(dir, FileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove manifest: %w", err)
	}
	return nil
}

// ETag 返回相对路径对应的强 ETag，没有记录时返回空
func (m Manifest) ETag(rel string) string {
	hash, ok := m[strings.TrimPrefix(filepath.ToSlash(rel), "/")]
	if !ok {
		return ""
	}
	return `"` + hash + `"`
}
