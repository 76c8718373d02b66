/**
 * internal/utils/mime.go
 * Content-Type 和 Cache-Control 推断
 *
 * 发布（R2）和本地预览共用同一份映射，保证线上线下响应头一致
 */

package utils

import (
	"mime"
	"path"
	"strings"
)

const (
	// brotliExtension 预压缩文件扩展名
	brotliExtension = ".br"

	// CacheControlNoCache HTML 不缓存，确保用户获取最新内容
	CacheControlNoCache = "no-cache"

	// CacheControlDefault 其他资源缓存 1 天
	CacheControlDefault = "public, max-age=86400"
)

// contentTypeMap 常用扩展名到 Content-Type 的映射
// 未列出的扩展名使用 mime.TypeByExtension
var contentTypeMap = map[string]string{
	".js":   "application/javascript; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".svg":  "image/svg+xml",
	".xml":  "application/xml; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
	".webp": "image/webp",
	".ico":  "image/x-icon",
}

// ContentType 根据扩展名返回 Content-Type（.br 使用原始扩展名）
func ContentType(name string) string {
	name = strings.TrimSuffix(name, brotliExtension)
	ext := strings.ToLower(path.Ext(name))

	if ct, ok := contentTypeMap[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// CacheControl HTML 不缓存，其他资源缓存 1 天
func CacheControl(name string) string {
	if IsHTML(name) {
		return CacheControlNoCache
	}
	return CacheControlDefault
}

// IsHTML 判断文件是否为 HTML（忽略 .br 后缀）
func IsHTML(name string) bool {
	name = strings.TrimSuffix(name, brotliExtension)
	return strings.EqualFold(path.Ext(name), ".html")
}
