/**
 * internal/preview/static.go
 * 预览静态文件中间件
 *
 * 功能：
 * - 请求路径解析到输出目录中的文件（/ -> index.html，/about -> about.html）
 * - 客户端支持 br 且存在 .br 文件时直接服务预压缩内容
 * - 只有 .br 文件而客户端不支持时，服务端解压
 * - 基于资源指纹的 ETag / 304
 * - 实时刷新模式下向 HTML 注入客户端脚本
 * - LRU 缓存路径解析结果，重新构建后清空
 *
 * 依赖：
 * - github.com/hashicorp/golang-lru/v2 (路径解析缓存)
 * - github.com/andybalholm/brotli (解压 .br)
 */

package preview

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"site-build/internal/fingerprint"
	"site-build/internal/utils"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ====================  常量定义 ====================

const (
	// contentEncodingBrotli Brotli 编码标识
	contentEncodingBrotli = "br"

	// brotliExtension Brotli 文件扩展名
	brotliExtension = ".br"

	// resolveCacheSize 路径解析缓存容量
	resolveCacheSize = 512
)

// ====================  数据结构 ====================

// fileEntry 路径解析结果
// rel 为空表示文件不存在（负缓存）
type fileEntry struct {
	rel       string
	hasPlain  bool
	hasBrotli bool
}

// staticFiles 输出目录文件服务
type staticFiles struct {
	root   string
	inject bool
	cache  *lru.Cache[string, fileEntry]

	mu    sync.RWMutex
	etags fingerprint.Manifest
}

// ====================  构造函数 ====================

func newStaticFiles(root string, inject bool) (*staticFiles, error) {
	cache, err := lru.New[string, fileEntry](resolveCacheSize)
	if err != nil {
		return nil, err
	}

	s := &staticFiles{
		root:   root,
		inject: inject,
		cache:  cache,
	}
	s.reload()
	return s, nil
}

// ====================  公开方法 ====================

// middleware 服务输出目录中的文件，找不到时交给下一个处理器
func (s *staticFiles) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		method := c.Request.Method
		if method != http.MethodGet && method != http.MethodHead {
			c.Next()
			return
		}

		reqPath := c.Request.URL.Path
		if reqPath == LiveReloadPath {
			c.Next()
			return
		}

		// 安全检查：防止路径遍历攻击
		if strings.Contains(reqPath, "..") {
			utils.LogPrintf("[PREVIEW] WARN: Path traversal attempt detected: %s", reqPath)
			c.Next()
			return
		}

		entry := s.resolve(reqPath)
		if entry.rel == "" {
			c.Next()
			return
		}

		s.serve(c, entry)
		c.Abort()
	}
}

// reload 清空解析缓存并重新读取指纹清单
func (s *staticFiles) reload() {
	s.cache.Purge()

	etags, err := fingerprint.Load(s.root)
	if err != nil {
		utils.LogPrintf("[PREVIEW] WARN: Failed to load asset manifest: %v", err)
		etags = fingerprint.Manifest{}
	}

	s.mu.Lock()
	s.etags = etags
	s.mu.Unlock()
}

// ====================  私有方法 ====================

// resolve 将请求路径解析为输出目录中的相对路径
func (s *staticFiles) resolve(reqPath string) fileEntry {
	if entry, ok := s.cache.Get(reqPath); ok {
		return entry
	}

	clean := strings.TrimPrefix(path.Clean("/"+reqPath), "/")

	var candidates []string
	switch {
	case clean == "":
		candidates = []string{"index.html"}
	case strings.HasSuffix(reqPath, "/"):
		candidates = []string{clean + "/index.html"}
	case path.Ext(clean) == "":
		candidates = []string{clean, clean + ".html", clean + "/index.html"}
	default:
		candidates = []string{clean}
	}

	entry := fileEntry{}
	for _, rel := range candidates {
		full := filepath.Join(s.root, filepath.FromSlash(rel))
		plain := isRegular(full)
		br := isRegular(full + brotliExtension)
		if plain || br {
			entry = fileEntry{rel: rel, hasPlain: plain, hasBrotli: br}
			break
		}
	}

	s.cache.Add(reqPath, entry)
	return entry
}

// serve 写出文件内容
func (s *staticFiles) serve(c *gin.Context, entry fileEntry) {
	full := filepath.Join(s.root, filepath.FromSlash(entry.rel))
	contentType := utils.ContentType(entry.rel)

	// 注入脚本需要明文内容
	inject := s.inject && utils.IsHTML(entry.rel)
	useBrotli := !inject && entry.hasBrotli && acceptsBrotli(c.GetHeader("Accept-Encoding"))

	if etag := s.etag(entry.rel); etag != "" {
		// 不同编码是不同的表示，ETag 需要区分
		if useBrotli {
			etag = brotliETag(etag)
		}
		c.Header("ETag", etag)
		if etagMatches(c.GetHeader("If-None-Match"), etag) {
			c.Status(http.StatusNotModified)
			return
		}
	}

	c.Header("Content-Type", contentType)
	c.Header("Cache-Control", utils.CacheControl(entry.rel))
	c.Header("Vary", "Accept-Encoding")

	if inject {
		data, err := readContent(full, entry)
		if err != nil {
			utils.LogPrintf("[PREVIEW] ERROR: Failed to read %s: %v", entry.rel, err)
			c.String(http.StatusInternalServerError, "Internal server error")
			return
		}
		c.Data(http.StatusOK, contentType, injectLiveReload(data))
		return
	}

	if useBrotli {
		c.Header("Content-Encoding", contentEncodingBrotli)
		serveFile(c, full+brotliExtension)
		return
	}

	if entry.hasPlain {
		serveFile(c, full)
		return
	}

	// 只有 .br 文件，客户端不支持 br
	data, err := readContent(full, entry)
	if err != nil {
		utils.LogPrintf("[PREVIEW] ERROR: Failed to decompress %s: %v", entry.rel, err)
		c.String(http.StatusInternalServerError, "Internal server error")
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

func (s *staticFiles) etag(rel string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.etags.ETag(rel)
}

// ====================  辅助函数 ====================

// serveFile 使用 http.ServeContent 发送文件（支持 Range 和 If-Modified-Since）
func serveFile(c *gin.Context, full string) {
	f, err := os.Open(full)
	if err != nil {
		c.String(http.StatusNotFound, "Not found")
		return
	}
	defer func() { _ = f.Close() }()

	modTime := time.Time{}
	if fi, err := f.Stat(); err == nil {
		modTime = fi.ModTime()
	}
	http.ServeContent(c.Writer, c.Request, filepath.Base(full), modTime, f)
}

// readContent 读取明文内容，必要时解压 .br
func readContent(full string, entry fileEntry) ([]byte, error) {
	if entry.hasPlain {
		return os.ReadFile(full)
	}

	f, err := os.Open(full + brotliExtension)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return io.ReadAll(brotli.NewReader(f))
}

// injectLiveReload 在 </body> 前插入脚本，没有 </body> 时追加到末尾
func injectLiveReload(html []byte) []byte {
	idx := bytes.LastIndex(bytes.ToLower(html), []byte("</body>"))
	if idx < 0 {
		return append(html, liveReloadScript...)
	}

	out := make([]byte, 0, len(html)+len(liveReloadScript))
	out = append(out, html[:idx]...)
	out = append(out, liveReloadScript...)
	out = append(out, html[idx:]...)
	return out
}

// brotliETag 为 br 编码的表示生成 ETag："abcd1234" -> "abcd1234-br"
func brotliETag(etag string) string {
	return strings.TrimSuffix(etag, `"`) + `-` + contentEncodingBrotli + `"`
}

// acceptsBrotli 解析 Accept-Encoding（忽略 q=0）
func acceptsBrotli(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(coding), contentEncodingBrotli) {
			continue
		}
		q := strings.ReplaceAll(strings.TrimSpace(params), " ", "")
		return q != "q=0" && q != "q=0.0"
	}
	return false
}

// etagMatches 判断 If-None-Match 是否命中
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimPrefix(strings.TrimSpace(part), "W/")
		if tag == "*" || tag == etag {
			return true
		}
	}
	return false
}

func isRegular(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
