/**
 * internal/preview/server.go
 * 本地预览服务器
 *
 * 功能：
 * - Gin 服务输出目录（预压缩、ETag、实时刷新）
 * - 请求日志和基础安全头
 * - 非阻塞启动，优雅关闭（WebSocket -> HTTP）
 *
 * 依赖：
 * - github.com/gin-gonic/gin
 */

package preview

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"site-build/internal/utils"

	"github.com/gin-gonic/gin"
)

// ====================  错误定义 ====================

var (
	// ErrOutputDirMissing 输出目录不存在
	ErrOutputDirMissing = errors.New("OUTPUT_DIR_MISSING")
)

// ====================  常量定义 ====================

const (
	// 服务器超时配置
	serverReadTimeout  = 15 * time.Second
	serverWriteTimeout = 30 * time.Second
	serverIdleTimeout  = 60 * time.Second
)

// ====================  数据结构 ====================

// Options 预览服务器选项
type Options struct {
	Dir        string // 输出目录
	Host       string // 监听地址，默认 127.0.0.1
	Port       string // 为空表示随机端口
	LiveReload bool   // 启用 /__livereload 和脚本注入
}

// Server 预览服务器
type Server struct {
	opts   Options
	engine *gin.Engine
	srv    *http.Server
	hub    *Hub
	files  *staticFiles
	addr   string
}

// ====================  构造函数 ====================

// New 创建预览服务器
func New(opts Options) (*Server, error) {
	if fi, err := os.Stat(opts.Dir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrOutputDirMissing, opts.Dir)
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}

	files, err := newStaticFiles(opts.Dir, opts.LiveReload)
	if err != nil {
		return nil, fmt.Errorf("failed to create static file cache: %w", err)
	}

	s := &Server{
		opts:  opts,
		files: files,
	}
	if opts.LiveReload {
		s.hub = NewHub()
	}
	s.engine = s.setupRouter()

	return s, nil
}

// ====================  公开方法 ====================

// Handler 返回 HTTP 处理器（测试使用）
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Addr 返回实际监听地址（Start 之后有效）
func (s *Server) Addr() string {
	return s.addr
}

// Start 启动服务器（非阻塞）
// 监听失败时同步返回错误
func (s *Server) Start() error {
	port := s.opts.Port
	if port == "" {
		port = "0"
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(s.opts.Host, port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.addr = ln.Addr().String()

	s.srv = &http.Server{
		Handler:      s.engine,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.LogPrintf("[PREVIEW] ERROR: HTTP server failed: %v", err)
		}
	}()

	utils.LogPrintf("[PREVIEW] Serving %s on http://%s (livereload=%v)", s.opts.Dir, s.addr, s.opts.LiveReload)
	return nil
}

// Reload 重新构建完成后调用：清空缓存并通知浏览器
func (s *Server) Reload(buildID string) {
	s.files.reload()
	if s.hub != nil {
		s.hub.Broadcast(buildID)
	}
}

// Hub 返回实时刷新服务（未启用时为 nil）
func (s *Server) Hub() *Hub {
	return s.hub
}

// Shutdown 优雅关闭
// 按顺序关闭：WebSocket -> HTTP
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Shutdown()
	}
	if s.srv == nil {
		return nil
	}

	utils.LogPrintf("[PREVIEW] Shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	utils.LogPrintf("[PREVIEW] HTTP server stopped")
	return nil
}

// ====================  路由配置 ====================

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(loggerMiddleware())
	r.Use(securityHeaders())

	if s.hub != nil {
		r.GET(LiveReloadPath, s.hub.Handle)
	}

	r.Use(s.files.middleware())

	r.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "Not found")
	})

	return r
}

// ====================  中间件 ====================

// loggerMiddleware 日志中间件
// 记录 HTTP 请求的方法、路径、状态码和延迟
func loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if path == LiveReloadPath {
			return
		}

		latency := time.Since(start)
		status := c.Writer.Status()

		switch {
		case status >= 500:
			utils.LogPrintf("[HTTP] ERROR: %s %s %d %v", c.Request.Method, path, status, latency)
		case status >= 400:
			utils.LogPrintf("[HTTP] WARN: %s %s %d %v", c.Request.Method, path, status, latency)
		default:
			utils.LogPrintf("[HTTP] %s %s %d %v", c.Request.Method, path, status, latency)
		}
	}
}

// securityHeaders 基础安全头
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		if !strings.HasPrefix(c.Request.URL.Path, LiveReloadPath) {
			c.Header("X-Frame-Options", "SAMEORIGIN")
		}
		c.Next()
	}
}
