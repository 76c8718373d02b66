/**
 * cmd/build/main.go
 * 静态站点构建工具
 *
 * 功能：
 * - HTML / CSS / JS 压缩，静态资源镜像到输出目录
 * - 打印大小对比报告
 * - 可选：WebP 副本、资源指纹、Brotli 预压缩、发布到 R2
 * - --watch 监听源文件自动重新构建，--serve 本地预览（实时刷新）
 *
 * 用法：
 *   go run ./cmd/build                      # 生产构建
 *   go run ./cmd/build --dev                # 开发模式（不压缩）
 *   go run ./cmd/build --brotli --publish   # 预压缩并上传
 *   go run ./cmd/build --watch --serve      # 监听 + 预览
 *
 * 退出码：成功 0，任何致命错误 1
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"site-build/internal/builder"
	"site-build/internal/config"
	"site-build/internal/preview"
	"site-build/internal/publish"
	"site-build/internal/utils"
	"site-build/internal/watcher"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

// ====================  常量定义 ====================

const (
	// 优雅关闭超时
	shutdownTimeout = 10 * time.Second
)

// ====================  命令行参数 ====================

// flags 命令行参数
// 只有显式传入的参数才覆盖配置（cmd.Flags().Changed）
type flags struct {
	configPath   string
	root         string
	out          string
	dev          bool
	dropConsole  bool
	keepDebugger bool
	pure         []string
	brotli       bool
	fingerprint  bool
	webp         bool
	watch        bool
	serve        bool
	port         string
	publish      bool
	quiet        bool
}

// ====================  主函数 ====================

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		utils.LogPrintf("[BUILD] ERROR: Build failed: %v", err)
		utils.SyncLogger()
		os.Exit(1)
	}
	utils.SyncLogger()
}

// newRootCmd 创建根命令
func newRootCmd() *cobra.Command {
	f := &flags{}

	cmd := &cobra.Command{
		Use:           "build",
		Short:         "Minify a static site into an output directory",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}

	bindFlags(cmd, f)
	return cmd
}

// bindFlags 注册命令行参数
func bindFlags(cmd *cobra.Command, f *flags) {
	fs := cmd.Flags()
	fs.StringVarP(&f.configPath, "config", "c", "", "Build file (default <root>/site.yaml if present)")
	fs.StringVar(&f.root, "root", "", "Project root directory")
	fs.StringVarP(&f.out, "out", "o", "", "Output directory (relative to root)")
	fs.BoolVar(&f.dev, "dev", false, "Development mode (no minification)")
	fs.BoolVar(&f.dropConsole, "drop-console", false, "Remove console.* calls from JS")
	fs.BoolVar(&f.keepDebugger, "keep-debugger", false, "Keep debugger statements in JS")
	fs.StringSliceVar(&f.pure, "pure", nil, "Functions treated as side-effect free")
	fs.BoolVar(&f.brotli, "brotli", false, "Write .br precompressed copies")
	fs.BoolVar(&f.fingerprint, "fingerprint", false, "Write asset-manifest.json")
	fs.BoolVar(&f.webp, "webp", false, "Write .webp copies of raster images")
	fs.BoolVarP(&f.watch, "watch", "w", false, "Rebuild when sources change")
	fs.BoolVarP(&f.serve, "serve", "s", false, "Serve the output directory")
	fs.StringVarP(&f.port, "port", "p", "", "Preview server port")
	fs.BoolVar(&f.publish, "publish", false, "Upload the output directory to R2")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "Only log warnings and errors")
}

// ====================  构建流程 ====================

// run 执行构建，watch/serve 模式下阻塞直到收到退出信号
func run(cmd *cobra.Command, f *flags) error {
	utils.SetQuiet(f.quiet)
	gin.SetMode(gin.ReleaseMode)

	cfg, err := loadConfig(cmd, f)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	mode := "production"
	if cfg.Dev {
		mode = "development"
	}
	utils.LogPrintf("[BUILD] Starting build in %s mode (root=%s, out=%s)", mode, cfg.Root, cfg.OutputPath())

	ctx := cmd.Context()

	opts := []builder.Option{builder.WithReportWriter(cmd.OutOrStdout())}
	if f.publish {
		publisher, err := newPublisher(ctx, cfg)
		if err != nil {
			return err
		}
		opts = append(opts, builder.WithPublisher(publisher))
	}

	b := builder.New(cfg, opts...)
	res, err := b.Build(ctx)

	if !f.watch && !f.serve {
		return err
	}
	if err != nil && !f.watch {
		return err
	}
	if err != nil {
		utils.LogPrintf("[BUILD] WARN: Initial build failed, waiting for changes: %v", err)
	}

	return serve(ctx, cfg, b, res, f)
}

// loadConfig 加载配置并应用命令行参数
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	configPath := f.configPath
	if configPath == "" && f.root != "" {
		candidate := filepath.Join(f.root, config.DefaultBuildFile)
		if _, err := os.Stat(candidate); err == nil {
			configPath = candidate
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	applyFlags(cmd, cfg, f)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFlags 显式传入的命令行参数覆盖配置
func applyFlags(cmd *cobra.Command, cfg *config.Config, f *flags) {
	changed := cmd.Flags().Changed

	if changed("root") {
		cfg.Root = f.root
	}
	if changed("out") {
		cfg.OutDir = f.out
	}
	if changed("dev") {
		cfg.Dev = f.dev
	}
	if changed("drop-console") {
		cfg.DropConsole = f.dropConsole
	}
	if changed("keep-debugger") {
		cfg.DropDebugger = !f.keepDebugger
	}
	if changed("pure") {
		cfg.PureFuncs = f.pure
	}
	if changed("brotli") {
		cfg.Brotli = f.brotli
	}
	if changed("fingerprint") {
		cfg.Fingerprint = f.fingerprint
	}
	if changed("webp") {
		cfg.WebP = f.webp
	}
	if changed("port") {
		cfg.PreviewPort = f.port
	}
}

// newPublisher 创建 R2 发布器
func newPublisher(ctx context.Context, cfg *config.Config) (*publish.Publisher, error) {
	if !cfg.IsPublishConfigured() {
		return nil, fmt.Errorf("%w: set R2_ENDPOINT, R2_ACCESS_KEY, R2_SECRET_KEY and R2_BUCKET", publish.ErrNotConfigured)
	}

	client, err := publish.NewR2Client(ctx, cfg.R2Endpoint, cfg.R2AccessKey, cfg.R2SecretKey)
	if err != nil {
		return nil, err
	}

	return publish.New(client, publish.Options{
		Bucket:      cfg.R2Bucket,
		Prefix:      cfg.R2Prefix,
		RPS:         cfg.PublishRPS,
		Concurrency: cfg.PublishConcurrency,
	}), nil
}

// ====================  监听和预览 ====================

// serve 启动预览服务器和/或文件监听，直到 ctx 取消
func serve(ctx context.Context, cfg *config.Config, b *builder.Builder, res *builder.Result, f *flags) error {
	var srv *preview.Server

	if f.serve {
		// 输出目录可能因首次构建失败而不存在
		if err := os.MkdirAll(cfg.OutputPath(), 0755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}

		var err error
		srv, err = preview.New(preview.Options{
			Dir:        cfg.OutputPath(),
			Port:       cfg.PreviewPort,
			LiveReload: f.watch,
		})
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer shutdownServer(srv)
	}

	if !f.watch {
		<-ctx.Done()
		return nil
	}

	w, err := watcher.New(watcher.DefaultConfig(cfg.Root, cfg.OutputPath()))
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	if res != nil {
		utils.LogPrintf("[WATCH] Initial build %s ready, waiting for changes...", res.BuildID)
	}

	b.Watch(ctx, changes, func(res *builder.Result, err error) {
		if err == nil && srv != nil {
			srv.Reload(res.BuildID)
		}
	})

	if errors.Is(ctx.Err(), context.Canceled) {
		utils.LogPrintf("[WATCH] Stopped")
	}
	return nil
}

// shutdownServer 优雅关闭预览服务器
func shutdownServer(srv *preview.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		utils.LogPrintf("[PREVIEW] ERROR: %v", err)
	}
}
