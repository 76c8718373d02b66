/**
 * internal/builder/builder.go
 * 完整构建流程
 *
 * 功能：
 * - 由配置生成资源清单并运行压缩流水线
 * - 构建后处理：WebP 副本 -> 资源指纹 -> Brotli 预压缩 -> 发布
 * - 汇总构建统计
 *
 * 构建后处理只在流水线成功后执行，且各步骤按顺序进行
 * （指纹必须在 .br 生成前计算，发布必须在最后）
 * 输出目录不清空，但上次构建的 .br 副本和指纹清单会在流水线前删除
 */

package builder

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"site-build/internal/compress"
	"site-build/internal/config"
	"site-build/internal/fingerprint"
	"site-build/internal/images"
	"site-build/internal/manifest"
	"site-build/internal/pipeline"
	"site-build/internal/publish"
	"site-build/internal/report"
	"site-build/internal/transform"
	"site-build/internal/utils"
)

// ====================  数据结构 ====================

// Result 一次完整构建的结果
type Result struct {
	BuildID      string
	OutputDir    string
	Report       *report.Report
	Stats        pipeline.Stats
	Images       images.Result
	Fingerprints int
	Brotli       compress.Result
	Published    publish.Result
	Duration     time.Duration
}

// Builder 构建器
// 可重复调用 Build（watch 模式），每次创建新的 Pipeline
type Builder struct {
	cfg       *config.Config
	out       io.Writer
	publisher *publish.Publisher
	brotli    compress.Options
}

// Option 构建器选项
type Option func(*Builder)

// WithReportWriter 设置大小对比报告输出
func WithReportWriter(w io.Writer) Option {
	return func(b *Builder) { b.out = w }
}

// WithPublisher 构建成功后上传输出目录
func WithPublisher(p *publish.Publisher) Option {
	return func(b *Builder) { b.publisher = p }
}

// WithBrotliOptions 替换 Brotli 压缩选项
func WithBrotliOptions(opts compress.Options) Option {
	return func(b *Builder) { b.brotli = opts }
}

// ====================  构造函数 ====================

// New 创建构建器
func New(cfg *config.Config, opts ...Option) *Builder {
	b := &Builder{
		cfg:    cfg,
		out:    os.Stdout,
		brotli: compress.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ====================  构建 ====================

// Build 执行一次完整构建
// 流水线失败时返回部分结果（含报告）和错误
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	start := time.Now()

	m, err := manifest.Load(b.cfg)
	if err != nil {
		return nil, err
	}

	if err := removeDerived(m.OutputDir); err != nil {
		return nil, err
	}

	p := pipeline.New(m,
		pipeline.WithOptions(b.transformOptions()),
		pipeline.WithReportWriter(b.out),
	)

	result := &Result{
		BuildID:   p.BuildID(),
		OutputDir: m.OutputDir,
	}

	result.Report, err = p.Run(ctx)
	result.Stats = p.Stats()
	if err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	if err := b.postProcess(ctx, result); err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	result.Duration = time.Since(start)
	utils.LogPrintf("[BUILD] Build %s finished in %v: %d files, %s read, %s written",
		result.BuildID,
		result.Duration.Round(time.Millisecond),
		result.Stats.FilesProcessed,
		utils.FormatBytes(result.Stats.BytesRead),
		utils.FormatBytes(result.Stats.BytesWritten),
	)
	return result, nil
}

// postProcess 构建后处理（顺序执行）
func (b *Builder) postProcess(ctx context.Context, result *Result) error {
	dir := result.OutputDir
	var err error

	if b.cfg.WebP {
		result.Images, err = images.GenerateWebP(ctx, dir)
		if err != nil {
			return fmt.Errorf("webp generation failed: %w", err)
		}
	}

	if b.cfg.Fingerprint {
		fp, err := fingerprint.Build(dir)
		if err != nil {
			return fmt.Errorf("fingerprint failed: %w", err)
		}
		if err := fp.Save(dir); err != nil {
			return err
		}
		result.Fingerprints = len(fp)
	}

	if b.cfg.Brotli {
		result.Brotli, err = compress.Dir(ctx, dir, b.brotli)
		if err != nil {
			return fmt.Errorf("brotli precompression failed: %w", err)
		}
	}

	if b.publisher != nil {
		result.Published, err = b.publisher.PublishDir(ctx, dir)
		if err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}
	}

	return nil
}

// removeDerived 删除由上次构建输出派生的文件
// 本次构建会重写明文文件，派生文件只有在对应选项开启时才会重新生成
func removeDerived(dir string) error {
	if _, err := compress.RemoveStale(dir); err != nil {
		return err
	}
	return fingerprint.Remove(dir)
}

// transformOptions 由配置生成压缩选项
func (b *Builder) transformOptions() transform.Options {
	opts := transform.DefaultOptions()
	opts.Dev = b.cfg.Dev
	opts.DropConsole = b.cfg.DropConsole
	opts.DropDebugger = b.cfg.DropDebugger
	opts.Pure = b.cfg.PureFuncs
	return opts
}
