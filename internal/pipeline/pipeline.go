/**
 * internal/pipeline/pipeline.go
 * 构建流水线
 *
 * 功能：
 * - 按清单顺序执行 HTML -> CSS -> JS 压缩阶段
 * - 复制静态目录和静态文件
 * - 收集每个阶段的结果到构建报告
 * - 任何必需阶段失败时终止，但仍输出已收集的报告
 *
 * 状态机：
 *   Idle -> Preparing -> HTML -> CSS -> JS -> CopyingStatics -> Reporting -> Done
 *   Preparing 或任何阶段出错 -> Failed
 *
 * 每次构建创建一个 Pipeline 实例，不使用包级可变状态。
 */

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"site-build/internal/manifest"
	"site-build/internal/report"
	"site-build/internal/staticcopy"
	"site-build/internal/transform"
	"site-build/internal/utils"

	"github.com/google/uuid"
)

// 文件权限
const (
	dirPerm  = 0755
	filePerm = 0644
)

// ====================  错误定义 ====================

var (
	// ErrIO 读写错误（源文件不可读、输出不可写）
	ErrIO = errors.New("IO_ERROR")

	// ErrAlreadyRun Pipeline 只能运行一次
	ErrAlreadyRun = errors.New("PIPELINE_ALREADY_RUN")
)

// StageError 阶段失败
type StageError struct {
	State State
	Asset string
	Err   error
}

// Error 实现 error 接口
func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.State, e.Asset, e.Err)
}

// Unwrap 返回底层错误
func (e *StageError) Unwrap() error {
	return e.Err
}

// ====================  状态定义 ====================

// State 流水线状态
type State int

const (
	StateIdle State = iota
	StatePreparing
	StateHTML
	StateCSS
	StateJS
	StateCopyingStatics
	StateReporting
	StateDone
	StateFailed
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePreparing:
		return "Preparing"
	case StateHTML:
		return "Stage(HTML)"
	case StateCSS:
		return "Stage(CSS)"
	case StateJS:
		return "Stage(JS)"
	case StateCopyingStatics:
		return "CopyingStatics"
	case StateReporting:
		return "Reporting"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// stateFor 资源类型对应的阶段状态
func stateFor(kind manifest.Kind) State {
	switch kind {
	case manifest.KindHTML:
		return StateHTML
	case manifest.KindCSS:
		return StateCSS
	default:
		return StateJS
	}
}

// ====================  Pipeline ====================

// Stats 构建统计
type Stats struct {
	FilesProcessed int64
	BytesRead      int64
	BytesWritten   int64
}

// Pipeline 一次构建
type Pipeline struct {
	manifest *manifest.Manifest
	opts     transform.Options
	registry *transform.Registry
	copier   *staticcopy.Copier
	out      io.Writer
	observer func(from, to State)
	buildID  string

	state  State
	ran    atomic.Bool
	report *report.Report
	stats  Stats
}

// Option Pipeline 选项
type Option func(*Pipeline)

// WithOptions 设置压缩选项
func WithOptions(opts transform.Options) Option {
	return func(p *Pipeline) { p.opts = opts }
}

// WithRegistry 替换 Stage 注册表
func WithRegistry(r *transform.Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// WithCopier 替换静态资源复制器
func WithCopier(c *staticcopy.Copier) Option {
	return func(p *Pipeline) { p.copier = c }
}

// WithReportWriter 设置报告输出（nil 表示不输出）
func WithReportWriter(w io.Writer) Option {
	return func(p *Pipeline) {
		if w == nil {
			w = io.Discard
		}
		p.out = w
	}
}

// WithObserver 设置状态变化回调（同步调用）
func WithObserver(fn func(from, to State)) Option {
	return func(p *Pipeline) { p.observer = fn }
}

// WithBuildID 指定构建 ID（默认随机 UUID）
func WithBuildID(id string) Option {
	return func(p *Pipeline) { p.buildID = id }
}

// New 创建 Pipeline
func New(m *manifest.Manifest, opts ...Option) *Pipeline {
	p := &Pipeline{
		manifest: m,
		opts:     transform.DefaultOptions(),
		registry: transform.NewRegistry(),
		copier:   staticcopy.New(),
		out:      os.Stdout,
		buildID:  uuid.NewString(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State 当前状态
func (p *Pipeline) State() State {
	return p.state
}

// BuildID 构建 ID
func (p *Pipeline) BuildID() string {
	return p.buildID
}

// Stats 返回构建统计（压缩阶段 + 静态复制）
func (p *Pipeline) Stats() Stats {
	return Stats{
		FilesProcessed: p.stats.FilesProcessed + atomic.LoadInt64(&p.copier.Stats.FilesCopied),
		BytesRead:      p.stats.BytesRead + atomic.LoadInt64(&p.copier.Stats.BytesRead),
		BytesWritten:   p.stats.BytesWritten + atomic.LoadInt64(&p.copier.Stats.BytesWritten),
	}
}

// Run 执行构建
//
// 返回：
//   - *report.Report: 构建报告（失败时也返回已收集的部分）
//   - error: 第一个致命错误（*StageError）
func (p *Pipeline) Run(ctx context.Context) (*report.Report, error) {
	if !p.ran.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	p.report = report.New(p.buildID, p.manifest.Names()...)
	start := time.Now()
	utils.LogPrintf("[PIPELINE] Build %s started", p.buildID)

	if err := p.execute(ctx); err != nil {
		p.transition(StateFailed)
		if renderErr := p.report.Render(p.out); renderErr != nil {
			utils.LogPrintf("[PIPELINE] WARN: Failed to render report: %v", renderErr)
		}
		utils.LogPrintf("[PIPELINE] ERROR: Build %s failed: %v", p.buildID, err)
		return p.report, err
	}

	p.transition(StateReporting)
	if err := p.report.Render(p.out); err != nil {
		utils.LogPrintf("[PIPELINE] WARN: Failed to render report: %v", err)
	}

	p.transition(StateDone)
	utils.LogPrintf("[PIPELINE] Build %s completed in %v", p.buildID, time.Since(start).Round(time.Millisecond))
	return p.report, nil
}

// execute 依次执行各状态，返回第一个致命错误
func (p *Pipeline) execute(ctx context.Context) error {
	p.transition(StatePreparing)
	if err := ctx.Err(); err != nil {
		return &StageError{State: StatePreparing, Asset: p.manifest.OutputDir, Err: err}
	}
	if err := os.MkdirAll(p.manifest.OutputDir, dirPerm); err != nil {
		return &StageError{
			State: StatePreparing,
			Asset: p.manifest.OutputDir,
			Err:   fmt.Errorf("%w: create output directory: %w", ErrIO, err),
		}
	}

	for _, asset := range p.manifest.Mandatory() {
		state := stateFor(asset.Kind)
		p.transition(state)

		err := ctx.Err()
		if err == nil {
			err = p.runStage(asset)
		}
		if err != nil {
			p.report.RecordFailure(asset.Name, err)
			return &StageError{State: state, Asset: asset.Name, Err: err}
		}
	}

	p.transition(StateCopyingStatics)
	return p.copyStatics(ctx)
}

// transition 状态变化并通知观察者
func (p *Pipeline) transition(to State) {
	from := p.state
	p.state = to
	if p.observer != nil {
		p.observer(from, to)
	}
}

// ====================  压缩阶段 ====================

// runStage 读取源文件、压缩、写入输出目录、记录结果
func (p *Pipeline) runStage(asset manifest.Asset) error {
	stage, ok := p.registry.ForKind(asset.Kind)
	if !ok {
		return fmt.Errorf("%w: no transform registered for %s", manifest.ErrConfiguration, asset.Kind)
	}

	utils.LogPrintf("[PIPELINE] Minifying %s...", asset.Name)

	src, err := os.ReadFile(asset.SourcePath)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrIO, asset.SourcePath, err)
	}

	opts := p.opts
	opts.SourceName = filepath.Base(asset.SourcePath)

	out, err := stage.Run(src, opts)
	if err != nil {
		return err
	}

	dst := p.manifest.OutputPath(asset)
	if err := os.WriteFile(dst, out, filePerm); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, dst, err)
	}

	p.stats.FilesProcessed++
	p.stats.BytesRead += int64(len(src))
	p.stats.BytesWritten += int64(len(out))

	p.report.Record(report.Result{
		Name:         asset.Name,
		OriginalSize: int64(len(src)),
		OutputSize:   int64(len(out)),
		OutputPath:   dst,
	})

	utils.LogPrintf("[PIPELINE] %s minified: %s → %s",
		asset.Name, utils.FormatBytes(int64(len(src))), utils.FormatBytes(int64(len(out))))
	return nil
}

// ====================  静态资源 ====================

// copyStatics 复制静态目录，再复制静态文件
// 源不存在只记录跳过；其他读写错误为致命错误
func (p *Pipeline) copyStatics(ctx context.Context) error {
	groups := [][]manifest.Asset{p.manifest.StaticDirs(), p.manifest.StaticFiles()}

	for _, group := range groups {
		for _, asset := range group {
			if err := ctx.Err(); err != nil {
				return &StageError{State: StateCopyingStatics, Asset: asset.Name, Err: err}
			}

			n, err := p.copyStatic(asset)
			if err != nil {
				err = fmt.Errorf("%w: %w", ErrIO, err)
				p.report.RecordFailure(asset.Name, err)
				return &StageError{State: StateCopyingStatics, Asset: asset.Name, Err: err}
			}
			if n < 0 {
				utils.LogPrintf("[COPY] WARN: %s not found, skipped", asset.Name)
				p.report.RecordSkip(asset.Name)
				continue
			}

			utils.LogPrintf("[COPY] %s: %d files", asset.Name, n)
			p.report.RecordCopy(asset.Name, n)
		}
	}

	return nil
}

// copyStatic 复制单个静态资源
// 源不存在时返回 -1
func (p *Pipeline) copyStatic(asset manifest.Asset) (int, error) {
	exists, err := staticcopy.Exists(asset.SourcePath)
	if err != nil {
		return 0, err
	}
	if !exists {
		return -1, nil
	}

	dst := p.manifest.OutputPath(asset)
	if asset.Kind == manifest.KindStaticDir {
		return p.copier.CopyTree(asset.SourcePath, dst)
	}
	return p.copier.CopyFile(asset.SourcePath, dst)
}
