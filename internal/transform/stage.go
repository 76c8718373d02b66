/**
 * internal/transform/stage.go
 * 压缩阶段抽象
 *
 * 功能：
 * - Stage 接口：原始字节 + 选项 -> 压缩后字节
 * - 按资源类型选择实现（Registry）
 * - 统一的压缩错误类型（携带解析器诊断信息）
 *
 * 所有 Stage 都是纯函数，不做文件 I/O，由调用方负责读写。
 */

package transform

import (
	"errors"
	"fmt"
	"strings"

	"site-build/internal/manifest"
)

// ====================  错误定义 ====================

// ErrTransform 压缩器拒绝输入（语法错误等）
var ErrTransform = errors.New("TRANSFORM_ERROR")

// Error 压缩错误
// 携带阶段名、源文件名和压缩器的诊断信息
type Error struct {
	Stage       string
	Source      string
	Diagnostics []string
}

// Error 实现 error 接口
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s transform failed", e.Stage)
	if e.Source != "" {
		msg += " for " + e.Source
	}
	if len(e.Diagnostics) > 0 {
		msg += ": " + strings.Join(e.Diagnostics, "; ")
	}
	return msg
}

// Unwrap 使 errors.Is(err, ErrTransform) 成立
func (e *Error) Unwrap() error {
	return ErrTransform
}

// ====================  选项 ====================

// Options 压缩选项
type Options struct {
	// SourceName 源文件名（仅用于诊断信息）
	SourceName string

	// Dev 开发模式：原样输出，不压缩
	Dev bool

	// JS 选项
	DropConsole  bool     // 删除 console.* 调用
	DropDebugger bool     // 删除 debugger 语句
	Pure         []string // 视为无副作用的函数调用（结果未使用时可删除）

	// HTML 选项
	CollapseWhitespace bool
	RemoveComments     bool
	RemoveOptionalTags bool
	SortAttributes     bool
	SortClassName      bool
}

// DefaultOptions 返回生产构建默认选项
// 保留 console 调用，删除 debugger，pure 列表为空
func DefaultOptions() Options {
	return Options{
		DropDebugger:       true,
		CollapseWhitespace: true,
		RemoveComments:     true,
		RemoveOptionalTags: true,
		SortAttributes:     true,
		SortClassName:      true,
	}
}

// ====================  Stage 接口 ====================

// Stage 单个资源类型的压缩阶段
type Stage interface {
	// Name 阶段名称（HTML/CSS/JS）
	Name() string

	// Run 压缩 src，返回新的字节切片（不修改 src）
	Run(src []byte, opts Options) ([]byte, error)
}

// ====================  Registry ====================

// Registry 资源类型到 Stage 的映射
type Registry struct {
	stages map[manifest.Kind]Stage
}

// NewRegistry 创建包含 HTML/CSS/JS 默认实现的 Registry
func NewRegistry() *Registry {
	r := &Registry{stages: make(map[manifest.Kind]Stage)}
	r.Register(manifest.KindHTML, HTMLStage{})
	r.Register(manifest.KindCSS, CSSStage{})
	r.Register(manifest.KindJS, JSStage{})
	return r
}

// Register 注册（或替换）某个资源类型的 Stage
func (r *Registry) Register(kind manifest.Kind, stage Stage) {
	r.stages[kind] = stage
}

// ForKind 返回资源类型对应的 Stage
func (r *Registry) ForKind(kind manifest.Kind) (Stage, bool) {
	s, ok := r.stages[kind]
	return s, ok
}

// defaultRegistry 只读默认 Registry，供 ForKind 使用
var defaultRegistry = NewRegistry()

// ForKind 返回默认 Registry 中资源类型对应的 Stage
func ForKind(kind manifest.Kind) (Stage, bool) {
	return defaultRegistry.ForKind(kind)
}

// passthrough 开发模式下返回输入副本
func passthrough(src []byte) []byte {
	return append([]byte(nil), src...)
}

// notLarger 压缩结果比输入大时原样返回输入
func notLarger(src, out []byte) []byte {
	if len(out) > len(src) {
		return passthrough(src)
	}
	return out
}
