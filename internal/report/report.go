/**
 * internal/report/report.go
 * 构建报告
 *
 * 功能：
 * - 记录每个资源的原始大小和输出大小
 * - 计算压缩率（保留一位小数，原始大小为 0 时不计算）
 * - 按清单声明顺序输出（与完成顺序无关）
 * - 记录静态资源复制数量、跳过和失败
 *
 * 报告只属于一次构建，打印后即丢弃。
 */

package report

import (
	"fmt"
	"io"
	"math"
	"strings"

	"site-build/internal/utils"
)

// ====================  状态定义 ====================

// Status 资源处理状态
type Status int

const (
	StatusPending     Status = iota // 未执行（构建提前终止）
	StatusTransformed               // 已压缩
	StatusCopied                    // 已复制（静态资源）
	StatusSkipped                   // 源不存在，已跳过
	StatusFailed                    // 失败
)

// String 返回状态名称
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusTransformed:
		return "transformed"
	case StatusCopied:
		return "copied"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ====================  数据结构 ====================

// Result 单个资源压缩结果（创建后不再修改）
type Result struct {
	Name         string
	OriginalSize int64
	OutputSize   int64
	OutputPath   string
}

// Entry 报告条目
type Entry struct {
	Name   string
	Status Status
	Result Result // StatusTransformed 时有效
	Copied int    // StatusCopied 时为复制的文件数
	Err    error  // StatusFailed 时有效
}

// Row 汇总行
type Row struct {
	Name             string
	OriginalSize     int64
	OutputSize       int64
	PercentReduction float64
	HasPercent       bool // 原始大小为 0 时为 false
}

// Report 构建报告
type Report struct {
	BuildID string

	order   []string
	entries map[string]*Entry
}

// New 创建报告
// declared 为清单中的资源名称（声明顺序），决定输出顺序
func New(buildID string, declared ...string) *Report {
	r := &Report{
		BuildID: buildID,
		entries: make(map[string]*Entry, len(declared)),
	}
	for _, name := range declared {
		r.entry(name)
	}
	return r
}

// ====================  记录 ====================

// Record 记录压缩结果
func (r *Report) Record(res Result) {
	e := r.entry(res.Name)
	e.Status = StatusTransformed
	e.Result = res
	e.Err = nil
}

// RecordCopy 记录静态资源复制数量
func (r *Report) RecordCopy(name string, files int) {
	e := r.entry(name)
	e.Status = StatusCopied
	e.Copied = files
}

// RecordSkip 记录源不存在而跳过的静态资源
func (r *Report) RecordSkip(name string) {
	r.entry(name).Status = StatusSkipped
}

// RecordFailure 记录失败
func (r *Report) RecordFailure(name string, err error) {
	e := r.entry(name)
	e.Status = StatusFailed
	e.Err = err
}

// entry 获取条目，不存在时追加到末尾
func (r *Report) entry(name string) *Entry {
	if e, ok := r.entries[name]; ok {
		return e
	}
	e := &Entry{Name: name}
	r.entries[name] = e
	r.order = append(r.order, name)
	return e
}

// ====================  查询 ====================

// Entries 返回所有条目（声明顺序）
func (r *Report) Entries() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.entries[name])
	}
	return out
}

// Get 返回指定名称的条目
func (r *Report) Get(name string) (Entry, bool) {
	e, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Summarize 返回已压缩资源的汇总（声明顺序）
func (r *Report) Summarize() []Row {
	var rows []Row
	for _, name := range r.order {
		e := r.entries[name]
		if e.Status != StatusTransformed {
			continue
		}
		pct, ok := PercentReduction(e.Result.OriginalSize, e.Result.OutputSize)
		rows = append(rows, Row{
			Name:             name,
			OriginalSize:     e.Result.OriginalSize,
			OutputSize:       e.Result.OutputSize,
			PercentReduction: pct,
			HasPercent:       ok,
		})
	}
	return rows
}

// Totals 返回已压缩资源的总大小
func (r *Report) Totals() (original, output int64) {
	for _, row := range r.Summarize() {
		original += row.OriginalSize
		output += row.OutputSize
	}
	return original, output
}

// PercentReduction 计算压缩率 (1 - output/original) * 100，保留一位小数
// original 为 0 时返回 false
func PercentReduction(original, output int64) (float64, bool) {
	if original <= 0 {
		return 0, false
	}
	pct := (1 - float64(output)/float64(original)) * 100
	return math.Round(pct*10) / 10, true
}

// ====================  输出 ====================

// Render 输出人类可读的汇总
func (r *Report) Render(w io.Writer) error {
	var b strings.Builder

	b.WriteString("\n[BUILD] Size comparison:\n")
	for _, name := range r.order {
		e := r.entries[name]
		fmt.Fprintf(&b, "  %s: ", name)

		switch e.Status {
		case StatusTransformed:
			res := e.Result
			fmt.Fprintf(&b, "%s → %s", utils.FormatBytes(res.OriginalSize), utils.FormatBytes(res.OutputSize))
			if pct, ok := PercentReduction(res.OriginalSize, res.OutputSize); ok {
				fmt.Fprintf(&b, " (%.1f%% reduction)", pct)
			} else {
				b.WriteString(" (n/a)")
			}
		case StatusCopied:
			fmt.Fprintf(&b, "%d files copied", e.Copied)
		case StatusSkipped:
			b.WriteString("skipped (not found)")
		case StatusFailed:
			fmt.Fprintf(&b, "FAILED: %v", e.Err)
		default:
			b.WriteString("not run")
		}
		b.WriteByte('\n')
	}

	if original, output := r.Totals(); original > 0 {
		pct, _ := PercentReduction(original, output)
		fmt.Fprintf(&b, "  Total: %s → %s (%.1f%% reduction)\n",
			utils.FormatBytes(original), utils.FormatBytes(output), pct)
	}

	_, err := io.WriteString(w, b.String())
	return err
}
