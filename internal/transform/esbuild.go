/**
 * internal/transform/esbuild.go
 * CSS / JavaScript 压缩（使用 esbuild）
 *
 * 功能：
 * - CSS：去注释、规范化空白、合并规则（不改变选择器语义和层叠顺序）
 * - JS：去空白、局部标识符混淆、语法压缩、去注释（不降级语法，不注入辅助函数）
 * - 可配置删除 console / debugger
 *
 * 依赖：
 * - github.com/evanw/esbuild/pkg/api
 */

package transform

import (
	"bytes"
	"fmt"

	"github.com/evanw/esbuild/pkg/api"
)

// ====================  CSS ====================

// CSSStage CSS 压缩阶段
type CSSStage struct{}

// Name 阶段名称
func (CSSStage) Name() string { return "CSS" }

// Run 压缩 CSS
func (s CSSStage) Run(src []byte, opts Options) ([]byte, error) {
	if opts.Dev {
		return passthrough(src), nil
	}

	result := api.Transform(string(src), api.TransformOptions{
		Loader:           api.LoaderCSS,
		Sourcefile:       opts.SourceName,
		MinifyWhitespace: true,
		MinifySyntax:     true,
		LegalComments:    api.LegalCommentsNone,
		Charset:          api.CharsetUTF8,
		LogLevel:         api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		return nil, newEsbuildError(s.Name(), opts.SourceName, result.Errors)
	}

	return notLarger(src, trimNewline(result.Code)), nil
}

// ====================  JavaScript ====================

// JSStage JavaScript 压缩阶段
type JSStage struct{}

// Name 阶段名称
func (JSStage) Name() string { return "JS" }

// Run 压缩 JavaScript
// 脚本模式下顶层标识符不会被混淆，只混淆局部绑定
func (s JSStage) Run(src []byte, opts Options) ([]byte, error) {
	if opts.Dev {
		return passthrough(src), nil
	}

	var drop api.Drop
	if opts.DropDebugger {
		drop |= api.DropDebugger
	}
	if opts.DropConsole {
		drop |= api.DropConsole
	}

	result := api.Transform(string(src), api.TransformOptions{
		Loader:            api.LoaderJS,
		Sourcefile:        opts.SourceName,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		Drop:              drop,
		Pure:              opts.Pure,
		LegalComments:     api.LegalCommentsNone,
		Charset:           api.CharsetUTF8,
		LogLevel:          api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		return nil, newEsbuildError(s.Name(), opts.SourceName, result.Errors)
	}

	return notLarger(src, trimNewline(result.Code)), nil
}

// ====================  辅助函数 ====================

// trimNewline 去掉 esbuild 输出末尾的换行
func trimNewline(code []byte) []byte {
	return bytes.TrimSuffix(code, []byte("\n"))
}

// newEsbuildError 将 esbuild 错误信息转换为 *Error
func newEsbuildError(stage, source string, messages []api.Message) *Error {
	diags := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Location != nil {
			diags = append(diags, fmt.Sprintf("%d:%d: %s", m.Location.Line, m.Location.Column, m.Text))
			continue
		}
		diags = append(diags, m.Text)
	}
	return &Error{Stage: stage, Source: source, Diagnostics: diags}
}
