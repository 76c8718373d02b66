/**
 * internal/manifest/manifest.go
 * 资源清单
 *
 * 功能：
 * - 声明构建要处理的资源（必需的 HTML/CSS/JS + 可选静态目录/文件）
 * - 保持声明顺序（决定处理顺序和报告顺序）
 * - 校验必需资源路径
 *
 * 清单是纯数据，不做任何文件系统访问。
 */

package manifest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"site-build/internal/config"
)

// ====================  错误定义 ====================

// ErrConfiguration 清单配置错误（必需路径为空、重复名称等）
var ErrConfiguration = errors.New("CONFIGURATION_ERROR")

// ====================  资源类型 ====================

// Kind 资源类型
type Kind int

const (
	KindHTML Kind = iota
	KindCSS
	KindJS
	KindStaticFile
	KindStaticDir
)

// String 返回资源类型名称
func (k Kind) String() string {
	switch k {
	case KindHTML:
		return "HTML"
	case KindCSS:
		return "CSS"
	case KindJS:
		return "JS"
	case KindStaticFile:
		return "STATIC_FILE"
	case KindStaticDir:
		return "STATIC_DIR"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Mandatory 是否为必需资源（需要经过压缩阶段）
func (k Kind) Mandatory() bool {
	return k == KindHTML || k == KindCSS || k == KindJS
}

// mandatoryOrder 必需资源的固定顺序
var mandatoryOrder = []Kind{KindHTML, KindCSS, KindJS}

// ====================  数据结构 ====================

// Asset 单个资源声明（声明后不可变）
type Asset struct {
	Name       string // 报告中显示的名称
	SourcePath string // 源路径（已拼接项目根目录）
	Target     string // 输出路径（相对输出目录）
	Kind       Kind
}

// Manifest 资源清单
type Manifest struct {
	OutputDir string
	Assets    []Asset
}

// ====================  构造函数 ====================

// Load 根据构建配置生成清单
// 声明顺序：HTML -> CSS -> JS -> 静态目录 -> 静态文件
func Load(cfg *config.Config) (*Manifest, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrConfiguration)
	}

	mandatory := []struct {
		key  string
		path string
		kind Kind
	}{
		{"html", cfg.HTMLPath, KindHTML},
		{"css", cfg.CSSPath, KindCSS},
		{"js", cfg.JSPath, KindJS},
	}

	var assets []Asset
	for _, m := range mandatory {
		if strings.TrimSpace(m.path) == "" {
			return nil, fmt.Errorf("%w: %s path is not set", ErrConfiguration, m.key)
		}
		assets = append(assets, Asset{
			Name:       m.kind.String(),
			SourcePath: resolve(cfg.Root, m.path),
			Target:     filepath.Base(m.path),
			Kind:       m.kind,
		})
	}

	for _, dir := range cfg.StaticDirs {
		assets = append(assets, static(cfg.Root, dir, KindStaticDir))
	}
	for _, file := range cfg.StaticFiles {
		assets = append(assets, static(cfg.Root, file, KindStaticFile))
	}

	return New(cfg.OutputPath(), assets...)
}

// New 创建清单并校验
//
// 校验规则：
//   - 输出目录非空
//   - 必需资源按 HTML、CSS、JS 顺序声明在最前面，各一个
//   - 名称唯一
//   - 静态资源的输出路径不能逃出输出目录
func New(outputDir string, assets ...Asset) (*Manifest, error) {
	if strings.TrimSpace(outputDir) == "" {
		return nil, fmt.Errorf("%w: output directory is not set", ErrConfiguration)
	}

	if len(assets) < len(mandatoryOrder) {
		return nil, fmt.Errorf("%w: HTML, CSS and JS assets are required", ErrConfiguration)
	}

	seen := make(map[string]bool, len(assets))
	for i, a := range assets {
		if i < len(mandatoryOrder) {
			if a.Kind != mandatoryOrder[i] {
				return nil, fmt.Errorf("%w: asset %d must be %s, got %s", ErrConfiguration, i, mandatoryOrder[i], a.Kind)
			}
		} else if a.Kind.Mandatory() {
			return nil, fmt.Errorf("%w: duplicate %s asset %q", ErrConfiguration, a.Kind, a.Name)
		}

		if strings.TrimSpace(a.SourcePath) == "" {
			return nil, fmt.Errorf("%w: %s source path is empty", ErrConfiguration, a.Name)
		}
		if a.Name == "" {
			return nil, fmt.Errorf("%w: asset %d has no name", ErrConfiguration, i)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("%w: duplicate asset name %q", ErrConfiguration, a.Name)
		}
		seen[a.Name] = true

		if !filepath.IsLocal(a.Target) {
			return nil, fmt.Errorf("%w: %s target %q escapes the output directory", ErrConfiguration, a.Name, a.Target)
		}
	}

	return &Manifest{
		OutputDir: outputDir,
		Assets:    append([]Asset(nil), assets...),
	}, nil
}

// ====================  访问方法 ====================

// Mandatory 返回必需资源（声明顺序）
func (m *Manifest) Mandatory() []Asset {
	return m.filter(func(k Kind) bool { return k.Mandatory() })
}

// StaticDirs 返回静态目录（声明顺序）
func (m *Manifest) StaticDirs() []Asset {
	return m.filter(func(k Kind) bool { return k == KindStaticDir })
}

// StaticFiles 返回静态文件（声明顺序）
func (m *Manifest) StaticFiles() []Asset {
	return m.filter(func(k Kind) bool { return k == KindStaticFile })
}

// Names 返回所有资源名称（声明顺序）
func (m *Manifest) Names() []string {
	names := make([]string, len(m.Assets))
	for i, a := range m.Assets {
		names[i] = a.Name
	}
	return names
}

// OutputPath 返回资源的输出完整路径
func (m *Manifest) OutputPath(a Asset) string {
	return filepath.Join(m.OutputDir, a.Target)
}

func (m *Manifest) filter(keep func(Kind) bool) []Asset {
	var out []Asset
	for _, a := range m.Assets {
		if keep(a.Kind) {
			out = append(out, a)
		}
	}
	return out
}

// ====================  辅助函数 ====================

// static 构造静态资源声明
// 相对路径原样作为输出路径（保持目录结构），绝对路径只保留最后一段
func static(root, path string, kind Kind) Asset {
	target := filepath.Clean(path)
	if filepath.IsAbs(path) {
		target = filepath.Base(path)
	}
	return Asset{
		Name:       filepath.ToSlash(target),
		SourcePath: resolve(root, path),
		Target:     target,
		Kind:       kind,
	}
}

// resolve 拼接项目根目录
func resolve(root, path string) string {
	if filepath.IsAbs(path) || root == "" {
		return path
	}
	return filepath.Join(root, path)
}
