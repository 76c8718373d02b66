package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"site-build/internal/config"
	"site-build/internal/manifest"
	"site-build/internal/report"
	"site-build/internal/transform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newProject 创建测试项目，返回清单
func newProject(t *testing.T, files map[string]string) *manifest.Manifest {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}

	cfg := config.Default()
	cfg.Root = root
	m, err := manifest.Load(cfg)
	require.NoError(t, err)
	return m
}

var siteFiles = map[string]string{
	"index.html":         "<!DOCTYPE html>\n<html>\n  <body>\n    <!-- hero -->\n    <p class=\"b a\">Hi</p>\n  </body>\n</html>\n",
	"styles.css":         ".a { color: red; /* c */ }\n.b { color: red }\n",
	"script.js":          "function hello(name) {\n  debugger;\n  console.log('hi ' + name);\n}\nhello('x');\n",
	"images/logo.svg":    "<svg></svg>",
	"images/icons/a.png": "png",
	"robots.txt":         "User-agent: *",
}

func TestRun_FullBuild(t *testing.T) {
	m := newProject(t, siteFiles)

	var transitions []State
	var out bytes.Buffer
	p := New(m,
		WithReportWriter(&out),
		WithBuildID("test-build"),
		WithObserver(func(_, to State) { transitions = append(transitions, to) }),
	)

	rep, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, p.State())
	assert.Equal(t, "test-build", rep.BuildID)

	assert.Equal(t, []State{
		StatePreparing, StateHTML, StateCSS, StateJS, StateCopyingStatics, StateReporting, StateDone,
	}, transitions)

	html, err := os.ReadFile(filepath.Join(m.OutputDir, "index.html"))
	require.NoError(t, err)
	assert.Contains(t, string(html), `class="a b"`)
	assert.NotContains(t, string(html), "hero")

	js, err := os.ReadFile(filepath.Join(m.OutputDir, "script.js"))
	require.NoError(t, err)
	assert.NotContains(t, string(js), "debugger")
	assert.Contains(t, string(js), "console.log")

	assert.FileExists(t, filepath.Join(m.OutputDir, "images", "icons", "a.png"))
	assert.FileExists(t, filepath.Join(m.OutputDir, "robots.txt"))

	rows := rep.Summarize()
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.LessOrEqual(t, row.OutputSize, row.OriginalSize, row.Name)
	}

	images, ok := rep.Get("images")
	require.True(t, ok)
	assert.Equal(t, report.StatusCopied, images.Status)
	assert.Equal(t, 2, images.Copied)

	projects, ok := rep.Get("Projects")
	require.True(t, ok)
	assert.Equal(t, report.StatusSkipped, projects.Status)

	stats := p.Stats()
	assert.Equal(t, int64(3+3), stats.FilesProcessed)

	assert.Contains(t, out.String(), "Size comparison")
	assert.Contains(t, out.String(), "reduction")
}

func TestRun_MissingOptionalDirectoryStillDone(t *testing.T) {
	files := map[string]string{
		"index.html": "<p>x</p>",
		"styles.css": "a{color:red}",
		"script.js":  "var a=1;",
	}
	m := newProject(t, files)

	p := New(m, WithReportWriter(nil))
	rep, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, p.State())

	for _, name := range []string{"images", "Projects", "robots.txt", "sitemap.xml", "favicon.svg", "favicon.ico"} {
		e, ok := rep.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, report.StatusSkipped, e.Status, name)
	}
	assert.NoDirExists(t, filepath.Join(m.OutputDir, "images"))
}

func TestRun_MissingCSSFails(t *testing.T) {
	files := map[string]string{
		"index.html": "<p>kept</p>",
		"script.js":  "var a=1;",
	}
	m := newProject(t, files)

	var out bytes.Buffer
	p := New(m, WithReportWriter(&out))
	rep, err := p.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, os.ErrNotExist)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StateCSS, stageErr.State)
	assert.Equal(t, "CSS", stageErr.Asset)
	assert.Equal(t, StateFailed, p.State())

	// 已完成的 HTML 输出保留
	assert.FileExists(t, filepath.Join(m.OutputDir, "index.html"))
	assert.NoFileExists(t, filepath.Join(m.OutputDir, "script.js"))

	require.NotNil(t, rep)
	htmlEntry, _ := rep.Get("HTML")
	assert.Equal(t, report.StatusTransformed, htmlEntry.Status)
	cssEntry, _ := rep.Get("CSS")
	assert.Equal(t, report.StatusFailed, cssEntry.Status)
	jsEntry, _ := rep.Get("JS")
	assert.Equal(t, report.StatusPending, jsEntry.Status)

	// 失败时仍输出报告
	assert.Contains(t, out.String(), "HTML:")
	assert.Contains(t, out.String(), "CSS: FAILED")
}

func TestRun_TransformErrorFails(t *testing.T) {
	files := map[string]string{
		"index.html": "<p>x</p>",
		"styles.css": "a{color:red}",
		"script.js":  "function ( {",
	}
	m := newProject(t, files)

	p := New(m, WithReportWriter(nil))
	_, err := p.Run(context.Background())

	require.ErrorIs(t, err, transform.ErrTransform)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StateJS, stageErr.State)
}

func TestRun_CancelledContext(t *testing.T) {
	m := newProject(t, siteFiles)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(m, WithReportWriter(nil))
	_, err := p.Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, p.State())
	assert.NoFileExists(t, filepath.Join(m.OutputDir, "index.html"))
}

func TestRun_OnlyOnce(t *testing.T) {
	m := newProject(t, siteFiles)
	p := New(m, WithReportWriter(nil))

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	require.ErrorIs(t, err, ErrAlreadyRun)
}

// failingStage 总是返回错误的 Stage
type failingStage struct{}

func (failingStage) Name() string { return "HTML" }

func (failingStage) Run([]byte, transform.Options) ([]byte, error) {
	return nil, errors.New("boom")
}

func TestRun_CustomRegistry(t *testing.T) {
	m := newProject(t, siteFiles)

	reg := transform.NewRegistry()
	reg.Register(manifest.KindHTML, failingStage{})

	var states []State
	p := New(m,
		WithRegistry(reg),
		WithReportWriter(nil),
		WithObserver(func(_, to State) { states = append(states, to) }),
	)
	_, err := p.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, []State{StatePreparing, StateHTML, StateFailed}, states)
}

func TestRun_DevModeCopiesSources(t *testing.T) {
	m := newProject(t, siteFiles)

	opts := transform.DefaultOptions()
	opts.Dev = true
	p := New(m, WithOptions(opts), WithReportWriter(nil))

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	css, err := os.ReadFile(filepath.Join(m.OutputDir, "styles.css"))
	require.NoError(t, err)
	assert.Equal(t, siteFiles["styles.css"], string(css))
}
