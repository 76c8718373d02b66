package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"site-build/internal/config"
	"site-build/internal/pipeline"
	"site-build/internal/publish"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSite(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

var site = map[string]string{
	"index.html": "<!DOCTYPE html>\n<html>\n<body>\n  <p class=\"b a\">Hi</p>\n</body>\n</html>\n",
	"styles.css": ".a { width: 1px; }\n",
	"script.js":  "function f(x) {\n  debugger;\n  return x;\n}\nf(1);\n",
	"robots.txt": "User-agent: *",
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_Build(t *testing.T) {
	root := writeSite(t, site)

	out, err := execute(t, "--root", root, "--quiet", "--brotli", "--fingerprint")
	require.NoError(t, err)
	assert.Contains(t, out, "Size comparison")

	dist := filepath.Join(root, "dist")
	assert.FileExists(t, filepath.Join(dist, "index.html"))
	assert.FileExists(t, filepath.Join(dist, "index.html.br"))
	assert.FileExists(t, filepath.Join(dist, "robots.txt"))
	assert.FileExists(t, filepath.Join(dist, "asset-manifest.json"))

	js, err := os.ReadFile(filepath.Join(dist, "script.js"))
	require.NoError(t, err)
	assert.NotContains(t, string(js), "debugger")
}

func TestRootCmd_BuildFile(t *testing.T) {
	files := map[string]string{"site.yaml": "out: public\nstatic:\n  dirs: []\n  files: [robots.txt]\n"}
	for k, v := range site {
		files[k] = v
	}
	root := writeSite(t, files)

	_, err := execute(t, "--root", root, "--quiet", "--keep-debugger")
	require.NoError(t, err)

	js, err := os.ReadFile(filepath.Join(root, "public", "script.js"))
	require.NoError(t, err)
	assert.Contains(t, string(js), "debugger")
}

func TestRootCmd_MissingMandatorySource(t *testing.T) {
	files := map[string]string{}
	for k, v := range site {
		if k != "styles.css" {
			files[k] = v
		}
	}
	root := writeSite(t, files)

	_, err := execute(t, "--root", root, "--quiet")
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrIO)
	assert.FileExists(t, filepath.Join(root, "dist", "index.html"))
	assert.NoFileExists(t, filepath.Join(root, "dist", "script.js"))
}

func TestRootCmd_PublishNotConfigured(t *testing.T) {
	t.Setenv("R2_ENDPOINT", "")
	t.Setenv("R2_BUCKET", "")
	root := writeSite(t, site)

	_, err := execute(t, "--root", root, "--quiet", "--publish")
	require.ErrorIs(t, err, publish.ErrNotConfigured)
	assert.NoDirExists(t, filepath.Join(root, "dist"))
}

func TestRootCmd_RejectsArgs(t *testing.T) {
	_, err := execute(t, "extra")
	require.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	f := &flags{}
	cmd := &cobra.Command{Use: "build"}
	bindFlags(cmd, f)
	require.NoError(t, cmd.ParseFlags([]string{"--keep-debugger", "--out", "public", "--pure", "track,log", "--port", "9000"}))

	cfg := config.Default()
	cfg.Brotli = true
	applyFlags(cmd, cfg, f)

	assert.False(t, cfg.DropDebugger)
	assert.Equal(t, "public", cfg.OutDir)
	assert.Equal(t, []string{"track", "log"}, cfg.PureFuncs)
	assert.Equal(t, "9000", cfg.PreviewPort)
	// 未传入的参数不覆盖配置
	assert.True(t, cfg.Brotli)
	assert.Equal(t, ".", cfg.Root)
}
