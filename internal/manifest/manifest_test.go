package manifest

import (
	"path/filepath"
	"testing"

	"site-build/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DeclarationOrder(t *testing.T) {
	cfg := config.Default()
	cfg.Root = "/project"

	m, err := Load(cfg)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("/project", "dist"), m.OutputDir)
	assert.Equal(t, []string{
		"HTML", "CSS", "JS",
		"images", "Projects",
		"robots.txt", "sitemap.xml", "favicon.svg", "favicon.ico",
	}, m.Names())

	mandatory := m.Mandatory()
	require.Len(t, mandatory, 3)
	assert.Equal(t, KindHTML, mandatory[0].Kind)
	assert.Equal(t, filepath.Join("/project", "index.html"), mandatory[0].SourcePath)
	assert.Equal(t, "index.html", mandatory[0].Target)
	assert.Equal(t, KindCSS, mandatory[1].Kind)
	assert.Equal(t, KindJS, mandatory[2].Kind)

	assert.Len(t, m.StaticDirs(), 2)
	assert.Len(t, m.StaticFiles(), 4)
	assert.Equal(t, filepath.Join("/project", "dist", "images"), m.OutputPath(m.StaticDirs()[0]))
}

func TestLoad_NestedMandatoryPathWritesBasename(t *testing.T) {
	cfg := config.Default()
	cfg.Root = "/project"
	cfg.JSPath = "src/app/script.js"

	m, err := Load(cfg)
	require.NoError(t, err)

	js := m.Mandatory()[2]
	assert.Equal(t, filepath.Join("/project", "src", "app", "script.js"), js.SourcePath)
	assert.Equal(t, "script.js", js.Target)
}

func TestLoad_EmptyMandatoryPath(t *testing.T) {
	for _, key := range []string{"html", "css", "js"} {
		t.Run(key, func(t *testing.T) {
			cfg := config.Default()
			switch key {
			case "html":
				cfg.HTMLPath = ""
			case "css":
				cfg.CSSPath = ""
			case "js":
				cfg.JSPath = " "
			}

			_, err := Load(cfg)
			require.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestNew_Validation(t *testing.T) {
	html := Asset{Name: "HTML", SourcePath: "index.html", Target: "index.html", Kind: KindHTML}
	css := Asset{Name: "CSS", SourcePath: "styles.css", Target: "styles.css", Kind: KindCSS}
	js := Asset{Name: "JS", SourcePath: "script.js", Target: "script.js", Kind: KindJS}

	tests := []struct {
		name   string
		out    string
		assets []Asset
	}{
		{"empty output dir", "", []Asset{html, css, js}},
		{"missing js", "dist", []Asset{html, css}},
		{"wrong order", "dist", []Asset{css, html, js}},
		{"duplicate mandatory", "dist", []Asset{html, css, js, {Name: "HTML2", SourcePath: "b.html", Target: "b.html", Kind: KindHTML}}},
		{"duplicate name", "dist", []Asset{html, css, js, {Name: "JS", SourcePath: "x", Target: "x", Kind: KindStaticFile}}},
		{"escaping target", "dist", []Asset{html, css, js, {Name: "up", SourcePath: "../up", Target: "../up", Kind: KindStaticDir}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.out, tt.assets...)
			require.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestLoad_AbsoluteStaticPathKeepsBasename(t *testing.T) {
	cfg := config.Default()
	cfg.Root = "/project"
	cfg.StaticDirs = []string{"/shared/fonts"}
	cfg.StaticFiles = nil

	m, err := Load(cfg)
	require.NoError(t, err)

	dirs := m.StaticDirs()
	require.Len(t, dirs, 1)
	assert.Equal(t, "/shared/fonts", dirs[0].SourcePath)
	assert.Equal(t, "fonts", dirs[0].Target)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "HTML", KindHTML.String())
	assert.Equal(t, "STATIC_DIR", KindStaticDir.String())
	assert.True(t, KindJS.Mandatory())
	assert.False(t, KindStaticFile.Mandatory())
}
