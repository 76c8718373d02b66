package transform

import (
	"strings"
	"testing"

	"site-build/internal/manifest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHTML = `<!DOCTYPE html><html>  <body>  <!-- c --> <p class="b a">Hi</p></body></html>`

const sampleCSS = ".a { color: red; /* c */ }\n.b{color:red}"

func runStage(t *testing.T, s Stage, src string, opts Options) string {
	t.Helper()
	out, err := s.Run([]byte(src), opts)
	require.NoError(t, err)
	return string(out)
}

// assertFixedPoint 输出不大于输入，且再次压缩结果不变
func assertFixedPoint(t *testing.T, s Stage, src string, opts Options) string {
	t.Helper()
	first := runStage(t, s, src, opts)
	assert.LessOrEqual(t, len(first), len(src))
	second := runStage(t, s, first, opts)
	assert.Equal(t, first, second)
	return first
}

// ====================  HTML ====================

func TestHTMLStage_Sample(t *testing.T) {
	out := assertFixedPoint(t, HTMLStage{}, sampleHTML, DefaultOptions())

	assert.Contains(t, out, `class="a b"`)
	assert.NotContains(t, out, "<!--")
	assert.NotContains(t, out, " c ")
	assert.NotContains(t, out, "> ")
	assert.NotContains(t, out, " <")
	assert.Equal(t, `<!doctype html><p class="a b">Hi`, out)
}

func TestHTMLStage_KeepsSignificantWhitespace(t *testing.T) {
	src := "<div>\n  <p>one <b>two</b>   three</p>\n  <pre>  keep\n   this </pre>\n</div>"
	out := assertFixedPoint(t, HTMLStage{}, src, DefaultOptions())

	assert.Contains(t, out, "one <b>two</b> three")
	assert.Contains(t, out, "<pre>  keep\n   this </pre>")
	assert.NotContains(t, out, "\n  <p>")
}

func TestHTMLStage_RawTextUntouched(t *testing.T) {
	src := "<script>\n  if (a  <  b) { x = '<!-- y -->' }\n</script>\n<textarea>  a\n  b</textarea>"
	out := assertFixedPoint(t, HTMLStage{}, src, DefaultOptions())

	assert.Contains(t, out, "<script>\n  if (a  <  b) { x = '<!-- y -->' }\n</script>")
	assert.Contains(t, out, "<textarea>  a\n  b</textarea>")
}

func TestHTMLStage_Attributes(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"empty attributes", `<div class="" id=" " onclick="" data-x="">x</div>`, `<div data-x>x</div>`},
		{"redundant script type", `<script type="text/javascript" src="app.js"></script>`, `<script src=app.js></script>`},
		{"redundant link type", `<link type="text/css" rel="stylesheet" href="s.css">`, `<link href=s.css rel=stylesheet>`},
		{"redundant form method", `<form method="GET" action="/s"></form>`, `<form action=/s></form>`},
		{"sorted attributes", `<img src="a.png" alt="A">`, `<img alt=A src=a.png>`},
		{"class dedupe", `<span class=" c  b a b ">x</span>`, `<span class="a b c">x</span>`},
		{"void self-closing", `<br/><hr />`, `<br><hr>`},
		{"quote escaping", `<a title="say &quot;hi&quot;" href="?a=1&amp;b=2">x</a>`, `<a href="?a=1&b=2" title='say "hi"'>x</a>`},
		{"unquoted value", `<a href="x">y</a>`, `<a href=x>y</a>`},
		{"both quote kinds", `<p title="a &quot;b&quot; 'c'">x</p>`, `<p title="a &#34;b&#34; 'c'">x`},
		{"ambiguous ampersand", `<a href="?x=1&amp;copy=2">y</a>`, `<a href="?x=1&amp;copy=2">y</a>`},
		{"numeric reference", `<a title="&amp;#65;">y</a>`, `<a title=&amp;#65;>y</a>`},
		{"value ending in slash", `<a href="/docs/">y</a>`, `<a href="/docs/">y</a>`},
		{"self-closing svg child", `<svg><path d="M0"/></svg>`, `<svg><path d=M0 /></svg>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, assertFixedPoint(t, HTMLStage{}, tt.src, DefaultOptions()))
		})
	}
}

func TestHTMLStage_OptionalTags(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"list items", `<ul><li>a</li><li>b</li></ul>`, `<ul><li>a<li>b</ul>`},
		{"paragraph before block", `<div><p>a</p><div>b</div></div>`, `<div><p>a<div>b</div></div>`},
		{"paragraph in anchor", `<a><p>a</p></a>`, `<a><p>a</p></a>`},
		{"table", `<table><tbody><tr><td>1</td><td>2</td></tr></tbody></table>`, `<table><tbody><tr><td>1<td>2</table>`},
		{"head content", `<html><head><title>T</title></head><body><p>x</p></body></html>`, `<title>T</title><p>x`},
		{"body with attributes", `<body class="x"><p>y</p></body>`, `<body class=x><p>y`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, assertFixedPoint(t, HTMLStage{}, tt.src, DefaultOptions()))
		})
	}
}

func TestHTMLStage_KeepComments(t *testing.T) {
	opts := DefaultOptions()
	opts.RemoveComments = false

	out := runStage(t, HTMLStage{}, `<div><!-- keep --></div>`, opts)
	assert.Equal(t, `<div><!-- keep --></div>`, out)
}

func TestHTMLStage_InvalidUTF8(t *testing.T) {
	_, err := HTMLStage{}.Run([]byte("<p>\xff\xfe</p>"), Options{SourceName: "index.html"})

	require.ErrorIs(t, err, ErrTransform)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "HTML", terr.Stage)
	assert.Equal(t, "index.html", terr.Source)
	assert.NotEmpty(t, terr.Diagnostics)
}

// ====================  CSS ====================

func TestCSSStage_Sample(t *testing.T) {
	out := assertFixedPoint(t, CSSStage{}, sampleCSS, DefaultOptions())

	assert.NotContains(t, out, "/*")
	assert.NotContains(t, out, "*/")
	assert.NotContains(t, out, "  ")
	assert.NotContains(t, out, "{ ")
	assert.Contains(t, out, ".a")
	assert.Contains(t, out, ".b")
	assert.Contains(t, out, "color:red")
}

func TestCSSStage_PreservesCascadeOrder(t *testing.T) {
	src := ".x { width: 1px }\n.y { width: 2px }\n.x { height: 3px }\n"
	out := runStage(t, CSSStage{}, src, DefaultOptions())

	first, second, third := strings.Index(out, "1px"), strings.Index(out, "2px"), strings.Index(out, "3px")
	require.True(t, first >= 0 && second >= 0 && third >= 0, out)
	assert.Less(t, first, second)
	assert.Less(t, second, third)
}

// ====================  JavaScript ====================

func TestJSStage_DebuggerAndConsole(t *testing.T) {
	src := "function run() {\n  debugger;\n  console.log('hello');\n  return 1;\n}\n"

	t.Run("defaults", func(t *testing.T) {
		out := assertFixedPoint(t, JSStage{}, src, DefaultOptions())
		assert.NotContains(t, out, "debugger")
		assert.Contains(t, out, "console.log")
		assert.Contains(t, out, "run")
	})

	t.Run("drop console", func(t *testing.T) {
		opts := DefaultOptions()
		opts.DropConsole = true
		out := runStage(t, JSStage{}, src, opts)
		assert.NotContains(t, out, "console")
	})

	t.Run("keep debugger", func(t *testing.T) {
		opts := DefaultOptions()
		opts.DropDebugger = false
		out := runStage(t, JSStage{}, src, opts)
		assert.Contains(t, out, "debugger")
	})
}

func TestJSStage_MangleLocalsOnly(t *testing.T) {
	src := "function greet(longParameterName) {\n  // comment\n  return longParameterName + '!';\n}\n"
	out := assertFixedPoint(t, JSStage{}, src, DefaultOptions())

	assert.Contains(t, out, "greet")
	assert.NotContains(t, out, "longParameterName")
	assert.NotContains(t, out, "comment")
}

func TestJSStage_NoSyntaxLowering(t *testing.T) {
	src := "class Counter {\n  #n = 0;\n  static zero = 0;\n  inc(opts) {\n    opts.x ??= 1;\n    return ++this.#n + opts.x;\n  }\n}\nnew Counter().inc({});\n"
	out := assertFixedPoint(t, JSStage{}, src, DefaultOptions())

	assert.Less(t, len(out), len(src))
	assert.NotContains(t, out, "WeakMap")
	assert.NotContains(t, out, "defineProperty")
	assert.Contains(t, out, "#")
	assert.Contains(t, out, "??=")
	assert.Contains(t, out, "static ")
}

func TestJSStage_SyntaxError(t *testing.T) {
	_, err := JSStage{}.Run([]byte("function ( {"), Options{SourceName: "script.js"})

	require.ErrorIs(t, err, ErrTransform)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "JS", terr.Stage)
	assert.NotEmpty(t, terr.Diagnostics)
	assert.Contains(t, err.Error(), "script.js")
}

// ====================  通用 ====================

func TestStages_MinifiedInputDoesNotGrow(t *testing.T) {
	tests := []struct {
		name  string
		stage Stage
		src   string
	}{
		{"css", CSSStage{}, `a{color:red}`},
		{"js", JSStage{}, `var a=1;`},
		{"html unquoted", HTMLStage{}, `<a href=x>y</a>`},
		{"html ampersand", HTMLStage{}, `<a href="?a=1&b=2">y</a>`},
		{"html single quotes", HTMLStage{}, `<div title='say "hi"'>x</div>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := assertFixedPoint(t, tt.stage, tt.src, DefaultOptions())
			assert.False(t, strings.HasSuffix(out, "\n"))
		})
	}
}

func TestNotLarger(t *testing.T) {
	src := []byte("ab")
	out := notLarger(src, []byte("abc"))
	assert.Equal(t, src, out)

	out[0] = 'x'
	assert.Equal(t, byte('a'), src[0])
	assert.Equal(t, []byte("a"), notLarger(src, []byte("a")))
}

func TestDevModePassthrough(t *testing.T) {
	opts := DefaultOptions()
	opts.Dev = true

	for _, s := range []Stage{HTMLStage{}, CSSStage{}, JSStage{}} {
		t.Run(s.Name(), func(t *testing.T) {
			src := []byte("  /* keep */ <!-- me -->  ")
			out, err := s.Run(src, opts)
			require.NoError(t, err)
			assert.Equal(t, src, out)

			out[0] = 'x'
			assert.Equal(t, byte(' '), src[0])
		})
	}
}

func TestRegistry(t *testing.T) {
	for _, kind := range []manifest.Kind{manifest.KindHTML, manifest.KindCSS, manifest.KindJS} {
		s, ok := ForKind(kind)
		require.True(t, ok)
		assert.Equal(t, kind.String(), s.Name())
	}

	_, ok := ForKind(manifest.KindStaticDir)
	assert.False(t, ok)

	r := NewRegistry()
	r.Register(manifest.KindStaticFile, HTMLStage{})
	_, ok = r.ForKind(manifest.KindStaticFile)
	assert.True(t, ok)
}
