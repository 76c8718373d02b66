/**
 * internal/transform/html.go
 * HTML 压缩
 *
 * 功能：
 * - 删除注释
 * - 折叠空白（保留 pre/script/style/textarea 等内部内容）
 * - 删除空属性和冗余属性（type="text/javascript" 等）
 * - 属性、class 排序
 * - 删除可省略的标签（</p>、</li>、<html>、<body> 等）
 *
 * 不处理内联的 CSS/JS，它们原样保留。
 *
 * 依赖：
 * - golang.org/x/net/html (Tokenizer)
 */

package transform

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// HTMLStage HTML 压缩阶段
type HTMLStage struct{}

// Name 阶段名称
func (HTMLStage) Name() string { return "HTML" }

// htmlToken 压缩过程中的中间 token
type htmlToken struct {
	kind     html.TokenType
	name     string // 标签名（小写）
	attrs    []html.Attribute
	text     string // 文本/注释/doctype 内容（文本为原始字节，实体不解码）
	verbatim bool   // 原样输出的文本
}

// ====================  元素分类 ====================

// rawTextTags 内容不按 HTML 解析的元素
var rawTextTags = setOf("iframe", "noembed", "noframes", "noscript", "plaintext", "script", "style", "textarea", "title", "xmp")

// voidElements 无结束标签的元素
var voidElements = setOf("area", "base", "br", "col", "embed", "hr", "img", "input", "keygen", "link", "meta", "param", "source", "track", "wbr")

// inlineTags 两侧空白有意义的元素
// 不在此列表的元素视为块级，与其相邻的空白会被删除
var inlineTags = setOf(
	"a", "abbr", "acronym", "audio", "b", "bdi", "bdo", "big", "br", "button", "canvas", "cite", "code",
	"data", "del", "dfn", "em", "embed", "font", "i", "iframe", "img", "input", "ins", "kbd", "label",
	"map", "mark", "math", "meter", "nobr", "noscript", "object", "output", "picture", "progress", "q",
	"rp", "rt", "ruby", "s", "samp", "script", "select", "small", "span", "strike", "strong", "sub",
	"sup", "svg", "textarea", "time", "tt", "u", "var", "video", "wbr",
)

// pClosers 会隐式关闭 <p> 的开始标签
var pClosers = setOf(
	"address", "article", "aside", "blockquote", "details", "dialog", "div", "dl", "fieldset",
	"figcaption", "figure", "footer", "form", "h1", "h2", "h3", "h4", "h5", "h6", "header", "hgroup",
	"hr", "main", "menu", "nav", "ol", "p", "pre", "search", "section", "table", "ul",
)

// pKeepParents 父元素为这些时不能省略 </p>
var pKeepParents = setOf("a", "audio", "del", "ins", "map", "noscript", "video")

// headContent 可以出现在 <head> 中的元素（省略 </head>、<body> 时不能紧跟它们）
var headContent = setOf("base", "basefont", "bgsound", "link", "meta", "noframes", "noscript", "script", "style", "template", "title")

// emptyDroppable 值为空时可删除的属性
var emptyDroppable = setOf("class", "id", "style", "title", "lang", "dir")

// redundantAttrs 默认值属性（标签 -> 属性 -> 默认值）
var redundantAttrs = map[string]map[string]string{
	"script": {"type": "text/javascript", "language": "javascript"},
	"style":  {"type": "text/css"},
	"link":   {"type": "text/css"},
	"form":   {"method": "get"},
	"input":  {"type": "text"},
	"area":   {"shape": "rect"},
}

// ====================  压缩入口 ====================

// Run 压缩 HTML
func (s HTMLStage) Run(src []byte, opts Options) ([]byte, error) {
	if opts.Dev {
		return passthrough(src), nil
	}

	if !utf8.Valid(src) {
		return nil, &Error{Stage: s.Name(), Source: opts.SourceName, Diagnostics: []string{"input is not valid UTF-8"}}
	}

	toks, err := tokenizeHTML(src, opts)
	if err != nil {
		return nil, &Error{Stage: s.Name(), Source: opts.SourceName, Diagnostics: []string{err.Error()}}
	}

	if opts.CollapseWhitespace {
		toks = collapseWhitespace(toks)
	}

	var drop []bool
	if opts.RemoveOptionalTags {
		drop = optionalTags(toks)
	}

	var buf bytes.Buffer
	buf.Grow(len(src))
	for i, t := range toks {
		if drop != nil && drop[i] {
			continue
		}
		renderToken(&buf, t)
	}

	return notLarger(src, buf.Bytes()), nil
}

// ====================  第一遍：分词 ====================

// tokenizeHTML 分词并规范化属性
// 删除注释后相邻的文本会被合并
func tokenizeHTML(src []byte, opts Options) ([]htmlToken, error) {
	z := html.NewTokenizer(bytes.NewReader(src))

	var toks []htmlToken
	preDepth := 0
	rawNext := false

	for {
		tt := z.Next()

		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return toks, nil
			}
			return nil, z.Err()

		case html.TextToken:
			// Raw 必须在 Token/Text 之前读取并复制
			text := string(z.Raw())
			verbatim := rawNext || preDepth > 0
			if n := len(toks); n > 0 && toks[n-1].kind == html.TextToken && toks[n-1].verbatim == verbatim && !rawNext {
				toks[n-1].text += text
			} else {
				toks = append(toks, htmlToken{kind: tt, text: text, verbatim: verbatim})
			}
			rawNext = false

		case html.CommentToken:
			if !opts.RemoveComments {
				toks = append(toks, htmlToken{kind: tt, text: z.Token().Data})
			}

		case html.DoctypeToken:
			toks = append(toks, htmlToken{kind: tt, text: z.Token().Data})

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			toks = append(toks, htmlToken{
				kind:  tt,
				name:  tok.Data,
				attrs: normalizeAttrs(tok.Data, tok.Attr, opts),
			})
			if tt == html.StartTagToken && tok.Data == "pre" {
				preDepth++
			}
			rawNext = rawTextTags[tok.Data]

		case html.EndTagToken:
			tok := z.Token()
			toks = append(toks, htmlToken{kind: tt, name: tok.Data})
			if tok.Data == "pre" && preDepth > 0 {
				preDepth--
			}
			rawNext = false
		}
	}
}

// normalizeAttrs 属性规范化
// 重复属性保留第一个（与浏览器一致）
func normalizeAttrs(tag string, attrs []html.Attribute, opts Options) []html.Attribute {
	if len(attrs) == 0 {
		return nil
	}

	out := make([]html.Attribute, 0, len(attrs))
	seen := make(map[string]bool, len(attrs))

	for _, a := range attrs {
		key := a.Key
		if seen[key] {
			continue
		}
		seen[key] = true

		val := a.Val
		if key == "class" {
			val = normalizeClass(val, opts.SortClassName)
		}

		if strings.TrimSpace(val) == "" && (emptyDroppable[key] || strings.HasPrefix(key, "on")) {
			continue
		}
		if def, ok := redundantAttrs[tag][key]; ok && strings.EqualFold(strings.TrimSpace(val), def) {
			continue
		}

		out = append(out, html.Attribute{Key: key, Val: val})
	}

	if opts.SortAttributes {
		slices.SortStableFunc(out, func(a, b html.Attribute) int {
			return strings.Compare(a.Key, b.Key)
		})
	}

	return out
}

// normalizeClass 折叠 class 空白，可选排序去重
func normalizeClass(val string, sortNames bool) string {
	names := strings.Fields(val)
	if sortNames {
		slices.Sort(names)
		names = slices.Compact(names)
	}
	return strings.Join(names, " ")
}

// ====================  第二遍：空白 ====================

// collapseWhitespace 折叠空白
// 连续空白变为一个空格；与块级元素或文档边界相邻的一侧去掉空白；
// 折叠后为空的文本删除
func collapseWhitespace(toks []htmlToken) []htmlToken {
	out := make([]htmlToken, 0, len(toks))

	for i, t := range toks {
		if t.kind != html.TextToken || t.verbatim {
			out = append(out, t)
			continue
		}

		text := collapseSpaces(t.text)
		if i == 0 || !keepsSpace(toks[i-1]) {
			text = strings.TrimLeft(text, " ")
		}
		if i == len(toks)-1 || !keepsSpace(toks[i+1]) {
			text = strings.TrimRight(text, " ")
		}
		if text == "" {
			continue
		}

		t.text = text
		out = append(out, t)
	}

	return out
}

// keepsSpace 相邻空白是否需要保留
func keepsSpace(t htmlToken) bool {
	switch t.kind {
	case html.CommentToken:
		return true
	case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
		return inlineTags[t.name]
	default:
		return false
	}
}

// collapseSpaces 将连续 ASCII 空白替换为一个空格
func collapseSpaces(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inSpace := false
	for i := 0; i < len(s); i++ {
		if isHTMLSpace(s[i]) {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		b.WriteByte(s[i])
		inSpace = false
	}

	return b.String()
}

func isHTMLSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

// ====================  第三遍：可省略标签 ====================

// optionalTags 标记可以省略的标签
// 规则按 HTML 标准的标签省略条件，判断依据为下一个 token 和父元素
func optionalTags(toks []htmlToken) []bool {
	drop := make([]bool, len(toks))
	var stack []string

	for i, t := range toks {
		var next *htmlToken
		if i+1 < len(toks) {
			next = &toks[i+1]
		}

		switch t.kind {
		case html.StartTagToken:
			drop[i] = omitStartTag(t, next)
			if !voidElements[t.name] {
				stack = append(stack, t.name)
			}

		case html.EndTagToken:
			stack = popElement(stack, t.name)
			parent := ""
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			}
			drop[i] = omitEndTag(t.name, parent, next)
		}
	}

	return drop
}

// omitStartTag 开始标签是否可省略（仅无属性的 html/head/body）
func omitStartTag(t htmlToken, next *htmlToken) bool {
	if len(t.attrs) > 0 {
		return false
	}

	switch t.name {
	case "html":
		return next == nil || next.kind != html.CommentToken
	case "head":
		return next != nil && (isStartTag(next) || isEndTag(next, "head"))
	case "body":
		if next == nil {
			return true
		}
		switch {
		case next.kind == html.CommentToken:
			return false
		case next.kind == html.TextToken:
			return next.text != "" && !isHTMLSpace(next.text[0])
		case isStartTag(next):
			return !headContent[next.name]
		}
		return true
	}

	return false
}

// omitEndTag 结束标签是否可省略
func omitEndTag(name, parent string, next *htmlToken) bool {
	switch name {
	case "html", "body":
		return next == nil || next.kind != html.CommentToken
	case "head":
		if next == nil {
			return true
		}
		switch {
		case next.kind == html.TextToken:
			return next.text != "" && !isHTMLSpace(next.text[0])
		case isStartTag(next):
			return !headContent[next.name]
		}
		return next.kind == html.EndTagToken
	case "p":
		if pKeepParents[parent] {
			return false
		}
		if next != nil && isStartTag(next) {
			return pClosers[next.name]
		}
		return endsParent(next, parent)
	case "li":
		return startsWith(next, "li") || endsParent(next, parent)
	case "dt":
		return startsWith(next, "dt", "dd")
	case "dd":
		return startsWith(next, "dd", "dt") || endsParent(next, parent)
	case "option":
		return startsWith(next, "option", "optgroup", "hr") || endsParent(next, parent)
	case "optgroup":
		return startsWith(next, "optgroup", "hr") || endsParent(next, parent)
	case "thead":
		return startsWith(next, "tbody", "tfoot")
	case "tbody":
		return startsWith(next, "tbody", "tfoot") || endsParent(next, parent)
	case "tfoot":
		return endsParent(next, parent)
	case "tr":
		return startsWith(next, "tr") || endsParent(next, parent)
	case "td", "th":
		return startsWith(next, "td", "th") || endsParent(next, parent)
	}

	return false
}

// endsParent 下一个 token 是否结束父元素（或文档结束）
func endsParent(next *htmlToken, parent string) bool {
	if next == nil {
		return true
	}
	if next.kind != html.EndTagToken {
		return false
	}
	if parent == "" {
		return next.name == "body" || next.name == "html"
	}
	return next.name == parent
}

func startsWith(next *htmlToken, names ...string) bool {
	return next != nil && isStartTag(next) && slices.Contains(names, next.name)
}

func isStartTag(t *htmlToken) bool {
	return t.kind == html.StartTagToken || t.kind == html.SelfClosingTagToken
}

func isEndTag(t *htmlToken, name string) bool {
	return t.kind == html.EndTagToken && t.name == name
}

// popElement 弹出到匹配的元素为止；栈中没有时不变
func popElement(stack []string, name string) []string {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == name {
			return stack[:i]
		}
	}
	return stack
}

// ====================  输出 ====================

func renderToken(buf *bytes.Buffer, t htmlToken) {
	switch t.kind {
	case html.TextToken:
		buf.WriteString(t.text)

	case html.CommentToken:
		buf.WriteString("<!--")
		buf.WriteString(t.text)
		buf.WriteString("-->")

	case html.DoctypeToken:
		if strings.EqualFold(t.text, "html") {
			buf.WriteString("<!doctype html>")
			return
		}
		buf.WriteString("<!DOCTYPE ")
		buf.WriteString(t.text)
		buf.WriteByte('>')

	case html.StartTagToken, html.SelfClosingTagToken:
		buf.WriteByte('<')
		buf.WriteString(t.name)
		unquoted := false
		for _, a := range t.attrs {
			buf.WriteByte(' ')
			buf.WriteString(a.Key)
			unquoted = false
			if a.Val != "" {
				buf.WriteByte('=')
				unquoted = writeAttrValue(buf, a.Val)
			}
		}
		if t.kind == html.SelfClosingTagToken && !voidElements[t.name] {
			// 无引号属性值会吞掉紧跟的 /
			if unquoted {
				buf.WriteByte(' ')
			}
			buf.WriteByte('/')
		}
		buf.WriteByte('>')

	case html.EndTagToken:
		buf.WriteString("</")
		buf.WriteString(t.name)
		buf.WriteByte('>')
	}
}

// writeAttrValue 写出属性值，选择不需要转义的最短形式
// 返回值表示是否写成了无引号形式
func writeAttrValue(buf *bytes.Buffer, v string) bool {
	v = escapeAmpersands(v)
	if canUnquote(v) {
		buf.WriteString(v)
		return true
	}

	quote, entity := byte('"'), "&#34;"
	if dq := strings.Count(v, `"`); dq > 0 && strings.Count(v, "'") < dq {
		quote, entity = '\'', "&#39;"
	}

	buf.WriteByte(quote)
	for i := 0; i < len(v); i++ {
		if v[i] == quote {
			buf.WriteString(entity)
			continue
		}
		buf.WriteByte(v[i])
	}
	buf.WriteByte(quote)
	return false
}

// canUnquote 属性值可以不加引号
// 以 / 结尾的值会被分词器当作自闭合标记
func canUnquote(v string) bool {
	if v == "" || strings.HasSuffix(v, "/") {
		return false
	}
	return !strings.ContainsAny(v, " \t\n\f\r\"'=<>`")
}

// escapeAmpersands 只转义会被解析为字符引用的 &
func escapeAmpersands(v string) string {
	if !strings.Contains(v, "&") {
		return v
	}

	var b strings.Builder
	b.Grow(len(v) + 8)
	for i := 0; i < len(v); i++ {
		if v[i] == '&' && isAmbiguousRef(v[i:]) {
			b.WriteString("&amp;")
			continue
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

// isAmbiguousRef s 以 & 开头，判断其后内容是否构成字符引用
func isAmbiguousRef(s string) bool {
	if len(s) < 2 {
		return false
	}
	if s[1] == '#' {
		return true
	}

	end := 1
	for end < len(s) && isAlnum(s[end]) {
		end++
	}
	if end == 1 {
		return false
	}
	if end < len(s) && s[end] == ';' {
		end++
	}
	return html.UnescapeString(s[:end]) != s[:end]
}

func isAlnum(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

func setOf(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}
