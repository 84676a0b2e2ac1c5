package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"crlf and blanks", "a  b\r\nc\t\td\r\n", "a b\nc d"},
		{"collapse blank lines", "para one\n\n\n\n\npara two", "para one\n\npara two"},
		{"trim lines", "  indented  \n  next ", "indented\nnext"},
		{"control and zero-width", "a\x07b\u200bc\ufeff", "abc"},
		{"invalid utf8", "ok\xffok", "okok"},
		{"whitespace only", " \n\t \n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestStripHTML(t *testing.T) {
	page := `<html><head><title>Quality &amp; Safety</title><style>p{}</style></head>
<body><nav>Home | About</nav><script>var x = 1;</script>
<h1>Audits</h1><p>Audits follow <b>ISO-9001</b>.</p><!-- hidden -->
<ul><li>First</li><li>Second</li></ul><footer>(c) 2025</footer></body></html>`

	assert.Equal(t, "Quality & Safety", htmlTitle(page))

	text := Normalize(stripHTML(page))
	assert.Equal(t, "Audits\n\nAudits follow ISO-9001.\n\nFirst\n\nSecond", text)
}

func TestCleanMarkdown(t *testing.T) {
	in := "See [the guide](https://example.com/guide) and ![diagram](d.png).<!-- note -->"
	assert.Equal(t, "See the guide and diagram.", cleanMarkdown(in))
}

func TestCleanPDFText(t *testing.T) {
	in := "The certi\ufb01cation pro-\ncess requires an\naudit.\n\nPage 3 of 10\n\fNext section starts\nhere."
	got := Normalize(cleanPDFText(in))
	assert.Equal(t, "The certification process requires an audit.\n\nNext section starts here.", got)
}

func TestMarkdownHeadings(t *testing.T) {
	text := "# Manual\n\nIntro.\n\n## Scope ##\n\nBody é text.\n\n### Terms"
	hs := markdownHeadings(text)
	assert.Equal(t, []heading{
		{offset: 0, text: "Manual"},
		{offset: 18, text: "Scope"},
		{offset: 45, text: "Terms"},
	}, hs)

	assert.Equal(t, "", headerAt(nil, 5))
	assert.Equal(t, "Manual", headerAt(hs, 5))
	assert.Equal(t, "Scope", headerAt(hs, 30))
	assert.Equal(t, "Scope", headerAt(hs, 44))
	assert.Equal(t, "Terms", headerAt(hs, 45))
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "Given", deriveTitle("# Heading\nbody", "Given", "Page"))
	assert.Equal(t, "Page", deriveTitle("body", "", "Page"))
	assert.Equal(t, "Heading", deriveTitle("# Heading\nbody", "", ""))
	assert.Equal(t, "first line", deriveTitle("first line\nsecond", ""))
	long := deriveTitle(repeatRune('a', 200))
	assert.Len(t, []rune(long), maxTitleRunes)
}

func repeatRune(r rune, n int) string {
	out := make([]rune, n)
	for i := range out {
		out[i] = r
	}
	return string(out)
}
