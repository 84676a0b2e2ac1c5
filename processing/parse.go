package processing

import (
	"html"
	"regexp"
	"strings"
)

// Pre-compiled regular expressions for HTML parsing.
var (
	titleTag          = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	scriptTag         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptTag       = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	headTag           = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	svgTag            = regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`)
	navTag            = regexp.MustCompile(`(?is)<(nav|footer)[^>]*>.*?</(nav|footer)>`)
	htmlComments      = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockElements     = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article|ul|ol)>`)
	openBlockElements = regexp.MustCompile(`(?i)<(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)[^>]*>`)
	brTags            = regexp.MustCompile(`(?i)<br\s*/?>`)
	hrTags            = regexp.MustCompile(`(?i)<hr\s*/?>`)
	allTags           = regexp.MustCompile(`<[^>]+>`)
)

// Markdown and PDF cleanup.
var (
	mdImage       = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink        = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdHeading     = regexp.MustCompile(`(?m)^#{1,6}[ \t]+(.+?)[ \t#]*$`)
	pageNumber    = regexp.MustCompile(`(?mi)^[ \t]*(page[ \t]+)?\d{1,4}([ \t]+of[ \t]+\d{1,4})?[ \t]*$`)
	hyphenBreak   = regexp.MustCompile(`(\pL)-\n[ \t]*(\p{Ll})`)
	softLineBreak = regexp.MustCompile(`([^\n])\n([^\n])`)
)

var ligatures = strings.NewReplacer(
	"ﬀ", "ff",
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
	"ﬅ", "st",
	"ﬆ", "st",
)

// htmlTitle returns the decoded <title> of a page, or "".
func htmlTitle(content string) string {
	matches := titleTag.FindStringSubmatch(content)
	if len(matches) > 1 {
		return strings.TrimSpace(html.UnescapeString(matches[1]))
	}
	return ""
}

// stripHTML removes markup and non-content elements, keeping block
// structure as paragraph breaks.
func stripHTML(content string) string {
	content = scriptTag.ReplaceAllString(content, "")
	content = styleTag.ReplaceAllString(content, "")
	content = noscriptTag.ReplaceAllString(content, "")
	content = headTag.ReplaceAllString(content, "")
	content = svgTag.ReplaceAllString(content, "")
	content = navTag.ReplaceAllString(content, "")
	content = htmlComments.ReplaceAllString(content, "")

	content = openBlockElements.ReplaceAllString(content, "\n\n")
	content = blockElements.ReplaceAllString(content, "\n\n")
	content = brTags.ReplaceAllString(content, "\n")
	content = hrTags.ReplaceAllString(content, "\n\n")

	content = allTags.ReplaceAllString(content, "")
	return html.UnescapeString(content)
}

// cleanMarkdown drops link targets and image URLs, keeping their text.
func cleanMarkdown(content string) string {
	content = htmlComments.ReplaceAllString(content, "")
	content = mdImage.ReplaceAllString(content, "$1")
	return mdLink.ReplaceAllString(content, "$1")
}

// cleanPDFText removes extraction artifacts: form feeds, NUL bytes, page
// number lines, ligatures, hyphenated line breaks, and hard line breaks
// inside paragraphs.
func cleanPDFText(content string) string {
	content = strings.ReplaceAll(content, "\x00", "")
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\f", "\n\n")
	content = ligatures.Replace(content)
	content = pageNumber.ReplaceAllString(content, "")
	content = hyphenBreak.ReplaceAllString(content, "$1$2")
	// Two passes: a match consumes the character after the newline.
	content = softLineBreak.ReplaceAllString(content, "$1 $2")
	return softLineBreak.ReplaceAllString(content, "$1 $2")
}

// heading is a markdown heading at a rune offset of normalized text.
type heading struct {
	offset int
	text   string
}

// markdownHeadings returns the headings of normalized text in order.
func markdownHeadings(text string) []heading {
	var out []heading
	for _, loc := range mdHeading.FindAllStringSubmatchIndex(text, -1) {
		out = append(out, heading{
			offset: len([]rune(text[:loc[0]])),
			text:   text[loc[2]:loc[3]],
		})
	}
	return out
}

// headerAt returns the last heading starting before offset.
func headerAt(headings []heading, offset int) string {
	header := ""
	for _, h := range headings {
		if h.offset > offset {
			break
		}
		header = h.text
	}
	return header
}

const maxTitleRunes = 120

// deriveTitle picks the first non-empty candidate, falling back to the
// first line of text.
func deriveTitle(text string, candidates ...string) string {
	for _, c := range candidates {
		if c = strings.TrimSpace(c); c != "" {
			return c
		}
	}
	line, _, _ := strings.Cut(text, "\n")
	line = strings.TrimSpace(strings.TrimLeft(line, "# "))
	if r := []rune(line); len(r) > maxTitleRunes {
		line = string(r[:maxTitleRunes])
	}
	return line
}
