// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"github.com/enablerdao/ChirAI/internal/model"
)

// =============================================================================
// HTML EXPORT
// =============================================================================

var (
	fencedBlock = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\n(.*?)```")
	inlineCode  = regexp.MustCompile("`([^`\n]+)`")
)

// ExportHTML renders conv as a standalone HTML page with inline styles.
// Fenced code blocks are syntax highlighted; everything else is escaped.
func ExportHTML(conv *model.Conversation) string {
	title := conv.Title()
	if title == "" {
		title = conv.ID
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("<meta charset=\"UTF-8\">\n")
	sb.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	sb.WriteString("<meta name=\"generator\" content=\"chirai\">\n")
	fmt.Fprintf(&sb, "<title>%s</title>\n", html.EscapeString(title))
	sb.WriteString(htmlStyle)
	sb.WriteString("</head>\n<body>\n<div class=\"container\">\n")

	sb.WriteString("<header>\n")
	fmt.Fprintf(&sb, "<h1>%s</h1>\n", html.EscapeString(title))
	fmt.Fprintf(&sb, "<p class=\"meta\"><strong>Model:</strong> %s &middot; <strong>Created:</strong> %s &middot; <strong>Messages:</strong> %d</p>\n",
		html.EscapeString(conv.Model), conv.CreatedAt.Format(time.RFC1123), len(conv.Messages))
	sb.WriteString("</header>\n<main>\n")

	for _, msg := range conv.Messages {
		class := string(msg.Role)
		if msg.IsError() {
			class = "error"
		}
		fmt.Fprintf(&sb, "<div class=\"message %s\">\n", class)
		fmt.Fprintf(&sb, "<div class=\"head\"><span class=\"role\">%s</span> <span class=\"time\">%s</span></div>\n",
			html.EscapeString(msg.Role.DisplayName()), msg.Timestamp.Format("2006-01-02 15:04"))
		sb.WriteString("<div class=\"content\">\n")
		sb.WriteString(formatHTMLContent(msg.Content))
		sb.WriteString("</div>\n")
		if meta := msg.Metadata; meta != nil && meta.ResponseTime > 0 {
			fmt.Fprintf(&sb, "<div class=\"stats\">%s", meta.ResponseTime.Round(time.Millisecond))
			if meta.Cached {
				sb.WriteString(" &middot; cached")
			}
			sb.WriteString("</div>\n")
		}
		sb.WriteString("</div>\n")
	}

	sb.WriteString("</main>\n</div>\n</body>\n</html>\n")
	return sb.String()
}

// formatHTMLContent turns message text into paragraphs and highlighted code.
func formatHTMLContent(content string) string {
	var sb strings.Builder
	rest := content
	for {
		loc := fencedBlock.FindStringSubmatchIndex(rest)
		if loc == nil {
			sb.WriteString(paragraphs(rest))
			break
		}
		sb.WriteString(paragraphs(rest[:loc[0]]))
		sb.WriteString(highlightHTML(rest[loc[2]:loc[3]], rest[loc[4]:loc[5]]))
		rest = rest[loc[1]:]
	}
	return sb.String()
}

func paragraphs(text string) string {
	var sb strings.Builder
	for _, para := range strings.Split(strings.TrimSpace(text), "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		escaped := html.EscapeString(para)
		escaped = inlineCode.ReplaceAllString(escaped, "<code>$1</code>")
		escaped = strings.ReplaceAll(escaped, "\n", "<br>\n")
		sb.WriteString("<p>" + escaped + "</p>\n")
	}
	return sb.String()
}

// highlightHTML renders one code block. Unknown languages are escaped as
// plain text.
func highlightHTML(lang, code string) string {
	code = strings.TrimRight(code, "\n")
	lexer := lexers.Get(lang)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		return plainCode(lang, code)
	}
	lexer = chroma.Coalesce(lexer)

	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
	}
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return plainCode(lang, code)
	}
	var sb strings.Builder
	sb.WriteString("<div class=\"code\">")
	if lang != "" {
		fmt.Fprintf(&sb, "<div class=\"lang\">%s</div>", html.EscapeString(lang))
	}
	if err := chromahtml.New(chromahtml.TabWidth(4)).Format(&sb, style, iterator); err != nil {
		return plainCode(lang, code)
	}
	sb.WriteString("</div>\n")
	return sb.String()
}

func plainCode(lang, code string) string {
	label := ""
	if lang != "" {
		label = fmt.Sprintf("<div class=\"lang\">%s</div>", html.EscapeString(lang))
	}
	return fmt.Sprintf("<div class=\"code\">%s<pre><code>%s</code></pre></div>\n", label, html.EscapeString(code))
}

const htmlStyle = `<style>
body { margin: 0; background: #1a1b26; color: #c0caf5; font-family: -apple-system, "Segoe UI", Roboto, sans-serif; line-height: 1.6; }
.container { max-width: 900px; margin: 0 auto; padding: 2rem 1rem; }
header { border-bottom: 1px solid #414868; margin-bottom: 1.5rem; }
h1 { color: #7aa2f7; font-size: 1.6rem; }
.meta { color: #565f89; font-size: 0.9rem; }
.message { background: #24283b; border-left: 3px solid #414868; border-radius: 6px; margin: 1rem 0; padding: 0.75rem 1rem; }
.message.user { background: #1f2335; border-left-color: #7aa2f7; }
.message.assistant { border-left-color: #9ece6a; }
.message.system { border-left-color: #bb9af7; }
.message.error { border-left-color: #f7768e; }
.head { font-size: 0.85rem; margin-bottom: 0.4rem; }
.role { font-weight: 600; }
.time, .stats { color: #565f89; }
.stats { font-size: 0.8rem; margin-top: 0.4rem; }
code { font-family: "SF Mono", Monaco, "Fira Code", monospace; }
p code { background: #414868; border-radius: 3px; padding: 0 0.3em; }
.code { margin: 0.6rem 0; border-radius: 6px; overflow-x: auto; }
.code pre { margin: 0; padding: 0.8rem; }
.lang { color: #565f89; font-size: 0.75rem; padding: 0.2rem 0.8rem; }
</style>
`
