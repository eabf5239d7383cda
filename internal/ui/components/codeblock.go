// Copyright (c) 2025 EnablerDAO
// SPDX-License-Identifier: AGPL-3.0-or-later

package components

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
)

// =============================================================================
// SYNTAX HIGHLIGHTING (Chroma-based)
// =============================================================================

// HighlightCode applies terminal syntax highlighting to code. An unknown
// language is guessed from the code; on any failure the code is returned
// unchanged.
func HighlightCode(code, language string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}

// CodeBlock is a fenced block found in a reply.
type CodeBlock struct {
	Language string
	Code     string
}

// Segment is a run of prose or a code block.
type Segment struct {
	Text  string
	Block *CodeBlock
}

// SplitCodeBlocks splits markdown text into prose and ``` fenced blocks. An
// unterminated fence runs to the end of the text.
func SplitCodeBlocks(text string) []Segment {
	var (
		segs  []Segment
		prose strings.Builder
		code  strings.Builder
		block *CodeBlock
	)
	flushProse := func() {
		if prose.Len() > 0 {
			segs = append(segs, Segment{Text: prose.String()})
			prose.Reset()
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if block == nil {
				flushProse()
				block = &CodeBlock{Language: strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))}
				continue
			}
			block.Code = code.String()
			segs = append(segs, Segment{Block: block})
			block = nil
			code.Reset()
			continue
		}
		if block != nil {
			code.WriteString(line)
		} else {
			prose.WriteString(line)
		}
	}
	if block != nil {
		block.Code = code.String()
		segs = append(segs, Segment{Block: block})
	}
	flushProse()
	return segs
}

// HighlightBlocks returns text with every fenced block highlighted and its
// fences removed. Prose is left as is.
func HighlightBlocks(text string) string {
	var b strings.Builder
	for _, seg := range SplitCodeBlocks(text) {
		if seg.Block == nil {
			b.WriteString(seg.Text)
			continue
		}
		b.WriteString(HighlightCode(seg.Block.Code, seg.Block.Language))
		if !strings.HasSuffix(seg.Block.Code, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}
