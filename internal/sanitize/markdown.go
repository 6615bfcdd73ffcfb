// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// Markdown translation patterns. Order matters: fenced blocks and inline
// code spans are extracted before the emphasis rules run so markers inside
// code are left alone, and bold must run before italic so "**" is consumed
// first.
var (
	reFencedCode = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9_+#.-]*\n)?(.*?)```")
	reInlineCode = regexp.MustCompile("`([^`\n]+)`")
	reBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	reUnderline  = regexp.MustCompile(`__(.+?)__`)
	reItalic     = regexp.MustCompile(`\*([^*\n]+)\*`)
	reStrike     = regexp.MustCompile(`~~(.+?)~~`)
	reLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)\s]+)\)`)
)

// codeMarker wraps an index into the saved-blocks slice. The marker bytes
// never occur in model output, so restoration cannot collide with content.
const codeMarkerFmt = "\x00chatrelay-code-%d\x00"

var reCodeMarker = regexp.MustCompile("\x00chatrelay-code-([0-9]+)\x00")

// translateMarkdown converts a fixed set of inline Markdown patterns into
// markup tags. This is best-effort textual substitution, not a Markdown
// grammar; nested or ambiguous constructs may not round-trip.
func translateMarkdown(text string) string {
	// Pull fenced blocks and inline code spans out first so the emphasis
	// and link rules cannot fire inside code content.
	var blocks []string
	save := func(markup string) string {
		blocks = append(blocks, markup)
		return fmt.Sprintf(codeMarkerFmt, len(blocks)-1)
	}
	text = reFencedCode.ReplaceAllStringFunc(text, func(m string) string {
		sub := reFencedCode.FindStringSubmatch(m)
		return save("<pre>" + strings.TrimSuffix(sub[1], "\n") + "</pre>")
	})
	text = reInlineCode.ReplaceAllStringFunc(text, func(m string) string {
		sub := reInlineCode.FindStringSubmatch(m)
		return save("<code>" + sub[1] + "</code>")
	})

	text = reBold.ReplaceAllString(text, "<b>$1</b>")
	text = reUnderline.ReplaceAllString(text, "<u>$1</u>")
	text = reItalic.ReplaceAllString(text, "<i>$1</i>")
	text = reStrike.ReplaceAllString(text, "<s>$1</s>")
	text = reLink.ReplaceAllString(text, `<a href="$2">$1</a>`)

	// Restore the saved code markup verbatim.
	text = reCodeMarker.ReplaceAllStringFunc(text, func(m string) string {
		sub := reCodeMarker.FindStringSubmatch(m)
		var idx int
		fmt.Sscanf(sub[1], "%d", &idx)
		if idx < 0 || idx >= len(blocks) {
			return ""
		}
		return blocks[idx]
	})

	return text
}
