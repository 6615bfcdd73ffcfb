// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sanitize converts untrusted model output into the strict markup
// subset the chat renderer accepts.
//
// The renderer rejects an entire message on any malformed markup (unclosed
// tags, unknown tags, unknown attributes), so sanitization is conservative
// throughout: disallowed structure is unwrapped rather than deleted, and any
// uncertainty degrades to plain escaped text rather than risking rejection.
//
// Clean is a pure function. It never panics and always returns a non-empty
// string no longer than MaxLength.
package sanitize

import (
	"log"
	"regexp"
	"strings"

	"github.com/jeranaias/chatrelay/internal/util"
)

const (
	// MaxLength is the hard output length bound, in runes.
	MaxLength = 4096

	// truncateTo is the content length when the bound is exceeded; the
	// ellipsis marker is appended on top of it.
	truncateTo = 4090

	// fallbackMaxLen bounds the escape-fallback output.
	fallbackMaxLen = 4000

	// placeholderEmpty is returned for empty or all-whitespace input.
	placeholderEmpty = "No content available"

	// placeholderProcessed is returned when sanitization consumed everything.
	placeholderProcessed = "Content processed but empty"
)

// Structural noise patterns. These are never meaningful in model output and
// are common sources of renderer rejection.
var (
	reComment = regexp.MustCompile(`(?s)<!--.*?-->`)
	reCDATA   = regexp.MustCompile(`(?s)<!\[CDATA\[.*?\]\]>`)
	reProcIns = regexp.MustCompile(`(?s)<\?.*?\?>`)
	reDoctype = regexp.MustCompile(`(?is)<!DOCTYPE[^>]*>`)

	reManyNewlines = regexp.MustCompile(`\n{3,}`)
	reTagScan      = regexp.MustCompile(`<(/?)([a-zA-Z]+)(?:\s[^>]*)?>`)
)

// Clean sanitizes raw model output into renderer-safe markup.
//
// Pipeline: strip structural noise, translate inline Markdown to tags, parse
// tolerantly, enforce the tag and attribute whitelists, serialize, run the
// bluemonday enforcement gate, clean up whitespace, validate, and bound the
// length. Any internal failure falls back to escaped plain text.
func Clean(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return placeholderEmpty
	}

	out, ok := cleanCore(raw)
	if !ok {
		return escapeFallback(raw)
	}

	if strings.TrimSpace(out) == "" {
		return placeholderProcessed
	}
	return bound(out)
}

// cleanCore runs the pre-fallback pipeline. ok=false means the result could
// not be guaranteed safe and the caller must use the escape fallback.
func cleanCore(raw string) (out string, ok bool) {
	// A panic anywhere in the pipeline degrades to the fallback path
	// instead of crashing the caller.
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[sanitize] pipeline panic recovered: %v", r)
			out, ok = "", false
		}
	}()

	text := stripNoise(raw)
	text = translateMarkdown(text)

	text, err := parseAndFilter(text)
	if err != nil {
		return "", false
	}

	// Second enforcement layer with an independent implementation. The
	// input already conforms; this catches anything the walk above missed.
	text = enforcementPolicy.Sanitize(text)

	text = cleanup(text)

	if !validate(text) {
		return "", false
	}
	return text, true
}

// stripNoise removes comments, CDATA sections, processing instructions, and
// doctype declarations.
func stripNoise(text string) string {
	text = reComment.ReplaceAllString(text, "")
	text = reCDATA.ReplaceAllString(text, "")
	text = reProcIns.ReplaceAllString(text, "")
	text = reDoctype.ReplaceAllString(text, "")
	return text
}

// cleanup strips residual noise the translation steps could have
// reconstructed and normalizes whitespace.
func cleanup(text string) string {
	text = stripNoise(text)
	text = util.CollapseSpaces(text)
	text = reManyNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// validate re-scans the serialized result. Residual comment markers or an
// opening whitelist tag without a matching close mean the result cannot be
// trusted; the whole thing is discarded in favor of the fallback.
func validate(text string) bool {
	if strings.Contains(text, "<!--") || strings.Contains(text, "<![CDATA[") {
		return false
	}

	var stack []string
	for _, m := range reTagScan.FindAllStringSubmatch(text, -1) {
		closing := m[1] == "/"
		name := strings.ToLower(m[2])
		if _, known := tagAliases[name]; !known {
			return false
		}
		if !closing {
			stack = append(stack, name)
			continue
		}
		if len(stack) == 0 || stack[len(stack)-1] != name {
			return false
		}
		stack = stack[:len(stack)-1]
	}
	return len(stack) == 0
}

// escapeFallback produces guaranteed-safe plain text from arbitrary input.
func escapeFallback(raw string) string {
	safe := strings.ReplaceAll(raw, "&", "&amp;")
	safe = strings.ReplaceAll(safe, "<", "&lt;")
	safe = strings.ReplaceAll(safe, ">", "&gt;")
	safe = strings.TrimSpace(util.TruncateRunesNoEllipsis(safe, fallbackMaxLen))
	if safe == "" {
		return placeholderEmpty
	}
	return safe
}

// bound enforces the hard output length limit.
func bound(text string) string {
	if util.RuneLen(text) <= MaxLength {
		return text
	}
	return util.TruncateRunes(text, truncateTo+1)
}
