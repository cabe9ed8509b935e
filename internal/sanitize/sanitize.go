// Package sanitize neutralizes prompt-injection vectors in web content
// before it enters an agent's context: hidden Unicode, ANSI escapes, role
// prefixes, and forged content-boundary tags. It also wraps output in
// nonce-tagged boundary markers and scrubs API-key material.
package sanitize

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

const (
	// DefaultTextMaxLen caps short fields (names, titles, metadata values).
	DefaultTextMaxLen = 256
	// DefaultBlockMaxLen caps large content blocks (pruned context).
	DefaultBlockMaxLen = 50_000
)

// Zero-width characters, bidi overrides, interlinear annotations, BOM,
// NUL, and C0/C1 controls. Newline and tab survive here; Text drops
// newlines itself and ContentBlock keeps them.
var controlCharRe = regexp.MustCompile(
	`[\x{200B}-\x{200F}\x{202A}-\x{202E}\x{2060}-\x{2069}\x{FEFF}\x{FFF9}-\x{FFFB}` +
		`\x00-\x08\x0B\x0C\x0E-\x1F\x7F-\x{9F}]`,
)

var ansiEscapeRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// Role prefixes that could smuggle instructions, matched both at line
// start and mid-text as "[SYSTEM: ...]" style fragments.
var rolePrefixRe = regexp.MustCompile(
	`(?i)\[?\s*(?:SYSTEM|ASSISTANT|USER|HUMAN|AI|ADMIN|INSTRUCTION|OVERRIDE|IMPORTANT|IGNORE|HACK|COMMAND)\s*[:\]]\s*`,
)

// Literal boundary tags must never survive inside content, or malicious
// pages could escape the wrapper.
var boundaryTagRe = regexp.MustCompile(`(?i)<\s*/?\s*web_content\w*[^>]*>`)

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// Text sanitizes a short field: strips controls, ANSI, role prefixes, and
// boundary tags, collapses all whitespace to single spaces, and truncates
// to maxLen.
func Text(s string, maxLen int) string {
	if s == "" {
		return s
	}
	if maxLen <= 0 {
		maxLen = DefaultTextMaxLen
	}
	s = ansiEscapeRe.ReplaceAllString(s, "")
	s = controlCharRe.ReplaceAllString(s, "")
	s = strings.NewReplacer("\n", " ", "\r", " ", "\u00A0", " ").Replace(s)
	s = rolePrefixRe.ReplaceAllString(s, "")
	s = boundaryTagRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
	return truncate(s, maxLen)
}

// ContentBlock sanitizes a multi-line block with the same rules as Text
// but preserves newlines, since structure matters for pruned context.
func ContentBlock(s string, maxLen int) string {
	if s == "" {
		return s
	}
	if maxLen <= 0 {
		maxLen = DefaultBlockMaxLen
	}
	s = ansiEscapeRe.ReplaceAllString(s, "")
	s = controlCharRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\u00A0", " ")
	s = rolePrefixRe.ReplaceAllString(s, "")
	s = boundaryTagRe.ReplaceAllString(s, "")
	return truncate(s, maxLen)
}

// AddContentBoundary wraps text in boundary markers whose tag carries a
// random 16-hex-char nonce, so page content cannot forge a closing tag.
// The source URL is attribute-escaped into the opening tag.
func AddContentBoundary(text, sourceURL string) string {
	var buf [8]byte
	_, _ = rand.Read(buf[:])
	tag := "web_content_" + hex.EncodeToString(buf[:])
	text = boundaryTagRe.ReplaceAllString(text, "")
	ts := time.Now().UTC().Format("2006-01-02T15:04:05Z")
	var b strings.Builder
	b.WriteString("<" + tag + ` source="` + escapeAttr(sourceURL) + `" timestamp="` + ts + "\">\n")
	b.WriteString(text)
	b.WriteString("\n</" + tag + ">")
	return b.String()
}

func escapeAttr(v string) string {
	return strings.NewReplacer("&", "&amp;", `"`, "&quot;", "<", "&lt;", ">", "&gt;").Replace(v)
}

// truncate cuts s to at most maxLen bytes without splitting a UTF-8
// codepoint.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
