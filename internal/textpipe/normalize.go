// Package textpipe implements the three fixed text-processing stages
// applied to a transcription before it is returned to the host:
// normalize, macro expand, replacement rules (§4.8). Stage 1's regexes
// are ported from the original sidecar's postprocess.py.
package textpipe

import (
	"regexp"
	"strings"
)

var (
	unicodeSpaceRe       = regexp.MustCompile(`[\x{00a0}\x{2000}-\x{200a}\x{202f}\x{205f}\x{3000}]`)
	multiSpaceRe         = regexp.MustCompile(`\s+`)
	spaceBeforePunctRe   = regexp.MustCompile(` ([,.!?;:])`)
	sentenceEndUpperRe   = regexp.MustCompile(`([.!?])([A-Z])`)
	excessDotsRe         = regexp.MustCompile(`\.{4,}`)
	excessBangRe         = regexp.MustCompile(`!{2,}`)
	excessQuestionRe     = regexp.MustCompile(`\?{2,}`)
)

// NormalizeWhitespace maps ASCII whitespace and the Unicode space
// characters listed in unicodeSpaceRe to a single ASCII space,
// collapses runs, and trims the result.
func NormalizeWhitespace(text string) string {
	text = unicodeSpaceRe.ReplaceAllString(text, " ")
	text = multiSpaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// FixASRArtifacts removes space before punctuation, inserts a space
// after a sentence-ender before an uppercase letter, and clamps runs of
// "!", "?", and "." to the bounds the original emits.
func FixASRArtifacts(text string) string {
	text = spaceBeforePunctRe.ReplaceAllString(text, "$1")
	text = sentenceEndUpperRe.ReplaceAllString(text, "$1 $2")
	text = excessDotsRe.ReplaceAllString(text, "...")
	text = excessBangRe.ReplaceAllString(text, "!")
	text = excessQuestionRe.ReplaceAllString(text, "?")
	return text
}

// Normalize runs whitespace normalization, artifact fixing, then
// whitespace normalization again — stage 1 of the text pipeline.
func Normalize(text string) string {
	text = NormalizeWhitespace(text)
	text = FixASRArtifacts(text)
	text = NormalizeWhitespace(text)
	return text
}
