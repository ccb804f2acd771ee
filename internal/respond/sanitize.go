package respond

import (
	"regexp"
	"strings"
)

var (
	thinkBlockRe     = regexp.MustCompile(`(?is)<(think|reasoning)>.*?</(think|reasoning)>`)
	thinkOpenRe      = regexp.MustCompile(`(?is)<(think|reasoning)>.*$`)
	resourceLineRe   = regexp.MustCompile(`(?im)^[ \t]*(Link|Vídeo|Video)[ \t]*:.*(\n|$)`)
	markdownLinkRe   = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bareURLRe        = regexp.MustCompile(`https?://[^\s<>"]+`)
	excessNewlinesRe = regexp.MustCompile(`\n{3,}`)
)

// Sanitize strips model reasoning artifacts and external links from a
// response before it reaches the user. It is safe to call on a partial
// stream buffer: an unclosed reasoning tag drops everything after it, and
// leading or trailing whitespace is preserved so chunk boundaries survive.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	out := thinkBlockRe.ReplaceAllString(text, "")
	out = thinkOpenRe.ReplaceAllString(out, "")
	out = markdownLinkRe.ReplaceAllString(out, "$1")
	out = resourceLineRe.ReplaceAllString(out, "")
	out = bareURLRe.ReplaceAllString(out, "")
	out = excessNewlinesRe.ReplaceAllString(out, "\n\n")
	return out
}

// SanitizeFinal additionally trims the surrounding whitespace. Used for the
// authoritative last edit of a streamed reply and for single-shot replies.
func SanitizeFinal(text string) string {
	return strings.TrimSpace(Sanitize(text))
}
