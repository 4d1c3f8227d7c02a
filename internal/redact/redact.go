// Package redact masks personal data in candidate transcripts before they
// leave the service on the event bus.
package redact

import "regexp"

type rule struct {
	pattern *regexp.Regexp
	marker  string
}

// Order matters: credentialed URLs would otherwise match the email rule and
// card numbers the phone rule.
var rules = []rule{
	{regexp.MustCompile(`https?://[^\s/:@]+:[^\s/@]+@\S+`), "[url]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[email]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[card]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[ssn]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[phone]"},
}

// Text returns text with emails, credentialed URLs, card numbers, SSNs and
// phone numbers replaced by markers, and how many replacements were made.
func Text(text string) (string, int) {
	n := 0
	for _, r := range rules {
		text = r.pattern.ReplaceAllStringFunc(text, func(string) string {
			n++
			return r.marker
		})
	}
	return text, n
}
