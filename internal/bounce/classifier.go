// Package bounce maps relay error text and SMTP-style codes to a hard/soft
// bounce taxonomy. All the delivery paths that used to string-match relay
// errors inline go through this one rule table instead.
package bounce

import (
	"strconv"
	"strings"
)

const (
	KindHard = "hard"
	KindSoft = "soft"
)

// Classification carries the bounce kind plus how strong the matching
// signal was.
type Classification struct {
	Kind       string
	Confidence float64
}

// Keyword tables are matched case-insensitively against the error text.
var hardKeywords = []string{
	"user unknown",
	"no such user",
	"mailbox not found",
	"mailbox unavailable",
	"address rejected",
	"does not exist",
	"invalid recipient",
	"recipient rejected",
	"unknown recipient",
	"account disabled",
	"no mailbox",
}

var softKeywords = []string{
	"mailbox full",
	"quota exceeded",
	"over quota",
	"temporarily unavailable",
	"temporary failure",
	"try again later",
	"greylisted",
	"greylist",
	"too many connections",
	"rate limited",
	"connection timed out",
}

// Classify maps a relay failure to a bounce kind. Precedence: an explicit
// numeric code wins over keywords; when both keyword sets match, hard wins
// (a permanent classification is the safer default because it halts future
// sends to a clearly bad address). Unmatched failures default to hard for
// the same reason. Pass code 0 when the relay supplied none; a leading
// SMTP code in the text is picked up instead.
func Classify(text string, code int) Classification {
	if code == 0 {
		code = leadingCode(text)
	}

	switch {
	case code >= 550 && code <= 554:
		return Classification{Kind: KindHard, Confidence: 0.9}
	case code == 421 || (code >= 450 && code <= 452):
		return Classification{Kind: KindSoft, Confidence: 0.9}
	}

	lower := strings.ToLower(text)
	hard := matchesAny(lower, hardKeywords)
	soft := matchesAny(lower, softKeywords)

	switch {
	case hard:
		return Classification{Kind: KindHard, Confidence: 0.8}
	case soft:
		return Classification{Kind: KindSoft, Confidence: 0.7}
	}

	// Unknown failures are treated as undeliverable rather than retried
	// forever.
	return Classification{Kind: KindHard, Confidence: 0.5}
}

func matchesAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// leadingCode extracts a three-digit SMTP reply code from the start of the
// error text, e.g. "550 5.1.1 User unknown" -> 550.
func leadingCode(text string) int {
	s := strings.TrimSpace(text)
	if len(s) < 3 {
		return 0
	}
	code, err := strconv.Atoi(s[:3])
	if err != nil {
		return 0
	}
	if len(s) > 3 && s[3] != ' ' && s[3] != '-' {
		return 0
	}
	return code
}
