// Package admission decides whether a top-level post states a need.
//
// Classify is a pure function. Rules run in a fixed priority order and the
// first match wins: too short, casual chatter, offers, request keywords or
// questions (accepted), bare action verbs (accepted but uncertain), and a
// final catch-all rejection.
package admission

import (
	"regexp"
	"strings"
)

// Outcome of classifying a message
type Outcome int

const (
	Rejected Outcome = iota
	Accepted
	Uncertain
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Uncertain:
		return "uncertain"
	default:
		return "rejected"
	}
}

// Rejection codes. Reason strings shown to users are looked up from these.
const (
	CodeTooShort  = "too short"
	CodeCasual    = "not an action request"
	CodeOffer     = "states an offer, not a need"
	CodeUnclear   = "message should state a clear need"
	CodeUncertain = "low confidence - needs review"
)

var reasons = map[string]string{
	CodeTooShort: "Message too short. Please describe what you want done.",
	CodeCasual:   `Please post action requests only. Example: "I want to hire a plumber" or "Looking for a tutor"`,
	CodeOffer:    `Please post what you need, not what you offer. Example: "I need a plumber" instead of "I offer plumbing services"`,
	CodeUnclear:  `Your message should clearly state what you want done. Try starting with "I want...", "I need...", or "Looking for..."`,
}

// Verdict is the result of Classify
type Verdict struct {
	Outcome Outcome
	// Code is one of the Code* constants; empty for confident acceptance
	Code string
	// Reason is the user-facing explanation for rejections
	Reason string
}

// Admitted reports whether the message may be stored and broadcast
func (v Verdict) Admitted() bool {
	return v.Outcome != Rejected
}

const minLength = 5

var (
	casualPatterns = compileAll(
		`^hi+$`, `^hello+$`, `^hey+$`, `^good morning$`, `^good evening$`,
		`^how are you`, `^what's up`, `^lol+$`, `^ok+$`, `^thanks+$`,
		`^thank you`, `^bye+$`, `^see you`,
	)

	offerPatterns = compileAll(
		`offering`, `i can (help|fix|repair|build)`, `i (do|offer|provide) `,
		`available for`, `selling`, `for sale`,
	)

	endsWithNeed = regexp.MustCompile(`\s*\b(needed|required)$`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// Request keywords match as substrings, so stems like "getting" or
// "required" count. A trailing "needed"/"required" is stripped before the
// check so that a bare "Plumber needed" lands in the uncertain lane.
var requestKeywords = []string{
	"want", "need", "looking for", "seeking", "hire", "required", "require",
	"help", "assist", "find", "get", "searching for", "in need of",
	"request", "requesting", "could use", "urgently",
}

var questionPhrases = []string{"how can i", "where can i", "who can", "anyone", "can someone"}

var actionVerbs = []string{
	"fix", "repair", "build", "create", "deliver", "install", "design",
	"make", "clean", "paint", "move", "transport", "teach", "maintain",
	"setup", "configure", "service",
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

func reject(code string) Verdict {
	return Verdict{Outcome: Rejected, Code: code, Reason: reasons[code]}
}

// Classify applies the admission policy to a candidate top-level message
func Classify(message string) Verdict {
	trimmed := strings.TrimSpace(message)
	if len([]rune(trimmed)) < minLength {
		return reject(CodeTooShort)
	}

	text := strings.ToLower(trimmed)

	if matchesAny(casualPatterns, text) {
		return reject(CodeCasual)
	}
	if matchesAny(offerPatterns, text) {
		return reject(CodeOffer)
	}
	if containsAny(endsWithNeed.ReplaceAllString(text, ""), requestKeywords) || isQuestion(text) {
		return Verdict{Outcome: Accepted}
	}

	veryShort := len(whitespace.Split(text, -1)) <= 3
	if (containsAny(text, actionVerbs) && veryShort) || endsWithNeed.MatchString(text) {
		return Verdict{Outcome: Uncertain, Code: CodeUncertain}
	}

	return reject(CodeUnclear)
}

func isQuestion(text string) bool {
	if containsAny(text, questionPhrases) {
		return true
	}
	return strings.Contains(text, "?") &&
		(strings.Contains(text, "where") || strings.Contains(text, "who") || strings.Contains(text, "how"))
}

func matchesAny(patterns []*regexp.Regexp, text string) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
