package service

import (
	"regexp"
	"strings"
)

// DefaultGreetingPhrases open small-talk turns that need no transcript context.
var DefaultGreetingPhrases = []string{
	"hi", "hello", "hey", "hiya", "howdy", "yo", "greetings",
	"good morning", "good afternoon", "good evening",
	"thanks", "thank you", "thx", "cheers", "bye", "goodbye",
	"how are you", "what's up", "whats up",
}

const DefaultGreetingMaxWords = 6

// questionWords after a greeting turn it into a real question.
var questionWords = map[string]bool{
	"what": true, "why": true, "when": true, "where": true, "who": true, "which": true, "how": true,
}

// GreetingClassifier detects greeting and small-talk questions by prefix match.
type GreetingClassifier struct {
	re       *regexp.Regexp
	maxWords int
}

// NewGreetingClassifier matches questions of at most maxWords words that start with one
// of phrases. An empty phrase list disables detection.
func NewGreetingClassifier(phrases []string, maxWords int) *GreetingClassifier {
	if maxWords <= 0 {
		maxWords = DefaultGreetingMaxWords
	}
	var alts []string
	for _, p := range phrases {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		alts = append(alts, strings.ReplaceAll(regexp.QuoteMeta(p), " ", `\s+`))
	}
	c := &GreetingClassifier{maxWords: maxWords}
	if len(alts) > 0 {
		c.re = regexp.MustCompile(`(?i)^(?:` + strings.Join(alts, "|") + `)(?:[\s,.!?]|$)`)
	}
	return c
}

// IsGreeting reports whether question is small talk. A greeting followed by a wh-question
// ("hi, what is a goroutine?") is not.
func (c *GreetingClassifier) IsGreeting(question string) bool {
	if c == nil || c.re == nil {
		return false
	}
	q := strings.TrimSpace(question)
	if q == "" || len(strings.Fields(q)) > c.maxWords {
		return false
	}
	loc := c.re.FindStringIndex(q)
	if loc == nil {
		return false
	}
	rest := strings.TrimLeft(q[loc[1]:], " \t\n,.!?")
	if rest == "" || c.re.MatchString(rest) {
		return true
	}
	for _, w := range strings.Fields(strings.ToLower(rest)) {
		if questionWords[strings.Trim(w, ",.!?")] {
			return false
		}
	}
	return true
}
