// Package classify decides whether an inbound message is casual chat or
// a work directive. Tier 1 is a pure rule table; tier 2 asks the lead
// session, under the session lock, for ambiguous messages.
package classify

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
)

// Verdict is a classification outcome.
type Verdict string

const (
	Chat      Verdict = "chat"
	Brief     Verdict = "brief"
	Ambiguous Verdict = "ambiguous" // tier 1 only
)

// Rules is the tier-1 policy table. The zero value of a threshold falls
// back to the default.
type Rules struct {
	EmojiMaxWords      int
	LongMessageWords   int
	ChatPrefixMaxWords int
	QuestionMaxWords   int

	WorkVerbs  []string
	ChatTokens []string
	// Urgency phrases match on word boundaries anywhere in the text.
	Urgency []string
	// Delegation holds regular expressions over the lowercased text.
	Delegation []string
}

// DefaultRules returns the built-in rule table.
func DefaultRules() Rules {
	return Rules{
		EmojiMaxWords:      2,
		LongMessageWords:   100,
		ChatPrefixMaxWords: 15,
		QuestionMaxWords:   10,
		WorkVerbs: []string{
			"build", "write", "draft", "fix", "deploy", "create", "implement",
			"design", "prepare", "compile", "send", "launch", "ship", "research",
			"analyze", "analyse", "refactor", "plan", "schedule", "publish",
			"generate", "investigate", "audit", "migrate", "hire", "organize",
			"produce", "develop", "set", "setup", "add", "remove", "update",
			"review", "summarize", "document", "test", "release", "make",
		},
		ChatTokens: []string{
			"hi", "hey", "hello", "yo", "sup", "hiya", "howdy", "morning", "gm",
			"thanks", "thank", "thx", "ty", "cheers", "ok", "okay", "k", "cool",
			"nice", "great", "awesome", "lol", "haha", "yes", "yeah", "yep",
			"no", "nope", "sure", "wow", "hmm", "np", "good", "sounds", "got",
		},
		Urgency: []string{
			"asap", "urgent", "urgently", "deadline", "today", "tonight",
			"tomorrow", "eod", "eow", "end of day", "end of week", "by noon",
			"this week", "next week", "this month", "next month",
			"monday", "tuesday", "wednesday", "thursday", "friday",
			"saturday", "sunday",
			"january", "february", "march", "april", "june", "july",
			"august", "september", "october", "november", "december",
		},
		Delegation: []string{
			`^(please\s+)?have\s+(the\s+)?(\w+\s+)?team\b`,
			`\bassign\s+(this|that|it|these)\s+to\b`,
			`\b(tell|ask)\s+(the\s+)?@?\w+\s+(team\s+)?to\b`,
			`\bdelegate\b`,
		},
	}
}

// FromConfig overlays the classifier config section on the defaults.
func FromConfig(cfg config.ClassifierConfig) Rules {
	r := DefaultRules()
	if cfg.EmojiMaxWords > 0 {
		r.EmojiMaxWords = cfg.EmojiMaxWords
	}
	if cfg.LongMessageWords > 0 {
		r.LongMessageWords = cfg.LongMessageWords
	}
	if cfg.ChatPrefixMaxWords > 0 {
		r.ChatPrefixMaxWords = cfg.ChatPrefixMaxWords
	}
	if cfg.QuestionMaxWords > 0 {
		r.QuestionMaxWords = cfg.QuestionMaxWords
	}
	r.WorkVerbs = append(r.WorkVerbs, cfg.ExtraWorkVerbs...)
	r.ChatTokens = append(r.ChatTokens, cfg.ExtraChatTokens...)
	r.Urgency = append(r.Urgency, cfg.ExtraUrgency...)
	return r
}

// Heuristic is a compiled Rules table.
type Heuristic struct {
	rules      Rules
	workVerbs  map[string]bool
	chatTokens map[string]bool
	urgency    *regexp.Regexp
	delegation []*regexp.Regexp
}

// dateRef matches explicit dates: 3/14, 2025-03-14, "14th", "by 5pm".
var dateRef = regexp.MustCompile(`\b(\d{1,2}/\d{1,2}(/\d{2,4})?|\d{4}-\d{2}-\d{2}|\d{1,2}(st|nd|rd|th)|by\s+\d{1,2}(:\d{2})?\s*(am|pm))\b`)

// Compile builds a Heuristic. Invalid delegation patterns are skipped.
func (r Rules) Compile() *Heuristic {
	d := DefaultRules()
	if r.EmojiMaxWords <= 0 {
		r.EmojiMaxWords = d.EmojiMaxWords
	}
	if r.LongMessageWords <= 0 {
		r.LongMessageWords = d.LongMessageWords
	}
	if r.ChatPrefixMaxWords <= 0 {
		r.ChatPrefixMaxWords = d.ChatPrefixMaxWords
	}
	if r.QuestionMaxWords <= 0 {
		r.QuestionMaxWords = d.QuestionMaxWords
	}

	h := &Heuristic{
		rules:      r,
		workVerbs:  wordSet(r.WorkVerbs),
		chatTokens: wordSet(r.ChatTokens),
	}
	if len(r.Urgency) > 0 {
		quoted := make([]string, 0, len(r.Urgency))
		for _, p := range r.Urgency {
			p = strings.TrimSpace(strings.ToLower(p))
			if p == "" {
				continue
			}
			quoted = append(quoted, strings.ReplaceAll(regexp.QuoteMeta(p), " ", `\s+`))
		}
		h.urgency = regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)
	}
	for _, p := range r.Delegation {
		if re, err := regexp.Compile(p); err == nil {
			h.delegation = append(h.delegation, re)
		}
	}
	return h
}

func wordSet(words []string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return m
}

// Classify applies the tier-1 rules in order; the first match wins.
// Brief signals are checked before chat prefixes.
func (h *Heuristic) Classify(text string) Verdict {
	words := strings.Fields(text)
	n := len(words)
	if n == 0 {
		return Chat
	}
	lower := strings.ToLower(strings.Join(words, " "))

	switch {
	case n <= h.rules.EmojiMaxWords && isAllEmoji(words):
		return Chat
	case n > h.rules.LongMessageWords:
		return Brief
	case h.hasUrgency(lower):
		return Brief
	case h.hasDelegation(lower):
		return Brief
	case h.workVerbs[bareWord(words[0])]:
		return Brief
	case n <= h.rules.ChatPrefixMaxWords && h.chatTokens[bareWord(words[0])]:
		return Chat
	case n <= h.rules.QuestionMaxWords && strings.HasSuffix(lower, "?") && !h.anyWorkVerb(words):
		return Chat
	}
	return Ambiguous
}

func (h *Heuristic) hasUrgency(lower string) bool {
	if h.urgency != nil && h.urgency.MatchString(lower) {
		return true
	}
	return dateRef.MatchString(lower)
}

func (h *Heuristic) hasDelegation(lower string) bool {
	for _, re := range h.delegation {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

func (h *Heuristic) anyWorkVerb(words []string) bool {
	for _, w := range words {
		if h.workVerbs[bareWord(w)] {
			return true
		}
	}
	return false
}

// bareWord lowercases w and trims surrounding punctuation, so "Hey," is
// the complete word "hey" while "heyday" stays itself.
func bareWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	}))
}
