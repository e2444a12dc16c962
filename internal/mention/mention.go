// Package mention finds the agent a message is addressed to.
package mention

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
)

// Agent is an addressable name.
type Agent struct {
	Key         string
	DisplayName string
}

type entry struct {
	name string
	key  string
}

// Router resolves @mentions against agent keys and display names,
// case-insensitively, preferring the longest name at a position.
type Router struct {
	entries []entry
}

// New builds a router. Disabled agents are included on purpose by
// callers so they can be answered with a notice.
func New(agents []Agent) *Router {
	seen := map[string]bool{}
	var entries []entry
	add := func(name, key string) {
		name = strings.TrimSpace(name)
		if name == "" || seen[strings.ToLower(name)] {
			return
		}
		seen[strings.ToLower(name)] = true
		entries = append(entries, entry{name: name, key: key})
	}
	for _, a := range agents {
		add(a.Key, a.Key)
	}
	for _, a := range agents {
		add(a.DisplayName, a.Key)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return len(entries[i].name) > len(entries[j].name)
	})
	return &Router{entries: entries}
}

// FromConfig builds a router over every configured agent.
func FromConfig(cfg *config.Config) *Router {
	agents := make([]Agent, 0, len(cfg.Agents.List))
	for _, key := range cfg.AgentKeys() {
		r, _ := cfg.ResolveAgent(key)
		agents = append(agents, Agent{Key: key, DisplayName: r.DisplayName})
	}
	return New(agents)
}

// Route returns the first mentioned agent and the text with that mention
// removed. Without a mention the text is returned untouched and ok is
// false.
func (r *Router) Route(text string) (agentKey, rest string, ok bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '@' || !boundaryBefore(text, i) {
			continue
		}
		for _, e := range r.entries {
			end := i + 1 + len(e.name)
			if end > len(text) || !strings.EqualFold(text[i+1:end], e.name) || !boundaryAfter(text, end) {
				continue
			}
			return e.key, strip(text, i, end), true
		}
	}
	return "", text, false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '@')
}

func boundaryAfter(text string, end int) bool {
	if end == len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[end:])
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}

// strip removes text[start:end] plus an addressing comma or colon right
// after it, and collapses the whitespace at the seam.
func strip(text string, start, end int) string {
	after := text[end:]
	if strings.HasPrefix(after, ",") || strings.HasPrefix(after, ":") {
		after = after[1:]
	}
	before := strings.TrimRightFunc(text[:start], isBlank)
	after = strings.TrimLeftFunc(after, isBlank)
	switch {
	case before == "":
		return strings.TrimSpace(after)
	case after == "":
		return strings.TrimSpace(before)
	}
	return strings.TrimSpace(before + " " + after)
}

func isBlank(r rune) bool { return r == ' ' || r == '\t' }
