package outbound

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark-emoji/definition"
)

// Markup flavors.
const (
	FlavorDiscord  = "discord"
	FlavorTelegram = "telegram"
	FlavorSlack    = "slack"
)

var (
	mdBold    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdUnder   = regexp.MustCompile(`__(.+?)__`)
	mdLink    = regexp.MustCompile(`\[([^\]]+)\]\((https?://[^)\s]+)\)`)
	mdHeading = regexp.MustCompile(`(?m)^#{1,6}\s+(.+)$`)
	mdCode    = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\n?(.*?)```")
	shortcode = regexp.MustCompile(`:([a-z0-9_+-]+):`)
)

var emojis = definition.Github()

// Format converts agent markdown into the flavor's dialect.
func Format(text, flavor string) string {
	switch flavor {
	case FlavorSlack:
		text = mdHeading.ReplaceAllString(text, "*$1*")
		text = mdBold.ReplaceAllString(text, "*$1*")
		text = mdUnder.ReplaceAllString(text, "_${1}_")
		text = mdLink.ReplaceAllString(text, "<$2|$1>")
	case FlavorTelegram:
		text = mdCode.ReplaceAllString(text, "$1")
		text = mdHeading.ReplaceAllString(text, "$1")
		text = mdBold.ReplaceAllString(text, "$1")
		text = mdUnder.ReplaceAllString(text, "$1")
		text = mdLink.ReplaceAllString(text, "$1 ($2)")
		text = EmojiUnicode(text)
	case FlavorDiscord:
		// Discord renders markdown natively but not shortcodes in bot
		// messages.
		text = EmojiUnicode(text)
	}
	return strings.TrimSpace(text)
}

// EmojiUnicode replaces known :shortcode: tokens with their characters.
func EmojiUnicode(text string) string {
	if !strings.Contains(text, ":") {
		return text
	}
	return shortcode.ReplaceAllStringFunc(text, func(tok string) string {
		if e, ok := emojis.Get(tok[1 : len(tok)-1]); ok {
			return string(e.Unicode)
		}
		return tok
	})
}
