package classify

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
	"github.com/yuin/goldmark-emoji/definition"
)

var shortcodes = definition.Github()

// isAllEmoji reports whether every word is made only of emoji grapheme
// clusters or known :shortcode: tokens.
func isAllEmoji(words []string) bool {
	for _, w := range words {
		if !isEmojiWord(w) {
			return false
		}
	}
	return true
}

func isEmojiWord(w string) bool {
	if name, ok := shortcodeName(w); ok {
		_, known := shortcodes.Get(name)
		return known
	}
	g := uniseg.NewGraphemes(w)
	count := 0
	for g.Next() {
		if !isEmojiCluster(g.Runes()) {
			return false
		}
		count++
	}
	return count > 0
}

func shortcodeName(w string) (string, bool) {
	if len(w) < 3 || !strings.HasPrefix(w, ":") || !strings.HasSuffix(w, ":") {
		return "", false
	}
	return w[1 : len(w)-1], true
}

const (
	zeroWidthJoiner   = '\u200d'
	variationSelector = '\ufe0f'
	keycap            = '\u20e3'
)

// isEmojiCluster accepts pictographs, flags, ZWJ sequences, skin-tone
// modified emoji and keycaps.
func isEmojiCluster(runes []rune) bool {
	if len(runes) == 0 {
		return false
	}
	first := runes[0]
	if (first >= '0' && first <= '9') || first == '#' || first == '*' {
		for _, r := range runes[1:] {
			if r == keycap {
				return true
			}
		}
		return false
	}
	if !isPictograph(first) {
		return false
	}
	for _, r := range runes[1:] {
		switch {
		case r == zeroWidthJoiner, r == variationSelector:
		case r >= 0x1F3FB && r <= 0x1F3FF: // skin tones
		case r >= 0xE0020 && r <= 0xE007F: // tag sequences
		case isPictograph(r):
		default:
			return false
		}
	}
	return true
}

func isPictograph(r rune) bool {
	return unicode.Is(unicode.So, r) || (r >= 0x1F1E6 && r <= 0x1F1FF)
}
