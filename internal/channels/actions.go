package channels

import "strings"

const actionPrefix = "aicib"

// EncodeActionID builds a button id carrying an action kind and the key
// of the pending item it resolves. The result stays within Telegram's
// 64-byte callback data limit for platform-sized keys.
func EncodeActionID(kind, key string) string {
	return actionPrefix + ":" + kind + ":" + key
}

// DecodeActionID splits an id built by EncodeActionID.
func DecodeActionID(id string) (kind, key string, ok bool) {
	rest, found := strings.CutPrefix(id, actionPrefix+":")
	if !found {
		return "", "", false
	}
	kind, key, ok = strings.Cut(rest, ":")
	if !ok || kind == "" || key == "" {
		return "", "", false
	}
	return kind, key, true
}
