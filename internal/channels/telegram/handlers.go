package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mymmrac/telego"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
)

// handleMessage processes an incoming Telegram message.
func (c *Channel) handleMessage(message *telego.Message) {
	user := message.From
	if user == nil || user.IsBot {
		return
	}
	content := message.Text
	if content == "" {
		content = message.Caption
	}
	if content == "" {
		return
	}

	senderID := senderKey(user)
	dest := destinationFor(message)

	slog.Debug("telegram message received",
		"chat_type", message.Chat.Type,
		"chat_id", message.Chat.ID,
		"thread_id", dest.ThreadID,
		"user_id", user.ID,
		"username", user.Username,
		"text_preview", channels.Truncate(content, 60),
	)

	if !c.IsAllowed(senderID) {
		slog.Debug("telegram message rejected by allowlist", "user_id", user.ID, "username", user.Username)
		return
	}

	c.HandleMessage(senderID, dest, strconv.Itoa(message.MessageID), content, map[string]string{
		"username":     user.Username,
		"display_name": displayName(user),
		"chat_type":    message.Chat.Type,
	})
}

// handleCallbackQuery turns inline keyboard clicks into inbound actions.
func (c *Channel) handleCallbackQuery(ctx context.Context, query *telego.CallbackQuery) {
	if err := c.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: query.ID,
	}); err != nil {
		slog.Debug("telegram: answer callback failed", "error", err)
	}

	msg, ok := query.Message.(*telego.Message)
	if !ok || msg == nil {
		slog.Debug("telegram callback on inaccessible message", "query_id", query.ID)
		return
	}

	c.HandleAction(senderKey(&query.From), destinationFor(msg), strconv.Itoa(msg.MessageID), query.Data,
		map[string]string{"username": query.From.Username})
}

// destinationFor maps a message to its chat and forum topic. In non-forum
// groups message_thread_id is reply context, not a topic, and is ignored;
// forum messages without one belong to the General topic.
func destinationFor(message *telego.Message) bus.Destination {
	dest := bus.Destination{ChannelID: strconv.FormatInt(message.Chat.ID, 10)}
	if message.Chat.IsForum {
		threadID := message.MessageThreadID
		if threadID == 0 {
			threadID = telegramGeneralTopicID
		}
		dest.ThreadID = strconv.Itoa(threadID)
	}
	return dest
}

func senderKey(user *telego.User) string {
	if user.Username != "" {
		return fmt.Sprintf("%d|%s", user.ID, user.Username)
	}
	return strconv.FormatInt(user.ID, 10)
}

func displayName(user *telego.User) string {
	name := user.FirstName
	if user.LastName != "" {
		name += " " + user.LastName
	}
	if name == "" {
		name = user.Username
	}
	return name
}
