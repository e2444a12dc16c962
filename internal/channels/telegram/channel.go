package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
)

// maxMessageLen is Telegram's per-message text limit.
const maxMessageLen = 4096

var reactionEmoji = map[bus.Reaction]string{
	bus.ReactionAck:     "👀",
	bus.ReactionSuccess: "👍",
	bus.ReactionFailure: "👎",
}

// Channel connects to Telegram via the Bot API using long polling.
// Forum topics map to threads: ThreadID is the message_thread_id.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	config     config.TelegramConfig
	pollCancel context.CancelFunc // cancels the long polling context
	pollDone   chan struct{}      // closed when polling goroutine exits
}

var _ channels.Platform = (*Channel)(nil)

// New creates a new Telegram channel from config.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required (AICIB_TELEGRAM_TOKEN)")
	}

	var opts []telego.BotOption
	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyURL(proxyURL),
			},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		bot:         bot,
		config:      cfg,
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				switch {
				case update.Message != nil:
					c.handleMessage(update.Message)
				case update.CallbackQuery != nil:
					c.handleCallbackQuery(pollCtx, update.CallbackQuery)
				default:
					slog.Debug("telegram update skipped", "update_id", update.UpdateID)
				}
			}
		}
	}()

	return nil
}

// Stop shuts down the Telegram bot by cancelling the long polling context
// and waiting for the polling goroutine to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}

	// Telegram holds the getUpdates lock until the poller exits.
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// PostMessage sends p to dest, splitting long text. The inline keyboard
// rides on the last chunk, whose reference is returned.
func (c *Channel) PostMessage(ctx context.Context, dest bus.Destination, p bus.Payload) (bus.MessageRef, error) {
	chatID, err := parseChatID(dest.ChannelID)
	if err != nil {
		return bus.MessageRef{}, fmt.Errorf("invalid telegram chat ID %q: %w", dest.ChannelID, err)
	}
	threadID := 0
	if dest.ThreadID != "" {
		if threadID, err = strconv.Atoi(dest.ThreadID); err != nil {
			return bus.MessageRef{}, fmt.Errorf("invalid telegram thread ID %q: %w", dest.ThreadID, err)
		}
	}

	chunks := channels.SplitMessage(render(p), maxMessageLen)
	var last *telego.Message
	for i, chunk := range chunks {
		params := tu.Message(tu.ID(chatID), chunk)
		if tid := resolveThreadIDForSend(threadID); tid != 0 {
			params = params.WithMessageThreadID(tid)
		}
		if i == len(chunks)-1 && len(p.Actions) > 0 {
			params = params.WithReplyMarkup(keyboard(p.Actions))
		}
		msg, err := c.bot.SendMessage(ctx, params)
		if err != nil {
			return bus.MessageRef{}, fmt.Errorf("send telegram message: %w", err)
		}
		last = msg
	}
	return bus.MessageRef{ChannelID: dest.ChannelID, MessageID: strconv.Itoa(last.MessageID)}, nil
}

// UpdateMessage edits a posted message. Omitting the markup removes the
// keyboard, so only a payload with actions keeps buttons.
func (c *Channel) UpdateMessage(ctx context.Context, ref bus.MessageRef, p bus.Payload) error {
	chatID, messageID, err := parseRef(ref)
	if err != nil {
		return err
	}
	params := &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
		Text:      channels.Truncate(render(p), maxMessageLen),
	}
	if len(p.Actions) > 0 && !p.ClearActions {
		params.ReplyMarkup = keyboard(p.Actions)
	}
	if _, err := c.bot.EditMessageText(ctx, params); err != nil {
		return fmt.Errorf("edit telegram message: %w", err)
	}
	return nil
}

// AddReaction sets the bot's reaction. Telegram bots hold one reaction per
// message, so this replaces any earlier one.
func (c *Channel) AddReaction(ctx context.Context, ref bus.MessageRef, r bus.Reaction) error {
	emoji, ok := reactionEmoji[r]
	if !ok {
		return fmt.Errorf("unknown reaction %q", r)
	}
	return c.setReaction(ctx, ref, []telego.ReactionType{
		&telego.ReactionTypeEmoji{Type: telego.ReactionEmoji, Emoji: emoji},
	})
}

// RemoveReaction clears the bot's reaction.
func (c *Channel) RemoveReaction(ctx context.Context, ref bus.MessageRef, _ bus.Reaction) error {
	return c.setReaction(ctx, ref, []telego.ReactionType{})
}

func (c *Channel) setReaction(ctx context.Context, ref bus.MessageRef, reactions []telego.ReactionType) error {
	chatID, messageID, err := parseRef(ref)
	if err != nil {
		return err
	}
	if err := c.bot.SetMessageReaction(ctx, &telego.SetMessageReactionParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
		Reaction:  reactions,
	}); err != nil {
		return fmt.Errorf("set telegram reaction: %w", err)
	}
	return nil
}

func keyboard(actions []bus.Action) *telego.InlineKeyboardMarkup {
	row := make([]telego.InlineKeyboardButton, 0, len(actions))
	for _, a := range actions {
		row = append(row, tu.InlineKeyboardButton(a.Label).WithCallbackData(a.ID))
	}
	return tu.InlineKeyboard(row)
}

// render prefixes the display identity on its own line.
func render(p bus.Payload) string {
	if p.Username == "" {
		return p.Text
	}
	return p.Username + ":\n" + p.Text
}

func parseRef(ref bus.MessageRef) (int64, int, error) {
	chatID, err := parseChatID(ref.ChannelID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid telegram chat ID %q: %w", ref.ChannelID, err)
	}
	messageID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid telegram message ID %q: %w", ref.MessageID, err)
	}
	return chatID, messageID, nil
}

// parseChatID converts a string chat ID to int64.
func parseChatID(chatIDStr string) (int64, error) {
	return strconv.ParseInt(chatIDStr, 10, 64)
}

// telegramGeneralTopicID is the fixed topic ID for the "General" topic in forum supergroups.
const telegramGeneralTopicID = 1

// resolveThreadIDForSend returns the thread ID for Telegram send calls.
// The General topic must be omitted; Telegram rejects it with "thread not found".
func resolveThreadIDForSend(threadID int) int {
	if threadID == telegramGeneralTopicID {
		return 0
	}
	return threadID
}
