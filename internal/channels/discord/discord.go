package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
)

// maxMessageLen is Discord's per-message content limit.
const maxMessageLen = 2000

var reactionEmoji = map[bus.Reaction]string{
	bus.ReactionAck:     "👀",
	bus.ReactionSuccess: "✅",
	bus.ReactionFailure: "❌",
}

// Channel connects to Discord via the Bot API using gateway events.
// Discord threads are channels of their own: inbound messages from a
// thread carry the parent as ChatID and the thread as ThreadID.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	config    config.DiscordConfig
	botUserID string // populated on start
}

var _ channels.Platform = (*Channel)(nil)

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*Channel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required (AICIB_DISCORD_TOKEN)")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", msgBus, cfg.AllowFrom),
		session:     session,
		config:      cfg,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)
	c.session.AddHandler(c.handleInteraction)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// PostMessage sends p to dest, splitting long text into several messages.
// Buttons ride on the last chunk, whose reference is returned.
func (c *Channel) PostMessage(_ context.Context, dest bus.Destination, p bus.Payload) (bus.MessageRef, error) {
	channelID := dest.ChannelID
	if dest.ThreadID != "" {
		channelID = dest.ThreadID
	}
	if channelID == "" {
		return bus.MessageRef{}, fmt.Errorf("empty channel ID for discord send")
	}

	chunks := channels.SplitMessage(render(p), maxMessageLen)
	var last *discordgo.Message
	for i, chunk := range chunks {
		send := &discordgo.MessageSend{Content: chunk}
		if i == len(chunks)-1 && len(p.Actions) > 0 {
			send.Components = components(p.Actions)
		}
		msg, err := c.session.ChannelMessageSendComplex(channelID, send)
		if err != nil {
			return bus.MessageRef{}, fmt.Errorf("send discord message: %w", err)
		}
		last = msg
	}
	return bus.MessageRef{ChannelID: channelID, MessageID: last.ID}, nil
}

// UpdateMessage replaces the content of a posted message.
func (c *Channel) UpdateMessage(_ context.Context, ref bus.MessageRef, p bus.Payload) error {
	edit := discordgo.NewMessageEdit(ref.ChannelID, ref.MessageID).
		SetContent(channels.Truncate(render(p), maxMessageLen))
	switch {
	case p.ClearActions:
		empty := []discordgo.MessageComponent{}
		edit.Components = &empty
	case len(p.Actions) > 0:
		comps := components(p.Actions)
		edit.Components = &comps
	}
	if _, err := c.session.ChannelMessageEditComplex(edit); err != nil {
		return fmt.Errorf("edit discord message: %w", err)
	}
	return nil
}

// AddReaction marks a message with the emoji for r.
func (c *Channel) AddReaction(_ context.Context, ref bus.MessageRef, r bus.Reaction) error {
	emoji, ok := reactionEmoji[r]
	if !ok {
		return fmt.Errorf("unknown reaction %q", r)
	}
	return c.session.MessageReactionAdd(ref.ChannelID, ref.MessageID, emoji)
}

// RemoveReaction removes the bot's own reaction for r.
func (c *Channel) RemoveReaction(_ context.Context, ref bus.MessageRef, r bus.Reaction) error {
	emoji, ok := reactionEmoji[r]
	if !ok {
		return fmt.Errorf("unknown reaction %q", r)
	}
	return c.session.MessageReactionRemove(ref.ChannelID, ref.MessageID, emoji, "@me")
}

// handleMessage processes incoming Discord messages.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}
	if c.config.GuildID != "" && m.GuildID != "" && m.GuildID != c.config.GuildID {
		return
	}

	senderID := m.Author.ID + "|" + m.Author.Username
	if !c.IsAllowed(senderID) {
		slog.Debug("discord message rejected by allowlist",
			"user_id", m.Author.ID,
			"username", m.Author.Username,
		)
		return
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		return
	}

	dest := c.resolveDestination(m.ChannelID)

	slog.Debug("discord message received",
		"sender_id", m.Author.ID,
		"channel_id", dest.ChannelID,
		"thread_id", dest.ThreadID,
		"preview", channels.Truncate(content, 50),
	)

	metadata := map[string]string{
		"message_channel_id": m.ChannelID,
		"username":           m.Author.Username,
		"display_name":       resolveDisplayName(m),
		"guild_id":           m.GuildID,
	}
	c.HandleMessage(senderID, dest, m.ID, content, metadata)
}

// handleInteraction turns button clicks into inbound actions. The click is
// acknowledged immediately with a deferred update so Discord does not
// show an error; the resulting edit arrives through UpdateMessage.
func (c *Channel) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}

	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		slog.Warn("discord: interaction ack failed", "error", err)
	}

	messageID := ""
	if i.Message != nil {
		messageID = i.Message.ID
	}
	data := i.MessageComponentData()
	c.HandleAction(user.ID+"|"+user.Username, c.resolveDestination(i.ChannelID), messageID, data.CustomID,
		map[string]string{"message_channel_id": i.ChannelID, "username": user.Username})
}

// resolveDestination maps a Discord channel id to a destination, splitting
// threads into parent channel and thread.
func (c *Channel) resolveDestination(channelID string) bus.Destination {
	ch, err := c.session.State.Channel(channelID)
	if err != nil {
		ch, err = c.session.Channel(channelID)
	}
	if err == nil && ch.IsThread() {
		return bus.Destination{ChannelID: ch.ParentID, ThreadID: ch.ID}
	}
	return bus.Destination{ChannelID: channelID}
}

// render prefixes the display identity, since bot messages cannot change
// their author per message.
func render(p bus.Payload) string {
	if p.Username == "" {
		return p.Text
	}
	return "**" + p.Username + "**\n" + p.Text
}

func components(actions []bus.Action) []discordgo.MessageComponent {
	buttons := make([]discordgo.MessageComponent, 0, len(actions))
	for _, a := range actions {
		buttons = append(buttons, discordgo.Button{
			Label:    a.Label,
			Style:    buttonStyle(a.Style),
			CustomID: a.ID,
		})
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

func buttonStyle(style string) discordgo.ButtonStyle {
	switch style {
	case "primary":
		return discordgo.PrimaryButton
	case "danger":
		return discordgo.DangerButton
	case "success":
		return discordgo.SuccessButton
	default:
		return discordgo.SecondaryButton
	}
}

// resolveDisplayName returns the best available display name for a Discord message author.
// Priority: server nickname > global display name > username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
