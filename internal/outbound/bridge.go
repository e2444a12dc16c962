package outbound

import (
	"log/slog"
	"sync"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
)

// Bridge delivers agent output. Handle never blocks on the platform.
type Bridge struct {
	cfg    config.Source
	out    channels.Messenger
	logger *slog.Logger

	mu sync.Mutex
	// overrides route an agent's output to where its current turn came from.
	overrides map[string]bus.Destination
	// refs holds a reference seen in a tool call until the agent's next
	// text message.
	refs   map[string]Reference
	thread *bus.Destination // active directive thread
}

// NewBridge creates a Bridge delivering through out.
func NewBridge(cfg config.Source, out channels.Messenger, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:       cfg,
		out:       out,
		logger:    logger,
		overrides: make(map[string]bus.Destination),
		refs:      make(map[string]Reference),
	}
}

// BeginDirective clears routing left over from earlier turns of the lead
// and records dest as the active directive thread.
func (b *Bridge) BeginDirective(dest bus.Destination) {
	lead := b.cfg.Current().Agents.Lead
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.overrides, lead)
	delete(b.refs, lead)
	b.thread = nil
	if dest.ThreadID != "" {
		d := dest
		b.thread = &d
	}
}

// EndDirective forgets the active directive thread.
func (b *Bridge) EndDirective() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.thread = nil
}

// SetAgentRoute sends agent's output to dest until cleared.
func (b *Bridge) SetAgentRoute(agent string, dest bus.Destination) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrides[agent] = dest
}

// ClearAgentRoute removes agent's dynamic route.
func (b *Bridge) ClearAgentRoute(agent string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.overrides, agent)
}

// Handle routes, formats and queues one message. Tool messages are only
// inspected for references.
func (b *Bridge) Handle(msg Message) {
	ref, hasRef := ExtractReference(msg)
	if msg.Kind != KindText {
		if hasRef {
			b.mu.Lock()
			b.refs[msg.AgentKey] = ref
			b.mu.Unlock()
		}
		return
	}

	cfg := b.cfg.Current()
	b.mu.Lock()
	if !hasRef {
		ref, hasRef = b.refs[msg.AgentKey]
	}
	delete(b.refs, msg.AgentKey)
	dest := b.resolveLocked(cfg, msg, ref, hasRef)
	b.mu.Unlock()

	if dest.ChannelID == "" {
		b.logger.Warn("outbound: no destination for agent message", "agent", msg.AgentKey)
		return
	}

	flavor := cfg.Routing.Flavor
	if flavor == "" {
		flavor = cfg.Channels.Active
	}
	text := Format(msg.Text, flavor)
	if text == "" {
		return
	}
	if limit := cfg.Gateway.MaxMessageChars; limit > 0 {
		text = channels.Truncate(text, limit)
	}

	b.out.Post(dest, Identity(cfg, msg.AgentKey, flavor, text))
}

// resolveLocked picks the destination: explicit, dynamic override,
// reference rule, the agent's static channel, then the default.
func (b *Bridge) resolveLocked(cfg *config.Config, msg Message, ref Reference, hasRef bool) bus.Destination {
	if msg.Destination != nil {
		return *msg.Destination
	}
	if d, ok := b.overrides[msg.AgentKey]; ok {
		return d
	}

	var dest bus.Destination
	agent, _ := cfg.ResolveAgent(msg.AgentKey)
	switch {
	case hasRef && cfg.Routing.ReferenceChannels[ref.Kind] != "":
		dest.ChannelID = cfg.Routing.ReferenceChannels[ref.Kind]
	case agent.Channel != "":
		dest.ChannelID = agent.Channel
	default:
		dest.ChannelID = cfg.DefaultChannel()
	}

	if b.thread != nil && dest.ChannelID == cfg.Routing.LeadChannel && b.thread.ChannelID == dest.ChannelID {
		dest.ThreadID = b.thread.ThreadID
	}
	return dest
}

// Identity builds the payload for text spoken by agent. Flavors without
// per-message icons carry the icon in the name.
func Identity(cfg *config.Config, agentKey, flavor, text string) bus.Payload {
	p := bus.Payload{Text: text}
	agent, ok := cfg.ResolveAgent(agentKey)
	if !ok {
		return p
	}
	p.Username = agent.IdentityName
	if agent.Role != "" && agent.IdentityName == agent.DisplayName && agent.DisplayName != agent.Role {
		p.Username = agent.DisplayName + " (" + agent.Role + ")"
	}
	p.IconEmoji = agent.IconEmoji
	p.IconURL = agent.IconURL
	if flavor != FlavorSlack && agent.IconEmoji != "" {
		p.Username = EmojiUnicode(agent.IconEmoji) + " " + p.Username
	}
	return p
}
