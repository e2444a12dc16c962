package gateway

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/besteffort"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/chatqueue"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/engine"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/outbound"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/pkg/protocol"
)

var tracer = otel.Tracer("aicib/gateway")

// ChatActor is the cost ledger label for a chat turn with agent.
func ChatActor(agent string) string { return "chat:" + agent }

// handleChat runs one chat turn. The lead shares its session with
// directives and so takes the session lock; department agents own their
// sessions and are serialized by their chat queue shard.
func (c *Coordinator) handleChat(ctx context.Context, msg chatqueue.Message) error {
	ctx, span := tracer.Start(ctx, "gateway.chat")
	defer span.End()
	span.SetAttributes(attribute.String("agent", msg.AgentKey))

	cfg := c.cfg.Current()
	agent, ok := cfg.ResolveAgent(msg.AgentKey)
	if !ok {
		return fmt.Errorf("unknown agent %q", msg.AgentKey)
	}

	c.broadcast(protocol.EventChatStarted, protocol.ChatEvent{AgentKey: agent.Key})

	var res *engine.Result
	err := store.CheckCeilings(ctx, c.stores.Costs, cfg.Costs.DailyLimitUSD, cfg.Costs.MonthlyLimitUSD)
	if err == nil {
		if agent.Key == cfg.Agents.Lead {
			res, err = c.leadChat(ctx, cfg, agent, msg)
		} else {
			res, err = c.departmentChat(ctx, cfg, agent, msg)
		}
	}

	cost := 0.0
	if res != nil {
		cost = res.CostUSD
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.broadcast(protocol.EventChatFailed, protocol.ChatEvent{AgentKey: agent.Key, CostUSD: cost, Error: err.Error()})
		return err
	}
	c.broadcast(protocol.EventChatCompleted, protocol.ChatEvent{AgentKey: agent.Key, CostUSD: cost})
	return nil
}

func (c *Coordinator) leadChat(ctx context.Context, cfg *config.Config, lead config.ResolvedAgent, msg chatqueue.Message) (*engine.Result, error) {
	sess, err := c.activeSession(ctx)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, cfg.LockWaitTimeout())
	err = c.lock.Acquire(waitCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("wait for lead session: %w", err)
	}
	defer c.lock.Release()

	c.bridge.SetAgentRoute(lead.Key, msg.Destination)
	defer c.bridge.ClearAgentRoute(lead.Key)

	stream, err := c.engine.Resume(ctx, sess.EngineSessionID, c.request(cfg, lead, msg.Text))
	if err != nil {
		return nil, fmt.Errorf("resume lead session: %w", err)
	}
	res, err := c.collect(lead.Key, stream)
	c.recordCost(ctx, res, lead)
	return res, err
}

func (c *Coordinator) departmentChat(ctx context.Context, cfg *config.Config, agent config.ResolvedAgent, msg chatqueue.Message) (*engine.Result, error) {
	sess, err := c.activeSession(ctx)
	if err != nil {
		return nil, err
	}
	binding, err := c.stores.Bindings.GetBinding(ctx, sess.ID, agent.Key)
	if err != nil {
		return nil, fmt.Errorf("load chat binding: %w", err)
	}

	c.bridge.SetAgentRoute(agent.Key, msg.Destination)
	defer c.bridge.ClearAgentRoute(agent.Key)

	req := c.request(cfg, agent, msg.Text)
	var stream *engine.Stream
	if binding != nil && binding.ExternalSessionID != "" {
		stream, err = c.engine.Resume(ctx, binding.ExternalSessionID, req)
	} else {
		stream, err = c.engine.Start(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("start %s session: %w", agent.Key, err)
	}

	res, err := c.collect(agent.Key, stream)
	c.recordCost(ctx, res, agent)
	if res != nil && res.SessionID != "" {
		besteffort.Do(c.logger, "save chat binding", func() error {
			return c.stores.Bindings.UpsertBinding(ctx, store.ChatBinding{
				OwnerSession:      sess.ID,
				AgentKey:          agent.Key,
				Channel:           msg.Destination.ChannelID,
				ExternalSessionID: res.SessionID,
				LastActivity:      c.clock.Now(),
			})
		}, "agent", agent.Key)
	}
	return res, err
}

func (c *Coordinator) activeSession(ctx context.Context) (*store.ActiveSession, error) {
	sess, err := c.stores.Costs.GetActiveSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("active session: %w", err)
	}
	if sess == nil {
		return nil, store.ErrNoActiveSession
	}
	return sess, nil
}

func (c *Coordinator) request(cfg *config.Config, agent config.ResolvedAgent, prompt string) engine.Request {
	return engine.Request{
		Prompt:       prompt,
		Model:        agent.Model,
		AllowedTools: agent.Tools,
		MaxBudgetUSD: agent.MaxBudgetUSD,
		MaxTurns:     agent.MaxTurns,
		SystemPrompt: agent.SystemPrompt,
		WorkDir:      cfg.Engine.WorkDir,
	}
}

func (c *Coordinator) collect(agentKey string, stream *engine.Stream) (*engine.Result, error) {
	return engine.Collect(stream, func(ev engine.Event) {
		if m, ok := outbound.FromEvent(agentKey, ev); ok {
			c.bridge.Handle(m)
		}
	})
}

func (c *Coordinator) recordCost(ctx context.Context, res *engine.Result, agent config.ResolvedAgent) {
	if res == nil {
		return
	}
	besteffort.Do(c.logger, "record chat cost", func() error {
		return c.stores.Costs.RecordRunCosts(ctx, res, ChatActor(agent.Key), agent.Model)
	}, "agent", agent.Key)
}

// reportChatFailure tells the origin that a chat turn failed.
func (c *Coordinator) reportChatFailure(msg chatqueue.Message, err error) {
	cfg := c.cfg.Current()
	dest := msg.Destination
	c.bridge.Handle(outbound.Message{
		AgentKey:    msg.AgentKey,
		Kind:        outbound.KindText,
		Text:        outbound.FormatAgentError(cfg.ResolveDisplayName(msg.AgentKey), err),
		Destination: &dest,
	})
}

func (c *Coordinator) broadcast(name string, payload any) {
	if c.events != nil {
		c.events.Broadcast(bus.Event{Name: name, Payload: payload})
	}
}
