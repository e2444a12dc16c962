package cmd

import (
	"context"
	"log/slog"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/bus"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/gateway"
)

// consumeInboundMessages feeds platform messages to the coordinator until
// ctx ends. Bus events are mirrored to the debug log so a run can be
// followed without a WebSocket client.
func consumeInboundMessages(ctx context.Context, msgBus *bus.MessageBus, coord *gateway.Coordinator) {
	msgBus.Subscribe("cmd-event-log", func(event bus.Event) {
		slog.Debug("event", "name", event.Name, "payload", event.Payload)
	})
	defer msgBus.Unsubscribe("cmd-event-log")

	coord.Run(ctx, msgBus)
}
