package outbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/channels"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/engine"
	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/store"
)

// FormatAgentError turns a failure of agent work into the text shown to
// the operator.
func FormatAgentError(agent string, err error) string {
	var turnErr *engine.TurnError
	switch {
	case errors.Is(err, store.ErrNoActiveSession):
		return "No active session. Start one with `aicib session start`."
	case errors.Is(err, store.ErrCostCeiling):
		return fmt.Sprintf("⚠️ %s. Raise the limit in the costs config to continue.", capitalize(err.Error()))
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s is busy with other work. Try again in a moment.", agent)
	case errors.As(err, &turnErr):
		return fmt.Sprintf("%s stopped early (%s).", agent, turnErr.Subtype)
	case err == nil:
		return ""
	}
	return fmt.Sprintf("%s ran into an error: %s", agent, channels.Truncate(err.Error(), 200))
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
