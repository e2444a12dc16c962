package store

import (
	"context"
	"time"
)

// ActiveSession is the running lead session.
type ActiveSession struct {
	ID              string    `json:"id"`
	EngineSessionID string    `json:"engineSessionId"`
	StartedAt       time.Time `json:"startedAt"`
}

// SessionStore tracks the lead session's lifecycle. At most one session is
// active; starting a new one ends the previous one.
type SessionStore interface {
	StartSession(ctx context.Context, engineSessionID string) (*ActiveSession, error)
	EndSession(ctx context.Context, id string) error
	// UpdateEngineSession records a new engine session id for the active
	// session, for engines that rotate ids on resume.
	UpdateEngineSession(ctx context.Context, id, engineSessionID string) error
}

// ChatBinding links a department agent to its own engine session within
// one lead session.
type ChatBinding struct {
	OwnerSession      string    `json:"ownerSession"`
	AgentKey          string    `json:"agentKey"`
	Channel           string    `json:"channel"`
	ExternalSessionID string    `json:"externalSessionId"`
	LastActivity      time.Time `json:"lastActivity"`
}

// BindingStore persists chat bindings, one per (owner, agent). Bindings are
// never deleted here.
type BindingStore interface {
	// GetBinding returns nil, nil when no binding exists.
	GetBinding(ctx context.Context, ownerSession, agentKey string) (*ChatBinding, error)
	UpsertBinding(ctx context.Context, b ChatBinding) error
}
