package conversation

import (
	"context"
	"errors"
)

var (
	ErrNoConversation       = errors.New("no active conversation")
	ErrNoGateway            = errors.New("no persistence gateway configured")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrLeadNotFound         = errors.New("lead not found")
	ErrDeserialization      = errors.New("cannot deserialize conversation context")
)

// StoredConversation is a persisted conversation record. Data holds the full
// context snapshot as JSON.
type StoredConversation struct {
	ID        string
	SessionID string
	Data      []byte
}

// Gateway is the persistence contract consumed by the Manager. Lookups
// return ErrConversationNotFound / ErrLeadNotFound for absent records; the
// Manager treats a missing lead as "needs creation", not a failure.
type Gateway interface {
	GetConversation(ctx context.Context, sessionID string) (*StoredConversation, error)
	SaveConversation(ctx context.Context, sessionID string, snapshot *Context) (string, error)
	GetLead(ctx context.Context, leadID string) (map[string]any, error)
	CreateLead(ctx context.Context, fields map[string]any) (string, error)
	UpdateLead(ctx context.Context, leadID string, fields map[string]any) error
}
