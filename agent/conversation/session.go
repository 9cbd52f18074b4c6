package conversation

import (
	"fmt"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// MessageKind tags what produced a turn. System and lead-update turns are
// kept in the history but never shown to the generator.
type MessageKind string

const (
	KindUserText      MessageKind = "user_text"
	KindUserAudio     MessageKind = "user_audio"
	KindAgentResponse MessageKind = "agent_response"
	KindSystemInfo    MessageKind = "system_info"
	KindLeadUpdate    MessageKind = "lead_update"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindUserText, KindUserAudio, KindAgentResponse, KindSystemInfo, KindLeadUpdate:
		return true
	}
	return false
}

// visibleToGenerator reports whether a turn of this kind belongs in the
// window handed to the text generator.
func (k MessageKind) visibleToGenerator() bool {
	switch k {
	case KindUserText, KindUserAudio, KindAgentResponse:
		return true
	}
	return false
}

// Phase is the classifier's current belief about which stage of the sales
// conversation is underway. It is re-scored on every turn and may move
// backward; there is no transition table.
type Phase string

const (
	PhaseIntroduction      Phase = "introduction"
	PhaseDiscovery         Phase = "discovery"
	PhaseQualification     Phase = "qualification"
	PhasePresentation      Phase = "presentation"
	PhaseObjectionHandling Phase = "objection_handling"
	PhaseClosing           Phase = "closing"
	PhaseFollowUp          Phase = "follow_up"
)

// phaseOrder fixes the enumeration order used for classifier tie-breaks.
var phaseOrder = [...]Phase{
	PhaseIntroduction,
	PhaseDiscovery,
	PhaseQualification,
	PhasePresentation,
	PhaseObjectionHandling,
	PhaseClosing,
	PhaseFollowUp,
}

func (p Phase) Valid() bool {
	for _, known := range phaseOrder {
		if p == known {
			return true
		}
	}
	return false
}

// Turn is one message in the conversation. Immutable once appended.
type Turn struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Kind      MessageKind    `json:"message_type"`
	Timestamp float64        `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// Summary holds the de-duplicated fragments extracted from user turns.
// Fragments are appended, never removed or reordered.
type Summary struct {
	Needs       []string `json:"needs"`
	Objections  []string `json:"objections"`
	Interests   []string `json:"interests"`
	NextActions []string `json:"next_actions"`
	LastUpdated float64  `json:"last_updated"`
}

// Context is the aggregate root for one conversation session. It is owned
// and mutated exclusively by the Manager.
type Context struct {
	SessionID         string         `json:"session_id"`
	LeadID            string         `json:"lead_id"`
	StartTime         float64        `json:"start_time"`
	LastActivity      float64        `json:"last_activity"`
	CurrentPhase      Phase          `json:"current_phase"`
	Messages          []Turn         `json:"messages"`
	Summary           Summary        `json:"summary"`
	LeadInfo          map[string]any `json:"lead_info"`
	TotalInteractions int            `json:"total_interactions"`
}

// NewContext creates an empty conversation context in the introduction phase.
func NewContext(sessionID, leadID string, now time.Time) *Context {
	ts := epochSeconds(now)
	return &Context{
		SessionID:    sessionID,
		LeadID:       leadID,
		StartTime:    ts,
		LastActivity: ts,
		CurrentPhase: PhaseIntroduction,
		Messages:     []Turn{},
		Summary: Summary{
			Needs:       []string{},
			Objections:  []string{},
			Interests:   []string{},
			NextActions: []string{},
			LastUpdated: ts,
		},
		LeadInfo:          map[string]any{},
		TotalInteractions: 0,
	}
}

// Validate checks the closed enumerations and required identity fields.
// It is applied to every context decoded from a snapshot or store record.
func (c *Context) Validate() error {
	if c.SessionID == "" {
		return fmt.Errorf("session_id is empty")
	}
	if !c.CurrentPhase.Valid() {
		return fmt.Errorf("unknown phase %q", c.CurrentPhase)
	}
	for i, msg := range c.Messages {
		if msg.ID == "" {
			return fmt.Errorf("message %d has empty id", i)
		}
		if !msg.Role.Valid() {
			return fmt.Errorf("message %s has unknown role %q", msg.ID, msg.Role)
		}
		if !msg.Kind.Valid() {
			return fmt.Errorf("message %s has unknown message_type %q", msg.ID, msg.Kind)
		}
	}
	return nil
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
