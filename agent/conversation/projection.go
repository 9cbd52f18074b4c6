package conversation

import "slices"

// Projection is the read-only view of the active context handed to callers
// for prompt construction. Everything in it is a copy; mutating a Projection
// never reaches the engine's state.
type Projection struct {
	Phase             Phase
	TotalInteractions int
	DurationMinutes   float64
	LeadInfo          map[string]any
	Summary           Summary
	RecentMessages    []PromptTurn
	Insights          Insights
}

// PromptTurn is a turn as exposed to the generator: role, content and the
// original ingestion timestamp.
type PromptTurn struct {
	Role      Role
	Content   string
	Timestamp float64
}

// Insights is a derived record about conversation dynamics.
type Insights struct {
	EngagementLevel   string
	UserTurns         int
	TotalTurns        int
	LastUserMessageAt float64 // epoch seconds; 0 when no user turn exists
	Phase             Phase
	NeedsMentioned    int
	ObjectionsRaised  int
}

// ContextForGeneration snapshots the active context for the generator. The
// second return is false when no conversation is active. System and
// lead-update turns are excluded from the recent window.
func (m *Manager) ContextForGeneration() (Projection, bool) {
	if m.current == nil {
		return Projection{}, false
	}
	c := m.current

	recent := c.Messages
	if len(recent) > m.windowSize {
		recent = recent[len(recent)-m.windowSize:]
	}
	visible := make([]PromptTurn, 0, len(recent))
	for _, msg := range recent {
		if !msg.Kind.visibleToGenerator() {
			continue
		}
		visible = append(visible, PromptTurn{
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		})
	}

	return Projection{
		Phase:             c.CurrentPhase,
		TotalInteractions: c.TotalInteractions,
		DurationMinutes:   (epochSeconds(m.now()) - c.StartTime) / 60,
		LeadInfo:          cloneMap(c.LeadInfo),
		Summary:           cloneSummary(c.Summary),
		RecentMessages:    visible,
		Insights:          m.insights(),
	}, true
}

func (m *Manager) insights() Insights {
	c := m.current

	engagement := "low"
	switch {
	case c.TotalInteractions > 5:
		engagement = "high"
	case c.TotalInteractions > 2:
		engagement = "medium"
	}

	userTurns := 0
	lastUserAt := 0.0
	for _, msg := range c.Messages {
		if msg.Role == RoleUser {
			userTurns++
			lastUserAt = msg.Timestamp
		}
	}

	return Insights{
		EngagementLevel:   engagement,
		UserTurns:         userTurns,
		TotalTurns:        len(c.Messages),
		LastUserMessageAt: lastUserAt,
		Phase:             c.CurrentPhase,
		NeedsMentioned:    len(c.Summary.Needs),
		ObjectionsRaised:  len(c.Summary.Objections),
	}
}

func cloneSummary(s Summary) Summary {
	return Summary{
		Needs:       slices.Clone(s.Needs),
		Objections:  slices.Clone(s.Objections),
		Interests:   slices.Clone(s.Interests),
		NextActions: slices.Clone(s.NextActions),
		LastUpdated: s.LastUpdated,
	}
}
