package conversation

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultWindowSize bounds how many recent turns are retained and how
	// many are exposed to the generator.
	DefaultWindowSize = 20

	// anchorSize is the number of opening turns that survive retention
	// trims. They carry the introduction and are never evicted.
	anchorSize = 3

	phaseWindow        = 6
	summaryWindow      = 10
	minPhaseMessages   = 2
	minSummaryMessages = 3
)

// Manager owns one active conversation context and coordinates the message
// store, phase classifier, summary extractor and lead merger on every turn.
// It is not safe for concurrent use; one logical conversation is one
// serialized sequence of calls.
type Manager struct {
	windowSize int
	gateway    Gateway
	now        func() time.Time
	newLeadID  func() string

	current *Context
	seq     int
}

type Option func(*Manager)

// WithWindowSize overrides the retention window. Windows smaller than the
// anchored prefix are ignored: the trim would re-keep anchored turns and
// duplicate their ids.
func WithWindowSize(n int) Option {
	return func(m *Manager) {
		if n >= anchorSize {
			m.windowSize = n
		}
	}
}

// WithGateway attaches a persistence gateway. Without one the engine runs
// purely in memory.
func WithGateway(g Gateway) Option {
	return func(m *Manager) {
		m.gateway = g
	}
}

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		windowSize: DefaultWindowSize,
		now:        time.Now,
		newLeadID:  uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// StartConversation creates a fresh context in the introduction phase and
// makes it current, replacing any previously active one without persisting
// it. An empty leadID gets a generated identifier.
func (m *Manager) StartConversation(leadID string) string {
	now := m.now()
	sessionID := fmt.Sprintf("session_%d", now.UnixMilli())
	if leadID == "" {
		leadID = m.newLeadID()
	}
	m.current = NewContext(sessionID, leadID, now)
	m.seq = 0
	return sessionID
}

// AddMessage appends a turn to the active context, starting a conversation
// implicitly if none is active, and applies the retention policy: once the
// buffer grows past twice the window size, only the first three turns and
// the last windowSize turns survive.
func (m *Manager) AddMessage(role Role, content string, kind MessageKind, metadata map[string]any) string {
	if m.current == nil {
		m.StartConversation("")
	}
	now := m.now()

	turn := Turn{
		ID:        fmt.Sprintf("msg_%d_%d", m.seq, now.UnixMilli()),
		Role:      role,
		Content:   content,
		Kind:      kind,
		Timestamp: epochSeconds(now),
		Metadata:  metadata,
	}
	m.seq++

	m.current.Messages = append(m.current.Messages, turn)
	m.current.LastActivity = turn.Timestamp
	m.current.TotalInteractions++

	if len(m.current.Messages) > m.windowSize*2 {
		kept := slices.Clone(m.current.Messages[:anchorSize])
		kept = append(kept, m.current.Messages[len(m.current.Messages)-m.windowSize:]...)
		m.current.Messages = kept
	}

	return turn.ID
}

// AnalyzePhase re-scores the recent user turns and updates the current
// phase. With fewer than two messages it reports the introduction phase
// without touching the context.
func (m *Manager) AnalyzePhase() Phase {
	if m.current == nil || len(m.current.Messages) < minPhaseMessages {
		return PhaseIntroduction
	}
	text := recentUserText(m.current.Messages, phaseWindow)
	m.current.CurrentPhase = classifyPhase(text, m.current.CurrentPhase)
	return m.current.CurrentPhase
}

// UpdateSummary scans the recent user turns for need and objection triggers
// and appends any new sentences to the summary. A no-op below three
// messages.
func (m *Manager) UpdateSummary() {
	if m.current == nil || len(m.current.Messages) < minSummaryMessages {
		return
	}
	text := recentUserText(m.current.Messages, summaryWindow)
	if text == "" {
		return
	}
	s := &m.current.Summary
	s.Needs = extractFragments(text, needKeywords, s.Needs)
	s.Objections = extractFragments(text, objectionKeywords, s.Objections)
	s.LastUpdated = epochSeconds(m.now())
}

// UpdateLeadInfo deep-merges update into the accumulated lead profile,
// upserts the lead through the gateway when one is configured, and records a
// lead_update system turn naming the changed top-level keys. Gateway
// failures are logged and swallowed; the in-memory profile always advances.
func (m *Manager) UpdateLeadInfo(ctx context.Context, update map[string]any) {
	if m.current == nil || len(update) == 0 {
		return
	}
	m.current.LeadInfo = DeepMerge(m.current.LeadInfo, update)

	if m.gateway != nil {
		m.upsertLead(ctx, update)
	}

	keys := slices.Sorted(maps.Keys(update))
	m.AddMessage(
		RoleSystem,
		fmt.Sprintf("Lead information updated: %v", keys),
		KindLeadUpdate,
		map[string]any{"updated_fields": keys},
	)
}

func (m *Manager) upsertLead(ctx context.Context, fields map[string]any) {
	leadID := m.current.LeadID
	_, err := m.gateway.GetLead(ctx, leadID)
	switch {
	case err == nil:
		if err := m.gateway.UpdateLead(ctx, leadID, fields); err != nil {
			log.Error().Err(err).Str("lead_id", leadID).Msg("update lead failed")
		}
	case errors.Is(err, ErrLeadNotFound):
		newID, err := m.gateway.CreateLead(ctx, fields)
		if err != nil {
			log.Error().Err(err).Str("lead_id", leadID).Msg("create lead failed")
			return
		}
		if newID != "" {
			m.current.LeadID = newID
		}
	default:
		log.Error().Err(err).Str("lead_id", leadID).Msg("lookup lead failed")
	}
}

// SaveConversation persists the full context snapshot through the gateway.
// It is idempotent per session: an existing record's id is returned
// unchanged and no duplicate is created.
func (m *Manager) SaveConversation(ctx context.Context) (string, error) {
	if m.current == nil {
		return "", ErrNoConversation
	}
	if m.gateway == nil {
		return "", ErrNoGateway
	}

	rec, err := m.gateway.GetConversation(ctx, m.current.SessionID)
	if err == nil {
		return rec.ID, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		log.Error().Err(err).Str("session_id", m.current.SessionID).Msg("conversation lookup failed")
		return "", err
	}

	id, err := m.gateway.SaveConversation(ctx, m.current.SessionID, m.current)
	if err != nil {
		log.Error().Err(err).Str("session_id", m.current.SessionID).Msg("save conversation failed")
		return "", err
	}
	return id, nil
}

// LoadConversation replaces the active context with the stored record for
// sessionID. The load is all-or-nothing: on any error the active context is
// left untouched.
func (m *Manager) LoadConversation(ctx context.Context, sessionID string) error {
	if m.gateway == nil {
		return ErrNoGateway
	}
	rec, err := m.gateway.GetConversation(ctx, sessionID)
	if err != nil {
		return err
	}
	loaded, err := DecodeContext(rec.Data)
	if err != nil {
		return err
	}
	m.adopt(loaded)
	return nil
}

func (m *Manager) adopt(c *Context) {
	m.current = c
	// total_interactions counts every AddMessage ever made, including turns
	// the retention policy has since dropped, so it is the safe floor for
	// the id sequence.
	m.seq = c.TotalInteractions
}

// SessionID returns the active session id, or empty when none is active.
func (m *Manager) SessionID() string {
	if m.current == nil {
		return ""
	}
	return m.current.SessionID
}

// LeadID returns the active lead id, or empty when none is active.
func (m *Manager) LeadID() string {
	if m.current == nil {
		return ""
	}
	return m.current.LeadID
}

// PersonalizedPromptContext renders a short Spanish digest of what is known
// about the lead and the conversation, for inclusion in a generation prompt.
// Empty when no conversation is active.
func (m *Manager) PersonalizedPromptContext() string {
	if m.current == nil {
		return ""
	}

	var parts []string
	if personal, ok := m.current.LeadInfo["personal"].(map[string]any); ok {
		if v, ok := personal["nombre"].(string); ok && v != "" {
			parts = append(parts, "El cliente se llama "+v)
		}
		if v, ok := personal["empresa"].(string); ok && v != "" {
			parts = append(parts, "representa a la empresa "+v)
		}
		if v, ok := personal["cargo"].(string); ok && v != "" {
			parts = append(parts, "y trabaja como "+v)
		}
	}

	parts = append(parts, phaseSentences[m.current.CurrentPhase])

	if needs := m.current.Summary.Needs; len(needs) > 0 {
		parts = append(parts, "Han mencionado estas necesidades: "+strings.Join(firstN(needs, 3), ", "))
	}
	if objections := m.current.Summary.Objections; len(objections) > 0 {
		parts = append(parts, "Han expresado estas preocupaciones: "+strings.Join(firstN(objections, 2), ", "))
	}

	return strings.Join(parts, ". ") + "."
}

var phaseSentences = map[Phase]string{
	PhaseIntroduction:      "Estamos en la fase de introducción",
	PhaseDiscovery:         "Estamos explorando sus necesidades",
	PhaseQualification:     "Estamos calificando el prospecto",
	PhasePresentation:      "Estamos presentando soluciones",
	PhaseObjectionHandling: "Estamos manejando objeciones",
	PhaseClosing:           "Estamos en proceso de cierre",
	PhaseFollowUp:          "Estamos en seguimiento",
}

func firstN(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}
