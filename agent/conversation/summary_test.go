package conversation

import (
	"slices"
	"testing"
)

func seededManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(WithClock(testClock()))
	m.StartConversation("")
	m.AddMessage(RoleUser, "hola", KindUserText, nil)
	m.AddMessage(RoleAssistant, "¡hola! ¿en qué puedo ayudarte?", KindAgentResponse, nil)
	m.AddMessage(RoleUser, "necesitamos un sistema de inventario. pero el costo me preocupa.", KindUserText, nil)
	return m
}

func TestUpdateSummaryBelowMinimumIsNoop(t *testing.T) {
	t.Parallel()

	m := NewManager(WithClock(testClock()))
	m.StartConversation("")
	m.AddMessage(RoleUser, "necesitamos ayuda", KindUserText, nil)
	m.AddMessage(RoleAssistant, "claro", KindAgentResponse, nil)

	m.UpdateSummary()
	if len(m.current.Summary.Needs) != 0 {
		t.Fatalf("needs = %v, want empty below three messages", m.current.Summary.Needs)
	}
}

func TestUpdateSummaryExtractsNeedsAndObjections(t *testing.T) {
	t.Parallel()

	m := seededManager(t)
	m.UpdateSummary()

	needs := m.current.Summary.Needs
	if !slices.Contains(needs, "hola necesitamos un sistema de inventario") {
		t.Fatalf("needs = %v, want need sentence recorded", needs)
	}
	objections := m.current.Summary.Objections
	if !slices.Contains(objections, "pero el costo me preocupa") {
		t.Fatalf("objections = %v, want objection sentence recorded", objections)
	}
}

func TestUpdateSummaryIsIdempotent(t *testing.T) {
	t.Parallel()

	m := seededManager(t)
	m.UpdateSummary()
	needs := len(m.current.Summary.Needs)
	objections := len(m.current.Summary.Objections)

	m.UpdateSummary()
	if len(m.current.Summary.Needs) != needs {
		t.Fatalf("needs grew from %d to %d without new messages", needs, len(m.current.Summary.Needs))
	}
	if len(m.current.Summary.Objections) != objections {
		t.Fatalf("objections grew from %d to %d without new messages", objections, len(m.current.Summary.Objections))
	}
}

func TestUpdateSummaryAppendsOnly(t *testing.T) {
	t.Parallel()

	m := seededManager(t)
	m.UpdateSummary()
	first := slices.Clone(m.current.Summary.Needs)

	m.AddMessage(RoleUser, "también queremos reportes semanales.", KindUserText, nil)
	m.UpdateSummary()

	got := m.current.Summary.Needs
	if len(got) < len(first) {
		t.Fatalf("needs shrank: %v -> %v", first, got)
	}
	for i, fragment := range first {
		if got[i] != fragment {
			t.Fatalf("needs[%d] changed from %q to %q", i, fragment, got[i])
		}
	}
	if !slices.Contains(got, "también queremos reportes semanales") {
		t.Fatalf("needs = %v, want new sentence appended", got)
	}
}

func TestExtractFragmentsDedupIsExactMatch(t *testing.T) {
	t.Parallel()

	existing := []string{"necesitamos soporte"}
	got := extractFragments("necesitamos soporte. necesitamos soporte urgente.", needKeywords, existing)

	want := []string{"necesitamos soporte", "necesitamos soporte urgente"}
	if !slices.Equal(got, want) {
		t.Fatalf("extractFragments() = %v, want %v", got, want)
	}
}
