package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func testClock() func() time.Time {
	current := time.Unix(1_700_000_000, 0)
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

type fakeGateway struct {
	conversations map[string]*StoredConversation
	leads         map[string]map[string]any
	saves         int
	nextLeadID    string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		conversations: map[string]*StoredConversation{},
		leads:         map[string]map[string]any{},
		nextLeadID:    "lead-created",
	}
}

func (f *fakeGateway) GetConversation(_ context.Context, sessionID string) (*StoredConversation, error) {
	rec, ok := f.conversations[sessionID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return rec, nil
}

func (f *fakeGateway) SaveConversation(_ context.Context, sessionID string, snapshot *Context) (string, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	f.saves++
	rec := &StoredConversation{
		ID:        fmt.Sprintf("conv-%d", f.saves),
		SessionID: sessionID,
		Data:      data,
	}
	f.conversations[sessionID] = rec
	return rec.ID, nil
}

func (f *fakeGateway) GetLead(_ context.Context, leadID string) (map[string]any, error) {
	lead, ok := f.leads[leadID]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return lead, nil
}

func (f *fakeGateway) CreateLead(_ context.Context, fields map[string]any) (string, error) {
	f.leads[f.nextLeadID] = fields
	return f.nextLeadID, nil
}

func (f *fakeGateway) UpdateLead(_ context.Context, leadID string, fields map[string]any) error {
	lead, ok := f.leads[leadID]
	if !ok {
		return ErrLeadNotFound
	}
	f.leads[leadID] = DeepMerge(lead, fields)
	return nil
}

func TestAddMessageAutoStartsConversation(t *testing.T) {
	t.Parallel()

	m := NewManager(WithClock(testClock()))
	id := m.AddMessage(RoleUser, "hola", KindUserText, nil)
	if id == "" {
		t.Fatal("AddMessage() returned empty id")
	}
	if m.SessionID() == "" {
		t.Fatal("expected implicit conversation start")
	}
	if m.LeadID() == "" {
		t.Fatal("expected generated lead id")
	}
	if m.current.TotalInteractions != 1 {
		t.Fatalf("TotalInteractions = %d, want 1", m.current.TotalInteractions)
	}
}

func TestStartConversationReplacesActiveContext(t *testing.T) {
	t.Parallel()

	m := NewManager(WithClock(testClock()))
	m.StartConversation("lead-a")
	m.AddMessage(RoleUser, "hola", KindUserText, nil)

	m.StartConversation("lead-b")
	if m.LeadID() != "lead-b" {
		t.Fatalf("LeadID() = %q, want lead-b", m.LeadID())
	}
	if len(m.current.Messages) != 0 {
		t.Fatalf("new context has %d messages, want 0", len(m.current.Messages))
	}
	if m.current.CurrentPhase != PhaseIntroduction {
		t.Fatalf("new context phase = %q, want introduction", m.current.CurrentPhase)
	}
}

func TestRetentionKeepsAnchorsAndRecentWindow(t *testing.T) {
	t.Parallel()

	const window = 5
	m := NewManager(WithWindowSize(window), WithClock(testClock()))
	m.StartConversation("")

	total := window*2 + 1
	for i := 0; i < total; i++ {
		m.AddMessage(RoleUser, fmt.Sprintf("m%d", i), KindUserText, nil)
	}

	got := m.current.Messages
	if len(got) != anchorSize+window {
		t.Fatalf("len(messages) = %d, want %d", len(got), anchorSize+window)
	}
	want := []string{"m0", "m1", "m2", "m6", "m7", "m8", "m9", "m10"}
	for i, content := range want {
		if got[i].Content != content {
			t.Fatalf("messages[%d] = %q, want %q", i, got[i].Content, content)
		}
	}
	if m.current.TotalInteractions != total {
		t.Fatalf("TotalInteractions = %d, want %d", m.current.TotalInteractions, total)
	}
}

func TestWithWindowSizeIgnoresOverlappingWindows(t *testing.T) {
	t.Parallel()

	m := NewManager(WithWindowSize(1), WithClock(testClock()))
	if m.windowSize != DefaultWindowSize {
		t.Fatalf("windowSize = %d, want default %d for a window below the anchor prefix", m.windowSize, DefaultWindowSize)
	}

	m.StartConversation("")
	for i := 0; i < DefaultWindowSize*3; i++ {
		m.AddMessage(RoleUser, "hola", KindUserText, nil)
	}
	seen := map[string]bool{}
	for _, turn := range m.current.Messages {
		if seen[turn.ID] {
			t.Fatalf("duplicate turn id %s after retention", turn.ID)
		}
		seen[turn.ID] = true
	}

	smallest := NewManager(WithWindowSize(anchorSize))
	if smallest.windowSize != anchorSize {
		t.Fatalf("windowSize = %d, want %d accepted", smallest.windowSize, anchorSize)
	}
}

func TestRetentionTrimsAgainAfterRegrowth(t *testing.T) {
	t.Parallel()

	const window = 5
	m := NewManager(WithWindowSize(window), WithClock(testClock()))
	m.StartConversation("")

	for i := 0; i < window*4; i++ {
		m.AddMessage(RoleUser, fmt.Sprintf("m%d", i), KindUserText, nil)
	}

	got := m.current.Messages
	if len(got) > window*2 {
		t.Fatalf("len(messages) = %d, want <= %d", len(got), window*2)
	}
	for i := 0; i < anchorSize; i++ {
		if got[i].Content != fmt.Sprintf("m%d", i) {
			t.Fatalf("anchor %d = %q, want m%d", i, got[i].Content, i)
		}
	}
	if last := got[len(got)-1].Content; last != fmt.Sprintf("m%d", window*4-1) {
		t.Fatalf("last message = %q, want m%d", last, window*4-1)
	}
}

func TestTimestampsNonDecreasing(t *testing.T) {
	t.Parallel()

	m := NewManager(WithClock(testClock()))
	m.StartConversation("")
	for i := 0; i < 5; i++ {
		m.AddMessage(RoleUser, "x", KindUserText, nil)
	}
	msgs := m.current.Messages
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Timestamp < msgs[i-1].Timestamp {
			t.Fatalf("timestamp decreased at %d: %f < %f", i, msgs[i].Timestamp, msgs[i-1].Timestamp)
		}
	}
}

func TestUpdateLeadInfoEmitsLeadUpdateTurn(t *testing.T) {
	t.Parallel()

	m := NewManager(WithClock(testClock()))
	m.StartConversation("")
	m.UpdateLeadInfo(context.Background(), map[string]any{
		"personal": map[string]any{"nombre": "Ana"},
		"empresa":  map[string]any{"sector": "retail"},
	})

	msgs := m.current.Messages
	if len(msgs) != 1 {
		t.Fatalf("len(messages) = %d, want 1", len(msgs))
	}
	last := msgs[len(msgs)-1]
	if last.Kind != KindLeadUpdate {
		t.Fatalf("kind = %q, want lead_update", last.Kind)
	}
	if last.Role != RoleSystem {
		t.Fatalf("role = %q, want system", last.Role)
	}
	if want := "Lead information updated: [empresa personal]"; last.Content != want {
		t.Fatalf("content = %q, want %q", last.Content, want)
	}
	if m.current.LeadInfo["personal"].(map[string]any)["nombre"] != "Ana" {
		t.Fatal("lead info was not merged")
	}
}

func TestUpdateLeadInfoCreatesUnknownLead(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	m := NewManager(WithGateway(gw), WithClock(testClock()))
	m.StartConversation("lead-unknown")

	m.UpdateLeadInfo(context.Background(), map[string]any{"personal": map[string]any{"nombre": "Ana"}})

	if m.LeadID() != "lead-created" {
		t.Fatalf("LeadID() = %q, want store-assigned lead-created", m.LeadID())
	}
	if _, ok := gw.leads["lead-created"]; !ok {
		t.Fatal("lead was not created in the store")
	}
}

func TestUpdateLeadInfoUpdatesKnownLead(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.leads["lead-1"] = map[string]any{"personal": map[string]any{"nombre": "Ana"}}
	m := NewManager(WithGateway(gw), WithClock(testClock()))
	m.StartConversation("lead-1")

	m.UpdateLeadInfo(context.Background(), map[string]any{"personal": map[string]any{"empresa": "Acme"}})

	if m.LeadID() != "lead-1" {
		t.Fatalf("LeadID() = %q, want lead-1 unchanged", m.LeadID())
	}
	personal := gw.leads["lead-1"]["personal"].(map[string]any)
	if personal["nombre"] != "Ana" || personal["empresa"] != "Acme" {
		t.Fatalf("stored lead = %#v, want merged nombre+empresa", gw.leads["lead-1"])
	}
}

func TestSaveConversationIsIdempotentPerSession(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	m := NewManager(WithGateway(gw), WithClock(testClock()))
	m.StartConversation("")
	m.AddMessage(RoleUser, "hola", KindUserText, nil)

	first, err := m.SaveConversation(context.Background())
	if err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}
	second, err := m.SaveConversation(context.Background())
	if err != nil {
		t.Fatalf("second SaveConversation() error = %v", err)
	}
	if first != second {
		t.Fatalf("store ids differ: %q vs %q", first, second)
	}
	if gw.saves != 1 {
		t.Fatalf("store holds %d records, want 1", gw.saves)
	}
}

func TestSaveConversationWithoutGateway(t *testing.T) {
	t.Parallel()

	m := NewManager(WithClock(testClock()))
	m.StartConversation("")
	if _, err := m.SaveConversation(context.Background()); !errors.Is(err, ErrNoGateway) {
		t.Fatalf("SaveConversation() error = %v, want ErrNoGateway", err)
	}
}

func TestLoadConversationRoundTripsThroughGateway(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	m := NewManager(WithGateway(gw), WithClock(testClock()))
	session := m.StartConversation("lead-1")
	m.AddMessage(RoleUser, "hola", KindUserText, nil)
	m.AddMessage(RoleAssistant, "buenas", KindAgentResponse, nil)
	if _, err := m.SaveConversation(context.Background()); err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}

	other := NewManager(WithGateway(gw), WithClock(testClock()))
	if err := other.LoadConversation(context.Background(), session); err != nil {
		t.Fatalf("LoadConversation() error = %v", err)
	}
	if other.SessionID() != session {
		t.Fatalf("SessionID() = %q, want %q", other.SessionID(), session)
	}
	if len(other.current.Messages) != 2 {
		t.Fatalf("loaded %d messages, want 2", len(other.current.Messages))
	}
}

func TestLoadConversationUnknownSession(t *testing.T) {
	t.Parallel()

	m := NewManager(WithGateway(newFakeGateway()), WithClock(testClock()))
	err := m.LoadConversation(context.Background(), "missing")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("LoadConversation() error = %v, want ErrConversationNotFound", err)
	}
}

func TestLoadConversationMalformedLeavesContextUntouched(t *testing.T) {
	t.Parallel()

	gw := newFakeGateway()
	gw.conversations["broken"] = &StoredConversation{
		ID:        "conv-x",
		SessionID: "broken",
		Data:      []byte(`{"session_id":"broken","current_phase":"pitching"}`),
	}

	m := NewManager(WithGateway(gw), WithClock(testClock()))
	session := m.StartConversation("")

	err := m.LoadConversation(context.Background(), "broken")
	if !errors.Is(err, ErrDeserialization) {
		t.Fatalf("LoadConversation() error = %v, want ErrDeserialization", err)
	}
	if m.SessionID() != session {
		t.Fatalf("active session changed to %q after failed load", m.SessionID())
	}
}
