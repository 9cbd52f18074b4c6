// Package crm implements the persistence gateway consumed by the
// conversation engine against two backends: Supabase's PostgREST API and a
// plain Postgres database.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vozavi/salesagent/agent/conversation"
)

const (
	conversationsTable = "conversations"
	leadsTable         = "leads"

	maxResponseSizeBytes = 2 << 20
)

type SupabaseConfig struct {
	URL     string        `envconfig:"URL" split_words:"true" required:"true"`
	Key     string        `envconfig:"KEY" split_words:"true" required:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// SupabaseOption customizes SupabaseGateway.
type SupabaseOption func(*SupabaseGateway)

func WithHTTPClient(client *http.Client) SupabaseOption {
	return func(g *SupabaseGateway) {
		if client != nil {
			g.httpClient = client
		}
	}
}

// SupabaseGateway talks to Supabase over the PostgREST API.
type SupabaseGateway struct {
	baseURL    string
	key        string
	httpClient *http.Client
}

var _ conversation.Gateway = (*SupabaseGateway)(nil)

func NewSupabaseGateway(cfg SupabaseConfig, opts ...SupabaseOption) (*SupabaseGateway, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("supabase url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid supabase url: %w", err)
	}

	key := strings.TrimSpace(cfg.Key)
	if key == "" {
		return nil, errors.New("supabase key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	g := &SupabaseGateway{
		baseURL: baseURL,
		key:     key,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g, nil
}

type conversationRow struct {
	ID                string `json:"id,omitempty"`
	SessionID         string `json:"session_id"`
	LeadID            string `json:"lead_id"`
	ConversationData  string `json:"conversation_data"`
	TotalInteractions int    `json:"total_interactions"`
	FinalPhase        string `json:"final_phase"`
}

func (g *SupabaseGateway) GetConversation(ctx context.Context, sessionID string) (*conversation.StoredConversation, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("session id is empty")
	}

	query := url.Values{}
	query.Set("session_id", "eq."+sessionID)
	query.Set("select", "*")
	query.Set("limit", "1")

	var rows []conversationRow
	if err := g.do(ctx, http.MethodGet, conversationsTable, query, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, conversation.ErrConversationNotFound
	}

	row := rows[0]
	return &conversation.StoredConversation{
		ID:        row.ID,
		SessionID: row.SessionID,
		Data:      []byte(row.ConversationData),
	}, nil
}

func (g *SupabaseGateway) SaveConversation(ctx context.Context, sessionID string, snapshot *conversation.Context) (string, error) {
	if snapshot == nil {
		return "", errors.New("nil context snapshot")
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal context snapshot: %w", err)
	}

	row := conversationRow{
		SessionID:         sessionID,
		LeadID:            snapshot.LeadID,
		ConversationData:  string(data),
		TotalInteractions: snapshot.TotalInteractions,
		FinalPhase:        string(snapshot.CurrentPhase),
	}

	var created []conversationRow
	if err := g.do(ctx, http.MethodPost, conversationsTable, nil, row, &created); err != nil {
		return "", err
	}
	if len(created) == 0 || created[0].ID == "" {
		return "", errors.New("supabase returned no conversation id")
	}
	return created[0].ID, nil
}

func (g *SupabaseGateway) GetLead(ctx context.Context, leadID string) (map[string]any, error) {
	if strings.TrimSpace(leadID) == "" {
		return nil, errors.New("lead id is empty")
	}

	query := url.Values{}
	query.Set("id", "eq."+leadID)
	query.Set("select", "*")
	query.Set("limit", "1")

	var rows []map[string]any
	if err := g.do(ctx, http.MethodGet, leadsTable, query, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, conversation.ErrLeadNotFound
	}
	return rows[0], nil
}

func (g *SupabaseGateway) CreateLead(ctx context.Context, fields map[string]any) (string, error) {
	var created []map[string]any
	if err := g.do(ctx, http.MethodPost, leadsTable, nil, fields, &created); err != nil {
		return "", err
	}
	if len(created) == 0 {
		return "", errors.New("supabase returned no lead row")
	}
	id, _ := created[0]["id"].(string)
	if id == "" {
		return "", errors.New("supabase returned no lead id")
	}
	return id, nil
}

func (g *SupabaseGateway) UpdateLead(ctx context.Context, leadID string, fields map[string]any) error {
	if strings.TrimSpace(leadID) == "" {
		return errors.New("lead id is empty")
	}

	query := url.Values{}
	query.Set("id", "eq."+leadID)

	var updated []map[string]any
	if err := g.do(ctx, http.MethodPatch, leadsTable, query, fields, &updated); err != nil {
		return err
	}
	if len(updated) == 0 {
		return conversation.ErrLeadNotFound
	}
	return nil
}

func (g *SupabaseGateway) do(ctx context.Context, method, table string, query url.Values, body, out any) error {
	endpoint := g.baseURL + "/rest/v1/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build supabase request: %w", err)
	}
	req.Header.Set("apikey", g.key)
	req.Header.Set("Authorization", "Bearer "+g.key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost || method == http.MethodPatch {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute supabase request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("read supabase response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("supabase http status=%d body=%s", resp.StatusCode, string(raw))
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode supabase response: %w", err)
	}
	return nil
}
