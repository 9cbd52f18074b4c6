package crm

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/vozavi/salesagent/agent/conversation"
)

type PostgresConfig struct {
	DSN string `envconfig:"DSN" split_words:"true" required:"true"`
}

type conversationModel struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`

	ID                string    `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	SessionID         string    `bun:"session_id,notnull,unique"`
	LeadID            string    `bun:"lead_id"`
	ConversationData  string    `bun:"conversation_data,type:jsonb"`
	TotalInteractions int       `bun:"total_interactions"`
	FinalPhase        string    `bun:"final_phase"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type leadModel struct {
	bun.BaseModel `bun:"table:leads,alias:l"`

	ID        string          `bun:"id,pk,type:uuid,default:gen_random_uuid()"`
	Fields    json.RawMessage `bun:"fields,type:jsonb"`
	CreatedAt time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time       `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type interactionMetricModel struct {
	bun.BaseModel `bun:"table:interaction_metrics,alias:im"`

	ID          int64     `bun:"id,pk,autoincrement"`
	SessionID   string    `bun:"session_id,notnull"`
	MetricsData string    `bun:"metrics_data,type:jsonb"`
	CreatedAt   time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// PostgresGateway persists conversations and leads in Postgres via bun.
type PostgresGateway struct {
	db *bun.DB
}

var _ conversation.Gateway = (*PostgresGateway)(nil)

func NewPostgresGateway(cfg PostgresConfig) (*PostgresGateway, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	return &PostgresGateway{db: db}, nil
}

// EnsureSchema creates the gateway tables when they do not exist yet.
func (g *PostgresGateway) EnsureSchema(ctx context.Context) error {
	models := []any{
		(*conversationModel)(nil),
		(*leadModel)(nil),
		(*interactionMetricModel)(nil),
	}
	for _, model := range models {
		if _, err := g.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func (g *PostgresGateway) Close() error {
	return g.db.Close()
}

func (g *PostgresGateway) GetConversation(ctx context.Context, sessionID string) (*conversation.StoredConversation, error) {
	var row conversationModel
	err := g.db.NewSelect().
		Model(&row).
		Where("session_id = ?", sessionID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, conversation.ErrConversationNotFound
		}
		return nil, fmt.Errorf("select conversation: %w", err)
	}
	return &conversation.StoredConversation{
		ID:        row.ID,
		SessionID: row.SessionID,
		Data:      []byte(row.ConversationData),
	}, nil
}

func (g *PostgresGateway) SaveConversation(ctx context.Context, sessionID string, snapshot *conversation.Context) (string, error) {
	row, err := newConversationModel(sessionID, snapshot)
	if err != nil {
		return "", err
	}

	if _, err := g.db.NewInsert().Model(row).Returning("id").Exec(ctx); err != nil {
		return "", fmt.Errorf("insert conversation: %w", err)
	}

	metric := interactionMetricModel{
		SessionID:   sessionID,
		MetricsData: metricsFor(snapshot),
	}
	if _, err := g.db.NewInsert().Model(&metric).Exec(ctx); err != nil {
		// Metrics are best-effort; the conversation row is already durable.
		return row.ID, nil
	}
	return row.ID, nil
}

func (g *PostgresGateway) GetLead(ctx context.Context, leadID string) (map[string]any, error) {
	var row leadModel
	err := g.db.NewSelect().
		Model(&row).
		Where("id = ?", leadID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, conversation.ErrLeadNotFound
		}
		return nil, fmt.Errorf("select lead: %w", err)
	}

	fields := map[string]any{}
	if len(row.Fields) > 0 {
		if err := json.Unmarshal(row.Fields, &fields); err != nil {
			return nil, fmt.Errorf("decode lead fields: %w", err)
		}
	}
	fields["id"] = row.ID
	return fields, nil
}

func (g *PostgresGateway) CreateLead(ctx context.Context, fields map[string]any) (string, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal lead fields: %w", err)
	}
	row := leadModel{Fields: payload}
	if _, err := g.db.NewInsert().Model(&row).Returning("id").Exec(ctx); err != nil {
		return "", fmt.Errorf("insert lead: %w", err)
	}
	return row.ID, nil
}

func (g *PostgresGateway) UpdateLead(ctx context.Context, leadID string, fields map[string]any) error {
	existing, err := g.GetLead(ctx, leadID)
	if err != nil {
		return err
	}
	delete(existing, "id")

	merged := conversation.DeepMerge(existing, fields)
	payload, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("marshal lead fields: %w", err)
	}

	res, err := g.db.NewUpdate().
		Model((*leadModel)(nil)).
		Set("fields = ?", string(payload)).
		Set("updated_at = current_timestamp").
		Where("id = ?", leadID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update lead: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return conversation.ErrLeadNotFound
	}
	return nil
}

func newConversationModel(sessionID string, snapshot *conversation.Context) (*conversationModel, error) {
	if snapshot == nil {
		return nil, errors.New("nil context snapshot")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("session id is empty")
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal context snapshot: %w", err)
	}
	return &conversationModel{
		SessionID:         sessionID,
		LeadID:            snapshot.LeadID,
		ConversationData:  string(data),
		TotalInteractions: snapshot.TotalInteractions,
		FinalPhase:        string(snapshot.CurrentPhase),
	}, nil
}

func metricsFor(snapshot *conversation.Context) string {
	metrics := map[string]any{
		"total_interactions": snapshot.TotalInteractions,
		"final_phase":        string(snapshot.CurrentPhase),
		"needs_mentioned":    len(snapshot.Summary.Needs),
		"objections_raised":  len(snapshot.Summary.Objections),
	}
	data, err := json.Marshal(metrics)
	if err != nil {
		return "{}"
	}
	return string(data)
}
