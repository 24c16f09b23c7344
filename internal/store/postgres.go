// PostgreSQL-backed Store implementation.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "embed"

	_ "github.com/lib/pq"
	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running PostgreSQL migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetProfile(key string) (*models.QualificationProfile, error) {
	row := s.db.QueryRow(`SELECT conversation_key, stage, bill_value, has_decision_maker, has_existing_plant, wants_new_plant, has_active_contract, interest_confirmed, attempts_without_progress, generation_failures, created_at, updated_at FROM profiles WHERE conversation_key = $1`, key)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProfile failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to get profile for %s: %w", key, err)
	}
	return p, nil
}

func (s *PostgresStore) SaveProfile(p *models.QualificationProfile) error {
	_, err := s.db.Exec(`INSERT INTO profiles (conversation_key, stage, bill_value, has_decision_maker, has_existing_plant, wants_new_plant, has_active_contract, interest_confirmed, attempts_without_progress, generation_failures, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (conversation_key) DO UPDATE SET
			stage = EXCLUDED.stage,
			bill_value = EXCLUDED.bill_value,
			has_decision_maker = EXCLUDED.has_decision_maker,
			has_existing_plant = EXCLUDED.has_existing_plant,
			wants_new_plant = EXCLUDED.wants_new_plant,
			has_active_contract = EXCLUDED.has_active_contract,
			interest_confirmed = EXCLUDED.interest_confirmed,
			attempts_without_progress = EXCLUDED.attempts_without_progress,
			generation_failures = EXCLUDED.generation_failures,
			updated_at = EXCLUDED.updated_at`,
		p.ConversationKey, string(p.Stage), p.BillValue,
		nullBool(p.HasDecisionMaker), nullBool(p.HasExistingPlant), nullBool(p.WantsNewPlant),
		nullBool(p.HasActiveContract), nullBool(p.InterestConfirmed),
		p.AttemptsWithoutProgress, p.GenerationFailures, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveProfile failed", "error", err, "key", p.ConversationKey)
		return fmt.Errorf("failed to save profile for %s: %w", p.ConversationKey, err)
	}
	return nil
}

func (s *PostgresStore) DeleteProfile(key string) error {
	if _, err := s.db.Exec(`DELETE FROM profiles WHERE conversation_key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete profile for %s: %w", key, err)
	}
	if _, err := s.db.Exec(`DELETE FROM messages WHERE conversation_key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete messages for %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) AddMessage(msg models.ConversationMessage) error {
	_, err := s.db.Exec(`INSERT INTO messages (conversation_key, role, content, timestamp) VALUES ($1, $2, $3, $4)`,
		msg.ConversationKey, msg.Role, msg.Content, msg.Timestamp)
	if err != nil {
		slog.Error("PostgresStore AddMessage failed", "error", err, "key", msg.ConversationKey)
		return fmt.Errorf("failed to insert message for %s: %w", msg.ConversationKey, err)
	}
	return nil
}

func (s *PostgresStore) GetHistory(key string) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(`SELECT conversation_key, role, content, timestamp FROM messages WHERE conversation_key = $1 ORDER BY timestamp, id`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for %s: %w", key, err)
	}
	defer rows.Close()

	var msgs []models.ConversationMessage
	for rows.Next() {
		var m models.ConversationMessage
		if err := rows.Scan(&m.ConversationKey, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message rows: %w", err)
	}
	return msgs, nil
}

func (s *PostgresStore) SaveArchivedConversation(rec models.ArchivedConversation) error {
	profileJSON, err := json.Marshal(rec.Profile)
	if err != nil {
		return fmt.Errorf("failed to marshal archived profile: %w", err)
	}
	messagesJSON, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal archived messages: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO archived_conversations (conversation_key, outcome, profile, messages, archived_at) VALUES ($1, $2, $3, $4, $5)`,
		rec.ConversationKey, rec.Outcome, string(profileJSON), string(messagesJSON), rec.ArchivedAt)
	if err != nil {
		slog.Error("PostgresStore SaveArchivedConversation failed", "error", err, "key", rec.ConversationKey)
		return fmt.Errorf("failed to archive conversation %s: %w", rec.ConversationKey, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
