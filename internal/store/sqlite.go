// SQLite-backed Store implementation.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetProfile(key string) (*models.QualificationProfile, error) {
	row := s.db.QueryRow(`SELECT conversation_key, stage, bill_value, has_decision_maker, has_existing_plant, wants_new_plant, has_active_contract, interest_confirmed, attempts_without_progress, generation_failures, created_at, updated_at FROM profiles WHERE conversation_key = ?`, key)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProfile failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to get profile for %s: %w", key, err)
	}
	return p, nil
}

func (s *SQLiteStore) SaveProfile(p *models.QualificationProfile) error {
	_, err := s.db.Exec(`INSERT INTO profiles (conversation_key, stage, bill_value, has_decision_maker, has_existing_plant, wants_new_plant, has_active_contract, interest_confirmed, attempts_without_progress, generation_failures, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_key) DO UPDATE SET
			stage = excluded.stage,
			bill_value = excluded.bill_value,
			has_decision_maker = excluded.has_decision_maker,
			has_existing_plant = excluded.has_existing_plant,
			wants_new_plant = excluded.wants_new_plant,
			has_active_contract = excluded.has_active_contract,
			interest_confirmed = excluded.interest_confirmed,
			attempts_without_progress = excluded.attempts_without_progress,
			generation_failures = excluded.generation_failures,
			updated_at = excluded.updated_at`,
		p.ConversationKey, string(p.Stage), p.BillValue,
		nullBool(p.HasDecisionMaker), nullBool(p.HasExistingPlant), nullBool(p.WantsNewPlant),
		nullBool(p.HasActiveContract), nullBool(p.InterestConfirmed),
		p.AttemptsWithoutProgress, p.GenerationFailures, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveProfile failed", "error", err, "key", p.ConversationKey)
		return fmt.Errorf("failed to save profile for %s: %w", p.ConversationKey, err)
	}
	slog.Debug("SQLiteStore SaveProfile succeeded", "key", p.ConversationKey, "stage", p.Stage)
	return nil
}

func (s *SQLiteStore) DeleteProfile(key string) error {
	if _, err := s.db.Exec(`DELETE FROM profiles WHERE conversation_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete profile for %s: %w", key, err)
	}
	if _, err := s.db.Exec(`DELETE FROM messages WHERE conversation_key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete messages for %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) AddMessage(msg models.ConversationMessage) error {
	_, err := s.db.Exec(`INSERT INTO messages (conversation_key, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		msg.ConversationKey, msg.Role, msg.Content, msg.Timestamp)
	if err != nil {
		slog.Error("SQLiteStore AddMessage failed", "error", err, "key", msg.ConversationKey)
		return fmt.Errorf("failed to insert message for %s: %w", msg.ConversationKey, err)
	}
	return nil
}

func (s *SQLiteStore) GetHistory(key string) ([]models.ConversationMessage, error) {
	rows, err := s.db.Query(`SELECT conversation_key, role, content, timestamp FROM messages WHERE conversation_key = ? ORDER BY timestamp, id`, key)
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

func (s *SQLiteStore) SaveArchivedConversation(rec models.ArchivedConversation) error {
	profileJSON, err := json.Marshal(rec.Profile)
	if err != nil {
		return fmt.Errorf("failed to marshal archived profile: %w", err)
	}
	messagesJSON, err := json.Marshal(rec.Messages)
	if err != nil {
		return fmt.Errorf("failed to marshal archived messages: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO archived_conversations (conversation_key, outcome, profile, messages, archived_at) VALUES (?, ?, ?, ?, ?)`,
		rec.ConversationKey, rec.Outcome, string(profileJSON), string(messagesJSON), rec.ArchivedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveArchivedConversation failed", "error", err, "key", rec.ConversationKey)
		return fmt.Errorf("failed to archive conversation %s: %w", rec.ConversationKey, err)
	}
	slog.Debug("SQLiteStore SaveArchivedConversation succeeded", "key", rec.ConversationKey, "outcome", rec.Outcome)
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
