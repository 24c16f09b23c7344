// Package store provides persistence for qualification profiles, message
// history and archived conversations, with SQLite and PostgreSQL backends
// plus an in-memory implementation for tests.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nitroxinteligence/sdr-ia-solarprime-sub003/internal/models"
)

// Store defines the persistence interface used by the agent.
type Store interface {
	// GetProfile returns the qualification profile for a conversation key,
	// or nil when the conversation is unknown.
	GetProfile(key string) (*models.QualificationProfile, error)
	// SaveProfile inserts or updates a qualification profile.
	SaveProfile(p *models.QualificationProfile) error
	// DeleteProfile removes a profile and its history.
	DeleteProfile(key string) error

	// AddMessage appends a message to the conversation history.
	AddMessage(msg models.ConversationMessage) error
	// GetHistory returns the conversation history in chronological order.
	GetHistory(key string) ([]models.ConversationMessage, error)

	// SaveArchivedConversation records a finished conversation and its
	// outcome for later CRM reconciliation.
	SaveArchivedConversation(rec models.ArchivedConversation) error

	// Close releases backend resources.
	Close() error
}

// DetectDSNType determines whether a DSN is for PostgreSQL or SQLite.
// Returns "postgres" for PostgreSQL DSNs and "sqlite" for everything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	// Key=value DSNs (host=... user=...) are also PostgreSQL.
	if strings.Contains(dsn, "host=") || strings.Contains(dsn, "user=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite"
}

// Opts holds configuration options for store construction.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// InMemoryStore is a Store backed by maps, for tests and ephemeral runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]*models.QualificationProfile
	history  map[string][]models.ConversationMessage
	archived []models.ArchivedConversation
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles: make(map[string]*models.QualificationProfile),
		history:  make(map[string][]models.ConversationMessage),
	}
}

func (s *InMemoryStore) GetProfile(key string) (*models.QualificationProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[key]
	if !ok {
		return nil, nil
	}
	return p.Clone(), nil
}

func (s *InMemoryStore) SaveProfile(p *models.QualificationProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p.Clone()
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	s.profiles[cp.ConversationKey] = cp
	return nil
}

func (s *InMemoryStore) DeleteProfile(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, key)
	delete(s.history, key)
	return nil
}

func (s *InMemoryStore) AddMessage(msg models.ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	s.history[msg.ConversationKey] = append(s.history[msg.ConversationKey], msg)
	return nil
}

func (s *InMemoryStore) GetHistory(key string) ([]models.ConversationMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := append([]models.ConversationMessage(nil), s.history[key]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	return msgs, nil
}

func (s *InMemoryStore) SaveArchivedConversation(rec models.ArchivedConversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ArchivedAt.IsZero() {
		rec.ArchivedAt = time.Now()
	}
	s.archived = append(s.archived, rec)
	return nil
}

// ArchivedConversations returns a copy of the archived records, for tests.
func (s *InMemoryStore) ArchivedConversations() []models.ArchivedConversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ArchivedConversation(nil), s.archived...)
}

func (s *InMemoryStore) Close() error { return nil }
