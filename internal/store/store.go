package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rakunlabs/at-engine/internal/config"
	"github.com/rakunlabs/at-engine/internal/crypto"
	"github.com/rakunlabs/at-engine/internal/engine/execstore"
	"github.com/rakunlabs/at-engine/internal/service"
	"github.com/rakunlabs/at-engine/internal/store/postgres"
	"github.com/rakunlabs/at-engine/internal/store/sqlite3"
)

// Storer is the full persistence surface a backend must satisfy: every
// relational CRUD concern the chat-agent server and the workflow engine
// both rely on, plus Close.
type Storer interface {
	service.ProviderStorer
	service.APITokenStorer
	service.WorkflowStorer
	service.WorkflowVersionStorer
	service.TriggerStorer
	service.SkillStorer
	service.VariableStorer
	service.NodeConfigStorer

	execstore.RowStore

	Balance(ctx context.Context, organizationID string) (int64, error)
	Debit(ctx context.Context, organizationID string, amount int64) error
	CreateOrganization(ctx context.Context, handle string, initialCredits int64) (string, error)

	Close()
}

// New creates a Storer from the given store configuration. Exactly one of
// cfg.Postgres or cfg.SQLite must be set.
func New(ctx context.Context, cfg config.Store) (Storer, error) {
	encKey, err := deriveEncKey(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	switch {
	case cfg.Postgres != nil:
		return postgres.New(ctx, cfg.Postgres, encKey)
	case cfg.SQLite != nil:
		return sqlite3.New(ctx, cfg.SQLite, encKey)
	default:
		return nil, errors.New("no store configured")
	}
}

// deriveEncKey returns nil when no encryption key is configured, so
// stores can treat a nil key as "encryption disabled" uniformly.
func deriveEncKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	return crypto.DeriveKey(raw)
}
