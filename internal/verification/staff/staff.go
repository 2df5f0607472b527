// Package staff is the read-only staff directory, reachable only by document
// hash. Records are provisioned outside this service.
package staff

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"tipline/internal/verification/models"
	"tipline/pkg/platform/sentinel"
)

type InMemoryDirectory struct {
	mu         sync.RWMutex
	identities map[string]models.StaffIdentity
}

func NewInMemoryDirectory(identities ...models.StaffIdentity) *InMemoryDirectory {
	d := &InMemoryDirectory{identities: make(map[string]models.StaffIdentity, len(identities))}
	for _, identity := range identities {
		d.identities[identity.DocumentHash] = identity
	}
	return d
}

// Put adds or replaces an identity. Used for provisioning in tests and
// local development.
func (d *InMemoryDirectory) Put(identity models.StaffIdentity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identities[identity.DocumentHash] = identity
}

func (d *InMemoryDirectory) FindByDocumentHash(_ context.Context, documentHash string) (models.StaffIdentity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	identity, ok := d.identities[documentHash]
	if !ok {
		return models.StaffIdentity{}, sentinel.ErrNotFound
	}
	return identity, nil
}

type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// FindByDocumentHash uses the unique index on document_hash.
func (d *PostgresDirectory) FindByDocumentHash(ctx context.Context, documentHash string) (models.StaffIdentity, error) {
	query := `
		SELECT id, document_hash, role, secret_hash, encrypted_contact_channel, enabled
		FROM staff_identities
		WHERE document_hash = $1
	`
	var (
		identity models.StaffIdentity
		role     string
	)
	err := d.db.QueryRowContext(ctx, query, documentHash).Scan(
		&identity.ID,
		&identity.DocumentHash,
		&role,
		&identity.SecretHash,
		&identity.EncryptedContactChannel,
		&identity.Enabled,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StaffIdentity{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.StaffIdentity{}, fmt.Errorf("find staff identity: %w", err)
	}
	identity.Role = models.StaffRole(role)
	if !identity.Role.IsValid() {
		return models.StaffIdentity{}, fmt.Errorf("staff identity %s has unknown role: %w", identity.ID, sentinel.ErrInvalidState)
	}
	return identity, nil
}
