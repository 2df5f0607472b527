//go:build integration

package staff_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"tipline/internal/verification/models"
	"tipline/internal/verification/staff"
	"tipline/pkg/platform/sentinel"
	"tipline/pkg/testutil/containers"
)

type PostgresDirectorySuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	directory *staff.PostgresDirectory
}

func TestPostgresDirectorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresDirectorySuite))
}

func (s *PostgresDirectorySuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.directory = staff.NewPostgresDirectory(s.postgres.DB)
}

func (s *PostgresDirectorySuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "staff_identities"))
}

func (s *PostgresDirectorySuite) insert(hash, role string, enabled bool) string {
	id := uuid.NewString()
	_, err := s.postgres.DB.ExecContext(context.Background(), `
		INSERT INTO staff_identities (id, document_hash, role, secret_hash, encrypted_contact_channel, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, hash, role, "$2a$10$placeholderplaceholderplaceholderplaceholderplacehold", "enc", enabled)
	s.Require().NoError(err)
	return id
}

func (s *PostgresDirectorySuite) TestFindByDocumentHash() {
	ctx := context.Background()
	id := s.insert("hash-admin", "ADMIN", true)
	s.insert("hash-disabled", "ANALYST", false)

	identity, err := s.directory.FindByDocumentHash(ctx, "hash-admin")
	s.Require().NoError(err)
	s.Equal(id, identity.ID)
	s.Equal(models.StaffRoleAdmin, identity.Role)
	s.True(identity.Enabled)

	disabled, err := s.directory.FindByDocumentHash(ctx, "hash-disabled")
	s.Require().NoError(err)
	s.False(disabled.Enabled)

	_, err = s.directory.FindByDocumentHash(ctx, "hash-absent")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
