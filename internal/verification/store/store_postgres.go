package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tipline/internal/verification/models"
	"tipline/pkg/platform/sentinel"
	txcontext "tipline/pkg/platform/tx"
	"tipline/pkg/requestcontext"
)

// PostgresStore persists records in provider_verification_records. Upserts run
// in a transaction that locks the document-hash row so concurrent webhook
// deliveries for the same identity serialize.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) querier(ctx context.Context) dbQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const recordColumns = `
	id, provider_session_id, document_hash, encrypted_document_number,
	outcome, created_at, updated_at, verified_at
`

func (s *PostgresStore) Upsert(ctx context.Context, incoming models.VerificationRecord) (models.VerificationRecord, error) {
	now := requestcontext.Now(ctx)
	var result models.VerificationRecord

	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		// Two attempts: a concurrent first insert for the same hash makes the
		// INSERT a no-op, after which the row exists and can be locked.
		for range 2 {
			existing, err := s.lockByDocumentHash(ctx, incoming.DocumentHash)
			switch {
			case errors.Is(err, sentinel.ErrNotFound):
				rec := incoming
				if rec.ID == "" {
					rec.ID = uuid.NewString()
				}
				rec.CreatedAt, rec.UpdatedAt = now, now
				if rec.Outcome == models.OutcomeVerified {
					verifiedAt := now
					rec.VerifiedAt = &verifiedAt
				}
				inserted, err := s.insert(ctx, rec)
				if err != nil {
					return err
				}
				if inserted {
					result = rec
					return nil
				}
			case err != nil:
				return err
			default:
				existing.Merge(incoming, now)
				if err := s.update(ctx, existing); err != nil {
					return err
				}
				result = existing
				return nil
			}
		}
		return fmt.Errorf("upsert verification record: %w", sentinel.ErrConflict)
	})
	if err != nil {
		return models.VerificationRecord{}, err
	}
	return result, nil
}

func (s *PostgresStore) FindByProviderSessionID(ctx context.Context, providerSessionID string) (models.VerificationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM provider_verification_records WHERE provider_session_id = $1`
	return scanRecord(s.querier(ctx).QueryRowContext(ctx, query, providerSessionID))
}

func (s *PostgresStore) lockByDocumentHash(ctx context.Context, documentHash string) (models.VerificationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM provider_verification_records WHERE document_hash = $1 FOR UPDATE`
	return scanRecord(s.querier(ctx).QueryRowContext(ctx, query, documentHash))
}

func (s *PostgresStore) insert(ctx context.Context, rec models.VerificationRecord) (bool, error) {
	query := `
		INSERT INTO provider_verification_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (document_hash) DO NOTHING
	`
	res, err := s.querier(ctx).ExecContext(ctx, query,
		rec.ID,
		rec.ProviderSessionID,
		rec.DocumentHash,
		rec.EncryptedDocumentNumber,
		string(rec.Outcome),
		rec.CreatedAt,
		rec.UpdatedAt,
		nullTime(rec.VerifiedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert verification record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert verification record: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) update(ctx context.Context, rec models.VerificationRecord) error {
	query := `
		UPDATE provider_verification_records
		SET provider_session_id = $2,
			encrypted_document_number = $3,
			outcome = $4,
			updated_at = $5,
			verified_at = $6
		WHERE id = $1
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		rec.ID,
		rec.ProviderSessionID,
		rec.EncryptedDocumentNumber,
		string(rec.Outcome),
		rec.UpdatedAt,
		nullTime(rec.VerifiedAt),
	)
	if err != nil {
		return fmt.Errorf("update verification record: %w", err)
	}
	return nil
}

func scanRecord(row *sql.Row) (models.VerificationRecord, error) {
	var (
		rec        models.VerificationRecord
		outcome    string
		verifiedAt sql.NullTime
	)
	err := row.Scan(
		&rec.ID,
		&rec.ProviderSessionID,
		&rec.DocumentHash,
		&rec.EncryptedDocumentNumber,
		&outcome,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&verifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.VerificationRecord{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.VerificationRecord{}, fmt.Errorf("scan verification record: %w", err)
	}
	rec.Outcome = models.Outcome(outcome)
	if verifiedAt.Valid {
		t := verifiedAt.Time
		rec.VerifiedAt = &t
	}
	return rec, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
