package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"membergate/internal/vault"
	id "membergate/pkg/domain"
	"membergate/pkg/platform/sentinel"
	txcontext "membergate/pkg/platform/tx"
)

// Store persists credentials in PostgreSQL. There is no UPDATE on the hash
// and no way to clear the revoked flag; the access layer enforces what the
// model promises.
type Store struct {
	db *sql.DB
}

// New constructs a PostgreSQL-backed credential store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Create(ctx context.Context, c *vault.Credential) error {
	scopes, err := json.Marshal(c.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	query := `
		INSERT INTO credentials
			(id, owner_type, owner_id, secret_hash, scopes, created_at,
			 expires_at, revoked, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID), string(c.Owner.Type), c.Owner.ID, c.SecretHash,
		scopes, c.CreatedAt, nullTime(c.ExpiresAt), c.Revoked, nullTime(c.RevokedAt),
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, credentialID id.CredentialID) (*vault.Credential, error) {
	row := s.conn(ctx).QueryRowContext(ctx, selectCredential+" WHERE id = $1", uuid.UUID(credentialID))
	c, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find credential: %w", err)
	}
	return c, nil
}

func (s *Store) ListByOwner(ctx context.Context, owner vault.Owner) ([]*vault.Credential, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		selectCredential+" WHERE owner_type = $1 AND owner_id = $2 ORDER BY created_at",
		string(owner.Type), owner.ID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []*vault.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MarkRevoked flips the one-way revoked flag. The WHERE clause makes a
// repeat revoke a no-op.
func (s *Store) MarkRevoked(ctx context.Context, credentialID id.CredentialID, at time.Time) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE credentials SET revoked = TRUE, revoked_at = $1 WHERE id = $2 AND NOT revoked`,
		at, uuid.UUID(credentialID))
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	if affected == 0 {
		if _, findErr := s.FindByID(ctx, credentialID); errors.Is(findErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		// Already revoked; one-way flag stays set.
	}
	return nil
}

const selectCredential = `
	SELECT id, owner_type, owner_id, secret_hash, scopes, created_at,
	       expires_at, revoked, revoked_at
	FROM credentials
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*vault.Credential, error) {
	var (
		c                    vault.Credential
		credID, ownerID      uuid.UUID
		ownerType            string
		scopes               []byte
		expiresAt, revokedAt sql.NullTime
	)
	if err := row.Scan(&credID, &ownerType, &ownerID, &c.SecretHash, &scopes,
		&c.CreatedAt, &expiresAt, &c.Revoked, &revokedAt); err != nil {
		return nil, err
	}
	c.ID = id.CredentialID(credID)
	c.Owner = vault.Owner{Type: vault.OwnerType(ownerType), ID: ownerID}
	if err := json.Unmarshal(scopes, &c.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	c.ExpiresAt = expiresAt.Time
	c.RevokedAt = revokedAt.Time
	return &c, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
