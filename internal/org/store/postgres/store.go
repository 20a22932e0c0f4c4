// Package postgres provides the PostgreSQL organization store. A partial
// unique index on (canonical_identifier) WHERE NOT deleted enforces the
// one-live-organization-per-identifier invariant at the database level.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"membergate/internal/org"
	id "membergate/pkg/domain"
	"membergate/pkg/platform/sentinel"
	txcontext "membergate/pkg/platform/tx"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// RunInTx runs fn inside one database transaction, making the transaction
// visible to nested store calls through the context.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txcontext.From(ctx); ok {
		return fn(ctx) // already inside a transaction
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) CreateOrganization(ctx context.Context, o *org.Organization) error {
	identifiers, err := json.Marshal(o.Identifiers)
	if err != nil {
		return fmt.Errorf("marshal identifiers: %w", err)
	}
	query := `
		INSERT INTO organizations
			(id, party_id, legal_name, identifiers, canonical_identifier, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(o.ID), uuid.UUID(o.PartyID), o.LegalName, identifiers,
		o.CanonicalIdentifier, o.Deleted, o.CreatedAt, o.UpdatedAt)
	return translateErr(err)
}

func (s *Store) FindOrganization(ctx context.Context, orgID id.OrgID) (*org.Organization, error) {
	query := `
		SELECT id, party_id, legal_name, identifiers, canonical_identifier, deleted, created_at, updated_at
		FROM organizations
		WHERE id = $1
	`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(orgID))

	var o org.Organization
	var identifiers []byte
	err := row.Scan(&o.ID, &o.PartyID, &o.LegalName, &identifiers,
		&o.CanonicalIdentifier, &o.Deleted, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan organization: %w", err)
	}
	if err := json.Unmarshal(identifiers, &o.Identifiers); err != nil {
		return nil, fmt.Errorf("unmarshal identifiers: %w", err)
	}
	return &o, nil
}

func (s *Store) UpdateOrganization(ctx context.Context, o *org.Organization) error {
	identifiers, err := json.Marshal(o.Identifiers)
	if err != nil {
		return fmt.Errorf("marshal identifiers: %w", err)
	}
	query := `
		UPDATE organizations
		SET legal_name = $2, identifiers = $3, canonical_identifier = $4, deleted = $5, updated_at = $6
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(o.ID), o.LegalName, identifiers, o.CanonicalIdentifier, o.Deleted, o.UpdatedAt)
	if err != nil {
		return translateErr(err)
	}
	return requireRow(res)
}

func (s *Store) CreateParty(ctx context.Context, p *org.Party) error {
	query := `INSERT INTO parties (id, org_id, created_at) VALUES ($1, $2, $3)`
	_, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(p.ID), uuid.UUID(p.OrgID), p.CreatedAt)
	return translateErr(err)
}

func (s *Store) CreateContact(ctx context.Context, c *org.Contact) error {
	query := `INSERT INTO contacts (id, org_id, name, email, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID), uuid.UUID(c.OrgID), c.Name, c.Email, c.CreatedAt)
	return translateErr(err)
}

func (s *Store) FindContactByEmail(ctx context.Context, email string) (*org.Contact, error) {
	query := `SELECT id, org_id, name, email, created_at FROM contacts WHERE email = $1`
	row := s.execer(ctx).QueryRowContext(ctx, query, email)

	var c org.Contact
	err := row.Scan(&c.ID, &c.OrgID, &c.Name, &c.Email, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}
	return &c, nil
}

func (s *Store) CreateEndpoint(ctx context.Context, e *org.Endpoint) error {
	capabilities, err := json.Marshal(e.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	query := `
		INSERT INTO endpoints (id, org_id, address, capabilities, reviewed, reviewed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(e.ID), uuid.UUID(e.OrgID), e.Address, capabilities,
		e.Reviewed, nullableActor(e.ReviewedBy), e.CreatedAt)
	return translateErr(err)
}

func (s *Store) FindEndpoint(ctx context.Context, endpointID id.EndpointID) (*org.Endpoint, error) {
	query := `
		SELECT id, org_id, address, capabilities, reviewed, reviewed_by, created_at
		FROM endpoints
		WHERE id = $1
	`
	row := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(endpointID))
	return scanEndpoint(row)
}

func (s *Store) UpdateEndpoint(ctx context.Context, e *org.Endpoint) error {
	capabilities, err := json.Marshal(e.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	query := `
		UPDATE endpoints
		SET address = $2, capabilities = $3, reviewed = $4, reviewed_by = $5
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(e.ID), e.Address, capabilities, e.Reviewed, nullableActor(e.ReviewedBy))
	if err != nil {
		return translateErr(err)
	}
	return requireRow(res)
}

func (s *Store) ListEndpoints(ctx context.Context, orgID id.OrgID) ([]*org.Endpoint, error) {
	query := `
		SELECT id, org_id, address, capabilities, reviewed, reviewed_by, created_at
		FROM endpoints
		WHERE org_id = $1
		ORDER BY created_at
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(orgID))
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()

	var out []*org.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row rowScanner) (*org.Endpoint, error) {
	var e org.Endpoint
	var capabilities []byte
	var reviewedBy uuid.NullUUID
	err := row.Scan(&e.ID, &e.OrgID, &e.Address, &capabilities, &e.Reviewed, &reviewedBy, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan endpoint: %w", err)
	}
	if err := json.Unmarshal(capabilities, &e.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	if reviewedBy.Valid {
		e.ReviewedBy = id.ActorID(reviewedBy.UUID)
	}
	return &e, nil
}

func nullableActor(actorID id.ActorID) any {
	if actorID.IsNil() {
		return nil
	}
	return uuid.UUID(actorID)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return sentinel.ErrConflict
	}
	return err
}
