package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"membergate/internal/verification"
	id "membergate/pkg/domain"
	"membergate/pkg/platform/sentinel"
	txcontext "membergate/pkg/platform/tx"
)

// Store persists verification cases in PostgreSQL.
type Store struct {
	db *sql.DB
}

// New constructs a PostgreSQL-backed case store.
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

type matchPayload struct {
	IdentifierExact bool    `json:"identifier_exact"`
	NameSimilarity  float64 `json:"name_similarity"`
	EntityActive    bool    `json:"entity_active"`
	OfficialName    string  `json:"official_name"`
}

func (s *Store) Create(ctx context.Context, c *verification.Case) error {
	fields, err := json.Marshal(c.Fields)
	if err != nil {
		return fmt.Errorf("marshal extracted fields: %w", err)
	}
	query := `
		INSERT INTO verification_cases
			(id, org_id, submitter_id, sub_state, document, fields, confidence,
			 match, decision_reason, reviewer_id, extraction_retries,
			 submitted_at, extracted_at, cross_checked_at, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID), uuid.UUID(c.OrgID), uuid.UUID(c.SubmitterID),
		string(c.SubState), c.Document, fields, c.Confidence,
		mustMarshalMatch(c.Match), c.DecisionReason, nullActor(c.ReviewerID),
		c.ExtractionRetries, c.SubmittedAt, nullTime(c.ExtractedAt),
		nullTime(c.CrossCheckedAt), nullTime(c.DecidedAt),
	)
	if err != nil {
		return fmt.Errorf("insert verification case: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, caseID id.CaseID) (*verification.Case, error) {
	row := s.conn(ctx).QueryRowContext(ctx, selectCase+" WHERE id = $1", uuid.UUID(caseID))
	c, err := scanCase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find verification case: %w", err)
	}
	return c, nil
}

func (s *Store) FindByOrg(ctx context.Context, orgID id.OrgID) ([]*verification.Case, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, selectCase+" WHERE org_id = $1 ORDER BY submitted_at", uuid.UUID(orgID))
	if err != nil {
		return nil, fmt.Errorf("list verification cases: %w", err)
	}
	defer rows.Close()

	var out []*verification.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification case: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateIf writes the case only while the stored sub-state still equals from.
// Zero affected rows means either a lost race or a missing row; the two are
// distinguished with a follow-up existence check.
func (s *Store) UpdateIf(ctx context.Context, c *verification.Case, from verification.SubState) error {
	fields, err := json.Marshal(c.Fields)
	if err != nil {
		return fmt.Errorf("marshal extracted fields: %w", err)
	}
	query := `
		UPDATE verification_cases
		SET sub_state = $1, fields = $2, confidence = $3, match = $4,
		    decision_reason = $5, reviewer_id = $6, extraction_retries = $7,
		    extracted_at = $8, cross_checked_at = $9, decided_at = $10
		WHERE id = $11 AND sub_state = $12
	`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		string(c.SubState), fields, c.Confidence, mustMarshalMatch(c.Match),
		c.DecisionReason, nullActor(c.ReviewerID), c.ExtractionRetries,
		nullTime(c.ExtractedAt), nullTime(c.CrossCheckedAt), nullTime(c.DecidedAt),
		uuid.UUID(c.ID), string(from),
	)
	if err != nil {
		return fmt.Errorf("update verification case: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update verification case: %w", err)
	}
	if affected == 0 {
		if _, findErr := s.FindByID(ctx, c.ID); errors.Is(findErr, sentinel.ErrNotFound) {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrStaleState
	}
	return nil
}

const selectCase = `
	SELECT id, org_id, submitter_id, sub_state, document, fields, confidence,
	       match, decision_reason, reviewer_id, extraction_retries,
	       submitted_at, extracted_at, cross_checked_at, decided_at
	FROM verification_cases
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*verification.Case, error) {
	var (
		c                                  verification.Case
		caseID, orgID, submitter           uuid.UUID
		reviewer                           uuid.NullUUID
		subState                           string
		fields, match                      []byte
		extractedAt, checkedAt, decidedAt  sql.NullTime
	)
	if err := row.Scan(&caseID, &orgID, &submitter, &subState, &c.Document,
		&fields, &c.Confidence, &match, &c.DecisionReason, &reviewer,
		&c.ExtractionRetries, &c.SubmittedAt, &extractedAt, &checkedAt,
		&decidedAt); err != nil {
		return nil, err
	}
	c.ID = id.CaseID(caseID)
	c.OrgID = id.OrgID(orgID)
	c.SubmitterID = id.ActorID(submitter)
	c.SubState = verification.SubState(subState)
	if reviewer.Valid {
		c.ReviewerID = id.ActorID(reviewer.UUID)
	}
	if err := json.Unmarshal(fields, &c.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal extracted fields: %w", err)
	}
	var mp matchPayload
	if err := json.Unmarshal(match, &mp); err != nil {
		return nil, fmt.Errorf("unmarshal match result: %w", err)
	}
	c.Match = verification.MatchResult(mp)
	c.ExtractedAt = extractedAt.Time
	c.CrossCheckedAt = checkedAt.Time
	c.DecidedAt = decidedAt.Time
	return &c, nil
}

func mustMarshalMatch(m verification.MatchResult) []byte {
	b, _ := json.Marshal(matchPayload(m))
	return b
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullActor(a id.ActorID) uuid.NullUUID {
	return uuid.NullUUID{UUID: uuid.UUID(a), Valid: !a.IsNil()}
}
