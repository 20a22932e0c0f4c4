// Package postgres provides the PostgreSQL onboarding store. Status changes
// use a conditional UPDATE keyed on the expected current status, and the
// checkpoint insert rides in the same transaction, so a transition either
// fully applies or leaves no trace.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"membergate/internal/onboarding"
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

func (s *Store) Create(ctx context.Context, rec *onboarding.Record) error {
	query := `
		INSERT INTO onboarding_records (org_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		rec.OrgID, string(rec.Status), rec.CreatedAt, rec.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return sentinel.ErrConflict
	}
	return err
}

func (s *Store) Find(ctx context.Context, orgID id.OrgID) (*onboarding.Record, error) {
	query := `SELECT org_id, status, created_at, updated_at FROM onboarding_records WHERE org_id = $1`
	row := s.execer(ctx).QueryRowContext(ctx, query, orgID)

	var rec onboarding.Record
	var status string
	err := row.Scan(&rec.OrgID, &status, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan onboarding record: %w", err)
	}
	rec.Status = onboarding.Status(status)

	checkpoints, err := s.listCheckpoints(ctx, orgID)
	if err != nil {
		return nil, err
	}
	rec.Checkpoints = checkpoints
	return &rec, nil
}

// TransitionIf applies the status change only when the stored status still
// matches from, appending the checkpoint in the same transaction.
func (s *Store) TransitionIf(ctx context.Context, orgID id.OrgID, from onboarding.Status, cp onboarding.Checkpoint) error {
	apply := func(ctx context.Context) error {
		ex := s.execer(ctx)

		res, err := ex.ExecContext(ctx, `
			UPDATE onboarding_records
			SET status = $3, updated_at = $4
			WHERE org_id = $1 AND status = $2
		`, orgID, string(from), string(cp.ToStatus), cp.Timestamp)
		if err != nil {
			return fmt.Errorf("update onboarding status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			var exists bool
			row := ex.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM onboarding_records WHERE org_id = $1)`, orgID)
			if err := row.Scan(&exists); err != nil {
				return fmt.Errorf("check onboarding record: %w", err)
			}
			if !exists {
				return sentinel.ErrNotFound
			}
			return sentinel.ErrStaleState
		}

		_, err = ex.ExecContext(ctx, `
			INSERT INTO onboarding_checkpoints
				(id, org_id, actor_id, from_status, to_status, reason, self_reported, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, cp.ID, cp.OrgID, nullableActor(cp.ActorID), string(cp.FromStatus), string(cp.ToStatus),
			cp.Reason, cp.SelfReported, cp.Timestamp)
		if err != nil {
			return fmt.Errorf("insert checkpoint: %w", err)
		}
		return nil
	}

	if _, ok := txcontext.From(ctx); ok {
		return apply(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := apply(txcontext.WithTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) listCheckpoints(ctx context.Context, orgID id.OrgID) ([]onboarding.Checkpoint, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, org_id, actor_id, from_status, to_status, reason, self_reported, occurred_at
		FROM onboarding_checkpoints
		WHERE org_id = $1
		ORDER BY occurred_at
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []onboarding.Checkpoint
	for rows.Next() {
		var cp onboarding.Checkpoint
		var from, to string
		var actor sql.Null[id.ActorID]
		if err := rows.Scan(&cp.ID, &cp.OrgID, &actor, &from, &to,
			&cp.Reason, &cp.SelfReported, &cp.Timestamp); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.FromStatus = onboarding.Status(from)
		cp.ToStatus = onboarding.Status(to)
		if actor.Valid {
			cp.ActorID = actor.V
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

func nullableActor(actorID id.ActorID) any {
	if actorID.IsNil() {
		return nil
	}
	return actorID
}
