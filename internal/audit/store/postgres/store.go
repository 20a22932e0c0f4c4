package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"membergate/internal/audit"
	id "membergate/pkg/domain"
	txcontext "membergate/pkg/platform/tx"
)

// Store persists audit entries in PostgreSQL. The access layer permits INSERT
// and SELECT only; there is deliberately no update or delete statement in
// this file.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL-backed audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	query := `
		INSERT INTO audit_entries
			(id, occurred_at, actor_id, party_id, action, resource_type, resource_id,
			 result, reason, request_id, client_ip, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	var partyID any
	if !entry.PartyID.IsNil() {
		partyID = uuid.UUID(entry.PartyID)
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		entry.ID,
		entry.Timestamp,
		uuid.UUID(entry.ActorID),
		partyID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		string(entry.Result),
		entry.Reason,
		entry.RequestID,
		entry.ClientIP,
		entry.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if !filter.ActorID.IsNil() {
		conds = append(conds, "actor_id = "+arg(uuid.UUID(filter.ActorID)))
	}
	if filter.ResourceType != "" {
		conds = append(conds, "resource_type = "+arg(filter.ResourceType))
	}
	if filter.ResourceID != "" {
		conds = append(conds, "resource_id = "+arg(filter.ResourceID))
	}
	if !filter.From.IsZero() {
		conds = append(conds, "occurred_at >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "occurred_at <= "+arg(filter.To))
	}

	query := `
		SELECT id, occurred_at, actor_id, party_id, action, resource_type,
		       resource_id, result, reason, request_id, client_ip, user_agent
		FROM audit_entries
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY occurred_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e       audit.Entry
			actor   uuid.UUID
			party   uuid.NullUUID
			result  string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &actor, &party, &e.Action,
			&e.ResourceType, &e.ResourceID, &result, &e.Reason,
			&e.RequestID, &e.ClientIP, &e.UserAgent); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.ActorID = id.ActorID(actor)
		if party.Valid {
			e.PartyID = id.PartyID(party.UUID)
		}
		e.Result = audit.Result(result)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
