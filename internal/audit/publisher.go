package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"membergate/pkg/requestcontext"
)

// Store persists audit entries. Append-only; implementations must not expose
// update or delete.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	Query(ctx context.Context, filter Filter) ([]Entry, error)
}

// Publisher captures structured audit entries. The durable store append is the
// source of truth; an optional mirror channel feeds the Kafka outbox without
// ever blocking or failing the request path.
type Publisher struct {
	store  Store
	mirror chan<- Entry
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMirror attaches an outbox channel receiving a copy of every entry.
func WithMirror(mirror chan<- Entry) Option {
	return func(p *Publisher) { p.mirror = mirror }
}

// NewPublisher constructs a Publisher over the given store.
func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit appends an entry, filling in identity, timing, and client metadata
// from context when unset. An append failure is returned to the caller: the
// request that could not be audited must fail closed.
func (p *Publisher) Emit(ctx context.Context, entry Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}
	if entry.ClientIP == "" {
		entry.ClientIP = requestcontext.ClientIP(ctx)
	}
	if entry.UserAgent == "" {
		entry.UserAgent = requestcontext.UserAgent(ctx)
	}

	if err := p.store.Append(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	if p.mirror != nil {
		select {
		case p.mirror <- entry:
		default: // mirror is best-effort; the store append already succeeded
		}
	}
	return nil
}

// Query returns entries matching the filter, newest first.
func (p *Publisher) Query(ctx context.Context, filter Filter) ([]Entry, error) {
	return p.store.Query(ctx, filter)
}

// Verify performs a write-and-read startup probe. A store that cannot accept
// appends is a fatal configuration error, not a per-request condition.
func (p *Publisher) Verify(ctx context.Context) error {
	probe := Entry{
		ID:     uuid.New(),
		Action: "audit.startup_probe",
		Result: ResultAllowed,
	}
	if err := p.Emit(ctx, probe); err != nil {
		return fmt.Errorf("audit store is not writable: %w", err)
	}
	return nil
}
