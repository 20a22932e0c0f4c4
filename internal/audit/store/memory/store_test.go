package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membergate/internal/audit"
	id "membergate/pkg/domain"
)

func entryAt(ts time.Time, actorID id.ActorID, action string) audit.Entry {
	return audit.Entry{
		ID:           uuid.New(),
		Timestamp:    ts,
		ActorID:      actorID,
		Action:       action,
		ResourceType: "organization",
		ResourceID:   uuid.NewString(),
		Result:       audit.ResultAllowed,
	}
}

func TestQueryFilters(t *testing.T) {
	s := New()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	actorA := id.NewActorID()
	actorB := id.NewActorID()

	require.NoError(t, s.Append(context.Background(), entryAt(base, actorA, "authorize")))
	require.NoError(t, s.Append(context.Background(), entryAt(base.Add(time.Minute), actorB, "org.register")))
	require.NoError(t, s.Append(context.Background(), entryAt(base.Add(2*time.Minute), actorA, "authorize")))

	t.Run("newest first", func(t *testing.T) {
		entries, err := s.Query(context.Background(), audit.Filter{})
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.True(t, entries[0].Timestamp.After(entries[1].Timestamp))
	})

	t.Run("by actor", func(t *testing.T) {
		entries, err := s.Query(context.Background(), audit.Filter{ActorID: actorA})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("by time window", func(t *testing.T) {
		entries, err := s.Query(context.Background(), audit.Filter{
			From: base.Add(30 * time.Second),
			To:   base.Add(90 * time.Second),
		})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "org.register", entries[0].Action)
	})

	t.Run("pagination", func(t *testing.T) {
		page1, err := s.Query(context.Background(), audit.Filter{Limit: 2})
		require.NoError(t, err)
		page2, err := s.Query(context.Background(), audit.Filter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, page1, 2)
		assert.Len(t, page2, 1)
		assert.NotEqual(t, page1[0].ID, page2[0].ID)
	})
}

func TestAppendOnly(t *testing.T) {
	s := New()
	e := entryAt(time.Now(), id.NewActorID(), "authorize")
	require.NoError(t, s.Append(context.Background(), e))

	// Mutating the caller's copy after append must not touch the stored entry.
	e.Reason = "tampered"
	entries, err := s.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Reason)
}
