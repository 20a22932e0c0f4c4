package onboarding

import (
	"time"

	"github.com/google/uuid"

	id "membergate/pkg/domain"
	dErrors "membergate/pkg/domain-errors"
)

// Status is the top-level onboarding lifecycle state of an Organization.
type Status string

const (
	StatusRegistered           Status = "registered"
	StatusCompanyApproved      Status = "company_approved"
	StatusEndpointsSubmitted   Status = "endpoints_submitted"
	StatusCredentialsIssued    Status = "credentials_issued"
	StatusConnectivityVerified Status = "connectivity_verified"
	StatusActive               Status = "active"
	StatusRejected             Status = "rejected"
	StatusSuspended            Status = "suspended"
)

// allowedTransitions is the complete transition table. Everything absent here
// is denied; the machine is default-deny, not permissive. The happy path is
// linear with no skipping, Rejected is terminal and reachable only before
// endpoints are submitted, Suspended is reversible.
var allowedTransitions = map[Status][]Status{
	StatusRegistered:           {StatusCompanyApproved, StatusRejected},
	StatusCompanyApproved:      {StatusEndpointsSubmitted, StatusRejected},
	StatusEndpointsSubmitted:   {StatusCredentialsIssued},
	StatusCredentialsIssued:    {StatusConnectivityVerified},
	StatusConnectivityVerified: {StatusActive},
	StatusActive:               {StatusSuspended},
	StatusSuspended:            {StatusActive},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the status.
func (s Status) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRegistered, StatusCompanyApproved, StatusEndpointsSubmitted,
		StatusCredentialsIssued, StatusConnectivityVerified, StatusActive,
		StatusRejected, StatusSuspended:
		return true
	}
	return false
}

// InvalidTransitionError builds the typed error naming current and requested
// states. Safe to expose; the state machine is not a security boundary.
func InvalidTransitionError(current, requested Status) error {
	return dErrors.Newf(dErrors.CodeInvalidTransition,
		"cannot transition from %s to %s", current, requested)
}

// Checkpoint is an immutable record of a single transition: who moved which
// organization from where to where, and why. Checkpoints are appended inside
// the same atomic update as the status change and never deleted.
type Checkpoint struct {
	ID           uuid.UUID  `json:"id"`
	OrgID        id.OrgID   `json:"org_id"`
	ActorID      id.ActorID `json:"actor_id"`
	FromStatus   Status     `json:"from_status"`
	ToStatus     Status     `json:"to_status"`
	Reason       string     `json:"reason,omitempty"`
	SelfReported bool       `json:"self_reported,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// Record holds the top-level status and checkpoint history for one
// Organization. Created at registration, mutated only through transitions,
// never deleted.
type Record struct {
	OrgID       id.OrgID     `json:"org_id"`
	Status      Status       `json:"status"`
	Checkpoints []Checkpoint `json:"checkpoints"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// NewRecord starts the lifecycle for an organization at Registered.
func NewRecord(orgID id.OrgID, now time.Time) *Record {
	return &Record{
		OrgID:     orgID,
		Status:    StatusRegistered,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
