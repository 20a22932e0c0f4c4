package audit

import (
	"time"

	"github.com/google/uuid"

	id "membergate/pkg/domain"
)

// Result records whether a guarded action was allowed.
type Result string

const (
	ResultAllowed Result = "allowed"
	ResultDenied  Result = "denied"
)

// Entry is one immutable audit record. There is no update or delete anywhere
// in the model; stores expose append and query only.
type Entry struct {
	ID           uuid.UUID
	Timestamp    time.Time
	ActorID      id.ActorID
	PartyID      id.PartyID // zero for system and operator actors
	Action       string
	ResourceType string
	ResourceID   string
	Result       Result
	Reason       string
	RequestID    string
	ClientIP     string
	UserAgent    string
}

// Filter narrows an audit query. Zero fields match everything.
type Filter struct {
	ActorID      id.ActorID
	ResourceType string
	ResourceID   string
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

// Well-known actions. Guard decisions and state transitions share the log.
const (
	ActionAuthorize            = "authorize"
	ActionOrgRegister          = "org.register"
	ActionOrgTransition        = "org.onboarding.transition"
	ActionVerificationDecision = "verification.decision"
	ActionCredentialIssue      = "credential.issue"
	ActionCredentialRevoke     = "credential.revoke"
)
