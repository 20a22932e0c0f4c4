package verification

import (
	"time"

	id "membergate/pkg/domain"
	dErrors "membergate/pkg/domain-errors"
)

// SubState is the per-document verification sub-state.
type SubState string

const (
	SubStateSubmitted    SubState = "submitted"
	SubStateExtracted    SubState = "extracted"
	SubStateCrossChecked SubState = "cross_checked"
	SubStateVerified     SubState = "verified"
	SubStateFlagged      SubState = "flagged"
	SubStateFailed       SubState = "failed"
)

// allowedTransitions is the sub-state table. Verified and Failed are
// terminal; Flagged leaves only through an operator decision.
var allowedTransitions = map[SubState][]SubState{
	SubStateSubmitted:    {SubStateExtracted},
	SubStateExtracted:    {SubStateCrossChecked},
	SubStateCrossChecked: {SubStateVerified, SubStateFlagged, SubStateFailed},
	SubStateFlagged:      {SubStateVerified, SubStateFailed},
}

// CanTransition reports whether from → to is in the sub-state table.
func CanTransition(from, to SubState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the sub-state.
func (s SubState) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// InvalidTransitionError names the current and requested sub-states.
func InvalidTransitionError(current, requested SubState) error {
	return dErrors.Newf(dErrors.CodeInvalidTransition,
		"cannot transition verification case from %s to %s", current, requested)
}

// ExtractedFields is the structured output of the document extraction
// collaborator.
type ExtractedFields struct {
	LegalName      string `json:"legal_name"`
	RegistryNumber string `json:"registry_number"`
	CountryCode    string `json:"country_code"`
	EntityStatus   string `json:"entity_status"`
}

// MatchResult is the per-field comparison against the authoritative registry.
type MatchResult struct {
	IdentifierExact bool    `json:"identifier_exact"`
	NameSimilarity  float64 `json:"name_similarity"`
	EntityActive    bool    `json:"entity_active"`
	OfficialName    string  `json:"official_name"`
}

// Case tracks one uploaded document through automated and manual review.
type Case struct {
	ID          id.CaseID  `json:"id"`
	OrgID       id.OrgID   `json:"org_id"`
	SubmitterID id.ActorID `json:"submitter_id"`
	SubState    SubState   `json:"sub_state"`

	Document []byte `json:"-"` // retained for bounded re-extraction only

	Fields     ExtractedFields `json:"fields"`
	Confidence float64         `json:"confidence"`
	Match      MatchResult     `json:"match"`

	DecisionReason    string     `json:"decision_reason,omitempty"`
	ReviewerID        id.ActorID `json:"reviewer_id,omitempty"`
	ExtractionRetries int        `json:"extraction_retries"`

	SubmittedAt    time.Time `json:"submitted_at"`
	ExtractedAt    time.Time `json:"extracted_at,omitempty"`
	CrossCheckedAt time.Time `json:"cross_checked_at,omitempty"`
	DecidedAt      time.Time `json:"decided_at,omitempty"`
}

// NewCase opens a verification case in Submitted.
func NewCase(caseID id.CaseID, orgID id.OrgID, submitter id.ActorID, document []byte, now time.Time) (*Case, error) {
	if len(document) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "document is required")
	}
	return &Case{
		ID:          caseID,
		OrgID:       orgID,
		SubmitterID: submitter,
		SubState:    SubStateSubmitted,
		Document:    document,
		SubmittedAt: now,
	}, nil
}

// CompletedCleanly reports whether the case reached a terminal non-flagged
// verified outcome. The onboarding approval gate checks this.
func (c *Case) CompletedCleanly() bool {
	return c.SubState == SubStateVerified
}
