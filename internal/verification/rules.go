package verification

import "fmt"

// Thresholds bound the auto-decision zones. AutoVerify is the minimum name
// similarity for automatic verification; Flag is the lower bound of the
// ambiguous zone.
type Thresholds struct {
	AutoVerify float64
	Flag       float64
}

// DefaultThresholds mirror the configured defaults: 90% auto-verify, 60%
// ambiguous lower bound.
func DefaultThresholds() Thresholds {
	return Thresholds{AutoVerify: 0.90, Flag: 0.60}
}

// Decide maps a cross-check result onto the terminal-or-flagged outcome.
// Rules are centralized here so they stay testable in one place:
//
//   - Verified requires all three signals: exact identifier match, active
//     entity, and name similarity at or above the auto-verify threshold.
//     Partial matches never auto-verify.
//   - Failed requires name similarity below the lower bound with no
//     redeeming signal (no identifier match, no active-entity confirmation).
//   - Everything else is Flagged for the mandatory two-person checkpoint.
func Decide(match MatchResult, t Thresholds) (SubState, string) {
	if match.IdentifierExact && match.EntityActive && match.NameSimilarity >= t.AutoVerify {
		return SubStateVerified, fmt.Sprintf(
			"identifier exact, entity active, name similarity %.2f >= %.2f",
			match.NameSimilarity, t.AutoVerify)
	}

	if match.NameSimilarity < t.Flag && !match.IdentifierExact && !match.EntityActive {
		return SubStateFailed, fmt.Sprintf(
			"name similarity %.2f below lower bound %.2f with no redeeming signal",
			match.NameSimilarity, t.Flag)
	}

	return SubStateFlagged, flagReason(match, t)
}

func flagReason(match MatchResult, t Thresholds) string {
	switch {
	case !match.EntityActive:
		return "entity not active in authoritative registry"
	case !match.IdentifierExact:
		return "registry identifier mismatch"
	default:
		return fmt.Sprintf("name similarity %.2f in ambiguous zone [%.2f, %.2f)",
			match.NameSimilarity, t.Flag, t.AutoVerify)
	}
}
