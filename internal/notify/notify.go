// Package notify delivers lifecycle notifications to member organizations.
//
// The current dispatcher writes structured log events; a mail or webhook
// dispatcher can replace it behind the same interface. Delivery is
// best-effort everywhere: no caller treats a notification failure as a
// transition failure.
package notify

import (
	"context"
	"log/slog"

	"membergate/internal/onboarding"
	id "membergate/pkg/domain"
)

// LogDispatcher emits notifications as structured log events.
type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

// TransitionApplied reports an onboarding transition to the affected
// organization.
func (d *LogDispatcher) TransitionApplied(ctx context.Context, orgID id.OrgID, from, to onboarding.Status, reason string) {
	attrs := []any{
		slog.String("org_id", orgID.String()),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	}
	if reason != "" {
		attrs = append(attrs, slog.String("reason", reason))
	}
	d.logger.InfoContext(ctx, "notify: onboarding transition", attrs...)
}
