package approval

import (
	"context"
	"fmt"

	"radar-engine/internal/domain"
	"radar-engine/internal/notify"
)

// Do applies one human action. text is the replacement draft for edits and
// an optional reason for skips.
func (m *Machine) Do(ctx context.Context, action, fp, actor, text string) (domain.Candidate, error) {
	switch action {
	case notify.ActionApprove:
		return m.Approve(ctx, fp, actor)
	case notify.ActionEdit:
		return m.Edit(ctx, fp, actor, text)
	case notify.ActionSkip:
		return m.Skip(ctx, fp, actor, text)
	}
	return domain.Candidate{}, fmt.Errorf("unknown action %q", action)
}
