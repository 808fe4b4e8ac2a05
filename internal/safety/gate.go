// Package safety implements the interlocks consulted before and during
// active testing: the global kill switch and per-target enable/pause
// state.
package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/huntplane/huntplane/internal/core"
	"github.com/huntplane/huntplane/internal/logger"
	"github.com/huntplane/huntplane/pkg/types"
)

type gate struct {
	store  core.Store
	logger *logger.Logger
}

func NewGate(store core.Store, log *logger.Logger) core.SafetyGate {
	return &gate{
		store:  store,
		logger: log.WithComponent("safety"),
	}
}

// IsActive reports whether the kill switch is engaged.
func (g *gate) IsActive(ctx context.Context) (bool, string, error) {
	ks, err := g.store.GetKillSwitch(ctx)
	if err != nil {
		return false, "", fmt.Errorf("failed to read kill switch: %w", err)
	}
	return ks.Active, ks.Reason, nil
}

// CanRun returns a PolicyBlockedError when the kill switch is engaged
// or the target is disabled or paused. Returning nil authorizes work
// only at this instant; long-running jobs poll again between requests.
func (g *gate) CanRun(ctx context.Context, targetID string) error {
	active, reason, err := g.IsActive(ctx)
	if err != nil {
		return err
	}
	if active {
		g.logger.Warnw("Work refused, kill switch engaged",
			"target_id", targetID,
			"reason", reason,
		)
		return &core.PolicyBlockedError{Reason: "kill switch active: " + reason}
	}

	target, err := g.store.GetTarget(ctx, targetID)
	if err != nil {
		return fmt.Errorf("failed to load target %s: %w", targetID, err)
	}
	if !target.Enabled {
		return &core.PolicyBlockedError{Reason: fmt.Sprintf("target %s is disabled", targetID)}
	}
	if target.Paused {
		return &core.PolicyBlockedError{Reason: fmt.Sprintf("target %s is paused", targetID)}
	}
	return nil
}

// Activate engages the kill switch and force-stops every non-terminal
// test job.
func Activate(ctx context.Context, store core.Store, log *logger.Logger, reason string) (int64, error) {
	now := time.Now().UTC()
	if err := store.SetKillSwitch(ctx, &types.KillSwitch{
		Active:      true,
		Reason:      reason,
		ActivatedAt: &now,
	}); err != nil {
		return 0, err
	}

	stopped, err := store.ForceStopRunningJobs(ctx, "kill switch activated: "+reason)
	if err != nil {
		return 0, fmt.Errorf("kill switch set but job stop failed: %w", err)
	}

	log.WithComponent("safety").Warnw("Kill switch activated",
		"reason", reason,
		"jobs_stopped", stopped,
	)
	return stopped, nil
}

// Deactivate releases the kill switch. Stopped jobs stay stopped;
// operators resubmit candidates if testing should resume.
func Deactivate(ctx context.Context, store core.Store, log *logger.Logger) error {
	now := time.Now().UTC()
	if err := store.SetKillSwitch(ctx, &types.KillSwitch{
		Active:        false,
		DeactivatedAt: &now,
	}); err != nil {
		return err
	}
	log.WithComponent("safety").Infow("Kill switch deactivated")
	return nil
}
