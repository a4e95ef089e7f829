package bench

import (
	"context"
	"fmt"
	"time"

	"github.com/joescharf/buildbench/internal/power"
	"github.com/joescharf/buildbench/internal/prompt"
	"github.com/joescharf/buildbench/internal/workspace"
)

// Prompts asked before a run starts.
const (
	LowBatteryWarning  = "Battery is not full, you might get a lower score"
	ContinueQuestion   = "Would you like to continue?"
	WaitFullQuestion   = "Would you like to wait until battery is full?"
	DeleteRepoQuestion = "Repo directory already exists, would you like to delete it?"
)

const fullChargePercent = 100

// CheckCharge warns when the battery is not full and lets the operator
// abort, continue, or wait. Waiting re-reads the charge every interval.
func CheckCharge(ctx context.Context, m power.Monitor, c prompt.Confirmer, interval time.Duration, emit func(Event)) error {
	if emit == nil {
		emit = func(Event) {}
	}

	pct, err := m.ChargePercentage()
	if err != nil {
		return fmt.Errorf("read charge: %w", err)
	}
	if pct >= fullChargePercent {
		return nil
	}

	emit(Event{Kind: EventWarning, Line: LowBatteryWarning, At: time.Now()})
	if !c.Confirm(ContinueQuestion) {
		return ErrUserDeclined
	}
	if !c.Confirm(WaitFullQuestion) {
		return nil
	}

	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for pct < fullChargePercent {
		if pct != last {
			emit(Event{Kind: EventStatus, Line: fmt.Sprintf("Waiting for a full charge: %d%%", pct), At: time.Now()})
			last = pct
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if pct, err = m.ChargePercentage(); err != nil {
			return fmt.Errorf("read charge: %w", err)
		}
	}
	return nil
}

// DecideSource asks whether an existing checkout should be deleted. It
// returns true when the checkout is kept and should be reused.
func DecideSource(layout workspace.Layout, c prompt.Confirmer, ws workspace.Manager) (bool, error) {
	has, err := workspace.HasContent(layout.SourceDir)
	if err != nil {
		return false, err
	}
	if !has {
		return false, nil
	}
	if !c.Confirm(DeleteRepoQuestion) {
		return true, nil
	}
	if err := ws.RemoveStale(layout.SourceDir); err != nil {
		return false, err
	}
	return false, nil
}
