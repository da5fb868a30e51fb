package workflow

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

const (
	eventComplete = "complete"
	eventReject   = "reject"
	eventWithdraw = "withdraw"
	eventTimeout  = "timeout"
)

// transitions is the whole lifecycle: every event leaves PENDING and nothing
// leaves a terminal state.
var transitions = fsm.Events{
	{Name: eventComplete, Src: []string{string(StatusPending)}, Dst: string(StatusCompleted)},
	{Name: eventReject, Src: []string{string(StatusPending)}, Dst: string(StatusRejected)},
	{Name: eventWithdraw, Src: []string{string(StatusPending)}, Dst: string(StatusWithdrawn)},
	{Name: eventTimeout, Src: []string{string(StatusPending)}, Dst: string(StatusTimeout)},
}

func newMachine(current Status) *fsm.FSM {
	return fsm.NewFSM(string(current), transitions, fsm.Callbacks{})
}

// fire applies event and returns the resulting status. The caller holds the
// workflow lock.
func fire(ctx context.Context, m *fsm.FSM, event string) (Status, error) {
	if !m.Can(event) {
		return Status(m.Current()), fmt.Errorf("%s from %s: %w", event, m.Current(), ErrNotPending)
	}
	// Transitions ignore request cancellation.
	if err := m.Event(context.WithoutCancel(ctx), event); err != nil {
		return Status(m.Current()), fmt.Errorf("%s from %s: %v: %w", event, m.Current(), err, ErrNotPending)
	}
	return Status(m.Current()), nil
}
