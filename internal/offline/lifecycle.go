package offline

import (
	"context"
	"errors"
	"time"

	"github.com/looplab/fsm"

	fsmutil "github.com/ecofleet-io/ecofleet/internal/pkg/util/fsm"
)

const (
	// EventFlush starts a replay of a pending intent.
	EventFlush = "flush"
	// EventCommit records a 2xx response.
	EventCommit = "commit"
	// EventFail records a retryable failure (network error, timeout, 5xx).
	EventFail = "fail"
	// EventReject records a 4xx response.
	EventReject = "reject"
	// EventRequeue puts a retryable failure back in line.
	EventRequeue = "requeue"
	// EventGiveUp stops retrying once the attempt ceiling is reached.
	EventGiveUp = "give_up"
	// EventRetry is a manual retry of a terminal failure.
	EventRetry = "retry"
	// EventRecover returns an interrupted replay to pending.
	EventRecover = "recover"
)

var errAttemptsExhausted = errors.New("retry attempts exhausted")

// lifecycle drives PendingWriteIntent.Phase through a looplab/fsm machine.
// The machine is rebuilt from the intent's phase on every event, so intents
// stay plain data that can be persisted.
type lifecycle struct {
	maxAttempts int
	now         func() time.Time

	events    fsm.Events
	callbacks fsm.Callbacks
}

func newLifecycle(maxAttempts int, now func() time.Time) *lifecycle {
	l := &lifecycle{maxAttempts: maxAttempts, now: now}

	l.events = fsm.Events{
		{Name: EventFlush, Src: []string{string(PhasePending)}, Dst: string(PhaseFlushing)},
		{Name: EventCommit, Src: []string{string(PhaseFlushing)}, Dst: string(PhaseCommitted)},
		{Name: EventFail, Src: []string{string(PhaseFlushing)}, Dst: string(PhaseFailedRetryable)},
		{Name: EventReject, Src: []string{string(PhaseFlushing)}, Dst: string(PhaseFailedTerminal)},
		{Name: EventRequeue, Src: []string{string(PhaseFailedRetryable)}, Dst: string(PhasePending)},
		{Name: EventGiveUp, Src: []string{string(PhaseFailedRetryable)}, Dst: string(PhaseFailedTerminal)},
		{Name: EventRetry, Src: []string{string(PhaseFailedTerminal)}, Dst: string(PhasePending)},
		{Name: EventRecover, Src: []string{string(PhaseFlushing), string(PhaseFailedRetryable)}, Dst: string(PhasePending)},
	}

	l.callbacks = fsm.Callbacks{
		"before_" + EventRequeue: fsmutil.WrapGuard(l.guardBelowCeiling),

		"enter_" + string(PhasePending):         fsmutil.WrapEvent(l.enterPending),
		"enter_" + string(PhaseFlushing):        fsmutil.WrapEvent(l.touch),
		"enter_" + string(PhaseCommitted):       fsmutil.WrapEvent(l.enterCommitted),
		"enter_" + string(PhaseFailedRetryable): fsmutil.WrapEvent(l.enterFailed),
		"enter_" + string(PhaseFailedTerminal):  fsmutil.WrapEvent(l.enterFailed),
	}

	return l
}

// fire applies event to it. cause is recorded by the failure events.
// Transitions are not tied to the caller's cancellation: a replay that was
// interrupted must still be able to leave Flushing.
func (l *lifecycle) fire(ctx context.Context, it *PendingWriteIntent, event string, cause error) error {
	m := fsm.NewFSM(string(it.Phase), l.events, l.callbacks)
	if err := m.Event(context.WithoutCancel(ctx), event, it, cause); err != nil {
		return err
	}
	it.Phase = Phase(m.Current())
	return nil
}

// requeueOrGiveUp moves a retryable failure back to pending, or to terminal
// when the attempt ceiling is reached. It reports whether the intent is
// pending again.
func (l *lifecycle) requeueOrGiveUp(ctx context.Context, it *PendingWriteIntent) (bool, error) {
	err := l.fire(ctx, it, EventRequeue, nil)
	if err == nil {
		return true, nil
	}

	var canceled fsm.CanceledError
	if !errors.As(err, &canceled) {
		return false, err
	}
	return false, l.fire(ctx, it, EventGiveUp, nil)
}

func (l *lifecycle) guardBelowCeiling(_ context.Context, e *fsm.Event) error {
	it := e.Args[0].(*PendingWriteIntent)
	if it.Attempts >= l.maxAttempts {
		return errAttemptsExhausted
	}
	return nil
}

func (l *lifecycle) touch(_ context.Context, e *fsm.Event) error {
	e.Args[0].(*PendingWriteIntent).UpdatedAt = l.now()
	return nil
}

func (l *lifecycle) enterPending(_ context.Context, e *fsm.Event) error {
	it := e.Args[0].(*PendingWriteIntent)
	if e.Event == EventRetry {
		it.Attempts = 0
		it.LastError = ""
	}
	it.UpdatedAt = l.now()
	return nil
}

func (l *lifecycle) enterCommitted(_ context.Context, e *fsm.Event) error {
	it := e.Args[0].(*PendingWriteIntent)
	it.Attempts++
	it.LastError = ""
	it.UpdatedAt = l.now()
	return nil
}

// enterFailed counts the attempt for fail and reject. give_up keeps the
// error of the last attempt.
func (l *lifecycle) enterFailed(_ context.Context, e *fsm.Event) error {
	it := e.Args[0].(*PendingWriteIntent)
	if e.Event == EventFail || e.Event == EventReject {
		it.Attempts++
		if len(e.Args) > 1 {
			if cause, ok := e.Args[1].(error); ok && cause != nil {
				it.LastError = cause.Error()
			}
		}
	}
	it.UpdatedAt = l.now()
	return nil
}
