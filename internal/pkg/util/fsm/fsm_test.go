package fsm

import (
	"context"
	"errors"
	"testing"

	"github.com/looplab/fsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapGuardCancels(t *testing.T) {
	blocked := errors.New("blocked")
	m := fsm.NewFSM("a",
		fsm.Events{{Name: "go", Src: []string{"a"}, Dst: "b"}},
		fsm.Callbacks{
			"before_go": WrapGuard(func(ctx context.Context, e *fsm.Event) error { return blocked }),
		},
	)

	err := m.Event(context.Background(), "go")
	var canceled fsm.CanceledError
	require.True(t, errors.As(err, &canceled))
	assert.ErrorIs(t, canceled.Err, blocked)
	assert.Equal(t, "a", m.Current())
}

func TestWrapEventReportsError(t *testing.T) {
	failed := errors.New("side effect failed")
	m := fsm.NewFSM("a",
		fsm.Events{{Name: "go", Src: []string{"a"}, Dst: "b"}},
		fsm.Callbacks{
			"enter_b": WrapEvent(func(ctx context.Context, e *fsm.Event) error { return failed }),
		},
	)

	err := m.Event(context.Background(), "go")
	assert.ErrorIs(t, err, failed)
	assert.Equal(t, "b", m.Current())
}
