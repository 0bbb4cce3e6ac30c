package offline

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"
)

// Kind is the type of write an intent replays.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Phase is the lifecycle state of a queued intent.
type Phase string

const (
	PhasePending         Phase = "Pending"
	PhaseFlushing        Phase = "Flushing"
	PhaseCommitted       Phase = "Committed"
	PhaseFailedRetryable Phase = "FailedRetryable"
	PhaseFailedTerminal  Phase = "FailedTerminal"
)

var (
	// ErrInvalidIntent is wrapped by every validation failure of Enqueue and Submit.
	ErrInvalidIntent = errors.New("invalid write intent")

	// ErrIntentNotFound is returned by Retry and Discard for unknown ids.
	ErrIntentNotFound = errors.New("write intent not found")

	// ErrIntentBusy is returned when an intent is being replayed.
	ErrIntentBusy = errors.New("write intent is being replayed")

	// ErrIntentNotFailed is returned by Retry for intents that did not fail terminally.
	ErrIntentNotFailed = errors.New("write intent has not failed")
)

// PendingWriteIntent is a mutation recorded while it could not be sent, or
// while earlier mutations of the same resource are still queued.
type PendingWriteIntent struct {
	ID     string `json:"id"`
	Kind   Kind   `json:"kind"`
	Method string `json:"method"`

	// Target is the API path the request is sent to.
	Target string `json:"target"`

	// Resource groups intents that must replay in order. It defaults to
	// Target, and to Target/TempID for creates.
	Resource string `json:"resource"`

	Payload json.RawMessage `json:"payload,omitempty"`

	// TempID is the client side id of a created record until the server
	// assigns the real one.
	TempID string `json:"temp_id,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Phase      Phase     `json:"phase"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
}

func (it *PendingWriteIntent) clone() *PendingWriteIntent {
	c := *it
	if it.Payload != nil {
		c.Payload = append(json.RawMessage(nil), it.Payload...)
	}
	return &c
}

// normalize fills defaults and validates a caller supplied intent.
func normalize(it *PendingWriteIntent) error {
	if it == nil {
		return fmt.Errorf("%w: missing intent", ErrInvalidIntent)
	}

	switch it.Kind {
	case KindCreate:
		if it.Method == "" {
			it.Method = http.MethodPost
		}
	case KindUpdate:
		if it.Method == "" {
			it.Method = http.MethodPut
		}
	case KindDelete:
		if it.Method == "" {
			it.Method = http.MethodDelete
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidIntent, it.Kind)
	}
	it.Method = strings.ToUpper(it.Method)

	if !strings.HasPrefix(it.Target, "/") {
		return fmt.Errorf("%w: target %q must be an absolute path", ErrInvalidIntent, it.Target)
	}
	if len(it.Payload) > 0 && !json.Valid(it.Payload) {
		return fmt.Errorf("%w: payload is not valid JSON", ErrInvalidIntent)
	}
	if it.Kind != KindCreate && it.TempID != "" {
		return fmt.Errorf("%w: only creates carry a temp id", ErrInvalidIntent)
	}

	if it.Resource == "" {
		it.Resource = it.Target
		if it.Kind == KindCreate && it.TempID != "" {
			it.Resource = path.Join(it.Target, it.TempID)
		}
	}
	return nil
}
