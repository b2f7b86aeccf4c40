package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/storyweave/collab/internal/types"
)

// ErrMalformedMessage is returned by DecodeClientMessage for any frame that
// cannot be forwarded into the room: bad JSON, an unknown or server-only
// kind, or a payload missing required fields.
var ErrMalformedMessage = errors.New("malformed message")

type MessageKind string

const (
	KindEdit           MessageKind = "edit"
	KindCursorMove     MessageKind = "cursor_move"
	KindChat           MessageKind = "chat"
	KindComment        MessageKind = "comment"
	KindLockAcquire    MessageKind = "lock_acquire"
	KindLockRelease    MessageKind = "lock_release"
	KindPresenceUpdate MessageKind = "presence_update"
	KindInitialState   MessageKind = "initial_state"
	KindError          MessageKind = "error"
)

// Message is the single wire unit. Frames are flat JSON objects
// discriminated by "kind"; fields are populated per kind. Sender is always
// stamped by the server from the connection's identity, never taken from
// the client payload.
type Message struct {
	Kind      MessageKind        `json:"kind"`
	Timestamp time.Time          `json:"timestamp"`
	Sender    *types.Participant `json:"sender,omitempty"`

	// edit, cursor_move, lock_acquire, lock_release
	UnitId   string          `json:"unit_id,omitempty"`
	Changes  json.RawMessage `json:"changes,omitempty"`
	Position json.RawMessage `json:"position,omitempty"`

	// chat
	Text string `json:"message,omitempty"`

	// comment: opaque, relayed verbatim
	Comment json.RawMessage `json:"comment,omitempty"`

	// lock_acquire
	DurationMinutes int `json:"duration_minutes,omitempty"`

	// presence_update, initial_state
	Participants []types.Participant `json:"participants"`
	Locks        []types.LockInfo    `json:"locks"`

	// error, lock notices
	Reason    string             `json:"reason,omitempty"`
	Holder    *types.Participant `json:"holder,omitempty"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
}

// DecodeClientMessage parses and validates one inbound frame. It is a pure
// transform: no side effects, never blocks. Any client-asserted sender is
// discarded.
func DecodeClientMessage(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	// the connection's identity is authoritative, not the payload's
	msg.Sender = nil

	switch msg.Kind {
	case KindEdit:
		if msg.UnitId == "" || len(msg.Changes) == 0 {
			return nil, fmt.Errorf("%w: edit requires unit_id and changes", ErrMalformedMessage)
		}
	case KindCursorMove:
		if msg.UnitId == "" || len(msg.Position) == 0 {
			return nil, fmt.Errorf("%w: cursor_move requires unit_id and position", ErrMalformedMessage)
		}
	case KindChat:
		if msg.Text == "" {
			return nil, fmt.Errorf("%w: chat requires message", ErrMalformedMessage)
		}
	case KindComment:
		if len(msg.Comment) == 0 {
			return nil, fmt.Errorf("%w: comment requires comment payload", ErrMalformedMessage)
		}
	case KindLockAcquire:
		if msg.UnitId == "" {
			return nil, fmt.Errorf("%w: lock_acquire requires unit_id", ErrMalformedMessage)
		}
		if msg.DurationMinutes < 0 {
			return nil, fmt.Errorf("%w: negative duration_minutes", ErrMalformedMessage)
		}
	case KindLockRelease:
		if msg.UnitId == "" {
			return nil, fmt.Errorf("%w: lock_release requires unit_id", ErrMalformedMessage)
		}
	case KindPresenceUpdate, KindInitialState, KindError:
		return nil, fmt.Errorf("%w: kind %q is server-to-client only", ErrMalformedMessage, msg.Kind)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, msg.Kind)
	}

	return &msg, nil
}

func newPresenceUpdate(participants []types.Participant) *Message {
	return &Message{
		Kind:         KindPresenceUpdate,
		Timestamp:    Now(),
		Participants: participants,
	}
}

func newInitialState(participants []types.Participant, locks []types.LockInfo) *Message {
	return &Message{
		Kind:         KindInitialState,
		Timestamp:    Now(),
		Participants: participants,
		Locks:        locks,
	}
}

// newLockNotice builds the broadcast for a granted lock. The same shape,
// with kind lock_release and no expiry, announces a release.
func newLockNotice(kind MessageKind, unitId string, holder types.Participant, expiresAt time.Time) *Message {
	msg := &Message{
		Kind:      kind,
		Timestamp: Now(),
		UnitId:    unitId,
		Holder:    &holder,
	}
	if kind == KindLockAcquire {
		msg.ExpiresAt = &expiresAt
	}
	return msg
}

// ErrLockDenied tells the requester who holds the unit and until when, so
// the client can render "locked by X until Y".
func ErrLockDenied(unitId string, holder types.Participant, expiresAt time.Time) *Message {
	return &Message{
		Kind:      KindError,
		Timestamp: Now(),
		Reason:    "locked",
		UnitId:    unitId,
		Holder:    &holder,
		ExpiresAt: &expiresAt,
	}
}

func ErrMalformed() *Message {
	return &Message{
		Kind:      KindError,
		Timestamp: Now(),
		Reason:    "malformed message",
	}
}

func ErrUnavailable() *Message {
	return &Message{
		Kind:      KindError,
		Timestamp: Now(),
		Reason:    "service unavailable",
	}
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
