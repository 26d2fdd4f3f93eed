package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/faithflow/commsync/pkg/chat"
)

// ErrMalformed is returned for topics and payloads that cannot be applied.
var ErrMalformed = errors.New("reconcile: malformed event")

// Kind is the envelope type tag.
type Kind string

const (
	KindNewMessage    Kind = "new_message"
	KindEditMessage   Kind = "edit_message"
	KindDeleteMessage Kind = "delete_message"
	KindReaction      Kind = "reaction"
	KindReadReceipt   Kind = "read_receipt"
	KindTyping        Kind = "typing"
	KindPresence      Kind = "presence"
	KindPollVote      Kind = "poll_vote"
)

// Event is one decoded envelope. The set of implementations is closed; each
// dispatches to its own Visitor method.
type Event interface {
	Kind() Kind
	accept(v Visitor, key chat.Key)
}

// Visitor handles every event kind. Adding a kind adds a method here, so
// every visitor must handle it before the package compiles.
type Visitor interface {
	NewMessage(key chat.Key, ev NewMessage)
	EditMessage(key chat.Key, ev EditMessage)
	DeleteMessage(key chat.Key, ev DeleteMessage)
	Reaction(key chat.Key, ev Reaction)
	ReadReceipt(key chat.Key, ev ReadReceipt)
	Typing(key chat.Key, ev Typing)
	Presence(key chat.Key, ev Presence)
	PollVote(key chat.Key, ev PollVote)
}

// Dispatch calls the Visitor method for ev.
func Dispatch(v Visitor, key chat.Key, ev Event) {
	ev.accept(v, key)
}

// NewMessage carries a message published by the backend.
type NewMessage struct {
	Message chat.Message
}

// EditMessage carries a text edit.
type EditMessage struct {
	MessageID string    `json:"message_id"`
	Text      string    `json:"text"`
	EditedAt  chat.Time `json:"edited_at"`
}

// DeleteMessage carries a deletion.
type DeleteMessage struct {
	MessageID   string `json:"message_id"`
	ForEveryone bool   `json:"for_everyone"`
}

// Reaction carries one member's reaction change.
type Reaction struct {
	MessageID string              `json:"message_id"`
	Emoji     string              `json:"emoji"`
	MemberID  string              `json:"member_id"`
	Action    chat.ReactionAction `json:"action"`
}

// ReadReceipt carries a member's first read of a message.
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	MemberID  string    `json:"member_id"`
	ReadAt    chat.Time `json:"read_at"`
}

// Typing carries a typing indicator change.
type Typing struct {
	MemberID   string `json:"member_id"`
	MemberName string `json:"member_name"`
	IsTyping   bool   `json:"is_typing"`
}

// PresenceStatus is the status field of a presence event.
type PresenceStatus string

const (
	Online  PresenceStatus = "online"
	Offline PresenceStatus = "offline"
)

// Presence carries a member's connectivity change.
type Presence struct {
	MemberID   string         `json:"member_id"`
	MemberName string         `json:"member_name"`
	Status     PresenceStatus `json:"status"`
	At         chat.Time      `json:"at,omitzero"`
}

// PollVote carries updated poll tallies.
type PollVote struct {
	MessageID string    `json:"message_id"`
	Poll      chat.Poll `json:"poll"`
}

func (NewMessage) Kind() Kind    { return KindNewMessage }
func (EditMessage) Kind() Kind   { return KindEditMessage }
func (DeleteMessage) Kind() Kind { return KindDeleteMessage }
func (Reaction) Kind() Kind      { return KindReaction }
func (ReadReceipt) Kind() Kind   { return KindReadReceipt }
func (Typing) Kind() Kind        { return KindTyping }
func (Presence) Kind() Kind      { return KindPresence }
func (PollVote) Kind() Kind      { return KindPollVote }

func (e NewMessage) accept(v Visitor, k chat.Key)    { v.NewMessage(k, e) }
func (e EditMessage) accept(v Visitor, k chat.Key)   { v.EditMessage(k, e) }
func (e DeleteMessage) accept(v Visitor, k chat.Key) { v.DeleteMessage(k, e) }
func (e Reaction) accept(v Visitor, k chat.Key)      { v.Reaction(k, e) }
func (e ReadReceipt) accept(v Visitor, k chat.Key)   { v.ReadReceipt(k, e) }
func (e Typing) accept(v Visitor, k chat.Key)        { v.Typing(k, e) }
func (e Presence) accept(v Visitor, k chat.Key)      { v.Presence(k, e) }
func (e PollVote) accept(v Visitor, k chat.Key)      { v.PollVote(k, e) }

type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses an envelope.
func Decode(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, fmt.Errorf("%w: %s without data", ErrMalformed, env.Type)
	}
	var (
		ev  Event
		err error
	)
	switch env.Type {
	case KindNewMessage:
		var m chat.Message
		err = json.Unmarshal(env.Data, &m)
		ev = NewMessage{Message: m}
	case KindEditMessage:
		ev, err = decode[EditMessage](env.Data)
	case KindDeleteMessage:
		ev, err = decode[DeleteMessage](env.Data)
	case KindReaction:
		ev, err = decode[Reaction](env.Data)
	case KindReadReceipt:
		ev, err = decode[ReadReceipt](env.Data)
	case KindTyping:
		ev, err = decode[Typing](env.Data)
	case KindPresence:
		ev, err = decode[Presence](env.Data)
	case KindPollVote:
		ev, err = decode[PollVote](env.Data)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	if err := validate(ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, err)
	}
	return ev, nil
}

func decode[T Event](data []byte) (Event, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

func validate(ev Event) error {
	switch e := ev.(type) {
	case NewMessage:
		if e.Message.ID == "" {
			return errors.New("missing id")
		}
	case EditMessage:
		if e.MessageID == "" {
			return errors.New("missing message_id")
		}
	case DeleteMessage:
		if e.MessageID == "" {
			return errors.New("missing message_id")
		}
	case Reaction:
		if e.MessageID == "" || e.Emoji == "" || e.MemberID == "" {
			return errors.New("missing message_id, emoji or member_id")
		}
		if e.Action != chat.ReactionAdd && e.Action != chat.ReactionRemove {
			return fmt.Errorf("unknown action %q", e.Action)
		}
	case ReadReceipt:
		if e.MessageID == "" || e.MemberID == "" {
			return errors.New("missing message_id or member_id")
		}
	case Typing:
		if e.MemberID == "" {
			return errors.New("missing member_id")
		}
	case Presence:
		if e.MemberID == "" {
			return errors.New("missing member_id")
		}
		if e.Status != Online && e.Status != Offline {
			return fmt.Errorf("unknown status %q", e.Status)
		}
	case PollVote:
		if e.MessageID == "" {
			return errors.New("missing message_id")
		}
	}
	return nil
}

// Encode builds the envelope for ev.
func Encode(ev Event) ([]byte, error) {
	var data any = ev
	if m, ok := ev.(NewMessage); ok {
		data = m.Message
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("reconcile: encode %s: %w", ev.Kind(), err)
	}
	return json.Marshal(envelope{Type: ev.Kind(), Data: raw})
}
