// Package reconcile merges events pushed by the backend into the local
// cache.
//
// Every rule is idempotent: a duplicated or replayed event leaves the cache
// as the first delivery did.
package reconcile

import (
	"fmt"
	"log/slog"

	"github.com/faithflow/commsync/pkg/cache"
	"github.com/faithflow/commsync/pkg/chat"
	"github.com/faithflow/commsync/pkg/topic"
)

// Viewer reports whether a timeline is currently on screen.
type Viewer interface {
	IsViewing(key chat.Key) bool
}

// Config configures a Reconciler.
type Config struct {
	Store cache.Store

	// Self is the local member id. Its own new messages and typing events
	// are ignored.
	Self string

	// Viewer decides whether a new message clears or bumps the unread count.
	// Nil means nothing is viewed.
	Viewer Viewer

	Logger *slog.Logger
}

// Reconciler applies events to a cache.
type Reconciler struct {
	store  cache.Store
	self   string
	viewer Viewer
	logger *slog.Logger
}

var _ Visitor = (*Reconciler)(nil)

// New returns a Reconciler.
func New(cfg Config) *Reconciler {
	r := &Reconciler{
		store:  cfg.Store,
		self:   cfg.Self,
		viewer: cfg.Viewer,
		logger: cfg.Logger,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Apply decodes payload received on topicName and merges it. Malformed
// input is reported as ErrMalformed and changes nothing.
func (r *Reconciler) Apply(topicName string, payload []byte) error {
	_, key, err := topic.Parse(topicName)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	ev, err := Decode(payload)
	if err != nil {
		return err
	}
	r.logger.Debug("reconcile: apply", "topic", topicName, "type", ev.Kind())
	Dispatch(r, key, ev)
	return nil
}

func (r *Reconciler) viewing(key chat.Key) bool {
	return r.viewer != nil && r.viewer.IsViewing(key)
}

func (r *Reconciler) NewMessage(key chat.Key, ev NewMessage) {
	m := ev.Message
	if m.Sender.ID == r.self {
		return
	}
	m.CommunityID, m.ChannelType, m.SubgroupID = key.Community, key.Channel, key.Subgroup
	m.Status = ""
	r.store.SetTyping(key.Community, m.Sender, false)
	if !r.store.Prepend(key, m) {
		return
	}
	viewing := r.viewing(key)
	r.store.UpdateSummary(key.Community, func(s chat.Summary) chat.Summary {
		s.LastMessage = chat.PreviewOf(m)
		if viewing {
			s.UnreadCount = 0
		} else {
			s.UnreadCount++
		}
		return s
	})
}

func (r *Reconciler) EditMessage(key chat.Key, ev EditMessage) {
	r.store.Patch(key, ev.MessageID, func(m chat.Message) chat.Message {
		// Tombstones stay empty and a reordered older edit loses.
		if m.IsDeleted || ev.EditedAt.Before(m.EditedAt) {
			return m
		}
		m.Text = ev.Text
		m.IsEdited = true
		m.EditedAt = ev.EditedAt
		return m
	})
}

func (r *Reconciler) DeleteMessage(key chat.Key, ev DeleteMessage) {
	if !r.store.MarkDeleted(key, ev.MessageID, ev.ForEveryone) {
		return
	}
	r.store.PatchSummary(key.Community, func(s chat.Summary) chat.Summary {
		if s.LastMessage != nil && s.LastMessage.MessageID == ev.MessageID {
			s.LastMessage.Text = "Message deleted"
		}
		return s
	})
}

func (r *Reconciler) Reaction(key chat.Key, ev Reaction) {
	r.store.Patch(key, ev.MessageID, func(m chat.Message) chat.Message {
		if m.IsDeleted {
			return m
		}
		m.Reactions = m.Reactions.Apply(ev.Action, ev.Emoji, ev.MemberID)
		return m
	})
}

func (r *Reconciler) ReadReceipt(key chat.Key, ev ReadReceipt) {
	r.store.Patch(key, ev.MessageID, func(m chat.Message) chat.Message {
		m, _ = m.MarkRead(ev.MemberID, ev.ReadAt)
		return m
	})
}

func (r *Reconciler) Typing(key chat.Key, ev Typing) {
	if ev.MemberID == r.self {
		return
	}
	r.store.SetTyping(key.Community, chat.Member{ID: ev.MemberID, Name: ev.MemberName}, ev.IsTyping)
}

func (r *Reconciler) Presence(key chat.Key, ev Presence) {
	member := chat.Member{ID: ev.MemberID, Name: ev.MemberName}
	r.store.SetPresence(key.Community, member, ev.Status == Online, ev.At.Time())
}

func (r *Reconciler) PollVote(key chat.Key, ev PollVote) {
	r.store.Patch(key, ev.MessageID, func(m chat.Message) chat.Message {
		if m.IsDeleted {
			return m
		}
		p := ev.Poll.Clone()
		if m.Poll != nil {
			p.MyVotes = m.Poll.MyVotes
		}
		m.Poll = &p
		return m
	})
}
