// Package optimistic applies user mutations to the local cache before the
// backend confirms them, and reverts them when the backend refuses.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/faithflow/commsync/pkg/cache"
	"github.com/faithflow/commsync/pkg/chat"
)

var (
	// ErrNotFound is returned when the target message is not loaded.
	ErrNotFound = errors.New("optimistic: message not found")

	// ErrEmptyDraft is returned when sending a draft without content.
	ErrEmptyDraft = errors.New("optimistic: empty draft")

	// ErrNotPoll is returned when voting on a message without a poll.
	ErrNotPoll = errors.New("optimistic: message has no poll")

	// ErrPollClosed is returned when voting on an expired poll. Nothing is
	// changed.
	ErrPollClosed = chat.ErrPollClosed
)

// API is the subset of the REST backend the coordinator calls.
type API interface {
	SendMessage(ctx context.Context, key chat.Key, draft chat.Draft) (chat.Message, error)
	EditMessage(ctx context.Context, key chat.Key, id, text string) (chat.Message, error)
	DeleteMessage(ctx context.Context, key chat.Key, id string, forEveryone bool) error
	React(ctx context.Context, key chat.Key, id, emoji string, action chat.ReactionAction) (chat.Message, error)
	VotePoll(ctx context.Context, key chat.Key, id string, optionIDs []string) (chat.Message, error)
	ListMessages(ctx context.Context, key chat.Key, before string, limit int) (chat.Page, error)
}

// DefaultPageSize is the number of messages requested per history page.
const DefaultPageSize = 50

// Config configures a Coordinator.
type Config struct {
	Store cache.Store
	API   API

	// Self is the local member, used as sender, reactor and voter.
	Self chat.Member

	// PageSize defaults to DefaultPageSize.
	PageSize int

	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time

	// NewID defaults to chat.NewTempID.
	NewID func() string
}

// Coordinator runs optimistic mutations against one cache.
type Coordinator struct {
	store    cache.Store
	api      API
	self     chat.Member
	pageSize int
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// New returns a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, errors.New("optimistic: Store is required")
	}
	if cfg.API == nil {
		return nil, errors.New("optimistic: API is required")
	}
	if cfg.Self.ID == "" {
		return nil, errors.New("optimistic: Self.ID is required")
	}
	c := &Coordinator{
		store:    cfg.Store,
		api:      cfg.API,
		self:     cfg.Self,
		pageSize: cfg.PageSize,
		logger:   cfg.Logger,
		now:      cfg.Now,
		newID:    cfg.NewID,
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = chat.NewTempID
	}
	return c, nil
}

// Result is the outcome of an asynchronous send.
type Result struct {
	Message chat.Message
	Err     error
}

// Send shows draft at the head of key's timeline immediately, sends it and
// swaps the provisional copy for the server's message. On failure the
// provisional copy is removed and the error returned.
func (c *Coordinator) Send(ctx context.Context, key chat.Key, draft chat.Draft) (chat.Message, error) {
	_, finish, err := c.send(key, draft)
	if err != nil {
		return chat.Message{}, err
	}
	return finish(ctx)
}

// SendAsync is like Send but returns as soon as the provisional message is
// in the cache. The channel receives exactly one Result.
func (c *Coordinator) SendAsync(ctx context.Context, key chat.Key, draft chat.Draft) (chat.Message, <-chan Result, error) {
	tmp, finish, err := c.send(key, draft)
	if err != nil {
		return chat.Message{}, nil, err
	}
	ch := make(chan Result, 1)
	go func() {
		m, err := finish(ctx)
		ch <- Result{Message: m, Err: err}
	}()
	return tmp, ch, nil
}

func (c *Coordinator) send(key chat.Key, draft chat.Draft) (chat.Message, func(context.Context) (chat.Message, error), error) {
	if err := key.Validate(); err != nil {
		return chat.Message{}, nil, fmt.Errorf("optimistic: send: %w", err)
	}
	if draft.Empty() {
		return chat.Message{}, nil, ErrEmptyDraft
	}
	tmp := c.provisional(key, draft)
	draft.ClientID = tmp.ID
	finish, err := start(c.logger, mutation[chat.Message]{
		name: "send",
		apply: func() (func(), error) {
			c.store.Prepend(key, tmp)
			return func() { c.store.Remove(key, tmp.ID) }, nil
		},
		call: func(ctx context.Context) (chat.Message, error) {
			return c.api.SendMessage(ctx, key, draft)
		},
		commit: func(m chat.Message) {
			m.Status = ""
			if !c.store.Replace(key, tmp.ID, m) {
				c.store.Prepend(key, m)
			}
			c.store.UpdateSummary(key.Community, func(s chat.Summary) chat.Summary {
				s.LastMessage = chat.PreviewOf(m)
				return s
			})
		},
	})
	if err != nil {
		return chat.Message{}, nil, err
	}
	return tmp, finish, nil
}

func (c *Coordinator) provisional(key chat.Key, d chat.Draft) chat.Message {
	m := chat.Message{
		ID:          c.newID(),
		CommunityID: key.Community,
		ChannelType: key.Channel,
		SubgroupID:  key.Subgroup,
		Sender:      c.self,
		Text:        d.Text,
		Media:       d.Media,
		Kind:        d.MessageKind(),
		CreatedAt:   chat.At(c.now()),
		ReplyTo:     d.ReplyTo,
		Poll:        d.Poll,
		Status:      chat.StatusPending,
	}
	return m.Clone()
}

// React toggles the local member's emoji reaction on a message.
func (c *Coordinator) React(ctx context.Context, key chat.Key, id, emoji string) (chat.Message, error) {
	var action chat.ReactionAction
	return run(ctx, c.logger, mutation[chat.Message]{
		name: "react",
		apply: func() (func(), error) {
			return c.patch(key, id, func(m *chat.Message) func(*chat.Message) {
				snapshot := m.Reactions.Clone()
				m.Reactions, action = m.Reactions.Toggle(emoji, c.self.ID)
				return func(m *chat.Message) { m.Reactions = snapshot }
			})
		},
		call: func(ctx context.Context) (chat.Message, error) {
			return c.api.React(ctx, key, id, emoji, action)
		},
		commit: func(server chat.Message) {
			c.store.Patch(key, id, func(m chat.Message) chat.Message {
				m.Reactions = server.Reactions.Clone()
				return m
			})
		},
	})
}

// Vote records the local member's vote for optionID. Single-choice polls move
// the vote; multiple-choice polls toggle the option.
func (c *Coordinator) Vote(ctx context.Context, key chat.Key, id, optionID string) (chat.Message, error) {
	cur, ok := c.message(key, id)
	if !ok {
		return chat.Message{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if cur.Poll == nil {
		return chat.Message{}, fmt.Errorf("%w: %s", ErrNotPoll, id)
	}
	if cur.Poll.Closed(c.now()) {
		return chat.Message{}, ErrPollClosed
	}
	if _, err := cur.Poll.Vote(c.self.ID, optionID); err != nil {
		return chat.Message{}, fmt.Errorf("optimistic: vote: %w", err)
	}

	var selected []string
	return run(ctx, c.logger, mutation[chat.Message]{
		name: "vote",
		apply: func() (func(), error) {
			return c.patch(key, id, func(m *chat.Message) func(*chat.Message) {
				if m.Poll == nil {
					return nil
				}
				snapshot := m.Poll.Clone()
				next, err := m.Poll.Vote(c.self.ID, optionID)
				if err != nil {
					return nil
				}
				m.Poll = &next
				selected = next.MyVotes
				return func(m *chat.Message) { m.Poll = &snapshot }
			})
		},
		call: func(ctx context.Context) (chat.Message, error) {
			return c.api.VotePoll(ctx, key, id, selected)
		},
		commit: func(server chat.Message) {
			if server.Poll == nil {
				return
			}
			c.store.Patch(key, id, func(m chat.Message) chat.Message {
				p := server.Poll.Clone()
				if len(p.MyVotes) == 0 && m.Poll != nil {
					p.MyVotes = m.Poll.MyVotes
				}
				m.Poll = &p
				return m
			})
		},
	})
}

// Edit replaces a message's text.
func (c *Coordinator) Edit(ctx context.Context, key chat.Key, id, text string) (chat.Message, error) {
	return run(ctx, c.logger, mutation[chat.Message]{
		name: "edit",
		apply: func() (func(), error) {
			return c.patch(key, id, func(m *chat.Message) func(*chat.Message) {
				text0, edited0, at0 := m.Text, m.IsEdited, m.EditedAt
				m.Text, m.IsEdited, m.EditedAt = text, true, chat.At(c.now())
				return func(m *chat.Message) {
					m.Text, m.IsEdited, m.EditedAt = text0, edited0, at0
				}
			})
		},
		call: func(ctx context.Context) (chat.Message, error) {
			return c.api.EditMessage(ctx, key, id, text)
		},
		commit: func(server chat.Message) {
			c.store.Patch(key, id, func(m chat.Message) chat.Message {
				m.Text = server.Text
				m.IsEdited = true
				if !server.EditedAt.IsZero() {
					m.EditedAt = server.EditedAt
				}
				return m
			})
		},
	})
}

// Delete deletes a message. Deleting for everyone tombstones it right away;
// deleting only for the local member removes it once the server agrees.
func (c *Coordinator) Delete(ctx context.Context, key chat.Key, id string, forEveryone bool) error {
	_, err := run(ctx, c.logger, mutation[struct{}]{
		name: "delete",
		apply: func() (func(), error) {
			if !forEveryone {
				if _, ok := c.message(key, id); !ok {
					return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
				}
				return nil, nil
			}
			return c.patch(key, id, func(m *chat.Message) func(*chat.Message) {
				snapshot := m.Clone()
				*m = m.Tombstone()
				return func(m *chat.Message) { *m = snapshot }
			})
		},
		call: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.api.DeleteMessage(ctx, key, id, forEveryone)
		},
		commit: func(struct{}) {
			if !forEveryone {
				c.store.Remove(key, id)
			}
		},
	})
	return err
}

// patch applies mutate to a cached message and returns a revert that runs
// the restore function mutate returned against the latest cached state.
func (c *Coordinator) patch(key chat.Key, id string, mutate func(m *chat.Message) (restore func(*chat.Message))) (func(), error) {
	var restore func(*chat.Message)
	found := c.store.Patch(key, id, func(m chat.Message) chat.Message {
		restore = mutate(&m)
		return m
	})
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return func() {
		if restore == nil {
			return
		}
		c.store.Patch(key, id, func(m chat.Message) chat.Message {
			restore(&m)
			return m
		})
	}, nil
}

func (c *Coordinator) message(key chat.Key, id string) (chat.Message, bool) {
	p, ok := c.store.Page(key)
	if !ok {
		return chat.Message{}, false
	}
	return p.Find(id)
}
