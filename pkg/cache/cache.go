// Package cache holds the locally cached timelines, community summaries,
// typing and presence state of one session.
//
// Every operation is atomic with respect to every other. Composite rules
// (duplicate checks, toggles, first-read-wins) are expressed as a single
// call so callers never need to read and then write.
package cache

import (
	"bytes"
	"cmp"
	"container/list"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/faithflow/commsync/pkg/chat"
)

// DefaultTypingTTL is how long a typing indicator lives without a refresh.
const DefaultTypingTTL = 6 * time.Second

// Store is the cache surface used by the coordinator, the reconciler and
// the session manager.
type Store interface {
	// Page returns a copy of the loaded page for key.
	Page(key chat.Key) (chat.Page, bool)

	// SetPage replaces the page for key.
	SetPage(key chat.Key, page chat.Page)

	// Prepend inserts msg at the head of key's page unless a message with the
	// same id is already loaded. A missing page is created with HasMore set.
	// It reports whether the message was inserted.
	Prepend(key chat.Key, msg chat.Message) bool

	// Patch replaces the message with the given id by fn's result, keeping its
	// position and id. It reports whether the message was found.
	Patch(key chat.Key, id string, fn func(chat.Message) chat.Message) bool

	// Replace swaps the message with the given id for msg in place. If msg's
	// id is already loaded elsewhere, the entry at id is removed instead.
	Replace(key chat.Key, id string, msg chat.Message) bool

	// Remove deletes the message with the given id.
	Remove(key chat.Key, id string) bool

	// MarkDeleted tombstones the message when forEveryone is set and is a
	// no-op otherwise.
	MarkDeleted(key chat.Key, id string, forEveryone bool) bool

	// AppendOlder adds older history at the tail, skipping loaded ids, and
	// returns the number of messages added.
	AppendOlder(key chat.Key, msgs []chat.Message, hasMore bool) int

	// MergeLatest lays a freshly fetched newest page under the loaded head.
	// Provisional messages and messages created after the newest fetched one
	// stay on top; every other loaded message is dropped. It returns the
	// merged page.
	MergeLatest(key chat.Key, fetched chat.Page) chat.Page

	Summary(community string) (chat.Summary, bool)
	Summaries() []chat.Summary
	SetSummaries(list []chat.Summary)

	// UpdateSummary replaces the summary of community by fn's result. A
	// missing summary is passed to fn as a zero value with CommunityID set.
	UpdateSummary(community string, fn func(chat.Summary) chat.Summary)

	// PatchSummary is UpdateSummary restricted to a loaded summary. It
	// reports whether one was found.
	PatchSummary(community string, fn func(chat.Summary) chat.Summary) bool

	// SetTyping adds or removes member from community's typing set and
	// reports whether the visible set changed.
	SetTyping(community string, member chat.Member, typing bool) bool
	Typing(community string) []chat.Member

	// SetPresence records member as online or offline at the given time and
	// reports whether the visible state changed. Updates older than the
	// recorded state are ignored; a zero time always applies.
	SetPresence(community string, member chat.Member, online bool, at time.Time) bool
	Online(community string) []chat.Member
	Offline(community string) []chat.Member

	// Watch registers fn to be called after every effective change. Calls are
	// made synchronously, outside the cache lock.
	Watch(fn func(Change)) (cancel func())
}

// ChangeKind classifies a Change.
type ChangeKind int

const (
	PageChanged ChangeKind = iota + 1
	PageEvicted
	SummaryChanged
	TypingChanged
	PresenceChanged
)

func (k ChangeKind) String() string {
	switch k {
	case PageChanged:
		return "page"
	case PageEvicted:
		return "evicted"
	case SummaryChanged:
		return "summary"
	case TypingChanged:
		return "typing"
	case PresenceChanged:
		return "presence"
	}
	return "unknown"
}

// Change describes one effective mutation. Key is set for page changes;
// Community is always set.
type Change struct {
	Kind      ChangeKind
	Key       chat.Key
	Community string
}

// Options configures a Cache.
type Options struct {
	// Backend stores encoded pages. Defaults to NewMemory().
	Backend Backend

	// MaxPages bounds the number of loaded pages. The least recently used
	// page is evicted when the bound is exceeded. Zero means unbounded.
	MaxPages int

	// MaxMessages bounds the messages kept per page; older messages are
	// dropped from the tail and HasMore is set. Zero means unbounded.
	MaxMessages int

	// TypingTTL defaults to DefaultTypingTTL.
	TypingTTL time.Duration

	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

type typist struct {
	member  chat.Member
	expires time.Time
}

type presence struct {
	member chat.Member
	online bool
	at     time.Time
}

type watcher struct {
	id uint64
	fn func(Change)
}

// Cache is the Store implementation.
type Cache struct {
	backend     Backend
	maxPages    int
	maxMessages int
	typingTTL   time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	lru       *list.List // of chat.Key, most recent first
	pages     map[chat.Key]*list.Element
	summaries map[string]chat.Summary
	order     []string
	typing    map[string]map[string]typist
	presence  map[string]map[string]presence
	watchers  []watcher
	nextWatch uint64
}

var _ Store = (*Cache)(nil)

// New returns an empty cache.
func New(opts Options) *Cache {
	c := &Cache{
		backend:     opts.Backend,
		maxPages:    opts.MaxPages,
		maxMessages: opts.MaxMessages,
		typingTTL:   opts.TypingTTL,
		logger:      opts.Logger,
		now:         opts.Now,
		lru:         list.New(),
		pages:       make(map[chat.Key]*list.Element),
		summaries:   make(map[string]chat.Summary),
		typing:      make(map[string]map[string]typist),
		presence:    make(map[string]map[string]presence),
	}
	if c.backend == nil {
		c.backend = NewMemory()
	}
	if c.typingTTL <= 0 {
		c.typingTTL = DefaultTypingTTL
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Close closes the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

// update runs fn under the lock and notifies watchers of the returned
// changes after releasing it.
func (c *Cache) update(fn func() []Change) {
	c.mu.Lock()
	changes := fn()
	var watchers []watcher
	if len(changes) > 0 {
		watchers = slices.Clone(c.watchers)
	}
	c.mu.Unlock()
	for _, ch := range changes {
		for _, w := range watchers {
			w.fn(ch)
		}
	}
}

func (c *Cache) Watch(fn func(Change)) (cancel func()) {
	c.mu.Lock()
	c.nextWatch++
	id := c.nextWatch
	c.watchers = append(c.watchers, watcher{id: id, fn: fn})
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.watchers = slices.DeleteFunc(c.watchers, func(w watcher) bool { return w.id == id })
			c.mu.Unlock()
		})
	}
}

// Pages

// load returns the decoded page and its encoded form.
func (c *Cache) load(key chat.Key) (chat.Page, []byte, bool) {
	el, ok := c.pages[key]
	if !ok {
		return chat.Page{}, nil, false
	}
	b, err := c.backend.Get(pageKey(key))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Error("cache: load page", "key", key.String(), "error", err)
		}
		c.lru.Remove(el)
		delete(c.pages, key)
		return chat.Page{}, nil, false
	}
	p, err := decodePage(b)
	if err != nil {
		c.logger.Error("cache: load page", "key", key.String(), "error", err)
		c.lru.Remove(el)
		delete(c.pages, key)
		if err := c.backend.Delete(pageKey(key)); err != nil {
			c.logger.Warn("cache: drop page", "key", key.String(), "error", err)
		}
		return chat.Page{}, nil, false
	}
	c.lru.MoveToFront(el)
	return p, b, true
}

// store writes p for key unless it encodes to prev, trims it to the message
// bound and evicts pages over the page bound.
func (c *Cache) store(key chat.Key, p chat.Page, prev []byte) []Change {
	if c.maxMessages > 0 && len(p.Messages) > c.maxMessages {
		p.Messages = p.Messages[:c.maxMessages]
		p.HasMore = true
	}
	p.Cursor = p.OldestConfirmed()
	b, err := encodePage(p)
	if err != nil {
		c.logger.Error("cache: store page", "key", key.String(), "error", err)
		return nil
	}
	if prev != nil && bytes.Equal(prev, b) {
		return nil
	}
	if err := c.backend.Set(pageKey(key), b); err != nil {
		c.logger.Error("cache: store page", "key", key.String(), "error", err)
		return nil
	}
	if el, ok := c.pages[key]; ok {
		c.lru.MoveToFront(el)
	} else {
		c.pages[key] = c.lru.PushFront(key)
	}
	changes := []Change{{Kind: PageChanged, Key: key, Community: key.Community}}
	return append(changes, c.evict()...)
}

func (c *Cache) evict() []Change {
	var changes []Change
	for c.maxPages > 0 && c.lru.Len() > c.maxPages {
		el := c.lru.Back()
		key := el.Value.(chat.Key)
		c.lru.Remove(el)
		delete(c.pages, key)
		if err := c.backend.Delete(pageKey(key)); err != nil {
			c.logger.Warn("cache: evict page", "key", key.String(), "error", err)
		}
		c.logger.Debug("cache: evicted page", "key", key.String())
		changes = append(changes, Change{Kind: PageEvicted, Key: key, Community: key.Community})
	}
	return changes
}

func (c *Cache) Page(key chat.Key) (chat.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, _, ok := c.load(key)
	return p, ok
}

func (c *Cache) SetPage(key chat.Key, page chat.Page) {
	c.update(func() []Change {
		_, prev, _ := c.load(key)
		return c.store(key, page.Clone(), prev)
	})
}

func (c *Cache) Prepend(key chat.Key, msg chat.Message) (inserted bool) {
	c.update(func() []Change {
		p, _, ok := c.load(key)
		if !ok {
			p = chat.Page{HasMore: true}
		}
		if p.Index(msg.ID) >= 0 {
			return nil
		}
		p.Messages = slices.Insert(p.Messages, 0, msg.Clone())
		inserted = true
		return c.store(key, p, nil)
	})
	return inserted
}

func (c *Cache) Patch(key chat.Key, id string, fn func(chat.Message) chat.Message) (found bool) {
	c.update(func() []Change {
		p, prev, ok := c.load(key)
		if !ok {
			return nil
		}
		i := p.Index(id)
		if i < 0 {
			return nil
		}
		found = true
		m := fn(p.Messages[i].Clone())
		m.ID = id
		p.Messages[i] = m
		return c.store(key, p, prev)
	})
	return found
}

func (c *Cache) Replace(key chat.Key, id string, msg chat.Message) (found bool) {
	c.update(func() []Change {
		p, prev, ok := c.load(key)
		if !ok {
			return nil
		}
		i := p.Index(id)
		if i < 0 {
			return nil
		}
		found = true
		if j := p.Index(msg.ID); j >= 0 && j != i {
			p.Messages = slices.Delete(p.Messages, i, i+1)
		} else {
			p.Messages[i] = msg.Clone()
		}
		return c.store(key, p, prev)
	})
	return found
}

func (c *Cache) Remove(key chat.Key, id string) (found bool) {
	c.update(func() []Change {
		p, _, ok := c.load(key)
		if !ok {
			return nil
		}
		i := p.Index(id)
		if i < 0 {
			return nil
		}
		found = true
		p.Messages = slices.Delete(p.Messages, i, i+1)
		return c.store(key, p, nil)
	})
	return found
}

func (c *Cache) MarkDeleted(key chat.Key, id string, forEveryone bool) bool {
	if !forEveryone {
		return false
	}
	return c.Patch(key, id, chat.Message.Tombstone)
}

func (c *Cache) AppendOlder(key chat.Key, msgs []chat.Message, hasMore bool) (added int) {
	c.update(func() []Change {
		p, prev, _ := c.load(key)
		for _, m := range msgs {
			if p.Index(m.ID) >= 0 {
				continue
			}
			p.Messages = append(p.Messages, m.Clone())
			added++
		}
		p.HasMore = hasMore
		return c.store(key, p, prev)
	})
	return added
}

func (c *Cache) MergeLatest(key chat.Key, fetched chat.Page) (merged chat.Page) {
	c.update(func() []Change {
		var newest chat.Time
		if len(fetched.Messages) > 0 {
			newest = fetched.Messages[0].CreatedAt
		}
		cur, prev, _ := c.load(key)
		var p chat.Page
		for _, m := range cur.Messages {
			if fetched.Index(m.ID) >= 0 {
				continue
			}
			if m.Pending() || m.CreatedAt.After(newest) {
				p.Messages = append(p.Messages, m)
			}
		}
		for _, m := range fetched.Messages {
			m = m.Clone()
			m.Status = ""
			p.Messages = append(p.Messages, m)
		}
		p.HasMore = fetched.HasMore
		changes := c.store(key, p, prev)
		merged, _, _ = c.load(key)
		return changes
	})
	return merged
}

// Summaries

func (c *Cache) Summary(community string) (chat.Summary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.summaries[community]
	return s.Clone(), ok
}

// Summaries returns all summaries in list order.
func (c *Cache) Summaries() []chat.Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chat.Summary, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.summaries[id].Clone())
	}
	return out
}

func (c *Cache) SetSummaries(list []chat.Summary) {
	c.update(func() []Change {
		old := c.summaries
		c.summaries = make(map[string]chat.Summary, len(list))
		c.order = c.order[:0]
		var changes []Change
		for _, s := range list {
			if _, dup := c.summaries[s.CommunityID]; dup {
				continue
			}
			c.summaries[s.CommunityID] = s.Clone()
			c.order = append(c.order, s.CommunityID)
			if prev, ok := old[s.CommunityID]; !ok || !prev.Equal(s) {
				changes = append(changes, Change{Kind: SummaryChanged, Community: s.CommunityID})
			}
		}
		for id := range old {
			if _, ok := c.summaries[id]; !ok {
				changes = append(changes, Change{Kind: SummaryChanged, Community: id})
			}
		}
		return changes
	})
}

func (c *Cache) UpdateSummary(community string, fn func(chat.Summary) chat.Summary) {
	c.update(func() []Change {
		prev, ok := c.summaries[community]
		if !ok {
			prev = chat.Summary{CommunityID: community}
		}
		next := fn(prev.Clone())
		next.CommunityID = community
		if ok && prev.Equal(next) {
			return nil
		}
		if !ok {
			c.order = append(c.order, community)
		}
		c.summaries[community] = next
		return []Change{{Kind: SummaryChanged, Community: community}}
	})
}

func (c *Cache) PatchSummary(community string, fn func(chat.Summary) chat.Summary) (found bool) {
	c.update(func() []Change {
		prev, ok := c.summaries[community]
		if !ok {
			return nil
		}
		found = true
		next := fn(prev.Clone())
		next.CommunityID = community
		if prev.Equal(next) {
			return nil
		}
		c.summaries[community] = next
		return []Change{{Kind: SummaryChanged, Community: community}}
	})
	return found
}

// Typing

func (c *Cache) SetTyping(community string, member chat.Member, typing bool) (changed bool) {
	c.update(func() []Change {
		set := c.typing[community]
		cur, present := set[member.ID]
		live := present && c.now().Before(cur.expires)
		if typing {
			if set == nil {
				set = make(map[string]typist)
				c.typing[community] = set
			}
			set[member.ID] = typist{member: member, expires: c.now().Add(c.typingTTL)}
			changed = !live || cur.member.Name != member.Name
		} else {
			if !present {
				return nil
			}
			delete(set, member.ID)
			changed = live
		}
		if !changed {
			return nil
		}
		return []Change{{Kind: TypingChanged, Community: community}}
	})
	return changed
}

// Typing returns the members typing in community whose indicator has not
// expired, ordered by name.
func (c *Cache) Typing(community string) []chat.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var out []chat.Member
	for _, t := range c.typing[community] {
		if now.Before(t.expires) {
			out = append(out, t.member)
		}
	}
	sortMembers(out)
	return out
}

// PruneTyping drops expired typing indicators and returns how many were
// removed. Watchers see one TypingChanged per affected community.
func (c *Cache) PruneTyping() (removed int) {
	c.update(func() []Change {
		now := c.now()
		var changes []Change
		for community, set := range c.typing {
			n := 0
			for id, t := range set {
				if !now.Before(t.expires) {
					delete(set, id)
					n++
				}
			}
			if len(set) == 0 {
				delete(c.typing, community)
			}
			if n > 0 {
				removed += n
				changes = append(changes, Change{Kind: TypingChanged, Community: community})
			}
		}
		return changes
	})
	return removed
}

// Presence

func (c *Cache) SetPresence(community string, member chat.Member, online bool, at time.Time) (changed bool) {
	c.update(func() []Change {
		set := c.presence[community]
		cur, present := set[member.ID]
		if present && !at.IsZero() && !cur.at.IsZero() && at.Before(cur.at) {
			return nil
		}
		if set == nil {
			set = make(map[string]presence)
			c.presence[community] = set
		}
		if at.IsZero() {
			at = cur.at
		}
		set[member.ID] = presence{member: member, online: online, at: at}
		changed = !present || cur.online != online || cur.member.Name != member.Name
		if !changed {
			return nil
		}
		return []Change{{Kind: PresenceChanged, Community: community}}
	})
	return changed
}

// Online returns the members of community last seen online, ordered by name.
func (c *Cache) Online(community string) []chat.Member {
	return c.members(community, true)
}

// Offline returns the members of community last seen offline, ordered by
// name.
func (c *Cache) Offline(community string) []chat.Member {
	return c.members(community, false)
}

func (c *Cache) members(community string, online bool) []chat.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []chat.Member
	for _, p := range c.presence[community] {
		if p.online == online {
			out = append(out, p.member)
		}
	}
	sortMembers(out)
	return out
}

func sortMembers(ms []chat.Member) {
	slices.SortFunc(ms, func(a, b chat.Member) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
}
