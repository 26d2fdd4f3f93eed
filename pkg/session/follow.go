package session

import (
	"context"
	"sync"

	"github.com/faithflow/commsync/pkg/chat"
	"github.com/faithflow/commsync/pkg/topic"
)

// Feed receives every timeline of one community without showing any of
// them. The community list uses it to keep previews and unread counts
// current; it never marks a timeline viewed.
type Feed struct {
	m         *Manager
	community string
	filter    string
	once      sync.Once
}

// Community returns the followed community.
func (f *Feed) Community() string {
	return f.community
}

// Follow subscribes to all timelines of community. Overlap with mounted
// surfaces is harmless since every event applies idempotently.
func (m *Manager) Follow(ctx context.Context, community string) (*Feed, error) {
	if _, err := topic.For(m.tenant, chat.GeneralKey(community)); err != nil {
		return nil, err
	}
	filter := topic.CommunityFilter(m.tenant, community)
	if err := m.acquire(ctx, filter); err != nil {
		return nil, err
	}
	f := &Feed{m: m, community: community, filter: filter}
	m.mu.Lock()
	closed := m.closed
	if !closed {
		m.feeds[f] = struct{}{}
	}
	m.mu.Unlock()
	if closed {
		m.release(context.WithoutCancel(ctx), filter)
		return nil, ErrClosed
	}
	return f, nil
}

// Close stops following. It is safe to call more than once.
func (f *Feed) Close(ctx context.Context) error {
	var err error
	f.once.Do(func() {
		f.m.mu.Lock()
		delete(f.m.feeds, f)
		f.m.mu.Unlock()
		err = f.m.release(ctx, f.filter)
	})
	return err
}
