package optimistic

import (
	"context"
	"fmt"

	"github.com/faithflow/commsync/pkg/chat"
)

// Latest fetches the newest page of key and merges it into the store.
// Provisional messages still waiting for the server, and live messages that
// arrived while the request was in flight, stay on top.
func (c *Coordinator) Latest(ctx context.Context, key chat.Key) (chat.Page, error) {
	if err := key.Validate(); err != nil {
		return chat.Page{}, fmt.Errorf("optimistic: latest: %w", err)
	}
	fetched, err := c.api.ListMessages(ctx, key, "", c.pageSize)
	if err != nil {
		return chat.Page{}, fmt.Errorf("optimistic: latest %s: %w", key, err)
	}
	return c.store.MergeLatest(key, fetched), nil
}

// Older fetches the page before the oldest loaded message of key and appends
// it. It returns the number of messages added; zero with a nil error means
// the beginning of the timeline was reached.
func (c *Coordinator) Older(ctx context.Context, key chat.Key) (int, error) {
	cur, ok := c.store.Page(key)
	if !ok {
		p, err := c.Latest(ctx, key)
		return len(p.Messages), err
	}
	if !cur.HasMore {
		return 0, nil
	}
	fetched, err := c.api.ListMessages(ctx, key, cur.Cursor, c.pageSize)
	if err != nil {
		return 0, fmt.Errorf("optimistic: older %s: %w", key, err)
	}
	return c.store.AppendOlder(key, fetched.Messages, fetched.HasMore), nil
}
