// Package commsync wires the community messaging sync layer together.
//
// A Client owns one signed-in session: the MQTT connection, the local
// cache, the reconciler that merges broker events into it, the surface
// manager, and the coordinator for optimistic writes through the REST
// backend.
//
//	cfg, _ := commsync.LoadConfig("commsync.yaml")
//	c, err := commsync.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	s, _ := c.Open(ctx, chat.GeneralKey("c1"))
//	defer s.Unmount(ctx)
package commsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/faithflow/commsync/pkg/api"
	"github.com/faithflow/commsync/pkg/cache"
	"github.com/faithflow/commsync/pkg/chat"
	"github.com/faithflow/commsync/pkg/optimistic"
	"github.com/faithflow/commsync/pkg/reconcile"
	"github.com/faithflow/commsync/pkg/session"
	"github.com/faithflow/commsync/pkg/topic"
	"github.com/faithflow/commsync/pkg/transport"
)

// Option configures New.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	apiOpts []api.Option
}

// WithLogger sets the logger for every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithAPIOptions passes options to the REST client.
func WithAPIOptions(opts ...api.Option) Option {
	return func(o *options) {
		o.apiOpts = append(o.apiOpts, opts...)
	}
}

// Client is one session.
type Client struct {
	cfg    Config
	self   chat.Member
	logger *slog.Logger

	store      *cache.Cache
	conn       *transport.Conn
	api        *api.Client
	reconciler *reconcile.Reconciler
	sessions   *session.Manager
	coord      *optimistic.Coordinator

	stopPrune context.CancelFunc
	pruneDone chan struct{}
	closeOnce sync.Once
}

// New validates cfg, connects to the broker and returns a ready Client.
// It blocks until the first broker connection succeeds or ctx ends.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.With("tenant", cfg.Tenant, "member", cfg.Member.ID)

	backend, err := cache.OpenBackend(cfg.Cache.Engine, logger)
	if err != nil {
		return nil, fmt.Errorf("commsync: %w", err)
	}
	store := cache.New(cache.Options{
		Backend:     backend,
		MaxPages:    cfg.Cache.MaxPages,
		MaxMessages: cfg.Cache.MaxMessages,
		TypingTTL:   cfg.TypingTTL,
		Logger:      logger,
	})

	apiClient, err := api.NewClient(cfg.API.BaseURL, cfg.API.Token,
		append([]api.Option{api.WithTimeout(cfg.API.Timeout), api.WithLogger(logger)}, o.apiOpts...)...)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("commsync: %w", err)
	}

	dl := cfg.Dialer()
	dl.Logger = logger
	conn, err := dl.Dial(ctx, cfg.Broker.URL)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("commsync: %w", err)
	}

	views := session.NewViews()
	rec := reconcile.New(reconcile.Config{
		Store:  store,
		Self:   cfg.Member.ID,
		Viewer: views,
		Logger: logger,
	})
	sessions, err := session.NewManager(session.Config{
		Tenant:     cfg.Tenant,
		Transport:  conn,
		Dispatcher: rec,
		Store:      store,
		Views:      views,
		Logger:     logger,
	})
	if err != nil {
		conn.Close()
		store.Close()
		return nil, fmt.Errorf("commsync: %w", err)
	}
	coord, err := optimistic.New(optimistic.Config{
		Store:    store,
		API:      apiClient,
		Self:     cfg.Self(),
		PageSize: cfg.Cache.PageSize,
		Logger:   logger,
	})
	if err != nil {
		sessions.Close(ctx)
		conn.Close()
		store.Close()
		return nil, fmt.Errorf("commsync: %w", err)
	}

	pruneCtx, stop := context.WithCancel(context.Background())
	c := &Client{
		cfg:        cfg,
		self:       cfg.Self(),
		logger:     logger,
		store:      store,
		conn:       conn,
		api:        apiClient,
		reconciler: rec,
		sessions:   sessions,
		coord:      coord,
		stopPrune:  stop,
		pruneDone:  make(chan struct{}),
	}
	go c.pruneTyping(pruneCtx)
	logger.Info("commsync: session started", "broker", cfg.Broker.URL)
	return c, nil
}

// pruneTyping expires stale typing indicators.
func (c *Client) pruneTyping(ctx context.Context) {
	defer close(c.pruneDone)
	t := time.NewTicker(max(c.cfg.TypingTTL/2, time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := c.store.PruneTyping(); n > 0 {
				c.logger.Debug("commsync: typing expired", "count", n)
			}
		}
	}
}

// Self returns the signed-in member.
func (c *Client) Self() chat.Member {
	return c.self
}

// Store returns the local cache the UI reads from.
func (c *Client) Store() cache.Store {
	return c.store
}

// Sessions returns the surface manager.
func (c *Client) Sessions() *session.Manager {
	return c.sessions
}

// Coordinator returns the optimistic mutation coordinator.
func (c *Client) Coordinator() *optimistic.Coordinator {
	return c.coord
}

// Status returns the broker connectivity.
func (c *Client) Status() session.Status {
	return c.sessions.Status()
}

// OnStatus registers fn for connectivity changes.
func (c *Client) OnStatus(fn func(session.Status)) (remove func()) {
	return c.sessions.OnStatus(fn)
}

// Watch registers fn for cache changes.
func (c *Client) Watch(fn func(cache.Change)) (cancel func()) {
	return c.store.Watch(fn)
}

// Mount shows key on a new surface without loading history.
func (c *Client) Mount(ctx context.Context, key chat.Key) (*session.Surface, error) {
	return c.sessions.Mount(ctx, key)
}

// Open mounts key and loads its latest page. A failed load leaves the
// surface mounted so live events still arrive; the error is returned with
// the surface.
func (c *Client) Open(ctx context.Context, key chat.Key) (*session.Surface, error) {
	s, err := c.sessions.Mount(ctx, key)
	if err != nil {
		return nil, err
	}
	if _, err := c.coord.Latest(ctx, key); err != nil {
		return s, fmt.Errorf("commsync: load %s: %w", key, err)
	}
	return s, nil
}

// Follow keeps the previews and unread count of community current while
// none of its timelines is open.
func (c *Client) Follow(ctx context.Context, community string) (*session.Feed, error) {
	return c.sessions.Follow(ctx, community)
}

// Refresh reloads the community list.
func (c *Client) Refresh(ctx context.Context) ([]chat.Summary, error) {
	list, err := c.api.ListCommunities(ctx)
	if err != nil {
		return nil, fmt.Errorf("commsync: list communities: %w", err)
	}
	c.store.SetSummaries(list)
	return c.store.Summaries(), nil
}

// Latest reloads the newest page of key.
func (c *Client) Latest(ctx context.Context, key chat.Key) (chat.Page, error) {
	return c.coord.Latest(ctx, key)
}

// Older loads the next page of history of key.
func (c *Client) Older(ctx context.Context, key chat.Key) (int, error) {
	return c.coord.Older(ctx, key)
}

// Send sends draft optimistically.
func (c *Client) Send(ctx context.Context, key chat.Key, draft chat.Draft) (chat.Message, error) {
	m, err := c.coord.Send(ctx, key, draft)
	if err == nil {
		if err := c.publishTyping(ctx, key, false); err != nil {
			c.logger.Debug("commsync: clear typing", "key", key.String(), "error", err)
		}
	}
	return m, err
}

// React toggles the member's emoji on a message.
func (c *Client) React(ctx context.Context, key chat.Key, id, emoji string) (chat.Message, error) {
	return c.coord.React(ctx, key, id, emoji)
}

// Vote toggles the member's vote on a poll option.
func (c *Client) Vote(ctx context.Context, key chat.Key, id, optionID string) (chat.Message, error) {
	return c.coord.Vote(ctx, key, id, optionID)
}

// Edit replaces the text of one of the member's messages.
func (c *Client) Edit(ctx context.Context, key chat.Key, id, text string) (chat.Message, error) {
	return c.coord.Edit(ctx, key, id, text)
}

// Delete deletes a message.
func (c *Client) Delete(ctx context.Context, key chat.Key, id string, forEveryone bool) error {
	return c.coord.Delete(ctx, key, id, forEveryone)
}

// SetTyping tells the other members of key whether the member is typing.
func (c *Client) SetTyping(ctx context.Context, key chat.Key, typing bool) error {
	return c.publishTyping(ctx, key, typing)
}

func (c *Client) publishTyping(ctx context.Context, key chat.Key, typing bool) error {
	return c.Publish(ctx, key, reconcile.Typing{
		MemberID:   c.self.ID,
		MemberName: c.self.Name,
		IsTyping:   typing,
	})
}

// SetPresence announces the member's presence on a community's general
// channel.
func (c *Client) SetPresence(ctx context.Context, community string, online bool) error {
	status := reconcile.Offline
	if online {
		status = reconcile.Online
	}
	return c.Publish(ctx, chat.GeneralKey(community), reconcile.Presence{
		MemberID:   c.self.ID,
		MemberName: c.self.Name,
		Status:     status,
		At:         chat.Now(),
	})
}

// Publish encodes ev and publishes it on key's topic.
func (c *Client) Publish(ctx context.Context, key chat.Key, ev reconcile.Event) error {
	topicName, err := topic.For(c.cfg.Tenant, key)
	if err != nil {
		return err
	}
	payload, err := reconcile.Encode(ev)
	if err != nil {
		return err
	}
	if err := c.conn.Publish(ctx, topicName, payload); err != nil {
		c.logger.Warn("commsync: publish", "topic", topicName, "kind", ev.Kind(), "error", err)
		return fmt.Errorf("commsync: %w", err)
	}
	return nil
}

// Close unmounts every surface, disconnects and releases the cache.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.stopPrune()
		<-c.pruneDone
		err = errors.Join(
			c.sessions.Close(ctx),
			c.conn.Close(),
			c.store.Close(),
		)
		c.logger.Info("commsync: session closed")
	})
	return err
}
