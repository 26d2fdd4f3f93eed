// Package session ties timeline surfaces to transport subscriptions.
//
// A surface is one on-screen timeline. Mounting it subscribes to the
// timeline's topic, routes that topic's events to the reconciler and marks
// the timeline as viewed; unmounting undoes all three. Surfaces showing the
// same timeline share one subscription.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/faithflow/commsync/pkg/cache"
	"github.com/faithflow/commsync/pkg/chat"
	"github.com/faithflow/commsync/pkg/topic"
)

// ErrClosed is returned by Mount after Close.
var ErrClosed = errors.New("session: manager closed")

var errResubscribe = errors.New("session: resubscribe superseded")

// Transport is the pub/sub connection the manager subscribes through.
type Transport interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error

	// HandleFunc routes messages on topics matching pattern to fn until
	// remove is called.
	HandleFunc(pattern string, fn func(topic string, payload []byte)) (remove func(), err error)

	// OnConnectionChange registers fn for connection state changes.
	OnConnectionChange(fn func(up bool)) (remove func())

	Connected() bool
}

// Dispatcher applies one received event.
type Dispatcher interface {
	Apply(topic string, payload []byte) error
}

// Status is the transport connectivity as seen by the UI.
type Status int

const (
	Disconnected Status = iota
	Connected
)

func (s Status) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Config configures a Manager.
type Config struct {
	Tenant     string
	Transport  Transport
	Dispatcher Dispatcher
	Store      cache.Store

	// Views defaults to a new empty set. Share it with the reconciler so
	// unread counting sees mounted surfaces.
	Views *Views

	Logger *slog.Logger
}

type subscription struct {
	refs   int
	remove func()

	// ready is closed once the first Subscribe returned; err holds its
	// result.
	ready chan struct{}
	err   error
}

type statusWatcher struct {
	id int
	fn func(Status)
}

// Manager owns the subscriptions of one session.
type Manager struct {
	tenant    string
	transport Transport
	dispatch  Dispatcher
	store     cache.Store
	views     *Views
	logger    *slog.Logger

	mu             sync.Mutex
	closed         bool
	topics         map[string]*subscription
	unsubscribing  map[string]chan struct{}
	surfaces       map[*Surface]struct{}
	feeds          map[*Feed]struct{}
	status         Status
	statusWatchers []statusWatcher
	nextWatcher    int
	resubCancel    context.CancelCauseFunc
	stopConnWatch  func()
}

// NewManager returns a Manager and starts following the transport's
// connection state.
func NewManager(cfg Config) (*Manager, error) {
	if _, err := topic.For(cfg.Tenant, chat.GeneralKey("c")); err != nil {
		return nil, fmt.Errorf("session: invalid tenant %q: %w", cfg.Tenant, err)
	}
	if cfg.Transport == nil || cfg.Dispatcher == nil || cfg.Store == nil {
		return nil, errors.New("session: Transport, Dispatcher and Store are required")
	}
	m := &Manager{
		tenant:        cfg.Tenant,
		transport:     cfg.Transport,
		dispatch:      cfg.Dispatcher,
		store:         cfg.Store,
		views:         cfg.Views,
		logger:        cfg.Logger,
		topics:        make(map[string]*subscription),
		unsubscribing: make(map[string]chan struct{}),
		surfaces:      make(map[*Surface]struct{}),
		feeds:         make(map[*Feed]struct{}),
	}
	if m.views == nil {
		m.views = NewViews()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if cfg.Transport.Connected() {
		m.status = Connected
	}
	m.stopConnWatch = cfg.Transport.OnConnectionChange(m.onConnection)
	return m, nil
}

// Views returns the set of viewed timelines.
func (m *Manager) Views() *Views {
	return m.views
}

// Status returns the current connectivity.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// OnStatus registers fn to be called on every connectivity change.
func (m *Manager) OnStatus(fn func(Status)) (remove func()) {
	m.mu.Lock()
	m.nextWatcher++
	id := m.nextWatcher
	m.statusWatchers = append(m.statusWatchers, statusWatcher{id: id, fn: fn})
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		m.statusWatchers = slices.DeleteFunc(m.statusWatchers, func(w statusWatcher) bool { return w.id == id })
		m.mu.Unlock()
	}
}

// Topics returns the topics currently subscribed, sorted.
func (m *Manager) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.topics))
}

// Mount shows key on a new surface.
func (m *Manager) Mount(ctx context.Context, key chat.Key) (*Surface, error) {
	s := &Surface{m: m}
	s.op.Lock()
	defer s.op.Unlock()
	if err := s.mount(ctx, key); err != nil {
		return nil, err
	}
	return s, nil
}

// Close unmounts every surface, closes every feed and stops following the
// transport.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	surfaces := slices.Collect(maps.Keys(m.surfaces))
	feeds := slices.Collect(maps.Keys(m.feeds))
	if m.resubCancel != nil {
		m.resubCancel(ErrClosed)
		m.resubCancel = nil
	}
	m.mu.Unlock()

	m.stopConnWatch()
	var errs []error
	for _, s := range surfaces {
		errs = append(errs, s.Unmount(ctx))
	}
	for _, f := range feeds {
		errs = append(errs, f.Close(ctx))
	}
	return errors.Join(errs...)
}

func (m *Manager) handle(topicName string, payload []byte) {
	if err := m.dispatch.Apply(topicName, payload); err != nil {
		m.logger.Warn("session: dropped event", "topic", topicName, "error", err)
	}
}

// acquire takes a reference on topicName, subscribing on the first one.
func (m *Manager) acquire(ctx context.Context, topicName string) error {
	m.mu.Lock()
	for {
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		done, ok := m.unsubscribing[topicName]
		if !ok {
			break
		}
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
	}

	if sub, ok := m.topics[topicName]; ok {
		sub.refs++
		m.mu.Unlock()
		select {
		case <-sub.ready:
		case <-ctx.Done():
			m.release(context.WithoutCancel(ctx), topicName)
			return ctx.Err()
		}
		if sub.err != nil {
			m.release(ctx, topicName)
			return sub.err
		}
		return nil
	}

	remove, err := m.transport.HandleFunc(topicName, m.handle)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("session: route %s: %w", topicName, err)
	}
	sub := &subscription{refs: 1, remove: remove, ready: make(chan struct{})}
	m.topics[topicName] = sub
	online := m.status == Connected
	m.mu.Unlock()

	// While offline the subscription is only recorded; the next
	// reconnect subscribes it with the rest.
	if online {
		err = m.transport.Subscribe(ctx, topicName)
		if err != nil {
			err = fmt.Errorf("session: subscribe %s: %w", topicName, err)
		}
	} else {
		m.logger.Debug("session: subscribe deferred until reconnect", "topic", topicName)
	}
	m.mu.Lock()
	sub.err = err
	close(sub.ready)
	m.mu.Unlock()
	if err != nil {
		m.release(ctx, topicName)
		return err
	}
	m.logger.Debug("session: subscribed", "topic", topicName)
	return nil
}

// release drops a reference on topicName and unsubscribes on the last one.
func (m *Manager) release(ctx context.Context, topicName string) error {
	m.mu.Lock()
	sub, ok := m.topics[topicName]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	sub.refs--
	if sub.refs > 0 {
		m.mu.Unlock()
		return nil
	}
	delete(m.topics, topicName)
	sub.remove()
	if sub.err != nil || m.status != Connected {
		m.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	m.unsubscribing[topicName] = done
	m.mu.Unlock()

	err := m.transport.Unsubscribe(ctx, topicName)

	m.mu.Lock()
	delete(m.unsubscribing, topicName)
	close(done)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("session: unsubscribe %s: %w", topicName, err)
	}
	m.logger.Debug("session: unsubscribed", "topic", topicName)
	return nil
}

func (m *Manager) onConnection(up bool) {
	next := Disconnected
	if up {
		next = Connected
	}

	m.mu.Lock()
	prev := m.status
	m.status = next
	watchers := slices.Clone(m.statusWatchers)
	var (
		ctx    context.Context
		topics []string
	)
	if up && prev == Disconnected && !m.closed {
		if m.resubCancel != nil {
			m.resubCancel(errResubscribe)
		}
		ctx, m.resubCancel = context.WithCancelCause(context.Background())
		for t, sub := range m.topics {
			if sub.err == nil {
				topics = append(topics, t)
			}
		}
	}
	m.mu.Unlock()

	if prev != next {
		m.logger.Info("session: connectivity", "status", next)
		for _, w := range watchers {
			w.fn(next)
		}
	}
	if ctx != nil {
		slices.Sort(topics)
		go m.resubscribe(ctx, topics)
	}
}

func (m *Manager) resubscribe(ctx context.Context, topics []string) {
	for _, t := range topics {
		if ctx.Err() != nil {
			return
		}
		if err := m.transport.Subscribe(ctx, t); err != nil {
			m.logger.Error("session: resubscribe", "topic", t, "error", err, "cause", context.Cause(ctx))
			continue
		}
		m.logger.Debug("session: resubscribed", "topic", t)
	}
}

func (m *Manager) register(s *Surface) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.surfaces[s] = struct{}{}
	return true
}

func (m *Manager) unregister(s *Surface) {
	m.mu.Lock()
	delete(m.surfaces, s)
	m.mu.Unlock()
}
