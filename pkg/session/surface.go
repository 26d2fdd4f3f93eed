package session

import (
	"context"
	"sync"

	"github.com/faithflow/commsync/pkg/chat"
	"github.com/faithflow/commsync/pkg/topic"
)

// State is the lifecycle state of a surface.
type State int

const (
	Unmounted State = iota
	Subscribing
	Subscribed
	Unsubscribing
)

func (s State) String() string {
	switch s {
	case Unmounted:
		return "unmounted"
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	case Unsubscribing:
		return "unsubscribing"
	}
	return "unknown"
}

// Surface is one mounted timeline.
type Surface struct {
	m *Manager

	// op serializes Mount, Unmount and Switch on one surface.
	op sync.Mutex

	mu    sync.Mutex
	key   chat.Key
	topic string
	state State
}

// Key returns the timeline the surface shows.
func (s *Surface) Key() chat.Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// Topic returns the topic the surface is subscribed to.
func (s *Surface) Topic() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topic
}

// State returns the lifecycle state.
func (s *Surface) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Surface) set(key chat.Key, topicName string, state State) {
	s.mu.Lock()
	s.key, s.topic, s.state = key, topicName, state
	s.mu.Unlock()
}

func (s *Surface) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Surface) mount(ctx context.Context, key chat.Key) error {
	topicName, err := topic.For(s.m.tenant, key)
	if err != nil {
		return err
	}
	s.set(key, topicName, Subscribing)
	if err := s.m.acquire(ctx, topicName); err != nil {
		s.setState(Unmounted)
		return err
	}
	if !s.m.register(s) {
		s.m.release(context.WithoutCancel(ctx), topicName)
		s.setState(Unmounted)
		return ErrClosed
	}
	s.m.views.Add(key)
	s.m.store.PatchSummary(key.Community, func(sum chat.Summary) chat.Summary {
		sum.UnreadCount = 0
		return sum
	})
	s.setState(Subscribed)
	return nil
}

// Unmount stops showing the timeline. It is safe to call more than once.
func (s *Surface) Unmount(ctx context.Context) error {
	s.op.Lock()
	defer s.op.Unlock()
	return s.unmount(ctx)
}

func (s *Surface) unmount(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Subscribed {
		s.mu.Unlock()
		return nil
	}
	s.state = Unsubscribing
	key, topicName := s.key, s.topic
	s.mu.Unlock()

	s.m.views.Remove(key)
	s.m.unregister(s)
	err := s.m.release(ctx, topicName)
	s.setState(Unmounted)
	if err != nil {
		s.m.logger.Warn("session: unmount", "topic", topicName, "error", err)
	}
	return err
}

// Switch moves the surface to another timeline. Switching to the timeline
// already shown does nothing.
func (s *Surface) Switch(ctx context.Context, key chat.Key) error {
	s.op.Lock()
	defer s.op.Unlock()
	if s.State() == Subscribed && s.Key() == key {
		return nil
	}
	if err := s.unmount(ctx); err != nil {
		s.m.logger.Warn("session: switch", "from", s.Key().String(), "error", err)
	}
	return s.mount(ctx, key)
}
