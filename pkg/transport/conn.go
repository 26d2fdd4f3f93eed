// Package transport carries timeline events over MQTT.
//
// A Conn is a self-healing client connection: it reconnects on its own and
// reports every change of connectivity to its watchers, which own
// resubscription. Received publishes are routed through an embedded ServeMux
// to every handler whose filter matches. Server is an embeddable broker for
// development and tests.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"sync"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// ErrNotConnected is returned by operations that need a live connection.
var ErrNotConnected = errors.New("transport: not connected")

// QoS is the MQTT Quality of Service.
type QoS byte

const (
	AtMostOnce QoS = iota
	AtLeastOnce
	ExactlyOnce
)

type connWatcher struct {
	id int
	fn func(up bool)
}

// Conn is an MQTT connection.
type Conn struct {
	cm     *autopaho.ConnectionManager
	qos    QoS
	logger *slog.Logger

	*ServeMux

	mu          sync.Mutex
	connected   bool
	closed      bool
	watchers    []connWatcher
	nextWatcher int
}

// Connected reports whether the connection is currently up.
func (conn *Conn) Connected() bool {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	return conn.connected
}

// OnConnectionChange registers fn for connectivity changes until remove is
// called. Calls for one change are made in registration order.
func (conn *Conn) OnConnectionChange(fn func(up bool)) (remove func()) {
	conn.mu.Lock()
	conn.nextWatcher++
	id := conn.nextWatcher
	conn.watchers = append(conn.watchers, connWatcher{id: id, fn: fn})
	conn.mu.Unlock()
	return func() {
		conn.mu.Lock()
		conn.watchers = slices.DeleteFunc(conn.watchers, func(w connWatcher) bool { return w.id == id })
		conn.mu.Unlock()
	}
}

func (conn *Conn) setConnected(up bool) {
	conn.mu.Lock()
	if conn.connected == up || (up && conn.closed) {
		conn.mu.Unlock()
		return
	}
	conn.connected = up
	watchers := slices.Clone(conn.watchers)
	conn.mu.Unlock()

	conn.logger.Info("transport: connection", "up", up)
	for _, w := range watchers {
		w.fn(up)
	}
}

// Subscribe subscribes to a topic filter.
func (conn *Conn) Subscribe(ctx context.Context, topic string) error {
	if !conn.Connected() {
		return fmt.Errorf("subscribe %s: %w", topic, ErrNotConnected)
	}
	s := &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: topic, QoS: byte(conn.qos)},
		},
	}
	if _, err := conn.cm.Subscribe(ctx, s); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe unsubscribes from a topic filter.
func (conn *Conn) Unsubscribe(ctx context.Context, topic string) error {
	if !conn.Connected() {
		return fmt.Errorf("unsubscribe %s: %w", topic, ErrNotConnected)
	}
	if _, err := conn.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}}); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

// WriteOption is an option for publishing a message.
type WriteOption interface {
	applyToPublish(*paho.Publish)
}

func (qos QoS) applyToPublish(pub *paho.Publish) {
	pub.QoS = byte(qos)
}

type retain struct{}

func (retain) applyToPublish(pub *paho.Publish) {
	pub.Retain = true
}

// WithRetain sets the retain flag of the message.
func WithRetain() WriteOption {
	return retain{}
}

// Publish sends payload to topic with the connection's QoS unless an
// option overrides it.
func (conn *Conn) Publish(ctx context.Context, topic string, payload []byte, opts ...WriteOption) error {
	pub := &paho.Publish{
		Topic:   topic,
		QoS:     byte(conn.qos),
		Payload: payload,
	}
	for _, opt := range opts {
		opt.applyToPublish(pub)
	}
	if _, err := conn.cm.Publish(ctx, pub); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Done is closed once the connection manager has shut down.
func (conn *Conn) Done() <-chan struct{} {
	return conn.cm.Done()
}

// Close disconnects. Watchers see one final down transition.
func (conn *Conn) Close() error {
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return net.ErrClosed
	}
	conn.closed = true
	conn.mu.Unlock()

	err := conn.cm.Disconnect(context.Background())
	conn.setConnected(false)
	return err
}
