package transport

import (
	"log/slog"
	"runtime"
	"sync"

	"github.com/eclipse/paho.golang/paho"
)

// Message is one publish received from the broker.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Handler handles received messages.
type Handler interface {
	HandleMessage(Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Message)

func (f HandlerFunc) HandleMessage(m Message) {
	f(m)
}

// ServeMux routes received messages to every handler whose topic filter
// matches, in registration order.
type ServeMux struct {
	logger *slog.Logger

	mu      sync.RWMutex
	root    *trie
	order   map[*route]uint64
	seq     uint64
	aliases map[uint16]string
}

// NewServeMux returns an empty mux. A nil logger uses slog.Default().
func NewServeMux(logger *slog.Logger) *ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServeMux{
		logger:  logger,
		root:    &trie{},
		order:   make(map[*route]uint64),
		aliases: make(map[uint16]string),
	}
}

// Handle registers h for topics matching pattern until remove is called.
func (sm *ServeMux) Handle(pattern string, h Handler) (remove func(), err error) {
	r := &route{pattern: pattern, h: h}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if err := sm.root.insert(r); err != nil {
		return nil, err
	}
	sm.seq++
	sm.order[r] = sm.seq
	sm.logger.Debug("transport: handle", "pattern", pattern)

	var once sync.Once
	return func() {
		once.Do(func() {
			sm.mu.Lock()
			defer sm.mu.Unlock()
			sm.root.remove(r)
			delete(sm.order, r)
			sm.logger.Debug("transport: unhandle", "pattern", pattern)
		})
	}, nil
}

// HandleFunc registers fn for topics matching pattern until remove is
// called.
func (sm *ServeMux) HandleFunc(pattern string, fn func(topic string, payload []byte)) (remove func(), err error) {
	return sm.Handle(pattern, HandlerFunc(func(m Message) { fn(m.Topic, m.Payload) }))
}

// Dispatch delivers m to every matching handler and returns how many were
// called. A panicking handler is logged and does not stop the others.
func (sm *ServeMux) Dispatch(m Message) int {
	sm.mu.RLock()
	routes := sm.root.match(m.Topic, nil)
	order := make([]uint64, len(routes))
	for i, r := range routes {
		order[i] = sm.order[r]
	}
	sm.mu.RUnlock()

	if len(routes) == 0 {
		sm.logger.Debug("transport: no handler", "topic", m.Topic)
		return 0
	}
	sortRoutes(routes, order)
	for _, r := range routes {
		sm.serve(r, m)
	}
	return len(routes)
}

func (sm *ServeMux) serve(r *route, m Message) {
	defer func() {
		if p := recover(); p != nil {
			buf := make([]byte, 64<<10)
			buf = buf[:runtime.Stack(buf, false)]
			sm.logger.Error("transport: panic in handler", "topic", m.Topic, "pattern", r.pattern, "panic", p, "stack", string(buf))
		}
	}()
	r.h.HandleMessage(m)
}

// handlePublish resolves topic aliases and dispatches a received publish.
func (sm *ServeMux) handlePublish(pr paho.PublishReceived) (bool, error) {
	if pr.AlreadyHandled {
		return false, nil
	}
	pub := pr.Packet
	topic := pub.Topic
	if pub.Properties != nil && pub.Properties.TopicAlias != nil {
		alias := *pub.Properties.TopicAlias
		sm.mu.Lock()
		if topic != "" {
			sm.aliases[alias] = topic
		} else {
			topic = sm.aliases[alias]
		}
		sm.mu.Unlock()
	}
	n := sm.Dispatch(Message{Topic: topic, Payload: pub.Payload, Retained: pub.Retain})
	return n > 0, nil
}

func (sm *ServeMux) String() string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.root.String()
}

func sortRoutes(routes []*route, order []uint64) {
	for i := 1; i < len(routes); i++ {
		for j := i; j > 0 && order[j] < order[j-1]; j-- {
			routes[j], routes[j-1] = routes[j-1], routes[j]
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
}
