package transport

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"

	mochimqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/faithflow/commsync/pkg/topic"
)

// ErrServerClosed is returned by Serve and Publish after Close.
var ErrServerClosed = errors.New("transport: server closed")

// ErrServerRunning is returned when Serve is called on a running server.
var ErrServerRunning = errors.New("transport: server already running")

// ErrServerNotRunning is returned by Publish before Serve.
var ErrServerNotRunning = errors.New("transport: server not running")

// Authenticator decides who may connect and what they may touch.
type Authenticator interface {
	// Authenticate validates client credentials.
	Authenticate(clientID, username string, password []byte) bool

	// ACL checks permissions; write is true for publish, false for
	// subscribe.
	ACL(clientID, username, topic string, write bool) bool
}

// TenantACL admits any credentials and confines every client to the topics
// of one tenant.
type TenantACL struct {
	Tenant string
}

func (a TenantACL) Authenticate(string, string, []byte) bool { return true }

func (a TenantACL) ACL(_, _ string, topicName string, _ bool) bool {
	return topic.InTenant(a.Tenant, topicName)
}

// Server is an embedded MQTT broker.
type Server struct {
	// Handler sees every message published through the broker. May be nil.
	Handler Handler

	// Authenticator optionally restricts clients. Nil allows everyone.
	Authenticator Authenticator

	// OnConnect is called when a client session is established.
	OnConnect func(clientID string)

	// OnDisconnect is called when a client disconnects.
	OnDisconnect func(clientID string)

	Logger *slog.Logger

	mu       sync.Mutex
	mochi    *mochimqtt.Server
	closed   bool
	shutdown chan struct{}
}

func (srv *Server) logger() *slog.Logger {
	if srv.Logger == nil {
		return slog.Default()
	}
	return srv.Logger
}

// Serve starts the broker on the given listeners and blocks until Close.
// It always returns a non-nil error; after Close it is ErrServerClosed.
//
//	srv := &transport.Server{Authenticator: transport.TenantACL{Tenant: "church-a"}}
//	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: ":1883"})
//	err := srv.Serve(tcp)
func (srv *Server) Serve(lns ...listeners.Listener) error {
	mochi, done, err := srv.init(lns)
	if err != nil {
		return err
	}
	if err := mochi.Serve(); err != nil {
		srv.Close()
		return err
	}
	srv.logger().Info("transport: broker serving", "listeners", len(lns))
	<-done
	return ErrServerClosed
}

func (srv *Server) init(lns []listeners.Listener) (*mochimqtt.Server, chan struct{}, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.closed {
		return nil, nil, ErrServerClosed
	}
	if srv.mochi != nil {
		return nil, nil, ErrServerRunning
	}

	mochi := mochimqtt.New(&mochimqtt.Options{
		InlineClient: true,
		Logger:       srv.logger().With("component", "broker"),
	})
	if srv.Authenticator != nil {
		if err := mochi.AddHook(&serverAuthHook{auth: srv.Authenticator}, nil); err != nil {
			return nil, nil, err
		}
	} else if err := mochi.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, nil, err
	}
	if srv.Handler != nil || srv.OnConnect != nil || srv.OnDisconnect != nil {
		hook := &serverCallbackHook{
			handler:      srv.Handler,
			onConnect:    srv.OnConnect,
			onDisconnect: srv.OnDisconnect,
			logger:       srv.logger(),
		}
		if err := mochi.AddHook(hook, nil); err != nil {
			return nil, nil, err
		}
	}
	for _, ln := range lns {
		if err := mochi.AddListener(ln); err != nil {
			mochi.Close()
			return nil, nil, err
		}
	}
	srv.mochi = mochi
	srv.shutdown = make(chan struct{})
	return mochi, srv.shutdown, nil
}

// Close stops the broker. It is safe to call more than once.
func (srv *Server) Close() error {
	srv.mu.Lock()
	if srv.closed {
		srv.mu.Unlock()
		return nil
	}
	srv.closed = true
	mochi, done := srv.mochi, srv.shutdown
	srv.mochi = nil
	srv.mu.Unlock()

	if mochi == nil {
		return nil
	}
	err := mochi.Close()
	close(done)
	return err
}

// Publish sends payload to every client subscribed to a matching filter.
func (srv *Server) Publish(ctx context.Context, topicName string, payload []byte, opts ...WriteOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	srv.mu.Lock()
	mochi, closed := srv.mochi, srv.closed
	srv.mu.Unlock()
	if closed {
		return ErrServerClosed
	}
	if mochi == nil {
		return ErrServerNotRunning
	}
	var (
		retainFlag bool
		qos        byte
	)
	for _, opt := range opts {
		switch v := opt.(type) {
		case retain:
			retainFlag = true
		case QoS:
			qos = byte(v)
		}
	}
	return mochi.Publish(topicName, payload, retainFlag, qos)
}

type serverAuthHook struct {
	mochimqtt.HookBase
	auth Authenticator
}

func (h *serverAuthHook) ID() string {
	return "commsync-auth"
}

func (h *serverAuthHook) Provides(b byte) bool {
	return b == mochimqtt.OnConnectAuthenticate || b == mochimqtt.OnACLCheck
}

func (h *serverAuthHook) OnConnectAuthenticate(cl *mochimqtt.Client, pk packets.Packet) bool {
	return h.auth.Authenticate(cl.ID, string(pk.Connect.Username), pk.Connect.Password)
}

func (h *serverAuthHook) OnACLCheck(cl *mochimqtt.Client, topicName string, write bool) bool {
	return h.auth.ACL(cl.ID, string(cl.Properties.Username), topicName, write)
}

type serverCallbackHook struct {
	mochimqtt.HookBase
	handler      Handler
	onConnect    func(clientID string)
	onDisconnect func(clientID string)
	logger       *slog.Logger
}

func (h *serverCallbackHook) ID() string {
	return "commsync-callback"
}

func (h *serverCallbackHook) Provides(b byte) bool {
	return b == mochimqtt.OnSessionEstablished ||
		b == mochimqtt.OnDisconnect ||
		b == mochimqtt.OnPublished
}

func (h *serverCallbackHook) OnSessionEstablished(cl *mochimqtt.Client, _ packets.Packet) {
	if h.onConnect != nil {
		h.onConnect(cl.ID)
	}
}

func (h *serverCallbackHook) OnDisconnect(cl *mochimqtt.Client, _ error, _ bool) {
	if h.onDisconnect != nil {
		h.onDisconnect(cl.ID)
	}
}

func (h *serverCallbackHook) OnPublished(cl *mochimqtt.Client, pk packets.Packet) {
	if h.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			buf = buf[:runtime.Stack(buf, false)]
			h.logger.Error("transport: panic in broker handler", "topic", pk.TopicName, "client", cl.ID, "panic", r, "stack", string(buf))
		}
	}()
	h.handler.HandleMessage(Message{
		Topic:    pk.TopicName,
		Payload:  pk.Payload,
		Retained: pk.FixedHeader.Retain,
	})
}
