package transport_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/faithflow/commsync/pkg/transport"
)

func findAvailablePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func startServer(t *testing.T, srv *transport.Server) string {
	t.Helper()
	addr := findAvailablePort(t)
	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})
	go srv.Serve(tcp)
	t.Cleanup(func() { srv.Close() })
	time.Sleep(100 * time.Millisecond)
	return addr
}

func dial(t *testing.T, addr string) *transport.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx, addr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for message")
		return ""
	}
}

func TestServer_PubSubRoundTrip(t *testing.T) {
	addr := startServer(t, &transport.Server{})
	sub := dial(t, "tcp://"+addr)
	pub := dial(t, "tcp://"+addr)
	ctx := context.Background()

	received := make(chan string, 4)
	if _, err := sub.HandleFunc("church-a/community/+/general", func(topic string, payload []byte) {
		received <- topic + " " + string(payload)
	}); err != nil {
		t.Fatal(err)
	}
	if err := sub.Subscribe(ctx, "church-a/community/c1/general"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := pub.Publish(ctx, "church-a/community/c1/general", []byte("hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := receive(t, received); got != "church-a/community/c1/general hello" {
		t.Errorf("received %q", got)
	}

	if err := sub.Unsubscribe(ctx, "church-a/community/c1/general"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	pub.Publish(ctx, "church-a/community/c1/general", []byte("after"))
	select {
	case got := <-received:
		t.Errorf("received %q after unsubscribe", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestServer_Publish(t *testing.T) {
	srv := &transport.Server{}
	addr := startServer(t, srv)
	conn := dial(t, "tcp://"+addr)

	received := make(chan string, 1)
	conn.HandleFunc("church-a/#", func(_ string, payload []byte) { received <- string(payload) })
	if err := conn.Subscribe(context.Background(), "church-a/#"); err != nil {
		t.Fatal(err)
	}
	if err := srv.Publish(context.Background(), "church-a/community/c1/general", []byte("from broker")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := receive(t, received); got != "from broker" {
		t.Errorf("received %q", got)
	}
}

func TestServer_TenantACL(t *testing.T) {
	seen := make(chan string, 4)
	srv := &transport.Server{
		Authenticator: transport.TenantACL{Tenant: "church-a"},
		Handler: transport.HandlerFunc(func(m transport.Message) {
			seen <- m.Topic
		}),
	}
	addr := startServer(t, srv)
	conn := dial(t, "tcp://"+addr)
	ctx := context.Background()

	conn.Publish(ctx, "church-b/community/c1/general", []byte("x"))
	conn.Publish(ctx, "church-a/community/c1/general", []byte("y"))
	if got := receive(t, seen); got != "church-a/community/c1/general" {
		t.Errorf("broker handler saw %q first", got)
	}
}

func TestTenantACL(t *testing.T) {
	acl := transport.TenantACL{Tenant: "church-a"}
	if !acl.ACL("c", "u", "church-a/community/c1/general", true) {
		t.Error("denied own tenant")
	}
	if acl.ACL("c", "u", "church-b/community/c1/general", false) {
		t.Error("allowed other tenant")
	}
	if acl.ACL("c", "u", "#", false) {
		t.Error("allowed global wildcard")
	}
}

func TestServer_ServeAlreadyRunning(t *testing.T) {
	srv := &transport.Server{}
	startServer(t, srv)
	tcp := listeners.NewTCP(listeners.Config{ID: "tcp2", Address: findAvailablePort(t)})
	if err := srv.Serve(tcp); !errors.Is(err, transport.ErrServerRunning) {
		t.Errorf("Serve = %v, want ErrServerRunning", err)
	}
}

func TestServer_ServeAfterClose(t *testing.T) {
	srv := &transport.Server{}
	srv.Close()
	tcp := listeners.NewTCP(listeners.Config{ID: "tcp", Address: findAvailablePort(t)})
	if err := srv.Serve(tcp); !errors.Is(err, transport.ErrServerClosed) {
		t.Errorf("Serve = %v, want ErrServerClosed", err)
	}
	if err := srv.Publish(context.Background(), "a/b", nil); !errors.Is(err, transport.ErrServerClosed) {
		t.Errorf("Publish = %v, want ErrServerClosed", err)
	}
}

func TestServer_OnConnect_OnDisconnect(t *testing.T) {
	var connected, disconnected atomic.Int32
	srv := &transport.Server{
		OnConnect:    func(string) { connected.Add(1) },
		OnDisconnect: func(string) { disconnected.Add(1) },
	}
	addr := startServer(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := transport.Dial(ctx, "tcp://"+addr)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if connected.Load() != 1 {
		t.Errorf("connections = %d, want 1", connected.Load())
	}
	conn.Close()
	time.Sleep(100 * time.Millisecond)
	if disconnected.Load() != 1 {
		t.Errorf("disconnections = %d, want 1", disconnected.Load())
	}
}

func TestConn_ConnectionChange(t *testing.T) {
	srv := &transport.Server{}
	addr := startServer(t, srv)
	conn := dial(t, "tcp://"+addr)
	if !conn.Connected() {
		t.Fatal("Connected() = false after Dial")
	}

	var (
		mu     sync.Mutex
		events []bool
	)
	down := make(chan string, 1)
	conn.OnConnectionChange(func(up bool) {
		mu.Lock()
		events = append(events, up)
		mu.Unlock()
		if !up {
			select {
			case down <- "down":
			default:
			}
		}
	})
	srv.Close()
	receive(t, down)
	if conn.Connected() {
		t.Error("Connected() = true after broker closed")
	}
	if err := conn.Subscribe(context.Background(), "church-a/#"); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("Subscribe while down = %v, want ErrNotConnected", err)
	}
}

func TestConn_WebSocket(t *testing.T) {
	addr := findAvailablePort(t)
	srv := &transport.Server{}
	ws := listeners.NewWebsocket(listeners.Config{ID: "ws", Address: addr})
	go srv.Serve(ws)
	t.Cleanup(func() { srv.Close() })
	time.Sleep(100 * time.Millisecond)

	conn := dial(t, fmt.Sprintf("ws://%s", addr))
	received := make(chan string, 1)
	conn.HandleFunc("church-a/#", func(_ string, payload []byte) { received <- string(payload) })
	if err := conn.Subscribe(context.Background(), "church-a/#"); err != nil {
		t.Fatal(err)
	}
	if err := conn.Publish(context.Background(), "church-a/community/c1/general", []byte("over ws")); err != nil {
		t.Fatal(err)
	}
	if got := receive(t, received); got != "over ws" {
		t.Errorf("received %q", got)
	}
}

func TestDial_UnsupportedScheme(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := (&transport.Dialer{ConnectRetryDelay: 50 * time.Millisecond}).Dial(ctx, "gopher://127.0.0.1:1"); err == nil {
		t.Error("Dial accepted unsupported scheme")
	}
}
