package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
)

const (
	defaultConnectRetryDelay = 3 * time.Second
	defaultConnectTimeout    = 10 * time.Second
)

// Dialer contains the options to establish and maintain an MQTT connection.
type Dialer struct {
	// Keepalive period in seconds (defaults to 20).
	KeepAlive int

	// Session Expiry Interval in seconds. Zero ends the session when the
	// network connection closes.
	SessionExpiryInterval int

	// How long to wait between connection attempts (defaults to 3s).
	ConnectRetryDelay time.Duration

	// How long to wait for the connection process to complete (defaults to
	// 10s).
	ConnectTimeout time.Duration

	// ID is the client identifier (defaults to "commsync-" and a random
	// UUID).
	ID string

	// Username and Password override credentials in the address.
	Username string
	Password string

	// QoS is used for subscriptions and publishes.
	QoS QoS

	// TLSConfig is used for tls and wss addresses.
	TLSConfig *tls.Config

	// ServeMux receives messages (defaults to a new mux).
	ServeMux *ServeMux

	Logger *slog.Logger

	// OnConnectError is called when a connection attempt fails.
	OnConnectError func(error)
}

func (dl *Dialer) keepAlive() uint16 {
	if dl.KeepAlive == 0 {
		return 20
	}
	return uint16(dl.KeepAlive)
}

func (dl *Dialer) connectRetryDelay() time.Duration {
	if dl.ConnectRetryDelay == 0 {
		return defaultConnectRetryDelay
	}
	return dl.ConnectRetryDelay
}

func (dl *Dialer) connectTimeout() time.Duration {
	if dl.ConnectTimeout == 0 {
		return defaultConnectTimeout
	}
	return dl.ConnectTimeout
}

func (dl *Dialer) logger() *slog.Logger {
	if dl.Logger == nil {
		return slog.Default()
	}
	return dl.Logger
}

// Dial connects to the broker at addr and waits for the first connection.
// Later disconnects are retried in the background.
func (dl *Dialer) Dial(ctx context.Context, addr string) (*Conn, error) {
	addru, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("transport: parse %q: %w", addr, err)
	}
	id := dl.ID
	if id == "" {
		id = "commsync-" + uuid.NewString()
	}
	sm := dl.ServeMux
	if sm == nil {
		sm = NewServeMux(dl.logger())
	}
	conn := &Conn{
		qos:      dl.QoS,
		logger:   dl.logger(),
		ServeMux: sm,
	}
	cfg := autopaho.ClientConfig{
		ServerUrls:        []*url.URL{addru},
		AttemptConnection: dl.attemptConnection,
		OnConnectError: func(err error) {
			conn.logger.Warn("transport: connect attempt failed", "error", err)
			if dl.OnConnectError != nil {
				dl.OnConnectError(err)
			}
		},
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			conn.setConnected(true)
		},
		CleanStartOnInitialConnection: true,
		KeepAlive:                     dl.keepAlive(),
		SessionExpiryInterval:         uint32(dl.SessionExpiryInterval),
		ConnectRetryDelay:             dl.connectRetryDelay(),
		ConnectTimeout:                dl.connectTimeout(),
		TlsCfg:                        dl.TLSConfig,
		ConnectPacketBuilder:          dl.buildConnect,
		ClientConfig: paho.ClientConfig{
			ClientID: id,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				sm.handlePublish,
			},
			OnClientError: func(err error) {
				conn.logger.Warn("transport: client error", "error", err)
				conn.setConnected(false)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				conn.logger.Warn("transport: server disconnect", "reason", d.ReasonCode)
				conn.setConnected(false)
			},
		},
	}
	cm, err := autopaho.NewConnection(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}
	conn.cm = cm
	if err := cm.AwaitConnection(ctx); err != nil {
		_ = cm.Disconnect(context.Background())
		return nil, fmt.Errorf("transport: connect %s: %w", addru.Redacted(), err)
	}
	return conn, nil
}

// buildConnect sets credentials from the dialer, then from the address.
func (dl *Dialer) buildConnect(pc *paho.Connect, uri *url.URL) (*paho.Connect, error) {
	username, password, hasPassword := dl.Username, dl.Password, dl.Password != ""
	if username == "" && uri.User != nil {
		username = uri.User.Username()
		password, hasPassword = uri.User.Password()
	}
	pc.Username = username
	pc.UsernameFlag = username != ""
	if hasPassword {
		pc.Password = []byte(password)
		pc.PasswordFlag = true
	} else {
		pc.Password = nil
		pc.PasswordFlag = false
	}
	return pc, nil
}

func (dl *Dialer) attemptConnection(ctx context.Context, cc autopaho.ClientConfig, u *url.URL) (net.Conn, error) {
	switch strings.ToLower(u.Scheme) {
	case "mqtt", "tcp", "":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, err
		}
		if err := conn.(*net.TCPConn).SetNoDelay(true); err != nil {
			conn.Close()
			return nil, err
		}
		return packets.NewThreadSafeConn(conn), nil
	case "ssl", "tls", "mqtts", "mqtt+ssl", "tcps":
		d := tls.Dialer{Config: cc.TlsCfg}
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, err
		}
		if err := conn.(*tls.Conn).NetConn().(*net.TCPConn).SetNoDelay(true); err != nil {
			conn.Close()
			return nil, err
		}
		return packets.NewThreadSafeConn(conn), nil
	case "ws", "wss":
		conn, err := dialWebSocket(ctx, u, cc.TlsCfg, dl.connectTimeout())
		if err != nil {
			return nil, err
		}
		return packets.NewThreadSafeConn(conn), nil
	default:
		return nil, fmt.Errorf("transport: unsupported scheme %q in %s", u.Scheme, u.Redacted())
	}
}

// Dial connects to addr with default options.
func Dial(ctx context.Context, addr string) (*Conn, error) {
	return (&Dialer{}).Dial(ctx, addr)
}
