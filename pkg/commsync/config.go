package commsync

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/faithflow/commsync/pkg/cache"
	"github.com/faithflow/commsync/pkg/chat"
	"github.com/faithflow/commsync/pkg/topic"
	"github.com/faithflow/commsync/pkg/transport"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultKeepAlive         = 20
	DefaultConnectRetryDelay = 3 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
	DefaultAPITimeout        = 15 * time.Second
	DefaultMaxPages          = 64
	DefaultMaxMessages       = 500
)

// Config describes one session.
type Config struct {
	// Tenant is the church the session belongs to; every topic is scoped
	// under it.
	Tenant string `yaml:"tenant"`

	// Member is the signed-in member.
	Member MemberConfig `yaml:"member"`

	Broker BrokerConfig `yaml:"broker"`
	API    APIConfig    `yaml:"api"`
	Cache  CacheConfig  `yaml:"cache"`

	// TypingTTL is how long a typing indicator lasts without a refresh.
	TypingTTL time.Duration `yaml:"typing_ttl,omitempty"`
}

// MemberConfig identifies the signed-in member.
type MemberConfig struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Avatar string `yaml:"avatar,omitempty"`
}

// BrokerConfig configures the MQTT connection.
type BrokerConfig struct {
	// URL is the broker address: tcp://, tls://, ws:// or wss://.
	URL      string `yaml:"url"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	ClientID string `yaml:"client_id,omitempty"`

	// KeepAlive in seconds.
	KeepAlive         int           `yaml:"keep_alive,omitempty"`
	ConnectRetryDelay time.Duration `yaml:"connect_retry_delay,omitempty"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout,omitempty"`
	QoS               int           `yaml:"qos,omitempty"`
}

// APIConfig configures the REST backend.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// CacheConfig configures the local cache.
type CacheConfig struct {
	// Engine is "memory" (default) or "badger".
	Engine      cache.Engine `yaml:"engine,omitempty"`
	MaxPages    int          `yaml:"max_pages,omitempty"`
	MaxMessages int          `yaml:"max_messages,omitempty"`
	PageSize    int          `yaml:"page_size,omitempty"`
}

// Self returns the member as a chat.Member.
func (c Config) Self() chat.Member {
	return chat.Member{ID: c.Member.ID, Name: c.Member.Name, Avatar: c.Member.Avatar}
}

// Validate reports the first missing or invalid field.
func (c Config) Validate() error {
	var errs []error
	if _, err := topic.For(c.Tenant, chat.GeneralKey("c")); err != nil {
		errs = append(errs, fmt.Errorf("tenant: %w", err))
	}
	if c.Member.ID == "" {
		errs = append(errs, errors.New("member.id is required"))
	}
	if c.Broker.URL == "" {
		errs = append(errs, errors.New("broker.url is required"))
	}
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		errs = append(errs, fmt.Errorf("broker.qos %d out of range", c.Broker.QoS))
	}
	switch c.Cache.Engine {
	case "", cache.EngineMemory, cache.EngineBadger:
	default:
		errs = append(errs, fmt.Errorf("cache.engine %q unknown", c.Cache.Engine))
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"typing_ttl", c.TypingTTL},
		{"api.timeout", c.API.Timeout},
		{"broker.connect_retry_delay", c.Broker.ConnectRetryDelay},
		{"broker.connect_timeout", c.Broker.ConnectTimeout},
	} {
		if d.v < 0 {
			errs = append(errs, fmt.Errorf("%s %v is negative", d.name, d.v))
		}
	}
	for _, n := range []struct {
		name string
		v    int
	}{
		{"broker.keep_alive", c.Broker.KeepAlive},
		{"cache.max_pages", c.Cache.MaxPages},
		{"cache.max_messages", c.Cache.MaxMessages},
		{"cache.page_size", c.Cache.PageSize},
	} {
		if n.v < 0 {
			errs = append(errs, fmt.Errorf("%s %d is negative", n.name, n.v))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("commsync: invalid config: %w", err)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Broker.KeepAlive == 0 {
		c.Broker.KeepAlive = DefaultKeepAlive
	}
	if c.Broker.ConnectRetryDelay == 0 {
		c.Broker.ConnectRetryDelay = DefaultConnectRetryDelay
	}
	if c.Broker.ConnectTimeout == 0 {
		c.Broker.ConnectTimeout = DefaultConnectTimeout
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.Cache.Engine == "" {
		c.Cache.Engine = cache.EngineMemory
	}
	if c.Cache.MaxPages == 0 {
		c.Cache.MaxPages = DefaultMaxPages
	}
	if c.Cache.MaxMessages == 0 {
		c.Cache.MaxMessages = DefaultMaxMessages
	}
	if c.TypingTTL == 0 {
		c.TypingTTL = cache.DefaultTypingTTL
	}
	return c
}

// Dialer returns a transport dialer for the broker settings. Defaults are
// not applied.
func (c Config) Dialer() *transport.Dialer {
	return &transport.Dialer{
		KeepAlive:         c.Broker.KeepAlive,
		ConnectRetryDelay: c.Broker.ConnectRetryDelay,
		ConnectTimeout:    c.Broker.ConnectTimeout,
		ID:                c.Broker.ClientID,
		Username:          c.Broker.Username,
		Password:          c.Broker.Password,
		QoS:               transport.QoS(c.Broker.QoS),
	}
}

// ParseConfig decodes a YAML config.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("commsync: parse config: %w", err)
	}
	return c, nil
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("commsync: read config: %w", err)
	}
	return ParseConfig(data)
}
