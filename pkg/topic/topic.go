// Package topic maps timeline keys to pub/sub topic names and back.
//
// Topics have one of two shapes:
//
//	{tenant}/community/{communityId}/general
//	{tenant}/community/{communityId}/announcement
//	{tenant}/community/{communityId}/subgroup/{subgroupId}
//
// The shapes are shared with the backend publisher and must not change.
package topic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/faithflow/commsync/pkg/chat"
)

// ErrMalformed is returned for topics and keys that cannot be mapped.
var ErrMalformed = errors.New("topic: malformed")

const (
	communitySegment = "community"
	separator        = "/"
)

// For returns the canonical topic of key within tenant.
func For(tenant string, key chat.Key) (string, error) {
	if err := key.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	segs := []string{tenant, communitySegment, key.Community, string(key.Channel)}
	if key.Channel == chat.ChannelSubgroup {
		segs = append(segs, key.Subgroup)
	}
	for _, s := range segs {
		if err := checkSegment(s); err != nil {
			return "", err
		}
	}
	return strings.Join(segs, separator), nil
}

// MustFor is like For but panics on error. It is meant for keys that are
// known to be valid, such as constants in tests.
func MustFor(tenant string, key chat.Key) string {
	t, err := For(tenant, key)
	if err != nil {
		panic(err)
	}
	return t
}

// Parse returns the tenant and key a topic names. Any other shape is
// reported as ErrMalformed.
func Parse(topic string) (tenant string, key chat.Key, err error) {
	segs := strings.Split(topic, separator)
	if len(segs) < 4 || len(segs) > 5 {
		return "", chat.Key{}, fmt.Errorf("%w: %q has %d segments", ErrMalformed, topic, len(segs))
	}
	for _, s := range segs {
		if err := checkSegment(s); err != nil {
			return "", chat.Key{}, fmt.Errorf("%w in %q", err, topic)
		}
	}
	if segs[1] != communitySegment {
		return "", chat.Key{}, fmt.Errorf("%w: %q is not a community topic", ErrMalformed, topic)
	}
	key = chat.Key{Community: segs[2], Channel: chat.ChannelType(segs[3])}
	if len(segs) == 5 {
		key.Subgroup = segs[4]
	}
	if err := key.Validate(); err != nil {
		return "", chat.Key{}, fmt.Errorf("%w: %q: %w", ErrMalformed, topic, err)
	}
	return segs[0], key, nil
}

// Filter returns the subscription filter matching every community topic of
// tenant.
func Filter(tenant string) string {
	return strings.Join([]string{tenant, communitySegment, "#"}, separator)
}

// CommunityFilter returns the subscription filter matching every channel of
// one community.
func CommunityFilter(tenant, community string) string {
	return strings.Join([]string{tenant, communitySegment, community, "#"}, separator)
}

// InTenant reports whether topic belongs to tenant's community namespace.
func InTenant(tenant, topic string) bool {
	return tenant != "" && strings.HasPrefix(topic, tenant+separator+communitySegment+separator)
}

func checkSegment(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty segment", ErrMalformed)
	}
	if strings.ContainsAny(s, "/+#") {
		return fmt.Errorf("%w: segment %q contains a reserved character", ErrMalformed, s)
	}
	return nil
}
