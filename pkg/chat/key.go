package chat

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey is returned when a Key does not identify a timeline.
var ErrInvalidKey = errors.New("chat: invalid key")

// ChannelType is a sub-partition of a community's message stream.
type ChannelType string

const (
	ChannelGeneral      ChannelType = "general"
	ChannelAnnouncement ChannelType = "announcement"
	ChannelSubgroup     ChannelType = "subgroup"
)

// Valid reports whether c is one of the known channel types.
func (c ChannelType) Valid() bool {
	switch c {
	case ChannelGeneral, ChannelAnnouncement, ChannelSubgroup:
		return true
	}
	return false
}

// Key identifies one message timeline: a community, a channel type and,
// for subgroup channels only, the subgroup id.
type Key struct {
	Community string      `json:"community_id"`
	Channel   ChannelType `json:"channel_type"`
	Subgroup  string      `json:"subgroup_id,omitempty"`
}

// GeneralKey returns the key of a community's general channel.
func GeneralKey(community string) Key {
	return Key{Community: community, Channel: ChannelGeneral}
}

// SubgroupKey returns the key of a subgroup channel.
func SubgroupKey(community, subgroup string) Key {
	return Key{Community: community, Channel: ChannelSubgroup, Subgroup: subgroup}
}

// Validate reports whether k is a well-formed key. A subgroup channel
// requires a subgroup id and any other channel forbids one.
func (k Key) Validate() error {
	if k.Community == "" {
		return fmt.Errorf("%w: empty community id", ErrInvalidKey)
	}
	if !k.Channel.Valid() {
		return fmt.Errorf("%w: unknown channel type %q", ErrInvalidKey, k.Channel)
	}
	if k.Channel == ChannelSubgroup && k.Subgroup == "" {
		return fmt.Errorf("%w: subgroup channel without subgroup id", ErrInvalidKey)
	}
	if k.Channel != ChannelSubgroup && k.Subgroup != "" {
		return fmt.Errorf("%w: subgroup id on %s channel", ErrInvalidKey, k.Channel)
	}
	return nil
}

// String returns a human-readable form of the key, e.g. "c1/general" or
// "c1/subgroup/youth".
func (k Key) String() string {
	parts := []string{k.Community, string(k.Channel)}
	if k.Subgroup != "" {
		parts = append(parts, k.Subgroup)
	}
	return strings.Join(parts, "/")
}
