package chat

import "slices"

// ReactionAction is the direction of a reaction change.
type ReactionAction string

const (
	ReactionAdd    ReactionAction = "add"
	ReactionRemove ReactionAction = "remove"
)

// Reactions maps an emoji to the ordered set of member ids that used it.
// An emoji with no members is never present.
//
// Methods never modify the receiver; they return a fresh map.
type Reactions map[string][]string

// Has reports whether member reacted with emoji.
func (r Reactions) Has(emoji, member string) bool {
	return slices.Contains(r[emoji], member)
}

// Count returns the number of members that reacted with emoji.
func (r Reactions) Count(emoji string) int {
	return len(r[emoji])
}

// With returns a copy of r with member added to emoji's set.
func (r Reactions) With(emoji, member string) Reactions {
	out := r.Clone()
	if out == nil {
		out = make(Reactions, 1)
	}
	if !slices.Contains(out[emoji], member) {
		out[emoji] = append(out[emoji], member)
	}
	return out
}

// Without returns a copy of r with member removed from emoji's set. The
// emoji is dropped when its set becomes empty.
func (r Reactions) Without(emoji, member string) Reactions {
	out := r.Clone()
	ids := slices.DeleteFunc(out[emoji], func(id string) bool { return id == member })
	if len(ids) == 0 {
		delete(out, emoji)
	} else {
		out[emoji] = ids
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Apply returns r with the given action applied for member.
func (r Reactions) Apply(action ReactionAction, emoji, member string) Reactions {
	if action == ReactionRemove {
		return r.Without(emoji, member)
	}
	return r.With(emoji, member)
}

// Toggle adds member to emoji's set, or removes it if already present. It
// returns the new map and the action taken.
func (r Reactions) Toggle(emoji, member string) (Reactions, ReactionAction) {
	if r.Has(emoji, member) {
		return r.Without(emoji, member), ReactionRemove
	}
	return r.With(emoji, member), ReactionAdd
}

// Clone returns a deep copy of r.
func (r Reactions) Clone() Reactions {
	if r == nil {
		return nil
	}
	out := make(Reactions, len(r))
	for emoji, ids := range r {
		if len(ids) > 0 {
			out[emoji] = slices.Clone(ids)
		}
	}
	return out
}
