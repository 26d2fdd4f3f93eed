package transport

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// ErrInvalidTopicPattern is returned for filters with misplaced wildcards.
var ErrInvalidTopicPattern = errors.New("transport: invalid topic pattern")

type route struct {
	pattern string
	h       Handler
}

// trie indexes routes by topic filter. Unlike a router returning the best
// match, it collects every matching route, as a broker delivers one message
// to every matching subscription.
type trie struct {
	children map[string]*trie
	matchAny *trie
	matchAll *trie

	routes []*route
}

func validPattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopicPattern)
	}
	segs := strings.Split(pattern, "/")
	for i, s := range segs {
		switch {
		case s == "#" && i != len(segs)-1:
			return fmt.Errorf("%w: %q: # must be last", ErrInvalidTopicPattern, pattern)
		case s != "+" && s != "#" && strings.ContainsAny(s, "+#"):
			return fmt.Errorf("%w: %q: wildcard inside segment", ErrInvalidTopicPattern, pattern)
		}
	}
	return nil
}

// node returns the node for pattern, creating it when create is set.
func (t *trie) node(pattern string, create bool) *trie {
	cur := t
	for _, seg := range strings.Split(pattern, "/") {
		var next **trie
		switch seg {
		case "+":
			next = &cur.matchAny
		case "#":
			next = &cur.matchAll
		default:
			ch, ok := cur.children[seg]
			if !ok {
				if !create {
					return nil
				}
				if cur.children == nil {
					cur.children = make(map[string]*trie)
				}
				ch = &trie{}
				cur.children[seg] = ch
			}
			cur = ch
			continue
		}
		if *next == nil {
			if !create {
				return nil
			}
			*next = &trie{}
		}
		cur = *next
	}
	return cur
}

func (t *trie) insert(r *route) error {
	if err := validPattern(r.pattern); err != nil {
		return err
	}
	n := t.node(r.pattern, true)
	n.routes = append(n.routes, r)
	return nil
}

func (t *trie) remove(r *route) bool {
	n := t.node(r.pattern, false)
	if n == nil {
		return false
	}
	i := slices.Index(n.routes, r)
	if i < 0 {
		return false
	}
	n.routes = slices.Delete(n.routes, i, i+1)
	return true
}

// match appends every route whose filter matches topic.
func (t *trie) match(topic string, out []*route) []*route {
	if t.matchAll != nil {
		out = append(out, t.matchAll.routes...)
	}
	if topic == "" {
		return append(out, t.routes...)
	}
	first, rest, more := strings.Cut(topic, "/")
	if !more {
		if ch, ok := t.children[first]; ok {
			out = ch.leaf(out)
		}
		if t.matchAny != nil {
			out = t.matchAny.leaf(out)
		}
		return out
	}
	if ch, ok := t.children[first]; ok {
		out = ch.match(rest, out)
	}
	if t.matchAny != nil {
		out = t.matchAny.match(rest, out)
	}
	return out
}

// leaf collects routes ending at t, including a trailing "#" which also
// matches its parent level.
func (t *trie) leaf(out []*route) []*route {
	out = append(out, t.routes...)
	if t.matchAll != nil {
		out = append(out, t.matchAll.routes...)
	}
	return out
}

func (t *trie) walkWithPath(path []string, f func([]string, *trie)) {
	for seg, ch := range t.children {
		ch.walkWithPath(append(slices.Clone(path), seg), f)
	}
	if t.matchAny != nil {
		t.matchAny.walkWithPath(append(slices.Clone(path), "+"), f)
	}
	if t.matchAll != nil {
		t.matchAll.walkWithPath(append(slices.Clone(path), "#"), f)
	}
	f(path, t)
}

func (t *trie) String() string {
	var lines []string
	t.walkWithPath(nil, func(path []string, node *trie) {
		if len(node.routes) > 0 {
			lines = append(lines, fmt.Sprintf("%s: %d", strings.Join(path, "/"), len(node.routes)))
		}
	})
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}
