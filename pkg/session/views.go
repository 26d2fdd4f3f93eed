package session

import (
	"sync"

	"github.com/faithflow/commsync/pkg/chat"
)

// Views is the reference-counted set of timelines on screen. A key is viewed
// while at least one mounted surface shows it; list previews never count.
type Views struct {
	mu     sync.RWMutex
	counts map[chat.Key]int
}

// NewViews returns an empty set.
func NewViews() *Views {
	return &Views{counts: make(map[chat.Key]int)}
}

// Add marks one more surface as showing key.
func (v *Views) Add(key chat.Key) {
	v.mu.Lock()
	v.counts[key]++
	v.mu.Unlock()
}

// Remove releases one surface showing key.
func (v *Views) Remove(key chat.Key) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if n := v.counts[key]; n > 1 {
		v.counts[key] = n - 1
	} else {
		delete(v.counts, key)
	}
}

// IsViewing reports whether any surface shows key.
func (v *Views) IsViewing(key chat.Key) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.counts[key] > 0
}

// Keys returns the viewed keys in no particular order.
func (v *Views) Keys() []chat.Key {
	v.mu.RLock()
	defer v.mu.RUnlock()
	keys := make([]chat.Key, 0, len(v.counts))
	for k := range v.counts {
		keys = append(keys, k)
	}
	return keys
}
