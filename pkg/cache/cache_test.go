package cache_test

import (
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/faithflow/commsync/pkg/cache"
	"github.com/faithflow/commsync/pkg/chat"
)

var general = chat.GeneralKey("c1")

func msg(id string) chat.Message {
	return chat.Message{ID: id, CommunityID: "c1", ChannelType: chat.ChannelGeneral, Text: "text " + id}
}

func ids(p chat.Page) []string {
	out := make([]string, len(p.Messages))
	for i, m := range p.Messages {
		out[i] = m.ID
	}
	return out
}

// backends runs fn against every backend engine.
func backends(t *testing.T, fn func(t *testing.T, opts cache.Options)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, cache.Options{})
	})
	t.Run("badger", func(t *testing.T) {
		b, err := cache.NewBadger(nil)
		if err != nil {
			t.Fatalf("NewBadger: %v", err)
		}
		fn(t, cache.Options{Backend: b})
	})
}

func newCache(t *testing.T, opts cache.Options) *cache.Cache {
	t.Helper()
	c := cache.New(opts)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPrependIdempotent(t *testing.T) {
	backends(t, func(t *testing.T, opts cache.Options) {
		c := newCache(t, opts)

		if !c.Prepend(general, msg("m1")) {
			t.Fatal("first Prepend = false")
		}
		if c.Prepend(general, msg("m1")) {
			t.Fatal("duplicate Prepend = true")
		}
		c.Prepend(general, msg("m2"))

		p, ok := c.Page(general)
		if !ok {
			t.Fatal("page missing")
		}
		if got := ids(p); !slices.Equal(got, []string{"m2", "m1"}) {
			t.Errorf("ids = %v", got)
		}
		if !p.HasMore {
			t.Error("created page should have HasMore set")
		}
		if p.Cursor != "m1" {
			t.Errorf("Cursor = %q, want m1", p.Cursor)
		}
	})
}

func TestPageIsolation(t *testing.T) {
	c := newCache(t, cache.Options{})
	c.Prepend(general, msg("m1"))

	p, _ := c.Page(general)
	p.Messages[0].Text = "mutated"

	again, _ := c.Page(general)
	if again.Messages[0].Text != "text m1" {
		t.Errorf("caller mutation leaked into cache: %q", again.Messages[0].Text)
	}
}

func TestPatch(t *testing.T) {
	backends(t, func(t *testing.T, opts cache.Options) {
		c := newCache(t, opts)
		c.SetPage(general, chat.Page{Messages: []chat.Message{msg("m3"), msg("m2"), msg("m1")}})

		ok := c.Patch(general, "m2", func(m chat.Message) chat.Message {
			m.Text = "edited"
			m.ID = "changed"
			return m
		})
		if !ok {
			t.Fatal("Patch = false")
		}
		p, _ := c.Page(general)
		if got := ids(p); !slices.Equal(got, []string{"m3", "m2", "m1"}) {
			t.Errorf("ids = %v", got)
		}
		if p.Messages[1].Text != "edited" {
			t.Errorf("text = %q", p.Messages[1].Text)
		}
		if c.Patch(general, "nope", func(m chat.Message) chat.Message { return m }) {
			t.Error("Patch on missing id = true")
		}
	})
}

func TestPatchNoopDoesNotNotify(t *testing.T) {
	c := newCache(t, cache.Options{})
	c.Prepend(general, msg("m1"))

	var n int
	defer c.Watch(func(cache.Change) { n++ })()

	c.Patch(general, "m1", func(m chat.Message) chat.Message { return m })
	if n != 0 {
		t.Errorf("no-op patch produced %d changes", n)
	}
	c.Patch(general, "m1", func(m chat.Message) chat.Message {
		m.Reactions = m.Reactions.With("🙏", "a")
		return m
	})
	if n != 1 {
		t.Errorf("changes = %d, want 1", n)
	}
}

func TestReplace(t *testing.T) {
	c := newCache(t, cache.Options{})
	c.SetPage(general, chat.Page{Messages: []chat.Message{msg("m2"), msg("m1")}})
	tmp := msg("tmp-1")
	tmp.Status = chat.StatusPending
	c.Prepend(general, tmp)

	if !c.Replace(general, "tmp-1", msg("m3")) {
		t.Fatal("Replace = false")
	}
	p, _ := c.Page(general)
	if got := ids(p); !slices.Equal(got, []string{"m3", "m2", "m1"}) {
		t.Errorf("ids = %v", got)
	}

	// The server copy arrived first: the provisional entry goes away.
	c.Prepend(general, tmp)
	c.Prepend(general, msg("m4"))
	c.Replace(general, "tmp-1", msg("m4"))
	p, _ = c.Page(general)
	if got := ids(p); !slices.Equal(got, []string{"m4", "m3", "m2", "m1"}) {
		t.Errorf("ids after duplicate replace = %v", got)
	}
}

func TestRemoveAndMarkDeleted(t *testing.T) {
	c := newCache(t, cache.Options{})
	c.SetPage(general, chat.Page{Messages: []chat.Message{msg("m2"), msg("m1")}})

	if c.MarkDeleted(general, "m1", false) {
		t.Error("MarkDeleted(forEveryone=false) = true")
	}
	if !c.MarkDeleted(general, "m1", true) {
		t.Fatal("MarkDeleted = false")
	}
	p, _ := c.Page(general)
	if m := p.Messages[1]; !m.IsDeleted || m.Text != "" {
		t.Errorf("tombstone = %+v", m)
	}

	if !c.Remove(general, "m2") {
		t.Fatal("Remove = false")
	}
	if c.Remove(general, "m2") {
		t.Error("second Remove = true")
	}
	p, _ = c.Page(general)
	if got := ids(p); !slices.Equal(got, []string{"m1"}) {
		t.Errorf("ids = %v", got)
	}
}

func TestAppendOlder(t *testing.T) {
	c := newCache(t, cache.Options{})
	c.SetPage(general, chat.Page{Messages: []chat.Message{msg("m4"), msg("m3")}, HasMore: true})

	n := c.AppendOlder(general, []chat.Message{msg("m3"), msg("m2"), msg("m1")}, false)
	if n != 2 {
		t.Errorf("added = %d, want 2", n)
	}
	p, _ := c.Page(general)
	if got := ids(p); !slices.Equal(got, []string{"m4", "m3", "m2", "m1"}) {
		t.Errorf("ids = %v", got)
	}
	if p.HasMore || p.Cursor != "m1" {
		t.Errorf("HasMore = %v Cursor = %q", p.HasMore, p.Cursor)
	}
}

func TestMergeLatest(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	at := func(id string, d time.Duration) chat.Message {
		m := msg(id)
		m.CreatedAt = chat.At(base.Add(d))
		return m
	}
	c := newCache(t, cache.Options{})
	pending := at("tmp-1", 2*time.Minute)
	pending.Status = chat.StatusPending
	c.SetPage(general, chat.Page{Messages: []chat.Message{
		pending,
		at("live", time.Minute),
		at("m2", 0),
		at("gone", -time.Minute),
	}})

	sent := at("m2", 0)
	sent.Status = chat.StatusSent
	got := c.MergeLatest(general, chat.Page{Messages: []chat.Message{sent, at("m1", -2*time.Minute)}, HasMore: true})
	if list := ids(got); !slices.Equal(list, []string{"tmp-1", "live", "m2", "m1"}) {
		t.Errorf("ids = %v", list)
	}
	if !got.HasMore || got.Cursor != "m1" {
		t.Errorf("HasMore = %v Cursor = %q", got.HasMore, got.Cursor)
	}
	if m, _ := got.Find("m2"); m.Status != "" {
		t.Errorf("fetched status = %q, want empty", m.Status)
	}

	empty := c.MergeLatest(chat.GeneralKey("c2"), chat.Page{Messages: []chat.Message{msg("m9")}})
	if list := ids(empty); !slices.Equal(list, []string{"m9"}) {
		t.Errorf("unloaded key ids = %v", list)
	}
}

func TestCorruptPageDropped(t *testing.T) {
	mem := cache.NewMemory()
	c := newCache(t, cache.Options{Backend: mem, MaxPages: 2})
	a, b, d := chat.GeneralKey("a"), chat.GeneralKey("b"), chat.GeneralKey("d")
	c.Prepend(a, msg("m1"))
	if err := mem.Set("page:a:general:", []byte{0xc1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := c.Page(a); ok {
		t.Fatal("corrupt page loaded")
	}
	if _, err := mem.Get("page:a:general:"); err != cache.ErrNotFound {
		t.Errorf("corrupt entry kept: %v", err)
	}

	var evicted []chat.Key
	defer c.Watch(func(ch cache.Change) {
		if ch.Kind == cache.PageEvicted {
			evicted = append(evicted, ch.Key)
		}
	})()
	c.Prepend(b, msg("m2"))
	c.Prepend(d, msg("m3"))
	if len(evicted) != 0 {
		t.Errorf("evicted = %v, want none", evicted)
	}
}

func TestMaxMessages(t *testing.T) {
	c := newCache(t, cache.Options{MaxMessages: 2})
	c.SetPage(general, chat.Page{Messages: []chat.Message{msg("m2"), msg("m1")}})
	c.Prepend(general, msg("m3"))

	p, _ := c.Page(general)
	if got := ids(p); !slices.Equal(got, []string{"m3", "m2"}) {
		t.Errorf("ids = %v", got)
	}
	if !p.HasMore || p.Cursor != "m2" {
		t.Errorf("HasMore = %v Cursor = %q", p.HasMore, p.Cursor)
	}
}

func TestLRUEviction(t *testing.T) {
	backends(t, func(t *testing.T, opts cache.Options) {
		opts.MaxPages = 2
		c := newCache(t, opts)

		var evicted []chat.Key
		defer c.Watch(func(ch cache.Change) {
			if ch.Kind == cache.PageEvicted {
				evicted = append(evicted, ch.Key)
			}
		})()

		a, b, d := chat.GeneralKey("a"), chat.GeneralKey("b"), chat.GeneralKey("d")
		c.Prepend(a, msg("m1"))
		c.Prepend(b, msg("m2"))
		c.Page(a) // a becomes most recent
		c.Prepend(d, msg("m3"))

		if _, ok := c.Page(b); ok {
			t.Error("least recently used page b was kept")
		}
		if _, ok := c.Page(a); !ok {
			t.Error("page a was evicted")
		}
		if !slices.Equal(evicted, []chat.Key{b}) {
			t.Errorf("evicted = %v", evicted)
		}
	})
}

func TestSummaries(t *testing.T) {
	c := newCache(t, cache.Options{})
	c.SetSummaries([]chat.Summary{
		{CommunityID: "c1", Name: "Youth", UnreadCount: 2},
		{CommunityID: "c2", Name: "Choir"},
	})

	c.UpdateSummary("c1", func(s chat.Summary) chat.Summary {
		s.UnreadCount++
		return s
	})
	s, ok := c.Summary("c1")
	if !ok || s.UnreadCount != 3 || s.Name != "Youth" {
		t.Errorf("Summary(c1) = %+v %v", s, ok)
	}

	c.UpdateSummary("c3", func(s chat.Summary) chat.Summary {
		s.UnreadCount = 1
		return s
	})
	var got []string
	for _, s := range c.Summaries() {
		got = append(got, s.CommunityID)
	}
	if !slices.Equal(got, []string{"c1", "c2", "c3"}) {
		t.Errorf("order = %v", got)
	}
}

func TestPatchSummary(t *testing.T) {
	c := newCache(t, cache.Options{})
	c.SetSummaries([]chat.Summary{{CommunityID: "c1", UnreadCount: 2}})
	var changes int
	defer c.Watch(func(cache.Change) { changes++ })()

	reset := func(s chat.Summary) chat.Summary {
		s.UnreadCount = 0
		return s
	}
	if c.PatchSummary("c2", reset) {
		t.Error("PatchSummary(c2) found a missing summary")
	}
	if _, ok := c.Summary("c2"); ok {
		t.Error("PatchSummary created c2")
	}
	if !c.PatchSummary("c1", reset) || !c.PatchSummary("c1", reset) {
		t.Error("PatchSummary(c1) = false")
	}
	if s, _ := c.Summary("c1"); s.UnreadCount != 0 {
		t.Errorf("unread = %d", s.UnreadCount)
	}
	if changes != 1 {
		t.Errorf("changes = %d, want 1", changes)
	}
}

func TestTypingExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	c := newCache(t, cache.Options{Now: clock, TypingTTL: 5 * time.Second})

	ana := chat.Member{ID: "a", Name: "Ana"}
	if !c.SetTyping("c1", ana, true) {
		t.Fatal("SetTyping = false")
	}
	if c.SetTyping("c1", ana, true) {
		t.Error("refresh reported a change")
	}
	if got := c.Typing("c1"); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("Typing = %v", got)
	}

	advance(6 * time.Second)
	if got := c.Typing("c1"); len(got) != 0 {
		t.Errorf("expired typist still visible: %v", got)
	}
	if n := c.PruneTyping(); n != 1 {
		t.Errorf("PruneTyping = %d, want 1", n)
	}

	c.SetTyping("c1", ana, true)
	if !c.SetTyping("c1", ana, false) {
		t.Error("stop typing = false")
	}
	if c.SetTyping("c1", ana, false) {
		t.Error("second stop typing = true")
	}
}

func TestPresenceLastWriteWins(t *testing.T) {
	c := newCache(t, cache.Options{})
	ana := chat.Member{ID: "a", Name: "Ana"}
	t1 := time.Unix(100, 0)
	t2 := time.Unix(200, 0)

	c.SetPresence("c1", ana, true, t2)
	if c.SetPresence("c1", ana, false, t1) {
		t.Error("stale offline event applied")
	}
	if got := c.Online("c1"); len(got) != 1 {
		t.Fatalf("Online = %v", got)
	}

	c.SetPresence("c1", ana, false, time.Time{})
	if got := c.Online("c1"); len(got) != 0 {
		t.Errorf("Online after untimed offline = %v", got)
	}
	if got := c.Offline("c1"); len(got) != 1 || got[0].ID != "a" {
		t.Errorf("Offline = %v", got)
	}
}

func TestWatchCancel(t *testing.T) {
	c := newCache(t, cache.Options{})
	var kinds []cache.ChangeKind
	cancel := c.Watch(func(ch cache.Change) { kinds = append(kinds, ch.Kind) })

	c.Prepend(general, msg("m1"))
	c.UpdateSummary("c1", func(s chat.Summary) chat.Summary { s.UnreadCount = 1; return s })
	cancel()
	cancel()
	c.Prepend(general, msg("m2"))

	want := []cache.ChangeKind{cache.PageChanged, cache.SummaryChanged}
	if !slices.Equal(kinds, want) {
		t.Errorf("kinds = %v, want %v", kinds, want)
	}
}

func TestConcurrentPrepend(t *testing.T) {
	c := newCache(t, cache.Options{})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				c.Prepend(general, msg(string(rune('a'+i%26))+"x"))
			}
		}()
	}
	wg.Wait()
	p, _ := c.Page(general)
	if len(p.Messages) != 26 {
		t.Errorf("messages = %d, want 26", len(p.Messages))
	}
}

func TestOpenBackend(t *testing.T) {
	if _, err := cache.OpenBackend("rocks", nil); err == nil {
		t.Error("unknown engine accepted")
	}
	b, err := cache.OpenBackend(cache.EngineMemory, nil)
	if err != nil {
		t.Fatalf("OpenBackend: %v", err)
	}
	if _, err := b.Get("x"); err != cache.ErrNotFound {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
}
