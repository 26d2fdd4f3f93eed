package chat_test

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/faithflow/commsync/pkg/chat"
	"github.com/vmihailenco/msgpack/v5"
)

func TestKeyValidate(t *testing.T) {
	tests := []struct {
		name string
		key  chat.Key
		ok   bool
	}{
		{"general", chat.GeneralKey("c1"), true},
		{"announcement", chat.Key{Community: "c1", Channel: chat.ChannelAnnouncement}, true},
		{"subgroup", chat.SubgroupKey("c1", "youth"), true},
		{"empty community", chat.Key{Channel: chat.ChannelGeneral}, false},
		{"unknown channel", chat.Key{Community: "c1", Channel: "random"}, false},
		{"subgroup without id", chat.Key{Community: "c1", Channel: chat.ChannelSubgroup}, false},
		{"general with subgroup id", chat.Key{Community: "c1", Channel: chat.ChannelGeneral, Subgroup: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if tt.ok && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, chat.ErrInvalidKey) {
				t.Fatalf("Validate() = %v, want ErrInvalidKey", err)
			}
		})
	}
}

func TestTimeJSON(t *testing.T) {
	var v struct {
		A chat.Time `json:"a"`
		B chat.Time `json:"b"`
		C chat.Time `json:"c"`
		D chat.Time `json:"d"`
	}
	in := `{"a":"2024-05-01T10:00:00.123Z","b":1714557600123,"c":"2024-05-01T10:00:00.123","d":null}`
	if err := json.Unmarshal([]byte(in), &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := time.Date(2024, 5, 1, 10, 0, 0, 123e6, time.UTC)
	for name, got := range map[string]chat.Time{"a": v.A, "b": v.B, "c": v.C} {
		if !got.Time().Equal(want) {
			t.Errorf("%s = %v, want %v", name, got.Time(), want)
		}
	}
	if !v.D.IsZero() {
		t.Errorf("d = %v, want zero", v.D)
	}

	out, err := json.Marshal(v.B)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != `"2024-05-01T10:00:00.123Z"` {
		t.Errorf("Marshal = %s", out)
	}

	if err := json.Unmarshal([]byte(`"yesterday"`), &v.A); err == nil {
		t.Error("expected error for invalid time")
	}
}

func TestTimeMsgpack(t *testing.T) {
	in := chat.At(time.Date(2024, 5, 1, 10, 0, 0, 5, time.UTC))
	b, err := msgpack.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out chat.Time
	if err := msgpack.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !out.Equal(in) {
		t.Errorf("got %v, want %v", out, in)
	}

	b, _ = msgpack.Marshal(chat.Time{})
	if err := msgpack.Unmarshal(b, &out); err != nil {
		t.Fatalf("Unmarshal zero: %v", err)
	}
	if !out.IsZero() {
		t.Errorf("zero round trip = %v", out)
	}
}

func TestReactions(t *testing.T) {
	var r chat.Reactions
	r = r.With("👍", "m1")
	r = r.With("👍", "m2")
	r = r.With("👍", "m1")
	if got := r["👍"]; !slices.Equal(got, []string{"m1", "m2"}) {
		t.Fatalf("👍 = %v", got)
	}

	before := r.Clone()
	r2, action := r.Toggle("👍", "m1")
	if action != chat.ReactionRemove {
		t.Errorf("action = %s, want remove", action)
	}
	if !slices.Equal(r["👍"], before["👍"]) {
		t.Error("Toggle modified the receiver")
	}
	r2 = r2.Without("👍", "m2")
	if _, ok := r2["👍"]; ok {
		t.Errorf("empty emoji set kept: %v", r2)
	}
	if r2 != nil {
		t.Errorf("empty reactions = %v, want nil", r2)
	}

	r3 := r.Apply(chat.ReactionRemove, "❤️", "m9")
	if len(r3) != 1 || r3.Count("👍") != 2 {
		t.Errorf("removing absent reaction changed map: %v", r3)
	}
}

func TestMarkRead(t *testing.T) {
	first := chat.At(time.Unix(100, 0))
	m := chat.Message{ID: "m1"}
	m, ok := m.MarkRead("a", first)
	if !ok {
		t.Fatal("first MarkRead returned false")
	}
	m, ok = m.MarkRead("a", chat.At(time.Unix(200, 0)))
	if ok {
		t.Fatal("second MarkRead returned true")
	}
	if len(m.ReadBy) != 1 || !m.ReadBy[0].ReadAt.Equal(first) {
		t.Errorf("ReadBy = %+v", m.ReadBy)
	}
}

func TestTombstone(t *testing.T) {
	m := chat.Message{
		ID:        "m1",
		Text:      "hello",
		Media:     &chat.Media{URL: "https://x/y.png"},
		Reactions: chat.Reactions{"👍": {"a"}},
	}
	d := m.Tombstone()
	if !d.IsDeleted || d.Text != "" || d.Media != nil || d.Reactions != nil {
		t.Errorf("Tombstone = %+v", d)
	}
	if d.ID != "m1" {
		t.Errorf("Tombstone changed id to %q", d.ID)
	}
	if m.Text != "hello" {
		t.Error("Tombstone modified the receiver")
	}
}

func newPoll(multiple, anonymous bool) chat.Poll {
	return chat.Poll{
		Question:       "Picnic day?",
		MultipleChoice: multiple,
		Anonymous:      anonymous,
		Options: []chat.PollOption{
			{ID: "sat", Text: "Saturday"},
			{ID: "sun", Text: "Sunday"},
		},
	}
}

func TestPollSingleChoice(t *testing.T) {
	p := newPoll(false, false)
	p, err := p.Vote("me", "sat")
	if err != nil {
		t.Fatalf("Vote: %v", err)
	}
	p, err = p.Vote("me", "sun")
	if err != nil {
		t.Fatalf("Vote: %v", err)
	}
	if p.Options[0].Votes != 0 || len(p.Options[0].Voters) != 0 {
		t.Errorf("sat = %+v, want no votes", p.Options[0])
	}
	if p.Options[1].Votes != 1 || !slices.Equal(p.Options[1].Voters, []string{"me"}) {
		t.Errorf("sun = %+v", p.Options[1])
	}
	if !slices.Equal(p.MyVotes, []string{"sun"}) {
		t.Errorf("MyVotes = %v", p.MyVotes)
	}

	again, _ := p.Vote("me", "sun")
	if again.Total() != 1 {
		t.Errorf("re-vote changed total to %d", again.Total())
	}
}

func TestPollMultipleChoice(t *testing.T) {
	p := newPoll(true, false)
	p, _ = p.Vote("me", "sat")
	p, _ = p.Vote("me", "sun")
	if p.Total() != 2 {
		t.Fatalf("Total = %d, want 2", p.Total())
	}
	p, _ = p.Vote("me", "sat")
	if p.Options[0].Votes != 0 || p.Options[1].Votes != 1 {
		t.Errorf("toggle off: %+v", p.Options)
	}
	if !slices.Equal(p.MyVotes, []string{"sun"}) {
		t.Errorf("MyVotes = %v", p.MyVotes)
	}
}

func TestPollAnonymous(t *testing.T) {
	p := newPoll(false, true)
	p.Options[0].Votes = 3
	p, _ = p.Vote("me", "sat")
	p, _ = p.Vote("me", "sun")
	if p.Options[0].Votes != 3 || p.Options[1].Votes != 1 {
		t.Errorf("counts = %d,%d want 3,1", p.Options[0].Votes, p.Options[1].Votes)
	}
	for _, o := range p.Options {
		if len(o.Voters) != 0 {
			t.Errorf("anonymous option %s exposes voters %v", o.ID, o.Voters)
		}
	}
}

func TestPollErrors(t *testing.T) {
	p := newPoll(false, false)
	if _, err := p.Vote("me", "mon"); !errors.Is(err, chat.ErrUnknownOption) {
		t.Errorf("Vote unknown = %v", err)
	}
	now := time.Now()
	p.ExpiresAt = chat.At(now.Add(-time.Minute))
	if !p.Closed(now) {
		t.Error("expired poll not closed")
	}
	p.ExpiresAt = chat.Time{}
	if p.Closed(now) {
		t.Error("poll without expiry closed")
	}
}

func TestPageOldestConfirmed(t *testing.T) {
	p := chat.Page{Messages: []chat.Message{
		{ID: "m3"},
		{ID: "m2"},
		{ID: "tmp-1", Status: chat.StatusPending},
	}}
	if got := p.OldestConfirmed(); got != "m2" {
		t.Errorf("OldestConfirmed = %q, want m2", got)
	}
	if got := len(p.Pending()); got != 1 {
		t.Errorf("Pending = %d, want 1", got)
	}
}

func TestDraftKind(t *testing.T) {
	tests := []struct {
		draft chat.Draft
		want  chat.MessageKind
	}{
		{chat.Draft{Text: "hi"}, chat.KindText},
		{chat.Draft{Media: &chat.Media{MimeType: "image/png"}}, chat.KindImage},
		{chat.Draft{Media: &chat.Media{MimeType: "application/pdf"}}, chat.KindDocument},
		{chat.Draft{Poll: &chat.Poll{Question: "?"}}, chat.KindPoll},
		{chat.Draft{Text: "x", Kind: chat.KindAudio}, chat.KindAudio},
	}
	for _, tt := range tests {
		if got := tt.draft.MessageKind(); got != tt.want {
			t.Errorf("%+v kind = %s, want %s", tt.draft, got, tt.want)
		}
	}
	if !(chat.Draft{Text: "  "}).Empty() {
		t.Error("blank draft not empty")
	}
}
