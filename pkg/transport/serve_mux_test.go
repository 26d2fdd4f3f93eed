package transport

import (
	"slices"
	"testing"

	"github.com/eclipse/paho.golang/paho"
)

func TestServeMux_DispatchOrder(t *testing.T) {
	sm := NewServeMux(nil)
	var got []string
	record := func(name string) func(string, []byte) {
		return func(string, []byte) { got = append(got, name) }
	}
	sm.HandleFunc("t/#", record("wide"))
	sm.HandleFunc("t/a", record("exact"))
	sm.HandleFunc("t/+", record("single"))

	if n := sm.Dispatch(Message{Topic: "t/a"}); n != 3 {
		t.Errorf("Dispatch = %d, want 3", n)
	}
	if want := []string{"wide", "exact", "single"}; !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestServeMux_Remove(t *testing.T) {
	sm := NewServeMux(nil)
	calls := 0
	remove, err := sm.HandleFunc("t/a", func(string, []byte) { calls++ })
	if err != nil {
		t.Fatal(err)
	}
	sm.Dispatch(Message{Topic: "t/a"})
	remove()
	remove()
	if n := sm.Dispatch(Message{Topic: "t/a"}); n != 0 {
		t.Errorf("Dispatch after remove = %d", n)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestServeMux_PanicIsolated(t *testing.T) {
	sm := NewServeMux(nil)
	reached := false
	sm.HandleFunc("t/a", func(string, []byte) { panic("boom") })
	sm.HandleFunc("t/a", func(string, []byte) { reached = true })
	sm.Dispatch(Message{Topic: "t/a"})
	if !reached {
		t.Error("second handler not called after panic")
	}
}

func TestServeMux_InvalidPattern(t *testing.T) {
	sm := NewServeMux(nil)
	if _, err := sm.HandleFunc("a/#/b", func(string, []byte) {}); err == nil {
		t.Error("HandleFunc accepted invalid pattern")
	}
}

func TestServeMux_TopicAlias(t *testing.T) {
	sm := NewServeMux(nil)
	var topics []string
	sm.HandleFunc("t/#", func(topic string, _ []byte) { topics = append(topics, topic) })

	alias := uint16(7)
	sm.handlePublish(paho.PublishReceived{Packet: &paho.Publish{
		Topic:      "t/long/name",
		Properties: &paho.PublishProperties{TopicAlias: &alias},
	}})
	handled, err := sm.handlePublish(paho.PublishReceived{Packet: &paho.Publish{
		Properties: &paho.PublishProperties{TopicAlias: &alias},
	}})
	if err != nil || !handled {
		t.Fatalf("handlePublish = %v, %v", handled, err)
	}
	if want := []string{"t/long/name", "t/long/name"}; !slices.Equal(topics, want) {
		t.Errorf("topics = %v, want %v", topics, want)
	}
}
