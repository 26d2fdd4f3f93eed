package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/faithflow/commsync/pkg/api"
	"github.com/faithflow/commsync/pkg/chat"
)

func newClient(t *testing.T, h http.HandlerFunc) *api.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := api.NewClient(srv.URL+"/v1/", "secret", api.WithRetry(2, time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestSendMessage(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/communities/c1/messages" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["text"] != "hi" || body["channel_type"] != "subgroup" || body["subgroup_id"] != "youth" ||
			body["client_id"] != "tmp-1" || body["message_type"] != "text" {
			t.Errorf("body = %v", body)
		}
		writeJSON(w, http.StatusCreated, chat.Message{ID: "srv-1", Text: "hi"})
	})

	m, err := c.SendMessage(context.Background(), chat.SubgroupKey("c1", "youth"), chat.Draft{Text: "hi", ClientID: "tmp-1"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if m.ID != "srv-1" {
		t.Errorf("ID = %q", m.ID)
	}
}

func TestDeleteMessage(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/v1/communities/c1/messages/m 1" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("for_everyone"); got != "true" {
			t.Errorf("for_everyone = %q", got)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	if err := c.DeleteMessage(context.Background(), chat.GeneralKey("c1"), "m 1", true); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
}

func TestReactAndVote(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/v1/communities/c1/messages/m1/reactions":
			if body["emoji"] != "🙏" || body["action"] != "add" {
				t.Errorf("react body = %v", body)
			}
		case "/v1/communities/c1/messages/m1/poll/vote":
			if ids, _ := body["option_ids"].([]any); len(ids) != 0 {
				t.Errorf("vote body = %v", body)
			}
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, chat.Message{ID: "m1"})
	})
	ctx := context.Background()
	if _, err := c.React(ctx, chat.GeneralKey("c1"), "m1", "🙏", chat.ReactionAdd); err != nil {
		t.Fatal(err)
	}
	if _, err := c.VotePoll(ctx, chat.GeneralKey("c1"), "m1", nil); err != nil {
		t.Fatal(err)
	}
}

func TestListMessages(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("channel_type") != "general" || q.Get("before") != "m5" || q.Get("limit") != "2" || q.Has("subgroup_id") {
			t.Errorf("query = %v", q)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"messages": []chat.Message{{ID: "m4"}, {ID: "m3"}},
			"has_more": true,
		})
	})
	p, err := c.ListMessages(context.Background(), chat.GeneralKey("c1"), "m5", 2)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(p.Messages) != 2 || !p.HasMore || p.Cursor != "m3" {
		t.Errorf("page = %+v", p)
	}
	if m := p.Messages[0]; m.CommunityID != "c1" || m.ChannelType != chat.ChannelGeneral || m.Status != chat.StatusSent {
		t.Errorf("message not completed from key: %+v", m)
	}
}

func TestErrorDecoding(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		code    string
		message string
	}{
		{"wrapped", 403, `{"error":{"code":"forbidden","message":"not a member"}}`, "forbidden", "not a member"},
		{"flat", 422, `{"code":"invalid","message":"text too long"}`, "invalid", "text too long"},
		{"plain", 400, "bad input\n", "", "bad input"},
		{"empty", 404, "", "", "Not Found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.EditMessage(context.Background(), chat.GeneralKey("c1"), "m1", "x")
			apiErr, ok := api.AsError(err)
			if !ok {
				t.Fatalf("err = %v, want *api.Error", err)
			}
			if apiErr.Status != tt.status || apiErr.Code != tt.code || apiErr.Message != tt.message {
				t.Errorf("err = %+v", apiErr)
			}
		})
	}
}

func TestReadsRetryWritesDoNot(t *testing.T) {
	var gets, posts atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			if gets.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			writeJSON(w, http.StatusOK, []chat.Summary{{CommunityID: "c1"}})
			return
		}
		posts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	ctx := context.Background()

	sums, err := c.ListCommunities(ctx)
	if err != nil || len(sums) != 1 {
		t.Fatalf("ListCommunities = %v, %v", sums, err)
	}
	if gets.Load() != 3 {
		t.Errorf("GET attempts = %d, want 3", gets.Load())
	}

	_, err = c.SendMessage(ctx, chat.GeneralKey("c1"), chat.Draft{Text: "x"})
	if e, ok := api.AsError(err); !ok || e.Status != http.StatusBadGateway {
		t.Errorf("SendMessage err = %v", err)
	}
	if posts.Load() != 1 {
		t.Errorf("POST attempts = %d, want 1", posts.Load())
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var n atomic.Int32
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		n.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})
	_, err := c.ListMessages(context.Background(), chat.GeneralKey("c1"), "", 0)
	if !api.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
	if n.Load() != 1 {
		t.Errorf("attempts = %d", n.Load())
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := api.NewClient("", "t"); err == nil {
		t.Error("NewClient accepted empty base URL")
	}
	if _, ok := api.AsError(errors.New("x")); ok {
		t.Error("AsError matched a plain error")
	}
}
