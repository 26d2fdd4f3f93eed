package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/faithflow/commsync/pkg/chat"
)

func messagesPath(community string) string {
	return "/communities/" + url.PathEscape(community) + "/messages"
}

func messagePath(community, id string) string {
	return messagesPath(community) + "/" + url.PathEscape(id)
}

type sendRequest struct {
	chat.Draft
	ChannelType chat.ChannelType `json:"channel_type"`
	SubgroupID  string           `json:"subgroup_id,omitempty"`
}

// SendMessage posts draft to key's timeline and returns the stored message.
func (c *Client) SendMessage(ctx context.Context, key chat.Key, draft chat.Draft) (chat.Message, error) {
	if draft.Kind == "" {
		draft.Kind = draft.MessageKind()
	}
	req := sendRequest{Draft: draft, ChannelType: key.Channel, SubgroupID: key.Subgroup}
	var m chat.Message
	if err := c.request(ctx, http.MethodPost, messagesPath(key.Community), nil, req, &m); err != nil {
		return chat.Message{}, err
	}
	return m, nil
}

// EditMessage replaces the text of message id.
func (c *Client) EditMessage(ctx context.Context, key chat.Key, id, text string) (chat.Message, error) {
	req := struct {
		Text string `json:"text"`
	}{text}
	var m chat.Message
	if err := c.request(ctx, http.MethodPatch, messagePath(key.Community, id), nil, req, &m); err != nil {
		return chat.Message{}, err
	}
	return m, nil
}

// DeleteMessage deletes message id for everyone or only for the caller.
func (c *Client) DeleteMessage(ctx context.Context, key chat.Key, id string, forEveryone bool) error {
	q := url.Values{"for_everyone": {strconv.FormatBool(forEveryone)}}
	return c.request(ctx, http.MethodDelete, messagePath(key.Community, id), q, nil, nil)
}

// React adds or removes the caller's emoji reaction.
func (c *Client) React(ctx context.Context, key chat.Key, id, emoji string, action chat.ReactionAction) (chat.Message, error) {
	req := struct {
		Emoji  string              `json:"emoji"`
		Action chat.ReactionAction `json:"action"`
	}{emoji, action}
	var m chat.Message
	if err := c.request(ctx, http.MethodPost, messagePath(key.Community, id)+"/reactions", nil, req, &m); err != nil {
		return chat.Message{}, err
	}
	return m, nil
}

// VotePoll sets the caller's selected options on a poll.
func (c *Client) VotePoll(ctx context.Context, key chat.Key, id string, optionIDs []string) (chat.Message, error) {
	if optionIDs == nil {
		optionIDs = []string{}
	}
	req := struct {
		OptionIDs []string `json:"option_ids"`
	}{optionIDs}
	var m chat.Message
	if err := c.request(ctx, http.MethodPost, messagePath(key.Community, id)+"/poll/vote", nil, req, &m); err != nil {
		return chat.Message{}, err
	}
	return m, nil
}

// ListMessages returns up to limit messages of key's timeline older than
// before, newest first. An empty before starts at the newest message.
func (c *Client) ListMessages(ctx context.Context, key chat.Key, before string, limit int) (chat.Page, error) {
	q := url.Values{"channel_type": {string(key.Channel)}}
	if key.Subgroup != "" {
		q.Set("subgroup_id", key.Subgroup)
	}
	if before != "" {
		q.Set("before", before)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Messages []chat.Message `json:"messages"`
		HasMore  bool           `json:"has_more"`
	}
	if err := c.request(ctx, http.MethodGet, messagesPath(key.Community), q, nil, &resp); err != nil {
		return chat.Page{}, err
	}
	for i := range resp.Messages {
		m := &resp.Messages[i]
		if m.CommunityID == "" {
			m.CommunityID = key.Community
		}
		if m.ChannelType == "" {
			m.ChannelType, m.SubgroupID = key.Channel, key.Subgroup
		}
		if m.Status == "" {
			m.Status = chat.StatusSent
		}
	}
	p := chat.Page{Messages: resp.Messages, HasMore: resp.HasMore}
	p.Cursor = p.OldestConfirmed()
	return p, nil
}

// ListCommunities returns the caller's communities with their previews.
func (c *Client) ListCommunities(ctx context.Context) ([]chat.Summary, error) {
	var out []chat.Summary
	if err := c.request(ctx, http.MethodGet, "/communities", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
