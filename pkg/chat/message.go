// Package chat defines the community messaging data model shared by the
// cache, the reconciler and the REST client.
package chat

import (
	"slices"
	"strings"

	"github.com/google/uuid"
)

// TempPrefix marks a provisional message id that has not been confirmed by
// the server.
const TempPrefix = "tmp-"

// NewTempID returns a fresh provisional message id.
func NewTempID() string {
	return TempPrefix + uuid.NewString()
}

// IsTempID reports whether id is a provisional message id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// Member is a community member as embedded in messages and events.
type Member struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// MessageKind is the content type of a message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindVideo    MessageKind = "video"
	KindAudio    MessageKind = "audio"
	KindDocument MessageKind = "document"
	KindPoll     MessageKind = "poll"
)

// Status is the client-local delivery tag of a message.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
)

// Media describes an attachment.
type Media struct {
	URL          string `json:"url"`
	MimeType     string `json:"mime_type,omitempty"`
	Name         string `json:"name,omitempty"`
	Size         int64  `json:"size,omitempty"`
	Duration     int    `json:"duration,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// ReadReceipt records the first time a member read a message.
type ReadReceipt struct {
	MemberID string `json:"member_id"`
	ReadAt   Time   `json:"read_at"`
}

// Message is a single chat message.
type Message struct {
	ID          string        `json:"id"`
	CommunityID string        `json:"community_id"`
	ChannelType ChannelType   `json:"channel_type"`
	SubgroupID  string        `json:"subgroup_id,omitempty"`
	Sender      Member        `json:"sender"`
	Text        string        `json:"text,omitempty"`
	Media       *Media        `json:"media,omitempty"`
	Kind        MessageKind   `json:"message_type"`
	CreatedAt   Time          `json:"created_at"`
	IsEdited    bool          `json:"is_edited,omitempty"`
	EditedAt    Time          `json:"edited_at,omitzero"`
	IsDeleted   bool          `json:"is_deleted,omitempty"`
	Reactions   Reactions     `json:"reactions,omitempty"`
	ReadBy      []ReadReceipt `json:"read_by,omitempty"`
	ReplyTo     string        `json:"reply_to,omitempty"`
	Poll        *Poll         `json:"poll,omitempty"`
	Status      Status        `json:"status,omitempty"`
}

// Key returns the timeline key the message belongs to.
func (m Message) Key() Key {
	return Key{Community: m.CommunityID, Channel: m.ChannelType, Subgroup: m.SubgroupID}
}

// Pending reports whether m is a provisional, unconfirmed message.
func (m Message) Pending() bool {
	return m.Status == StatusPending
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	if m.Media != nil {
		media := *m.Media
		m.Media = &media
	}
	m.Reactions = m.Reactions.Clone()
	m.ReadBy = slices.Clone(m.ReadBy)
	if m.Poll != nil {
		p := m.Poll.Clone()
		m.Poll = &p
	}
	return m
}

// Tombstone returns m with its body cleared and IsDeleted set. The id,
// sender and timestamps are kept so the entry stays in place.
func (m Message) Tombstone() Message {
	m.Text = ""
	m.Media = nil
	m.Poll = nil
	m.Reactions = nil
	m.IsDeleted = true
	return m
}

// HasRead reports whether memberID has a read receipt on m.
func (m Message) HasRead(memberID string) bool {
	return slices.ContainsFunc(m.ReadBy, func(r ReadReceipt) bool {
		return r.MemberID == memberID
	})
}

// MarkRead appends a read receipt for memberID unless one exists. The
// earliest receipt wins.
func (m Message) MarkRead(memberID string, at Time) (Message, bool) {
	if m.HasRead(memberID) {
		return m, false
	}
	m.ReadBy = append(slices.Clone(m.ReadBy), ReadReceipt{MemberID: memberID, ReadAt: at})
	return m, true
}

// Draft is the content of a message about to be sent.
type Draft struct {
	Text    string      `json:"text,omitempty"`
	Media   *Media      `json:"media,omitempty"`
	Kind    MessageKind `json:"message_type,omitempty"`
	ReplyTo string      `json:"reply_to,omitempty"`
	Poll    *Poll       `json:"poll,omitempty"`

	// ClientID is the provisional id of the optimistic copy. The server may
	// use it to deduplicate retries.
	ClientID string `json:"client_id,omitempty"`
}

// Empty reports whether d carries no content.
func (d Draft) Empty() bool {
	return strings.TrimSpace(d.Text) == "" && d.Media == nil && d.Poll == nil
}

// MessageKind returns d.Kind, inferred from the content when unset.
func (d Draft) MessageKind() MessageKind {
	if d.Kind != "" {
		return d.Kind
	}
	switch {
	case d.Poll != nil:
		return KindPoll
	case d.Media != nil:
		return mediaKind(d.Media.MimeType)
	}
	return KindText
}

func mediaKind(mime string) MessageKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return KindImage
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	case strings.HasPrefix(mime, "audio/"):
		return KindAudio
	}
	return KindDocument
}
