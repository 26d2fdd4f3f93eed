package chat

// Preview is the last-message preview shown in a community list.
type Preview struct {
	MessageID  string      `json:"message_id"`
	Text       string      `json:"text"`
	SenderID   string      `json:"sender_id,omitempty"`
	SenderName string      `json:"sender_name,omitempty"`
	Kind       MessageKind `json:"message_type,omitempty"`
	SentAt     Time        `json:"sent_at"`
}

// PreviewOf builds the list preview for m.
func PreviewOf(m Message) *Preview {
	return &Preview{
		MessageID:  m.ID,
		Text:       previewText(m),
		SenderID:   m.Sender.ID,
		SenderName: m.Sender.Name,
		Kind:       m.Kind,
		SentAt:     m.CreatedAt,
	}
}

func previewText(m Message) string {
	switch {
	case m.IsDeleted:
		return "Message deleted"
	case m.Text != "":
		return m.Text
	case m.Poll != nil:
		return "Poll: " + m.Poll.Question
	case m.Media != nil && m.Media.Name != "":
		return m.Media.Name
	}
	switch m.Kind {
	case KindImage:
		return "Photo"
	case KindVideo:
		return "Video"
	case KindAudio:
		return "Voice message"
	case KindDocument:
		return "Document"
	}
	return ""
}

// Summary is one row of the community list.
type Summary struct {
	CommunityID   string   `json:"community_id"`
	Name          string   `json:"name"`
	LastMessage   *Preview `json:"last_message,omitempty"`
	UnreadCount   int      `json:"unread_count"`
	Role          string   `json:"role,omitempty"`
	Notifications string   `json:"notification_preference,omitempty"`
}

// Equal reports whether s and o hold the same values.
func (s Summary) Equal(o Summary) bool {
	if s.CommunityID != o.CommunityID || s.Name != o.Name ||
		s.UnreadCount != o.UnreadCount || s.Role != o.Role ||
		s.Notifications != o.Notifications {
		return false
	}
	switch {
	case s.LastMessage == nil || o.LastMessage == nil:
		return s.LastMessage == o.LastMessage
	default:
		a, b := *s.LastMessage, *o.LastMessage
		return a.MessageID == b.MessageID && a.Text == b.Text &&
			a.SenderID == b.SenderID && a.SenderName == b.SenderName &&
			a.Kind == b.Kind && a.SentAt.Equal(b.SentAt)
	}
}

// Clone returns a copy of s that shares no pointers with it.
func (s Summary) Clone() Summary {
	if s.LastMessage != nil {
		p := *s.LastMessage
		s.LastMessage = &p
	}
	return s
}
