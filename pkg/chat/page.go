package chat

import "slices"

// Page is the loaded portion of one timeline, newest message first.
type Page struct {
	Messages []Message `json:"messages"`

	// Cursor is the id of the oldest loaded confirmed message; older
	// history is requested before it.
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

// Index returns the position of the message with the given id, or -1.
func (p Page) Index(id string) int {
	return slices.IndexFunc(p.Messages, func(m Message) bool { return m.ID == id })
}

// Find returns the message with the given id.
func (p Page) Find(id string) (Message, bool) {
	i := p.Index(id)
	if i < 0 {
		return Message{}, false
	}
	return p.Messages[i], true
}

// Pending returns the provisional messages in p, in page order.
func (p Page) Pending() []Message {
	var out []Message
	for _, m := range p.Messages {
		if m.Pending() {
			out = append(out, m)
		}
	}
	return out
}

// OldestConfirmed returns the id of the last non-provisional message.
func (p Page) OldestConfirmed() string {
	for i := len(p.Messages) - 1; i >= 0; i-- {
		if !p.Messages[i].Pending() && !IsTempID(p.Messages[i].ID) {
			return p.Messages[i].ID
		}
	}
	return ""
}

// Clone returns a deep copy of p.
func (p Page) Clone() Page {
	if p.Messages != nil {
		msgs := make([]Message, len(p.Messages))
		for i, m := range p.Messages {
			msgs[i] = m.Clone()
		}
		p.Messages = msgs
	}
	return p
}
