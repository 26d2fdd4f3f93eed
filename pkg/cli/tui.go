package cli

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/faithflow/commsync/pkg/chat"
)

// Theme is the color scheme of the timeline.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
	Alert   lipgloss.Color
}

// DefaultTheme is the default theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
	Alert:   lipgloss.Color("#ff6b6b"),
}

// Styles holds the styles derived from a theme.
type Styles struct {
	Title   lipgloss.Style
	Sender  lipgloss.Style
	Self    lipgloss.Style
	Meta    lipgloss.Style
	Pending lipgloss.Style
	Deleted lipgloss.Style
	Status  lipgloss.Style
	Offline lipgloss.Style
}

// NewStyles derives styles from t.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Sender:  lipgloss.NewStyle().Bold(true),
		Self:    lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Meta:    lipgloss.NewStyle().Foreground(t.Dim),
		Pending: lipgloss.NewStyle().Foreground(t.Dim).Italic(true),
		Deleted: lipgloss.NewStyle().Foreground(t.Dim).Strikethrough(true),
		Status:  lipgloss.NewStyle().Foreground(t.Primary),
		Offline: lipgloss.NewStyle().Foreground(t.Alert),
	}
}

// Timeline is a printable snapshot of one timeline and its community.
type Timeline struct {
	Styles    Styles
	Key       chat.Key
	Self      string
	Connected bool
	Page      chat.Page
	Summary   chat.Summary
	Typing    []chat.Member
	Online    []chat.Member
	Now       time.Time
}

// Render draws the timeline oldest message first, at most width columns
// wide. A width of zero disables truncation.
func (t Timeline) Render(width int) string {
	var b strings.Builder
	status := t.Styles.Status.Render("● connected")
	if !t.Connected {
		status = t.Styles.Offline.Render("○ offline")
	}
	title := t.Key.String()
	if t.Summary.Name != "" {
		title = t.Summary.Name + " · " + title
	}
	fmt.Fprintf(&b, "%s  %s\n", t.Styles.Title.Render(title), status)
	if len(t.Online) > 0 {
		b.WriteString(t.Styles.Meta.Render(fmt.Sprintf("%d online: %s", len(t.Online), names(t.Online))))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	msgs := slices.Clone(t.Page.Messages)
	slices.Reverse(msgs)
	if t.Page.HasMore {
		b.WriteString(t.Styles.Meta.Render("  ··· older messages"))
		b.WriteByte('\n')
	}
	for _, m := range msgs {
		b.WriteString(truncate(t.line(m), width))
		b.WriteByte('\n')
	}
	if len(t.Typing) > 0 {
		verb := "is"
		if len(t.Typing) > 1 {
			verb = "are"
		}
		b.WriteString(t.Styles.Meta.Render(fmt.Sprintf("%s %s typing…", names(t.Typing), verb)))
		b.WriteByte('\n')
	}
	return b.String()
}

func (t Timeline) line(m chat.Message) string {
	now := t.Now
	if now.IsZero() {
		now = time.Now()
	}
	sender := t.Styles.Sender.Render(m.Sender.Name)
	if m.Sender.ID == t.Self {
		sender = t.Styles.Self.Render(m.Sender.Name)
	}
	meta := t.Styles.Meta.Render(FormatAgo(m.CreatedAt.Time(), now))

	var body string
	switch {
	case m.IsDeleted:
		body = t.Styles.Deleted.Render("message deleted")
	case m.Pending():
		body = t.Styles.Pending.Render(t.content(m) + " (sending)")
	default:
		body = t.content(m)
		if m.IsEdited {
			body += t.Styles.Meta.Render(" (edited)")
		}
	}
	out := fmt.Sprintf("  %s %s  %s", meta, sender, body)
	if r := reactions(m.Reactions); r != "" {
		out += "  " + t.Styles.Meta.Render(r)
	}
	return out
}

func (t Timeline) content(m chat.Message) string {
	switch {
	case m.Poll != nil:
		mine := m.Poll.VotedBy(t.Self)
		var opts []string
		for _, o := range m.Poll.Options {
			mark := " "
			if slices.Contains(mine, o.ID) {
				mark = "x"
			}
			opts = append(opts, fmt.Sprintf("[%s] %s (%d)", mark, o.Text, o.Votes))
		}
		return "📊 " + m.Poll.Question + "  " + strings.Join(opts, " ")
	case m.Media != nil:
		caption := m.Text
		m.Text = ""
		desc := chat.PreviewOf(m).Text
		if m.Media.Duration > 0 {
			desc += " " + FormatClip(m.Media.Duration)
		}
		if m.Media.Size > 0 {
			desc += " (" + FormatBytes(m.Media.Size) + ")"
		}
		if caption != "" {
			desc += " " + caption
		}
		return "📎 " + desc
	}
	return m.Text
}

func reactions(r chat.Reactions) string {
	if len(r) == 0 {
		return ""
	}
	var parts []string
	for emoji := range r {
		parts = append(parts, fmt.Sprintf("%s %d", emoji, r.Count(emoji)))
	}
	slices.Sort(parts)
	return strings.Join(parts, " ")
}

func names(ms []chat.Member) string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Name
		if out[i] == "" {
			out[i] = m.ID
		}
	}
	return strings.Join(out, ", ")
}

// truncate shortens s to width display columns.
func truncate(s string, width int) string {
	if width <= 1 || lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	for i := len(runes); i > 0; i-- {
		if cut := string(runes[:i]); lipgloss.Width(cut) <= width-1 {
			return cut + "…"
		}
	}
	return ""
}
