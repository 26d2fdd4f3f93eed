package chat

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrPollClosed is returned when voting on an expired poll.
	ErrPollClosed = errors.New("chat: poll closed")

	// ErrUnknownOption is returned when voting for an option the poll does
	// not have.
	ErrUnknownOption = errors.New("chat: unknown poll option")
)

// PollOption is one choice in a poll. Voters is empty for anonymous polls.
type PollOption struct {
	ID     string   `json:"id"`
	Text   string   `json:"text"`
	Voters []string `json:"voters,omitempty"`
	Votes  int      `json:"votes"`
}

// Poll is the poll attached to a poll message.
type Poll struct {
	Question       string       `json:"question"`
	Options        []PollOption `json:"options"`
	MultipleChoice bool         `json:"multiple_choice,omitempty"`
	Anonymous      bool         `json:"anonymous,omitempty"`
	ExpiresAt      Time         `json:"expires_at,omitzero"`

	// MyVotes holds the option ids chosen by the local member. It is the
	// only record of the local vote on anonymous polls.
	MyVotes []string `json:"my_votes,omitempty"`
}

// Closed reports whether the poll has expired at now.
func (p Poll) Closed(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt.Time())
}

// Option returns the index of the option with the given id, or -1.
func (p Poll) Option(id string) int {
	return slices.IndexFunc(p.Options, func(o PollOption) bool { return o.ID == id })
}

// Total returns the number of votes cast across all options.
func (p Poll) Total() int {
	n := 0
	for _, o := range p.Options {
		n += o.Votes
	}
	return n
}

// VotedBy returns the option ids member voted for. Anonymous polls only
// know the local member's votes, which callers pass through MyVotes.
func (p Poll) VotedBy(member string) []string {
	if p.Anonymous {
		return slices.Clone(p.MyVotes)
	}
	var ids []string
	for _, o := range p.Options {
		if slices.Contains(o.Voters, member) {
			ids = append(ids, o.ID)
		}
	}
	if len(ids) == 0 && len(p.MyVotes) > 0 {
		return slices.Clone(p.MyVotes)
	}
	return ids
}

// Vote returns a copy of p with member's vote for optionID applied.
//
// A single-choice poll moves the member's vote to optionID; voting again for
// the same option leaves the poll unchanged. A multiple-choice poll toggles
// optionID. Anonymous polls never record voter ids.
func (p Poll) Vote(member, optionID string) (Poll, error) {
	target := p.Option(optionID)
	if target < 0 {
		return p, fmt.Errorf("%w: %s", ErrUnknownOption, optionID)
	}
	out := p.Clone()
	current := p.VotedBy(member)
	if out.MultipleChoice {
		if slices.Contains(current, optionID) {
			out.retract(member, optionID)
		} else {
			out.cast(member, optionID)
		}
		return out, nil
	}
	if slices.Equal(current, []string{optionID}) {
		return out, nil
	}
	for _, id := range current {
		out.retract(member, id)
	}
	out.cast(member, optionID)
	return out, nil
}

func (p *Poll) cast(member, optionID string) {
	o := &p.Options[p.Option(optionID)]
	o.Votes++
	if !p.Anonymous {
		o.Voters = append(o.Voters, member)
	}
	if !slices.Contains(p.MyVotes, optionID) {
		p.MyVotes = append(p.MyVotes, optionID)
	}
}

func (p *Poll) retract(member, optionID string) {
	i := p.Option(optionID)
	if i < 0 {
		return
	}
	o := &p.Options[i]
	if o.Votes > 0 {
		o.Votes--
	}
	if !p.Anonymous {
		o.Voters = slices.DeleteFunc(o.Voters, func(id string) bool { return id == member })
	}
	p.MyVotes = slices.DeleteFunc(p.MyVotes, func(id string) bool { return id == optionID })
}

// Clone returns a deep copy of p.
func (p Poll) Clone() Poll {
	p.Options = slices.Clone(p.Options)
	for i := range p.Options {
		p.Options[i].Voters = slices.Clone(p.Options[i].Voters)
	}
	p.MyVotes = slices.Clone(p.MyVotes)
	return p
}
