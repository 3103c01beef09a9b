package domain

import (
	"fmt"
	"strings"
	"time"
)

// State is a group's position in the directory lifecycle.
type State string

const (
	// StatePending marks a group the bot joined that awaits an admin decision.
	StatePending State = "pending"
	// StateActive marks an approved group that is listed in the directory.
	StateActive State = "active"
	// StateRejected marks a declined group that stays blacklisted until released.
	StateRejected State = "rejected"
)

// ParseState converts a stored state name into a State.
func ParseState(value string) (State, error) {
	switch State(strings.ToLower(strings.TrimSpace(value))) {
	case StatePending:
		return StatePending, nil
	case StateActive:
		return StateActive, nil
	case StateRejected:
		return StateRejected, nil
	default:
		return "", fmt.Errorf("unknown group state %q", value)
	}
}

// Group represents a Telegram chat tracked by the directory.
type Group struct {
	GroupID         int64
	Name            string
	JoinedAt        time.Time
	State           State
	IsAdmin         bool
	InviteLink      string
	LastInviteCheck time.Time

	// Version increments on every persisted change and guards concurrent writers.
	Version int64
}

// Active reports whether the group is approved and listed.
func (g Group) Active() bool {
	return g.State == StateActive
}

// Deleted reports whether the group is rejected and awaiting release.
func (g Group) Deleted() bool {
	return g.State == StateRejected
}

// HasLink reports whether a usable invite link is stored.
func (g Group) HasLink() bool {
	return strings.TrimSpace(g.InviteLink) != ""
}

// Listed reports whether the group belongs in the rendered directory.
func (g Group) Listed() bool {
	return g.Active() && g.HasLink()
}

// Accept moves a pending or rejected group to active. The second return value
// is false when the group already was active.
func (g Group) Accept() (Group, bool) {
	if g.State == StateActive {
		return g, false
	}
	g.State = StateActive
	return g, true
}

// Decline moves a group to rejected. The second return value is false when the
// group already was rejected.
func (g Group) Decline() (Group, bool) {
	if g.State == StateRejected {
		return g, false
	}
	g.State = StateRejected
	return g, true
}

// Releasable reports whether the release action may delete the group.
func (g Group) Releasable() bool {
	return g.State == StateRejected
}

// WithAdmin records the bot's administrator status. The second return value is
// false when the status did not change.
func (g Group) WithAdmin(isAdmin bool) (Group, bool) {
	if g.IsAdmin == isAdmin {
		return g, false
	}
	g.IsAdmin = isAdmin
	return g, true
}
