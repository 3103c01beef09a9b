package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ActionKind enumerates admin decisions carried in callback payloads.
type ActionKind int

const (
	ActionNoop ActionKind = iota
	ActionAccept
	ActionDecline
	ActionRelease
)

const (
	payloadSeparator = "+"
	payloadNoop      = "ok"
)

var actionNames = map[ActionKind]string{
	ActionNoop:    payloadNoop,
	ActionAccept:  "accept",
	ActionDecline: "decline",
	ActionRelease: "release",
}

// String returns the wire name of the action kind.
func (k ActionKind) String() string {
	if name, ok := actionNames[k]; ok {
		return name
	}
	return "unknown"
}

// Action is an admin decision about one group, decoded once from a callback
// payload of the form "<kind>+<group_id>" (or "ok" for the no-op marker).
type Action struct {
	Kind    ActionKind
	GroupID int64
}

// NoopAction returns the action attached to terminal keyboard buttons.
func NoopAction() Action { return Action{Kind: ActionNoop} }

// AcceptAction returns an accept decision for groupID.
func AcceptAction(groupID int64) Action { return Action{Kind: ActionAccept, GroupID: groupID} }

// DeclineAction returns a decline decision for groupID.
func DeclineAction(groupID int64) Action { return Action{Kind: ActionDecline, GroupID: groupID} }

// ReleaseAction returns a release decision for groupID.
func ReleaseAction(groupID int64) Action { return Action{Kind: ActionRelease, GroupID: groupID} }

// Encode renders the callback payload for the action.
func (a Action) Encode() string {
	if a.Kind == ActionNoop {
		return payloadNoop
	}
	return a.Kind.String() + payloadSeparator + strconv.FormatInt(a.GroupID, 10)
}

// ParseAction decodes a callback payload.
func ParseAction(data string) (Action, error) {
	data = strings.TrimSpace(data)
	if data == payloadNoop {
		return NoopAction(), nil
	}

	name, rawID, found := strings.Cut(data, payloadSeparator)
	if !found {
		return Action{}, fmt.Errorf("%w: %q", ErrInvalidAction, data)
	}

	groupID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || groupID == 0 {
		return Action{}, fmt.Errorf("%w: bad group id in %q", ErrInvalidAction, data)
	}

	switch name {
	case actionNames[ActionAccept]:
		return AcceptAction(groupID), nil
	case actionNames[ActionDecline]:
		return DeclineAction(groupID), nil
	case actionNames[ActionRelease]:
		return ReleaseAction(groupID), nil
	default:
		return Action{}, fmt.Errorf("%w: unknown action %q", ErrInvalidAction, name)
	}
}
