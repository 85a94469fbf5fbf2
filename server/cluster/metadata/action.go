// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package metadata

import "fmt"

type ActionKind int

const (
	ActionAdd ActionKind = iota
	ActionRemove
	ActionStepdownLeader
)

func (k ActionKind) String() string {
	switch k {
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	case ActionStepdownLeader:
		return "stepdown_leader"
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

func (k ActionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// PendingAction is an action already dispatched but not confirmed complete.
type PendingAction struct {
	TabletID TabletID
	Kind     ActionKind
	Target   TabletServerID
}

// Action is a replica change decided by the load balancer.
// For a StepdownLeader the target is the current leader and NewLeader the successor.
// For a Remove targeting the leader, NewLeader is the preferred successor.
type Action struct {
	TableID   TableID        `json:"tableID"`
	TabletID  TabletID       `json:"tabletID"`
	Kind      ActionKind     `json:"kind"`
	Target    TabletServerID `json:"target"`
	NewLeader TabletServerID `json:"newLeader,omitempty"`
}

func (a Action) IsAdd() bool {
	return a.Kind == ActionAdd
}

func (a Action) ShouldRemove() bool {
	return a.Kind == ActionRemove
}

func (a Action) HasNewLeader() bool {
	return a.NewLeader != ""
}

func (a Action) String() string {
	if a.HasNewLeader() {
		return fmt.Sprintf("%s(tablet:%s, target:%s, newLeader:%s)", a.Kind, a.TabletID, a.Target, a.NewLeader)
	}
	return fmt.Sprintf("%s(tablet:%s, target:%s)", a.Kind, a.TabletID, a.Target)
}
