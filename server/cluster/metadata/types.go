// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package metadata

import (
	"fmt"
	"sort"
	"time"
)

type (
	TabletServerID string
	TabletID       string
	TableID        string
)

// CloudInfo locates a server, the zone is the finest granularity of placement.
type CloudInfo struct {
	Cloud  string `json:"cloud"`
	Region string `json:"region"`
	Zone   string `json:"zone"`
}

func (c CloudInfo) Key() string {
	return fmt.Sprintf("%s.%s.%s", c.Cloud, c.Region, c.Zone)
}

func (c CloudInfo) IsEmpty() bool {
	return c.Cloud == "" && c.Region == "" && c.Zone == ""
}

type TabletServerDescriptor struct {
	ID            TabletServerID `json:"id"`
	Cloud         CloudInfo      `json:"cloud"`
	PlacementUUID string         `json:"placementUUID"`
	LastHeartbeat time.Time      `json:"lastHeartbeat"`
	Live          bool           `json:"live"`
}

func (d TabletServerDescriptor) IsLive() bool {
	return d.Live
}

// SortDescriptors sorts descriptors ascending by ID in place.
func SortDescriptors(descs []TabletServerDescriptor) {
	sort.Slice(descs, func(i, j int) bool {
		return descs[i].ID < descs[j].ID
	})
}

type ReplicaRole string

const (
	ReplicaRoleLeader   ReplicaRole = "leader"
	ReplicaRoleFollower ReplicaRole = "follower"
	ReplicaRoleObserver ReplicaRole = "observer"
)

type ReplicaState string

const (
	ReplicaStateRunning  ReplicaState = "running"
	ReplicaStateStarting ReplicaState = "starting"
)

type Replica struct {
	ServerID TabletServerID `json:"serverID"`
	Role     ReplicaRole    `json:"role"`
	State    ReplicaState   `json:"state"`
}

type Tablet struct {
	ID       TabletID                   `json:"id"`
	TableID  TableID                    `json:"tableID"`
	Replicas map[TabletServerID]Replica `json:"replicas"`
	Leader   TabletServerID             `json:"leader"`
}

// ReplicaIDs returns the servers hosting the tablet in ascending order.
func (t *Tablet) ReplicaIDs() []TabletServerID {
	ids := make([]TabletServerID, 0, len(t.Replicas))
	for id := range t.Replicas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	return ids
}

func (t *Tablet) HasReplicaOn(serverID TabletServerID) bool {
	_, ok := t.Replicas[serverID]
	return ok
}

// IsStarting reports whether any replica of the tablet is still bootstrapping.
func (t *Tablet) IsStarting() bool {
	for _, replica := range t.Replicas {
		if replica.State == ReplicaStateStarting {
			return true
		}
	}
	return false
}

func (t *Tablet) Clone() *Tablet {
	replicas := make(map[TabletServerID]Replica, len(t.Replicas))
	for id, replica := range t.Replicas {
		replicas[id] = replica
	}
	return &Tablet{
		ID:       t.ID,
		TableID:  t.TableID,
		Replicas: replicas,
		Leader:   t.Leader,
	}
}

type TableState string

const (
	TableStateRunning TableState = "running"
	TableStateDeleted TableState = "deleted"
)

type Table struct {
	ID        TableID    `json:"id"`
	Name      string     `json:"name"`
	State     TableState `json:"state"`
	TabletIDs []TabletID `json:"tabletIDs"`
}

func (t *Table) IsDeleted() bool {
	return t.State == TableStateDeleted
}

func (t *Table) Clone() *Table {
	tabletIDs := make([]TabletID, len(t.TabletIDs))
	copy(tabletIDs, t.TabletIDs)
	return &Table{
		ID:        t.ID,
		Name:      t.Name,
		State:     t.State,
		TabletIDs: tabletIDs,
	}
}

type Blacklist struct {
	Servers []TabletServerID `json:"servers"`
}

func (b Blacklist) Contains(serverID TabletServerID) bool {
	for _, id := range b.Servers {
		if id == serverID {
			return true
		}
	}
	return false
}
