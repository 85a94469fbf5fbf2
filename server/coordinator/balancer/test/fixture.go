// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package test

import (
	"context"
	"sync"

	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/CeresDB/tabletmeta/server/coordinator/balancer"
)

// HighNumber disables a concurrency cap in tests.
const HighNumber = 100

// DefaultOptions returns options whose caps never bind and with both limits disabled.
func DefaultOptions() balancer.Options {
	return balancer.Options{
		MaxConcurrentAdds:               HighNumber,
		MaxConcurrentRemovals:           HighNumber,
		MaxConcurrentLeaderMoves:        HighNumber,
		AllowLimitStartingTablets:       false,
		AllowLimitOverReplicatedTablets: false,
		Domain:                          metadata.LiveDomain(),
	}
}

// Fixture is an in-memory balancer.DataSource populated by tests.
type Fixture struct {
	Servers          []metadata.TabletServerDescriptor
	AffinitizedZones []metadata.CloudInfo
	Tablets          map[metadata.TabletID]*metadata.Tablet
	Tables           map[metadata.TableID]*metadata.Table
	Replication      metadata.ReplicationInfo
	Blacklisted      []metadata.TabletServerID
	Pending          []metadata.PendingAction
}

var _ balancer.DataSource = &Fixture{}

func NewFixture() *Fixture {
	return &Fixture{
		Tablets: map[metadata.TabletID]*metadata.Tablet{},
		Tables:  map[metadata.TableID]*metadata.Table{},
	}
}

// WithLivePlacement sets the live placement to numReplicas replicas without zone constraints.
func (f *Fixture) WithLivePlacement(numReplicas int, blocks ...metadata.PlacementBlock) *Fixture {
	f.Replication.Live = metadata.PlacementInfo{NumReplicas: numReplicas, Blocks: blocks}
	return f
}

func (f *Fixture) WithReadReplicaPlacement(placementUUID string, numReplicas int, blocks ...metadata.PlacementBlock) *Fixture {
	f.Replication.ReadReplicas = append(f.Replication.ReadReplicas, metadata.PlacementInfo{
		NumReplicas:   numReplicas,
		PlacementUUID: placementUUID,
		Blocks:        blocks,
	})
	return f
}

// AddServer registers a live server of the live placement.
func (f *Fixture) AddServer(id metadata.TabletServerID, zone metadata.CloudInfo) *Fixture {
	return f.AddServerWithPlacement(id, zone, "", true)
}

func (f *Fixture) AddServerWithPlacement(id metadata.TabletServerID, zone metadata.CloudInfo, placementUUID string, live bool) *Fixture {
	f.Servers = append(f.Servers, metadata.TabletServerDescriptor{
		ID:            id,
		Cloud:         zone,
		PlacementUUID: placementUUID,
		Live:          live,
	})
	return f
}

// AddTablet creates the table on first use and places the tablet on the servers, the first one leads.
func (f *Fixture) AddTablet(tableID metadata.TableID, tabletID metadata.TabletID, servers ...metadata.TabletServerID) *Fixture {
	replicas := make(map[metadata.TabletServerID]metadata.Replica, len(servers))
	var leader metadata.TabletServerID
	for i, serverID := range servers {
		role := metadata.ReplicaRoleFollower
		if i == 0 {
			role = metadata.ReplicaRoleLeader
			leader = serverID
		}
		replicas[serverID] = metadata.Replica{ServerID: serverID, Role: role, State: metadata.ReplicaStateRunning}
	}
	return f.PutTablet(&metadata.Tablet{ID: tabletID, TableID: tableID, Replicas: replicas, Leader: leader})
}

func (f *Fixture) PutTablet(tablet *metadata.Tablet) *Fixture {
	table, ok := f.Tables[tablet.TableID]
	if !ok {
		table = &metadata.Table{ID: tablet.TableID, Name: string(tablet.TableID), State: metadata.TableStateRunning}
		f.Tables[tablet.TableID] = table
	}
	if _, exists := f.Tablets[tablet.ID]; !exists {
		table.TabletIDs = append(table.TabletIDs, tablet.ID)
	}
	f.Tablets[tablet.ID] = tablet
	return f
}

func (f *Fixture) BlacklistServers(servers ...metadata.TabletServerID) *Fixture {
	f.Blacklisted = append(f.Blacklisted, servers...)
	return f
}

func (f *Fixture) Affinitize(zones ...metadata.CloudInfo) *Fixture {
	f.AffinitizedZones = append(f.AffinitizedZones, zones...)
	return f
}

// MarkPending feeds dispatched actions back as in-flight tasks.
func (f *Fixture) MarkPending(actions ...metadata.Action) *Fixture {
	for _, action := range actions {
		f.Pending = append(f.Pending, metadata.PendingAction{TabletID: action.TabletID, Kind: action.Kind, Target: action.Target})
	}
	return f
}

func (f *Fixture) ListReportedServers() []metadata.TabletServerDescriptor {
	return f.Servers
}

func (f *Fixture) ListAffinitizedZones() []metadata.CloudInfo {
	return f.AffinitizedZones
}

func (f *Fixture) TabletMap() map[metadata.TabletID]*metadata.Tablet {
	return f.Tablets
}

func (f *Fixture) TableMap() map[metadata.TableID]*metadata.Table {
	return f.Tables
}

func (f *Fixture) Table(tableID metadata.TableID) (*metadata.Table, bool) {
	table, ok := f.Tables[tableID]
	return table, ok
}

func (f *Fixture) PlacementInfo(domain metadata.ReplicationDomain) (metadata.PlacementInfo, error) {
	return f.Replication.PlacementOf(domain)
}

func (f *Fixture) Blacklist() metadata.Blacklist {
	return metadata.Blacklist{Servers: f.Blacklisted}
}

func (f *Fixture) PendingActions(tableID metadata.TableID) (adds, removes, stepdowns map[metadata.TabletID]metadata.TabletServerID) {
	adds = map[metadata.TabletID]metadata.TabletServerID{}
	removes = map[metadata.TabletID]metadata.TabletServerID{}
	stepdowns = map[metadata.TabletID]metadata.TabletServerID{}
	for _, pending := range f.Pending {
		tablet, ok := f.Tablets[pending.TabletID]
		if !ok || tablet.TableID != tableID {
			continue
		}
		switch pending.Kind {
		case metadata.ActionAdd:
			adds[pending.TabletID] = pending.Target
		case metadata.ActionRemove:
			removes[pending.TabletID] = pending.Target
		case metadata.ActionStepdownLeader:
			stepdowns[pending.TabletID] = pending.Target
		}
	}
	return adds, removes, stepdowns
}

// RecordingDispatcher keeps every applied action in order.
type RecordingDispatcher struct {
	lock    sync.Mutex
	actions []metadata.Action
}

var _ balancer.ActionDispatcher = &RecordingDispatcher{}

func (d *RecordingDispatcher) ApplyAction(_ context.Context, action metadata.Action) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.actions = append(d.actions, action)
}

func (d *RecordingDispatcher) Actions() []metadata.Action {
	d.lock.Lock()
	defer d.lock.Unlock()

	return append([]metadata.Action(nil), d.actions...)
}

func (d *RecordingDispatcher) Reset() {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.actions = nil
}
