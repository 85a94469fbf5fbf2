// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package balancer

import (
	"sort"

	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/emirpasic/gods/sets/hashset"
	"github.com/emirpasic/gods/sets/linkedhashset"
)

// ClusterState is the view of the cluster for exactly one pass.
type ClusterState struct {
	// servers holds the reported server ids ordered by id.
	servers          *linkedhashset.Set
	serverByID       map[metadata.TabletServerID]metadata.TabletServerDescriptor
	affinitizedZones *hashset.Set
	blacklist        *hashset.Set

	tablets   map[metadata.TabletID]*metadata.Tablet
	tables    map[metadata.TableID]*metadata.Table
	placement metadata.PlacementInfo
	domain    metadata.ReplicationDomain

	pendingAdds      map[metadata.TabletID]metadata.TabletServerID
	pendingRemoves   map[metadata.TabletID]metadata.TabletServerID
	pendingStepdowns map[metadata.TabletID]metadata.TabletServerID

	// load is the number of replicas of the domain hosted by each server.
	load       map[metadata.TabletServerID]int
	leaderLoad map[metadata.TabletServerID]int
}

func NewClusterState() *ClusterState {
	return &ClusterState{
		servers:          linkedhashset.New(),
		serverByID:       map[metadata.TabletServerID]metadata.TabletServerDescriptor{},
		affinitizedZones: hashset.New(),
		blacklist:        hashset.New(),
		tablets:          map[metadata.TabletID]*metadata.Tablet{},
		tables:           map[metadata.TableID]*metadata.Table{},
		pendingAdds:      map[metadata.TabletID]metadata.TabletServerID{},
		pendingRemoves:   map[metadata.TabletID]metadata.TabletServerID{},
		pendingStepdowns: map[metadata.TabletID]metadata.TabletServerID{},
		load:             map[metadata.TabletServerID]int{},
		leaderLoad:       map[metadata.TabletServerID]int{},
	}
}

func (s *ClusterState) populate(source DataSource, options Options, placement metadata.PlacementInfo) {
	s.domain = options.Domain
	s.placement = placement

	descs := append([]metadata.TabletServerDescriptor(nil), source.ListReportedServers()...)
	metadata.SortDescriptors(descs)
	for _, desc := range descs {
		s.servers.Add(desc.ID)
		s.serverByID[desc.ID] = desc
	}
	for _, zone := range source.ListAffinitizedZones() {
		s.affinitizedZones.Add(zone)
	}
	for _, serverID := range source.Blacklist().Servers {
		s.blacklist.Add(serverID)
	}

	for id, tablet := range source.TabletMap() {
		s.tablets[id] = tablet
	}
	for id, table := range source.TableMap() {
		s.tables[id] = table
		adds, removes, stepdowns := source.PendingActions(id)
		mergePending(s.pendingAdds, adds)
		mergePending(s.pendingRemoves, removes)
		mergePending(s.pendingStepdowns, stepdowns)
	}

	for _, tablet := range s.tablets {
		for serverID, replica := range tablet.Replicas {
			if !s.inDomain(serverID, replica) {
				continue
			}
			if replica.State == metadata.ReplicaStateStarting && !options.AllowLimitStartingTablets {
				continue
			}
			s.load[serverID]++
		}
		if tablet.Leader != "" {
			s.leaderLoad[tablet.Leader]++
		}
	}
}

func mergePending(dst, src map[metadata.TabletID]metadata.TabletServerID) {
	for tabletID, target := range src {
		dst[tabletID] = target
	}
}

// inDomain reports whether the replica belongs to the replication domain being balanced.
// Replicas on unreported servers are attributed to the live domain unless they are observers.
func (s *ClusterState) inDomain(serverID metadata.TabletServerID, replica metadata.Replica) bool {
	desc, ok := s.serverByID[serverID]
	if !ok {
		return s.domain.IsLive() && replica.Role != metadata.ReplicaRoleObserver
	}
	return desc.PlacementUUID == s.placement.PlacementUUID
}

func (s *ClusterState) isBlacklisted(serverID metadata.TabletServerID) bool {
	return s.blacklist.Contains(serverID)
}

func (s *ClusterState) isLive(serverID metadata.TabletServerID) bool {
	desc, ok := s.serverByID[serverID]
	return ok && desc.IsLive()
}

func (s *ClusterState) isAffinitized(serverID metadata.TabletServerID) bool {
	desc, ok := s.serverByID[serverID]
	return ok && s.affinitizedZones.Contains(desc.Cloud)
}

func (s *ClusterState) zoneOf(serverID metadata.TabletServerID) (metadata.CloudInfo, bool) {
	desc, ok := s.serverByID[serverID]
	return desc.Cloud, ok
}

// canHost reports whether the server may receive a new replica of the domain.
func (s *ClusterState) canHost(serverID metadata.TabletServerID) bool {
	desc, ok := s.serverByID[serverID]
	if !ok || !desc.IsLive() || s.isBlacklisted(serverID) {
		return false
	}
	return desc.PlacementUUID == s.placement.PlacementUUID
}

// sortedServers returns the reported server ids in ascending order.
func (s *ClusterState) sortedServers() []metadata.TabletServerID {
	ids := make([]metadata.TabletServerID, 0, s.servers.Size())
	s.servers.Each(func(_ int, value interface{}) {
		ids = append(ids, value.(metadata.TabletServerID))
	})
	return ids
}

func (s *ClusterState) sortedTableIDs() []metadata.TableID {
	ids := make([]metadata.TableID, 0, len(s.tables))
	for id := range s.tables {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	return ids
}

func (s *ClusterState) hasPending(kind metadata.ActionKind, tabletID metadata.TabletID) bool {
	var ok bool
	switch kind {
	case metadata.ActionAdd:
		_, ok = s.pendingAdds[tabletID]
	case metadata.ActionRemove:
		_, ok = s.pendingRemoves[tabletID]
	case metadata.ActionStepdownLeader:
		_, ok = s.pendingStepdowns[tabletID]
	}
	return ok
}

func (s *ClusterState) NumServers() int {
	return s.servers.Size()
}

func (s *ClusterState) NumTablets() int {
	return len(s.tablets)
}

func (s *ClusterState) NumTables() int {
	return len(s.tables)
}

func (s *ClusterState) NumPending(kind metadata.ActionKind) int {
	switch kind {
	case metadata.ActionAdd:
		return len(s.pendingAdds)
	case metadata.ActionRemove:
		return len(s.pendingRemoves)
	case metadata.ActionStepdownLeader:
		return len(s.pendingStepdowns)
	}
	return 0
}

// Load returns the number of domain replicas the server hosts, as counted for target selection.
func (s *ClusterState) Load(serverID metadata.TabletServerID) int {
	return s.load[serverID]
}

// IsEmpty reports whether the state holds no topology, policy or task data.
func (s *ClusterState) IsEmpty() bool {
	return s.servers.Empty() &&
		s.affinitizedZones.Empty() &&
		s.blacklist.Empty() &&
		len(s.tablets) == 0 &&
		len(s.tables) == 0 &&
		len(s.pendingAdds) == 0 &&
		len(s.pendingRemoves) == 0 &&
		len(s.pendingStepdowns) == 0 &&
		len(s.load) == 0 &&
		len(s.leaderLoad) == 0
}
