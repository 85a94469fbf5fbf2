// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package balancer

import (
	"context"

	"github.com/CeresDB/tabletmeta/pkg/assert"
	"github.com/CeresDB/tabletmeta/pkg/log"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// LoadBalancer decides the replica changes of one replication domain per pass.
// Passes must be serialized by the caller, the balancer holds no lock.
type LoadBalancer struct {
	source     DataSource
	dispatcher ActionDispatcher

	options Options
	state   *ClusterState
}

func NewLoadBalancer(source DataSource, dispatcher ActionDispatcher, options Options) (*LoadBalancer, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}

	return &LoadBalancer{
		source:     source,
		dispatcher: dispatcher,
		options:    options,
		state:      NewClusterState(),
	}, nil
}

func (b *LoadBalancer) Options() Options {
	return b.options
}

// SetDomain retargets the following passes to another replication domain.
func (b *LoadBalancer) SetDomain(domain metadata.ReplicationDomain) error {
	options := b.options
	options.Domain = domain
	if err := options.Validate(); err != nil {
		return err
	}
	b.options = options
	return nil
}

// ResetState drops the view of the previous pass. Options are left untouched.
func (b *LoadBalancer) ResetState() {
	b.state = NewClusterState()
}

func (b *LoadBalancer) State() *ClusterState {
	return b.state
}

// PassResult describes the actions dispatched by one pass.
type PassResult struct {
	Domain         metadata.ReplicationDomain
	Actions        []metadata.Action
	TabletsVisited int
	TabletsSkipped int
}

func (r PassResult) Count(kind metadata.ActionKind) int {
	n := 0
	for _, action := range r.Actions {
		if action.Kind == kind {
			n++
		}
	}
	return n
}

func (r PassResult) IsIdle() bool {
	return len(r.Actions) == 0
}

// budget is the number of actions of each kind the pass may still dispatch.
type budget struct {
	adds        int
	removes     int
	leaderMoves int
}

func remaining(limit, pending int) int {
	if pending >= limit {
		return 0
	}
	return limit - pending
}

// RunPass rebuilds the cluster state and dispatches the replica changes of the current domain.
// A missing or malformed placement aborts the pass before anything is dispatched.
func (b *LoadBalancer) RunPass(ctx context.Context) (PassResult, error) {
	b.ResetState()

	domain := b.options.Domain
	result := PassResult{Domain: domain}

	placement, err := b.source.PlacementInfo(domain)
	if err != nil {
		return result, ErrLoadPlacement.WithCause(err)
	}
	if err := placement.Validate(); err != nil {
		return result, errors.WithMessagef(err, "domain:%s", domain)
	}

	b.state.populate(b.source, b.options, placement)

	budget := &budget{
		adds:        remaining(b.options.MaxConcurrentAdds, b.state.NumPending(metadata.ActionAdd)),
		removes:     remaining(b.options.MaxConcurrentRemovals, b.state.NumPending(metadata.ActionRemove)),
		leaderMoves: remaining(b.options.MaxConcurrentLeaderMoves, b.state.NumPending(metadata.ActionStepdownLeader)),
	}

	for _, tableID := range b.state.sortedTableIDs() {
		table := b.state.tables[tableID]
		if table.IsDeleted() {
			continue
		}
		for _, tabletID := range table.TabletIDs {
			tablet, ok := b.state.tablets[tabletID]
			if !ok {
				log.Warn("tablet of table not found, skip it", zap.String("table", string(tableID)), zap.String("tablet", string(tabletID)))
				result.TabletsSkipped++
				continue
			}
			if !b.ownerRunning(tableID, tablet) {
				log.Warn("tablet owned by a missing or deleted table, skip it", zap.String("table", string(tablet.TableID)), zap.String("tablet", string(tabletID)))
				result.TabletsSkipped++
				continue
			}
			result.TabletsVisited++
			b.balanceTablet(ctx, tableID, tablet, budget, &result)
		}
	}

	log.Info("load balancer pass finished",
		zap.String("domain", domain.String()),
		zap.Int("tablets", result.TabletsVisited),
		zap.Int("adds", result.Count(metadata.ActionAdd)),
		zap.Int("removes", result.Count(metadata.ActionRemove)),
		zap.Int("stepdowns", result.Count(metadata.ActionStepdownLeader)),
		zap.Int("remainingAdds", budget.adds),
		zap.Int("remainingRemoves", budget.removes))

	return result, nil
}

// ownerRunning reports whether the table the tablet records as its owner is still running.
// A tablet listed by a table is normally owned by it, otherwise the owner is looked up.
func (b *LoadBalancer) ownerRunning(listedBy metadata.TableID, tablet *metadata.Tablet) bool {
	if tablet.TableID == "" || tablet.TableID == listedBy {
		return true
	}
	owner, ok := b.source.Table(tablet.TableID)
	return ok && !owner.IsDeleted()
}

func (b *LoadBalancer) balanceTablet(ctx context.Context, tableID metadata.TableID, tablet *metadata.Tablet, budget *budget, result *PassResult) {
	assert.Assertf(budget.adds >= 0 && budget.removes >= 0 && budget.leaderMoves >= 0,
		"negative budget, adds:%d, removes:%d, leaderMoves:%d", budget.adds, budget.removes, budget.leaderMoves)

	view := b.state.analyze(tablet)
	emitted := false

	if budget.adds > 0 && !b.state.hasPending(metadata.ActionAdd, tablet.ID) {
		if target, ok := b.planAdd(view); ok {
			b.dispatch(ctx, result, metadata.Action{TableID: tableID, TabletID: tablet.ID, Kind: metadata.ActionAdd, Target: target})
			b.state.load[target]++
			budget.adds--
			emitted = true
		}
	}

	if budget.removes > 0 && !b.state.hasPending(metadata.ActionRemove, tablet.ID) {
		if target, ok := b.planRemove(view, emitted); ok {
			action := metadata.Action{TableID: tableID, TabletID: tablet.ID, Kind: metadata.ActionRemove, Target: target}
			if target == tablet.Leader {
				action.NewLeader, _ = b.pickLeader(view, target, false)
			}
			b.dispatch(ctx, result, action)
			if b.state.load[target] > 0 {
				b.state.load[target]--
			}
			budget.removes--
			emitted = true
		}
	}

	if emitted || budget.leaderMoves == 0 {
		return
	}
	if b.state.hasPending(metadata.ActionAdd, tablet.ID) ||
		b.state.hasPending(metadata.ActionRemove, tablet.ID) ||
		b.state.hasPending(metadata.ActionStepdownLeader, tablet.ID) {
		return
	}
	if newLeader, ok := b.planStepdown(view); ok {
		b.dispatch(ctx, result, metadata.Action{TableID: tableID, TabletID: tablet.ID, Kind: metadata.ActionStepdownLeader, Target: tablet.Leader, NewLeader: newLeader})
		b.state.leaderLoad[tablet.Leader]--
		b.state.leaderLoad[newLeader]++
		budget.leaderMoves--
	}
}

func (b *LoadBalancer) dispatch(ctx context.Context, result *PassResult, action metadata.Action) {
	log.Debug("dispatch replica change", zap.String("domain", b.options.Domain.String()), zap.String("action", action.String()))
	b.dispatcher.ApplyAction(ctx, action)
	result.Actions = append(result.Actions, action)
}

// tabletView is the placement of one tablet within the balanced domain.
type tabletView struct {
	tablet *metadata.Tablet
	// All the slices are ordered by server id.
	replicas      []metadata.TabletServerID
	healthy       []metadata.TabletServerID
	blacklisted   []metadata.TabletServerID
	nonLive       []metadata.TabletServerID
	healthyByZone map[metadata.CloudInfo]int
}

func (s *ClusterState) analyze(tablet *metadata.Tablet) tabletView {
	view := tabletView{
		tablet:        tablet,
		healthyByZone: map[metadata.CloudInfo]int{},
	}
	for _, serverID := range tablet.ReplicaIDs() {
		if !s.inDomain(serverID, tablet.Replicas[serverID]) {
			continue
		}
		view.replicas = append(view.replicas, serverID)
		switch {
		case s.isBlacklisted(serverID):
			view.blacklisted = append(view.blacklisted, serverID)
		case !s.isLive(serverID):
			view.nonLive = append(view.nonLive, serverID)
		default:
			view.healthy = append(view.healthy, serverID)
			zone, _ := s.zoneOf(serverID)
			view.healthyByZone[zone]++
		}
	}
	return view
}

// deficientZones returns the placement zones holding fewer healthy replicas than their minimum, in declaration order.
func (b *LoadBalancer) deficientZones(view tabletView) []metadata.CloudInfo {
	var zones []metadata.CloudInfo
	for _, block := range b.state.placement.Blocks {
		if view.healthyByZone[block.Cloud] < block.MinNumReplicas {
			zones = append(zones, block.Cloud)
		}
	}
	return zones
}

func (b *LoadBalancer) planAdd(view tabletView) (metadata.TabletServerID, bool) {
	placement := b.state.placement
	deficient := b.deficientZones(view)
	underReplicated := len(view.healthy) < placement.NumReplicas
	if !underReplicated && len(deficient) == 0 {
		return "", false
	}
	if b.options.AllowLimitOverReplicatedTablets && len(view.healthy) >= placement.NumReplicas {
		return "", false
	}

	for _, zone := range deficient {
		zone := zone
		if target, ok := b.pickAddTarget(view, func(c metadata.CloudInfo) bool { return c == zone }); ok {
			return target, true
		}
	}
	if !underReplicated {
		return "", false
	}

	return b.pickAddTarget(view, func(c metadata.CloudInfo) bool {
		if len(placement.Blocks) == 0 {
			return true
		}
		_, ok := placement.Block(c)
		return ok
	})
}

// pickAddTarget prefers the zone holding the fewest replicas of the tablet, then the least loaded server.
// Ties are broken by server id.
func (b *LoadBalancer) pickAddTarget(view tabletView, zoneAllowed func(metadata.CloudInfo) bool) (metadata.TabletServerID, bool) {
	var (
		best     metadata.TabletServerID
		bestZone int
		bestLoad int
		found    bool
	)
	for _, serverID := range b.state.sortedServers() {
		if !b.state.canHost(serverID) || view.tablet.HasReplicaOn(serverID) {
			continue
		}
		zone, _ := b.state.zoneOf(serverID)
		if !zoneAllowed(zone) {
			continue
		}
		zoneCount := view.healthyByZone[zone]
		load := b.state.load[serverID]
		if !found || zoneCount < bestZone || (zoneCount == bestZone && load < bestLoad) {
			best, bestZone, bestLoad, found = serverID, zoneCount, load, true
		}
	}
	return best, found
}

// planRemove picks the replica to drop. adding tells whether an Add was emitted for the tablet in this pass.
func (b *LoadBalancer) planRemove(view tabletView, adding bool) (metadata.TabletServerID, bool) {
	numReplicas := b.state.placement.NumReplicas
	incoming := 0
	if adding || b.state.hasPending(metadata.ActionAdd, view.tablet.ID) {
		incoming = 1
	}

	if len(view.blacklisted) > 0 {
		target := view.blacklisted[0]
		return target, b.canShed(view, target, incoming)
	}

	if !b.options.AllowLimitOverReplicatedTablets || len(view.replicas)+incoming <= numReplicas {
		return "", false
	}
	if len(view.nonLive) > 0 {
		target := view.nonLive[0]
		return target, b.canShed(view, target, incoming)
	}
	if len(view.healthy) <= numReplicas {
		return "", false
	}

	var (
		best     metadata.TabletServerID
		bestLoad int
		found    bool
	)
	for _, serverID := range view.healthy {
		if serverID == view.tablet.Leader {
			continue
		}
		zone, _ := b.state.zoneOf(serverID)
		if block, ok := b.state.placement.Block(zone); ok && view.healthyByZone[zone]-1 < block.MinNumReplicas {
			continue
		}
		load := b.state.load[serverID]
		if !found || load > bestLoad {
			best, bestLoad, found = serverID, load, true
		}
	}
	return best, found
}

// canShed reports whether an unhealthy replica may be dropped. The healthy replicas, with the incoming add,
// must reach the replication factor or at least hold a majority of it, and a leader needs a successor.
func (b *LoadBalancer) canShed(view tabletView, target metadata.TabletServerID, incoming int) bool {
	numReplicas := b.state.placement.NumReplicas
	if len(view.healthy)+incoming < numReplicas && len(view.healthy) < numReplicas/2+1 {
		return false
	}
	if target == view.tablet.Leader {
		_, ok := b.pickLeader(view, target, false)
		return ok
	}
	return true
}

func (b *LoadBalancer) planStepdown(view tabletView) (metadata.TabletServerID, bool) {
	leader := view.tablet.Leader
	if !b.options.Domain.IsLive() || leader == "" || b.state.affinitizedZones.Empty() {
		return "", false
	}
	if _, ok := b.state.zoneOf(leader); !ok || b.state.isAffinitized(leader) {
		return "", false
	}
	return b.pickLeader(view, leader, true)
}

// pickLeader chooses the successor of the current leader among the healthy replicas.
// Affinitized replicas are preferred, then the server leading the fewest tablets, then the smallest id.
func (b *LoadBalancer) pickLeader(view tabletView, exclude metadata.TabletServerID, affinitizedOnly bool) (metadata.TabletServerID, bool) {
	var (
		best           metadata.TabletServerID
		bestAffinity   bool
		bestLeaderLoad int
		found          bool
	)
	for _, serverID := range view.healthy {
		if serverID == exclude {
			continue
		}
		affinitized := b.state.isAffinitized(serverID)
		if affinitizedOnly && !affinitized {
			continue
		}
		leaderLoad := b.state.leaderLoad[serverID]
		better := !found ||
			(affinitized && !bestAffinity) ||
			(affinitized == bestAffinity && leaderLoad < bestLeaderLoad)
		if better {
			best, bestAffinity, bestLeaderLoad, found = serverID, affinitized, leaderLoad, true
		}
	}
	return best, found
}
