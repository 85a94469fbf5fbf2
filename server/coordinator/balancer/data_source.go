// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package balancer

import (
	"context"

	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
)

// DataSource supplies the cluster view a balancing pass works on.
// The returned collections are treated as read-only snapshots.
type DataSource interface {
	// ListReportedServers returns the servers that have reported to the master.
	ListReportedServers() []metadata.TabletServerDescriptor
	ListAffinitizedZones() []metadata.CloudInfo
	TabletMap() map[metadata.TabletID]*metadata.Tablet
	TableMap() map[metadata.TableID]*metadata.Table
	Table(tableID metadata.TableID) (*metadata.Table, bool)
	// PlacementInfo fails when the domain has no matching placement policy.
	PlacementInfo(domain metadata.ReplicationDomain) (metadata.PlacementInfo, error)
	Blacklist() metadata.Blacklist
	// PendingActions returns tablet -> target server of the in-flight add, remove and stepdown tasks of the table.
	PendingActions(tableID metadata.TableID) (adds, removes, stepdowns map[metadata.TabletID]metadata.TabletServerID)
}

// ActionDispatcher hands actions to the task subsystem, it gives no feedback within a pass.
type ActionDispatcher interface {
	ApplyAction(ctx context.Context, action metadata.Action)
}
