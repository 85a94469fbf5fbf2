// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package coordinator

import (
	"github.com/CeresDB/tabletmeta/server/cluster"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/CeresDB/tabletmeta/server/coordinator/balancer"
	"github.com/CeresDB/tabletmeta/server/coordinator/task"
)

// CatalogDataSource feeds the load balancer from the catalog, the tablet server registry and the in-flight tasks.
type CatalogDataSource struct {
	catalog   *cluster.Catalog
	tsManager *cluster.TSManager
	tracker   *task.Tracker
}

var _ balancer.DataSource = &CatalogDataSource{}

func NewCatalogDataSource(catalog *cluster.Catalog, tsManager *cluster.TSManager, tracker *task.Tracker) *CatalogDataSource {
	return &CatalogDataSource{
		catalog:   catalog,
		tsManager: tsManager,
		tracker:   tracker,
	}
}

func (s *CatalogDataSource) ListReportedServers() []metadata.TabletServerDescriptor {
	return s.tsManager.GetAllReportedDescriptors()
}

func (s *CatalogDataSource) ListAffinitizedZones() []metadata.CloudInfo {
	return s.catalog.AffinitizedZones()
}

func (s *CatalogDataSource) TabletMap() map[metadata.TabletID]*metadata.Tablet {
	return s.catalog.TabletMap()
}

func (s *CatalogDataSource) TableMap() map[metadata.TableID]*metadata.Table {
	return s.catalog.TableMap()
}

func (s *CatalogDataSource) Table(tableID metadata.TableID) (*metadata.Table, bool) {
	return s.catalog.Table(tableID)
}

func (s *CatalogDataSource) PlacementInfo(domain metadata.ReplicationDomain) (metadata.PlacementInfo, error) {
	return s.catalog.ReplicationInfo().PlacementOf(domain)
}

func (s *CatalogDataSource) Blacklist() metadata.Blacklist {
	return s.catalog.Blacklist()
}

func (s *CatalogDataSource) PendingActions(tableID metadata.TableID) (adds, removes, stepdowns map[metadata.TabletID]metadata.TabletServerID) {
	return s.tracker.PendingActions(tableID)
}
