// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package metadata

import (
	"fmt"

	"github.com/pkg/errors"
)

type PlacementBlock struct {
	Cloud          CloudInfo `json:"cloud"`
	MinNumReplicas int       `json:"minNumReplicas"`
}

// PlacementInfo describes the desired replica distribution of one replication domain.
type PlacementInfo struct {
	NumReplicas   int              `json:"numReplicas"`
	PlacementUUID string           `json:"placementUUID"`
	Blocks        []PlacementBlock `json:"blocks"`
}

// Validate checks that the placement can be satisfied by construction.
func (p PlacementInfo) Validate() error {
	if p.NumReplicas <= 0 {
		return errors.WithMessagef(ErrInvalidPlacement, "numReplicas:%d must be positive", p.NumReplicas)
	}

	minSum := 0
	seen := make(map[CloudInfo]struct{}, len(p.Blocks))
	for _, block := range p.Blocks {
		if block.Cloud.Zone == "" {
			return errors.WithMessagef(ErrInvalidPlacement, "placement block without zone, cloud:%s", block.Cloud.Key())
		}
		if block.MinNumReplicas < 0 {
			return errors.WithMessagef(ErrInvalidPlacement, "zone:%s minNumReplicas:%d is negative", block.Cloud.Key(), block.MinNumReplicas)
		}
		if _, ok := seen[block.Cloud]; ok {
			return errors.WithMessagef(ErrInvalidPlacement, "duplicated placement block, zone:%s", block.Cloud.Key())
		}
		seen[block.Cloud] = struct{}{}
		minSum += block.MinNumReplicas
	}
	if minSum > p.NumReplicas {
		return errors.WithMessagef(ErrInvalidPlacement, "sum of block minimums:%d exceeds numReplicas:%d", minSum, p.NumReplicas)
	}
	return nil
}

// Block returns the placement block of the zone.
func (p PlacementInfo) Block(cloud CloudInfo) (PlacementBlock, bool) {
	for _, block := range p.Blocks {
		if block.Cloud == cloud {
			return block, true
		}
	}
	return PlacementBlock{}, false
}

// ReplicationInfo holds the placement of the live replicas and of every read replica set.
type ReplicationInfo struct {
	Live         PlacementInfo   `json:"live"`
	ReadReplicas []PlacementInfo `json:"readReplicas"`
}

// PlacementOf selects the placement policy of the domain.
func (r ReplicationInfo) PlacementOf(domain ReplicationDomain) (PlacementInfo, error) {
	if domain.Type == ReplicaTypeLive {
		return r.Live, nil
	}
	for _, placement := range r.ReadReplicas {
		if placement.PlacementUUID == domain.PlacementUUID {
			return placement, nil
		}
	}
	return PlacementInfo{}, errors.WithMessagef(ErrPlacementNotFound, "domain:%s", domain)
}

type ReplicaType int

const (
	ReplicaTypeLive ReplicaType = iota
	ReplicaTypeReadReplica
)

// ReplicationDomain is an independent balancing target: the live replicas or one read replica set.
type ReplicationDomain struct {
	Type          ReplicaType
	PlacementUUID string
}

func LiveDomain() ReplicationDomain {
	return ReplicationDomain{Type: ReplicaTypeLive}
}

func ReadReplicaDomain(placementUUID string) ReplicationDomain {
	return ReplicationDomain{Type: ReplicaTypeReadReplica, PlacementUUID: placementUUID}
}

func (d ReplicationDomain) IsLive() bool {
	return d.Type == ReplicaTypeLive
}

func (d ReplicationDomain) String() string {
	if d.IsLive() {
		return "live"
	}
	return fmt.Sprintf("read_replica(%s)", d.PlacementUUID)
}
