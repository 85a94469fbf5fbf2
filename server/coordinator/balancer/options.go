// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package balancer

import (
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/pkg/errors"
)

const (
	defaultMaxConcurrentAdds        = 1
	defaultMaxConcurrentRemovals    = 1
	defaultMaxConcurrentLeaderMoves = 2
)

// Options configures the load balancer for its whole lifetime.
// Only the Domain is expected to change between passes, through LoadBalancer.SetDomain.
type Options struct {
	MaxConcurrentAdds        int
	MaxConcurrentRemovals    int
	MaxConcurrentLeaderMoves int

	// AllowLimitStartingTablets makes replicas still starting count in the server load.
	AllowLimitStartingTablets bool
	// AllowLimitOverReplicatedTablets enforces the replication factor as an upper bound:
	// no add on a tablet already at its replication factor, removal of surplus replicas.
	AllowLimitOverReplicatedTablets bool

	Domain metadata.ReplicationDomain
}

func DefaultOptions() Options {
	return Options{
		MaxConcurrentAdds:               defaultMaxConcurrentAdds,
		MaxConcurrentRemovals:           defaultMaxConcurrentRemovals,
		MaxConcurrentLeaderMoves:        defaultMaxConcurrentLeaderMoves,
		AllowLimitStartingTablets:       true,
		AllowLimitOverReplicatedTablets: true,
		Domain:                          metadata.LiveDomain(),
	}
}

func (o Options) Validate() error {
	if o.MaxConcurrentAdds < 0 {
		return errors.WithMessagef(ErrInvalidOptions, "maxConcurrentAdds:%d is negative", o.MaxConcurrentAdds)
	}
	if o.MaxConcurrentRemovals < 0 {
		return errors.WithMessagef(ErrInvalidOptions, "maxConcurrentRemovals:%d is negative", o.MaxConcurrentRemovals)
	}
	if o.MaxConcurrentLeaderMoves < 0 {
		return errors.WithMessagef(ErrInvalidOptions, "maxConcurrentLeaderMoves:%d is negative", o.MaxConcurrentLeaderMoves)
	}
	if o.Domain.Type == metadata.ReplicaTypeReadReplica && o.Domain.PlacementUUID == "" {
		return errors.WithMessage(ErrInvalidOptions, "read replica domain requires a placement uuid")
	}
	return nil
}
