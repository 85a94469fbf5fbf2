// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package dispatch

import (
	"context"

	"github.com/CeresDB/tabletmeta/pkg/log"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"go.uber.org/zap"
)

// ReplicaChanger sends replica changes to the tablet servers.
type ReplicaChanger interface {
	// AddServer adds a replica of the tablet on the target server.
	AddServer(ctx context.Context, tabletID metadata.TabletID, target metadata.TabletServerID) error
	// RemoveServer removes the replica on the target server. A non-empty newLeader takes over first when the target leads.
	RemoveServer(ctx context.Context, tabletID metadata.TabletID, target, newLeader metadata.TabletServerID) error
	StepDown(ctx context.Context, tabletID metadata.TabletID, leader, newLeader metadata.TabletServerID) error
}

// Apply routes the action to the matching call of the changer.
func Apply(ctx context.Context, changer ReplicaChanger, action metadata.Action) error {
	switch action.Kind {
	case metadata.ActionAdd:
		return changer.AddServer(ctx, action.TabletID, action.Target)
	case metadata.ActionRemove:
		return changer.RemoveServer(ctx, action.TabletID, action.Target, action.NewLeader)
	case metadata.ActionStepdownLeader:
		return changer.StepDown(ctx, action.TabletID, action.Target, action.NewLeader)
	}
	return ErrUnknownAction.WithCausef("action:%s", action)
}

// DryRunChanger only logs the changes it receives.
type DryRunChanger struct{}

func (DryRunChanger) AddServer(_ context.Context, tabletID metadata.TabletID, target metadata.TabletServerID) error {
	log.Info("dry run add server", zap.String("tablet", string(tabletID)), zap.String("target", string(target)))
	return nil
}

func (DryRunChanger) RemoveServer(_ context.Context, tabletID metadata.TabletID, target, newLeader metadata.TabletServerID) error {
	log.Info("dry run remove server", zap.String("tablet", string(tabletID)), zap.String("target", string(target)),
		zap.String("newLeader", string(newLeader)))
	return nil
}

func (DryRunChanger) StepDown(_ context.Context, tabletID metadata.TabletID, leader, newLeader metadata.TabletServerID) error {
	log.Info("dry run leader stepdown", zap.String("tablet", string(tabletID)), zap.String("leader", string(leader)),
		zap.String("newLeader", string(newLeader)))
	return nil
}
