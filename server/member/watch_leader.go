// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package member

import (
	"context"
	"time"

	"github.com/CeresDB/tabletmeta/pkg/log"
	"go.uber.org/zap"
)

const (
	WatchLeaderFailInterval = time.Duration(200) * time.Millisecond

	waitReasonFailEtcd    = "fail to access etcd"
	waitReasonElectLeader = "leader is electing"
	waitReasonNoWait      = ""
)

// LeaderWatcher keeps the member in the election until the context is done.
type LeaderWatcher struct {
	self      *Member
	onElected func(ctx context.Context)
}

func NewLeaderWatcher(self *Member, onElected func(ctx context.Context)) *LeaderWatcher {
	return &LeaderWatcher{
		self:      self,
		onElected: onElected,
	}
}

func (l *LeaderWatcher) Watch(ctx context.Context) error {
	wait := waitReasonNoWait
	logger := log.With(zap.String("self", l.self.Name))

	for {
		if ctx.Err() != nil {
			logger.Info("stop watching leader")
			return nil
		}

		if wait != waitReasonNoWait {
			logger.Warn("sleep a while during watch", zap.String("waitReason", wait))
			select {
			case <-ctx.Done():
				continue
			case <-time.After(WatchLeaderFailInterval):
			}
			wait = waitReasonNoWait
		}

		leaderResp, err := l.self.GetLeader(ctx)
		if err != nil {
			logger.Error("fail to get leader", zap.Error(err))
			wait = waitReasonFailEtcd
			continue
		}

		switch {
		case leaderResp.Leader == "":
			if err := l.self.CampaignAndKeepLeader(ctx, l.onElected); err != nil {
				logger.Warn("fail to campaign leader", zap.Error(err))
				wait = waitReasonElectLeader
			}
		case leaderResp.IsLocal:
			// Left over by a previous run of this member, its lease is gone with the process.
			if err := l.self.ResetLeader(ctx); err != nil {
				logger.Error("fail to reset leader", zap.Error(err))
				wait = waitReasonFailEtcd
			}
		default:
			if err := l.self.WaitForLeaderChange(ctx, leaderResp.Revision); err != nil && ctx.Err() == nil {
				logger.Error("fail to wait for leader change", zap.Error(err))
				wait = waitReasonFailEtcd
			}
		}
	}
}
