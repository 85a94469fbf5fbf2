// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package member

import (
	"context"
	"path"
	"sync/atomic"
	"time"

	"github.com/CeresDB/tabletmeta/pkg/log"
	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/clientv3util"
	"go.uber.org/zap"
)

const leaderKeyName = "leader"

// Member is one metadata master competing for leadership through a leased etcd key.
// Only the leader runs the load balancer.
type Member struct {
	Name       string
	client     *clientv3.Client
	leaderKey  string
	rpcTimeout time.Duration
	leaseTTL   int64

	isLeader atomic.Bool
}

func NewMember(rootPath, name string, client *clientv3.Client, rpcTimeout time.Duration, leaseTTLSec int64) *Member {
	return &Member{
		Name:       name,
		client:     client,
		leaderKey:  path.Join(rootPath, leaderKeyName),
		rpcTimeout: rpcTimeout,
		leaseTTL:   leaseTTLSec,
	}
}

type GetLeaderResp struct {
	// Leader is empty when no member holds the leadership.
	Leader   string
	Revision int64
	IsLocal  bool
}

func (m *Member) GetLeader(ctx context.Context) (GetLeaderResp, error) {
	ctx, cancel := context.WithTimeout(ctx, m.rpcTimeout)
	defer cancel()
	resp, err := m.client.Get(ctx, m.leaderKey)
	if err != nil {
		return GetLeaderResp{}, ErrGetLeader.WithCause(err)
	}
	if len(resp.Kvs) == 0 {
		return GetLeaderResp{Revision: resp.Header.Revision}, nil
	}
	leader := string(resp.Kvs[0].Value)
	return GetLeaderResp{Leader: leader, Revision: resp.Header.Revision, IsLocal: leader == m.Name}, nil
}

func (m *Member) IsLeader() bool {
	return m.isLeader.Load()
}

// ResetLeader deletes the leader key if it is still held by this member.
func (m *Member) ResetLeader(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.rpcTimeout)
	defer cancel()
	_, err := m.client.Txn(ctx).
		If(clientv3.Compare(clientv3.Value(m.leaderKey), "=", m.Name)).
		Then(clientv3.OpDelete(m.leaderKey)).
		Commit()
	if err != nil {
		return ErrResetLeader.WithCause(err)
	}
	m.isLeader.Store(false)
	return nil
}

// WaitForLeaderChange blocks until the leader key observed at the revision is deleted.
func (m *Member) WaitForLeaderChange(ctx context.Context, revision int64) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for resp := range m.client.Watch(watchCtx, m.leaderKey, clientv3.WithRev(revision+1)) {
		if err := resp.Err(); err != nil {
			return errors.WithMessage(err, "watch leader")
		}
		for _, ev := range resp.Events {
			if ev.Type == clientv3.EventTypeDelete {
				log.Info("leader is deleted", zap.String("self", m.Name))
				return nil
			}
		}
	}
	return ctx.Err()
}

// CampaignAndKeepLeader takes the leadership and keeps it until the context is done or the lease is lost.
// onElected runs while this member leads and its context is cancelled when the leadership ends.
func (m *Member) CampaignAndKeepLeader(ctx context.Context, onElected func(ctx context.Context)) error {
	l := newLease(clientv3.NewLease(m.client), m.leaseTTL)
	if err := l.grant(ctx); err != nil {
		return err
	}
	defer func() {
		// Revoke with a fresh context, the given one may already be done.
		if err := l.close(context.Background()); err != nil {
			log.Warn("fail to revoke leader lease", zap.Error(err))
		}
	}()

	txnCtx, cancel := context.WithTimeout(ctx, m.rpcTimeout)
	resp, err := m.client.Txn(txnCtx).
		If(clientv3util.KeyMissing(m.leaderKey)).
		Then(clientv3.OpPut(m.leaderKey, m.Name, clientv3.WithLease(l.ID))).
		Commit()
	cancel()
	if err != nil {
		return ErrCampaignLeader.WithCause(err)
	}
	if !resp.Succeeded {
		return ErrLeaderLost
	}

	log.Info("member becomes leader", zap.String("self", m.Name))
	m.isLeader.Store(true)
	defer m.isLeader.Store(false)

	leaderCtx, cancelLeader := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		onElected(leaderCtx)
	}()

	l.keepAlive(leaderCtx)
	cancelLeader()
	<-done
	log.Info("member steps down", zap.String("self", m.Name), zap.Bool("leaseExpired", l.isExpired()))
	return nil
}
