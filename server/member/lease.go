// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package member

import (
	"context"
	"sync"
	"time"

	"github.com/CeresDB/tabletmeta/pkg/log"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// lease wraps an etcd lease binding the leader key to the liveness of this member.
type lease struct {
	rawLease clientv3.Lease
	timeout  time.Duration
	ttlSec   int64
	logger   *zap.Logger

	// ID is set by grant.
	ID clientv3.LeaseID

	expireTimeL sync.RWMutex
	expireTime  time.Time
}

func newLease(rawLease clientv3.Lease, ttlSec int64) *lease {
	return &lease{
		rawLease: rawLease,
		timeout:  time.Duration(ttlSec) * time.Second,
		ttlSec:   ttlSec,
		logger:   log.GetLogger(),
	}
}

func (l *lease) grant(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	resp, err := l.rawLease.Grant(ctx, l.ttlSec)
	if err != nil {
		return ErrGrantLease.WithCause(err)
	}

	l.ID = resp.ID
	l.logger = log.With(zap.Int64("leaseID", int64(resp.ID)))
	expireAt := time.Now().Add(time.Duration(resp.TTL) * time.Second)
	l.setExpireTime(expireAt)
	l.logger.Debug("lease is granted", zap.Time("expireAt", expireAt))
	return nil
}

// close revokes the lease so the keys attached to it are deleted at once.
func (l *lease) close(ctx context.Context) error {
	l.setExpireTime(time.Time{})
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	if _, err := l.rawLease.Revoke(ctx, l.ID); err != nil {
		return ErrRevokeLease.WithCause(err)
	}
	return nil
}

// keepAlive renews the lease until the context is done or a renewal is missed for a whole ttl.
func (l *lease) keepAlive(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	expireCh := l.keepAliveBg(ctx, l.timeout/3)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()
	for {
		select {
		case expireAt := <-expireCh:
			if expireAt.After(l.getExpireTime()) {
				l.setExpireTime(expireAt)
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(time.Until(expireAt))
		case <-timer.C:
			l.logger.Warn("lease expired")
			return
		case <-ctx.Done():
			l.logger.Info("stop keeping lease alive")
			return
		}
	}
}

func (l *lease) isExpired() bool {
	return time.Now().After(l.getExpireTime())
}

func (l *lease) setExpireTime(expireAt time.Time) {
	l.expireTimeL.Lock()
	defer l.expireTimeL.Unlock()

	l.expireTime = expireAt
}

func (l *lease) getExpireTime() time.Time {
	l.expireTimeL.RLock()
	defer l.expireTimeL.RUnlock()

	return l.expireTime
}

// keepAliveBg renews the lease every interval and posts the new expire time.
func (l *lease) keepAliveBg(ctx context.Context, interval time.Duration) <-chan time.Time {
	ch := make(chan time.Time)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			go func() {
				start := time.Now()
				ctx1, cancel := context.WithTimeout(ctx, l.timeout)
				defer cancel()
				resp, err := l.rawLease.KeepAliveOnce(ctx1, l.ID)
				if err != nil {
					l.logger.Warn("lease keep alive failed", zap.Error(err))
					return
				}
				if resp.TTL > 0 {
					select {
					case ch <- start.Add(time.Duration(resp.TTL) * time.Second):
					case <-ctx1.Done():
					}
				}
			}()

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return ch
}
