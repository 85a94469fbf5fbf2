// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/CeresDB/tabletmeta/pkg/coderr"
	"github.com/CeresDB/tabletmeta/pkg/log"
	"github.com/CeresDB/tabletmeta/server/cluster"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/CeresDB/tabletmeta/server/coordinator/balancer"
	"github.com/CeresDB/tabletmeta/server/coordinator/task"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// BalanceScheduler runs the load balancer over the live domain and every read replica domain in turn.
type BalanceScheduler struct {
	// passLock serializes the rounds, the load balancer is not safe for concurrent passes.
	passLock sync.Mutex
	balancer *balancer.LoadBalancer
	catalog  *cluster.Catalog
	tracker  *task.Tracker
	interval time.Duration
	metrics  *schedulerMetrics

	// This lock is used to protect the field `running`.
	lock    sync.RWMutex
	running bool
}

func NewBalanceScheduler(lb *balancer.LoadBalancer, catalog *cluster.Catalog, tracker *task.Tracker, interval time.Duration, reg prometheus.Registerer) *BalanceScheduler {
	return &BalanceScheduler{
		balancer: lb,
		catalog:  catalog,
		tracker:  tracker,
		interval: interval,
		metrics:  newSchedulerMetrics(reg),
	}
}

// domains lists the live domain first, then the read replica domains in their configured order.
func (s *BalanceScheduler) domains() []metadata.ReplicationDomain {
	readReplicas := s.catalog.ReplicationInfo().ReadReplicas
	domains := make([]metadata.ReplicationDomain, 0, len(readReplicas)+1)
	domains = append(domains, metadata.LiveDomain())
	for _, placement := range readReplicas {
		domains = append(domains, metadata.ReadReplicaDomain(placement.PlacementUUID))
	}
	return domains
}

// RunOnce runs one pass per replication domain.
// A configuration error of a domain is logged and the remaining domains still run.
func (s *BalanceScheduler) RunOnce(ctx context.Context) ([]balancer.PassResult, error) {
	s.passLock.Lock()
	defer s.passLock.Unlock()

	var lastErr error
	results := make([]balancer.PassResult, 0)
	for _, domain := range s.domains() {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		label := domain.String()
		if err := s.balancer.SetDomain(domain); err != nil {
			log.Error("fail to retarget load balancer", zap.String("domain", label), zap.Error(err))
			s.metrics.passes.WithLabelValues(label, passResultError).Inc()
			lastErr = err
			continue
		}

		result, err := s.balancer.RunPass(ctx)
		if err != nil {
			s.metrics.passes.WithLabelValues(label, passResultError).Inc()
			if coderr.Is(err, coderr.Configuration) {
				log.Warn("skip domain with invalid placement", zap.String("domain", label), zap.Error(err))
				continue
			}
			log.Error("load balancer pass failed", zap.String("domain", label), zap.Error(err))
			lastErr = err
			continue
		}

		if result.IsIdle() {
			s.metrics.passes.WithLabelValues(label, passResultIdle).Inc()
		} else {
			s.metrics.passes.WithLabelValues(label, passResultActive).Inc()
		}
		for _, kind := range actionKinds {
			if n := result.Count(kind); n > 0 {
				s.metrics.actions.WithLabelValues(label, kind.String()).Add(float64(n))
			}
		}
		results = append(results, result)
	}

	for _, kind := range actionKinds {
		s.metrics.pendingActions.WithLabelValues(kind.String()).Set(float64(s.tracker.NumPending(kind)))
	}
	if err := s.balancer.SetDomain(metadata.LiveDomain()); err != nil {
		return results, err
	}
	return results, lastErr
}

// Run schedules a round every interval until the context is done.
func (s *BalanceScheduler) Run(ctx context.Context) error {
	s.lock.Lock()
	if s.running {
		s.lock.Unlock()
		log.Warn("balance scheduler has already been started")
		return nil
	}
	s.running = true
	s.lock.Unlock()

	defer func() {
		s.lock.Lock()
		s.running = false
		s.lock.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Info("balance scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			log.Info("balance scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				log.Error("balance round failed", zap.Error(err))
			}
		}
	}
}

func (s *BalanceScheduler) IsRunning() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.running
}
