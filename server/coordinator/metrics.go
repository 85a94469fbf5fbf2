// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package coordinator

import (
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	passResultActive = "active"
	passResultIdle   = "idle"
	passResultError  = "error"
)

var actionKinds = []metadata.ActionKind{metadata.ActionAdd, metadata.ActionRemove, metadata.ActionStepdownLeader}

type schedulerMetrics struct {
	actions        *prometheus.CounterVec
	passes         *prometheus.CounterVec
	pendingActions *prometheus.GaugeVec
}

func newSchedulerMetrics(reg prometheus.Registerer) *schedulerMetrics {
	return &schedulerMetrics{
		actions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tabletmeta_balancer_actions_total",
			Help: "Replica changes decided by the load balancer.",
		}, []string{"domain", "kind"}),
		passes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tabletmeta_balancer_passes_total",
			Help: "Load balancer passes by outcome.",
		}, []string{"domain", "result"}),
		pendingActions: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "tabletmeta_balancer_pending_actions",
			Help: "Replica changes in flight.",
		}, []string{"kind"}),
	}
}
