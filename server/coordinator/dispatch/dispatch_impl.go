// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/CeresDB/tabletmeta/pkg/log"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/CeresDB/tabletmeta/server/config"
	"github.com/CeresDB/tabletmeta/server/coordinator/balancer"
	"github.com/CeresDB/tabletmeta/server/coordinator/task"
	"github.com/CeresDB/tabletmeta/server/limiter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	dropReasonThrottled = "throttled"
	dropReasonDuplicate = "duplicate"
	dropReasonQueueFull = "queue_full"
	dropReasonStopped   = "stopped"

	resultFinished = "finished"
	resultFailed   = "failed"
)

type metrics struct {
	dropped *prometheus.CounterVec
	tasks   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		dropped: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tabletmeta_dispatch_dropped_total",
			Help: "Replica changes dropped before reaching a tablet server.",
		}, []string{"reason"}),
		tasks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "tabletmeta_dispatch_tasks_total",
			Help: "Replica changes sent to tablet servers by outcome.",
		}, []string{"kind", "result"}),
	}
}

// Dispatcher hands the actions of the load balancer to a pool of workers.
// Actions are never retried: a failed task leaves the pending set and the next pass decides again.
type Dispatcher struct {
	changer    ReplicaChanger
	limiter    *limiter.FlowLimiter
	tracker    *task.Tracker
	queue      chan *task.Task
	workerNum  int
	rpcTimeout time.Duration
	metrics    *metrics

	lock    sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

var _ balancer.ActionDispatcher = &Dispatcher{}

func NewDispatcher(cfg config.DispatchConfig, changer ReplicaChanger, limiter *limiter.FlowLimiter, tracker *task.Tracker, reg prometheus.Registerer) *Dispatcher {
	return &Dispatcher{
		changer:    changer,
		limiter:    limiter,
		tracker:    tracker,
		queue:      make(chan *task.Task, cfg.QueueSize),
		workerNum:  cfg.WorkerNum,
		rpcTimeout: cfg.RPCTimeout(),
		metrics:    newMetrics(reg),
	}
}

// ApplyAction tracks the action and enqueues it. Throttled, duplicated or overflowing actions are dropped.
func (d *Dispatcher) ApplyAction(ctx context.Context, action metadata.Action) {
	if !d.limiter.Allow(action.Kind.String()) {
		d.drop(action, dropReasonThrottled, nil)
		return
	}

	// Stop must not drain the queue between the check and the enqueue.
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.stopped {
		d.drop(action, dropReasonStopped, nil)
		return
	}

	t, err := d.tracker.Track(action)
	if err != nil {
		d.drop(action, dropReasonDuplicate, err)
		return
	}

	select {
	case d.queue <- t:
	case <-ctx.Done():
		d.fail(t, ctx.Err())
		d.drop(action, dropReasonStopped, ctx.Err())
	default:
		d.fail(t, ErrQueueFull)
		d.drop(action, dropReasonQueueFull, nil)
	}
}

func (d *Dispatcher) drop(action metadata.Action, reason string, err error) {
	d.metrics.dropped.WithLabelValues(reason).Inc()
	log.Warn("drop replica change", zap.String("action", action.String()), zap.String("reason", reason), zap.Error(err))
}

func (d *Dispatcher) fail(t *task.Task, cause error) {
	if err := d.tracker.Fail(t.ID(), cause); err != nil {
		log.Error("fail to mark task failed", zap.String("task", t.ID()), zap.Error(err))
	}
	d.metrics.tasks.WithLabelValues(t.Action().Kind.String(), resultFailed).Inc()
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workerNum; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.work(ctx)
		}()
	}
	log.Info("dispatcher started", zap.Int("workers", d.workerNum), zap.Int("queueSize", cap(d.queue)))
	return nil
}

// Stop waits for the workers to exit and fails the tasks left in the queue.
func (d *Dispatcher) Stop() {
	d.lock.Lock()
	d.stopped = true
	cancel := d.cancel
	d.lock.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()

	for {
		select {
		case t := <-d.queue:
			d.fail(t, ErrDispatcherStop)
		default:
			return
		}
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.queue:
			d.run(ctx, t)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, t *task.Task) {
	if err := d.tracker.Start(t.ID()); err != nil {
		log.Error("fail to start task", zap.String("task", t.ID()), zap.Error(err))
		return
	}

	action := t.Action()
	rpcCtx, cancel := context.WithTimeout(ctx, d.rpcTimeout)
	defer cancel()

	if err := Apply(rpcCtx, d.changer, action); err != nil {
		log.Warn("replica change failed", zap.String("task", t.ID()), zap.String("action", action.String()), zap.Error(err))
		d.fail(t, err)
		return
	}

	if err := d.tracker.Finish(t.ID()); err != nil {
		log.Error("fail to finish task", zap.String("task", t.ID()), zap.Error(err))
		return
	}
	d.metrics.tasks.WithLabelValues(action.Kind.String(), resultFinished).Inc()
	log.Info("replica change finished", zap.String("task", t.ID()), zap.String("action", action.String()))
}
