// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/CeresDB/tabletmeta/pkg/log"
	"github.com/CeresDB/tabletmeta/server/cluster"
	"github.com/CeresDB/tabletmeta/server/config"
	"github.com/CeresDB/tabletmeta/server/coordinator"
	"github.com/CeresDB/tabletmeta/server/coordinator/balancer"
	"github.com/CeresDB/tabletmeta/server/coordinator/dispatch"
	"github.com/CeresDB/tabletmeta/server/coordinator/task"
	"github.com/CeresDB/tabletmeta/server/etcdutil"
	"github.com/CeresDB/tabletmeta/server/limiter"
	"github.com/CeresDB/tabletmeta/server/member"
	httpservice "github.com/CeresDB/tabletmeta/server/service/http"
	"github.com/CeresDB/tabletmeta/server/storage"
	"github.com/CeresDB/tabletmeta/server/vtable"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	embeddedEtcdStartTimeout = 30 * time.Second
	httpShutdownTimeout      = 5 * time.Second
)

// Server wires the catalog, the load balancer and the admin api together.
type Server struct {
	cfg      *config.Config
	registry *prometheus.Registry

	etcdSrv    *embed.Etcd
	etcdClient *clientv3.Client

	catalog    *cluster.Catalog
	tsManager  *cluster.TSManager
	tracker    *task.Tracker
	dispatcher *dispatch.Dispatcher
	scheduler  *coordinator.BalanceScheduler
	member     *member.Member
	vtables    *vtable.Registry
	httpServer *http.Server

	lock    sync.Mutex
	cancel  context.CancelFunc
	bgGroup *errgroup.Group
}

// CreateServer builds a server from the config, nothing is started until Run.
func CreateServer(cfg *config.Config) (*Server, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		cfg:       cfg,
		registry:  registry,
		tsManager: cluster.NewTSManager(cfg.TSManager.HeartbeatTimeout()),
		tracker:   task.NewTracker(),
		vtables:   vtable.NewRegistry(),
	}, nil
}

// Run connects to etcd, loads the catalog and starts the background loops. It does not block.
func (srv *Server) Run(ctx context.Context) error {
	srv.lock.Lock()
	defer srv.lock.Unlock()

	if srv.cancel != nil {
		return ErrServerStarted
	}

	if err := srv.startEtcd(ctx); err != nil {
		return err
	}
	if err := srv.createComponents(ctx); err != nil {
		return err
	}

	bgCtx, cancel := context.WithCancel(ctx)
	srv.cancel = cancel
	g, gCtx := errgroup.WithContext(bgCtx)
	srv.bgGroup = g

	if err := srv.dispatcher.Start(gCtx); err != nil {
		return ErrStartServer.WithCause(err)
	}
	g.Go(func() error {
		return srv.catalog.Watch(gCtx)
	})
	if srv.cfg.Balancer.Enable {
		// Only the leader balances, the scheduler stops as soon as the leadership is lost.
		watcher := member.NewLeaderWatcher(srv.member, func(leaderCtx context.Context) {
			if err := srv.scheduler.Run(leaderCtx); err != nil {
				log.Error("balance scheduler exits with error", zap.Error(err))
			}
		})
		g.Go(func() error {
			return watcher.Watch(gCtx)
		})
	}
	g.Go(func() error {
		log.Info("http server started", zap.String("addr", srv.httpServer.Addr))
		if err := srv.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.WithMessage(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return srv.httpServer.Shutdown(shutdownCtx)
	})

	log.Info("server is running", zap.Bool("balancer", srv.cfg.Balancer.Enable),
		zap.Duration("interval", srv.cfg.Balancer.Interval()))
	return nil
}

func (srv *Server) startEtcd(ctx context.Context) error {
	endpoints := srv.cfg.Etcd.Endpoints
	if srv.cfg.Etcd.Embedded {
		clientURL, err := parseURL(firstOr(endpoints, "127.0.0.1:2379"))
		if err != nil {
			return ErrStartEtcd.WithCause(err)
		}
		peerURL, err := parseURL(srv.cfg.Etcd.PeerURL)
		if err != nil {
			return ErrStartEtcd.WithCause(err)
		}
		etcdCfg := etcdutil.NewEmbedConfig("tabletmeta", srv.cfg.Etcd.DataDir, peerURL, clientURL)
		etcdSrv, err := etcdutil.StartEmbedded(etcdCfg, embeddedEtcdStartTimeout)
		if err != nil {
			return ErrStartEtcd.WithCause(err)
		}
		srv.etcdSrv = etcdSrv
		endpoints = []string{clientURL.String()}
		log.Info("embedded etcd started", zap.String("client", clientURL.String()), zap.String("dataDir", srv.cfg.Etcd.DataDir))
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: srv.cfg.Etcd.DialTimeout(),
		Context:     ctx,
		Logger:      log.GetLogger(),
	})
	if err != nil {
		return ErrCreateEtcdClient.WithCause(err)
	}
	srv.etcdClient = client
	return nil
}

func (srv *Server) createComponents(ctx context.Context) error {
	cfg := srv.cfg
	metaStorage := storage.NewStorageWithEtcdBackend(srv.etcdClient, cfg.Etcd.RootPath, storage.Options{
		MaxScanLimit: cfg.Etcd.MaxScanLimit,
		MinScanLimit: cfg.Etcd.MinScanLimit,
	})
	srv.catalog = cluster.NewCatalog(metaStorage)
	if err := srv.catalog.Load(ctx); err != nil {
		return errors.WithMessage(err, "load catalog")
	}

	// The tablet servers are driven through an external consensus client, replica changes are only logged here.
	srv.dispatcher = dispatch.NewDispatcher(cfg.Dispatch, dispatch.DryRunChanger{}, limiter.NewFlowLimiter(cfg.Limiter),
		srv.tracker, srv.registry)

	lb, err := balancer.NewLoadBalancer(coordinator.NewCatalogDataSource(srv.catalog, srv.tsManager, srv.tracker),
		srv.dispatcher, cfg.Balancer.ToOptions())
	if err != nil {
		return errors.WithMessage(err, "create load balancer")
	}
	srv.scheduler = coordinator.NewBalanceScheduler(lb, srv.catalog, srv.tracker, cfg.Balancer.Interval(), srv.registry)

	srv.member = member.NewMember(cfg.Etcd.RootPath, cfg.NodeName, srv.etcdClient, etcdutil.DefaultRequestTimeout, cfg.LeaseTTLSec)

	if err := srv.vtables.Register(vtable.NewPeersTable(srv.tsManager)); err != nil {
		return err
	}

	api := httpservice.NewAPI(srv.vtables, srv.scheduler, srv.tracker, srv.catalog, srv.tsManager,
		limiter.NewFlowLimiter(cfg.Limiter), srv.registry)
	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api.NewAPIRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

// Close stops the background loops, then releases etcd.
func (srv *Server) Close() {
	srv.lock.Lock()
	defer srv.lock.Unlock()

	if srv.cancel != nil {
		srv.cancel()
		if err := srv.bgGroup.Wait(); err != nil {
			log.Error("background job exits with error", zap.Error(err))
		}
	}
	if srv.dispatcher != nil {
		srv.dispatcher.Stop()
	}
	if srv.etcdClient != nil {
		if err := srv.etcdClient.Close(); err != nil {
			log.Error("fail to close etcd client", zap.Error(err))
		}
	}
	if srv.etcdSrv != nil {
		srv.etcdSrv.Close()
	}
	log.Info("server closed")
}

func (srv *Server) Catalog() *cluster.Catalog {
	return srv.catalog
}

func (srv *Server) TSManager() *cluster.TSManager {
	return srv.tsManager
}

func (srv *Server) IsLeader() bool {
	return srv.member != nil && srv.member.IsLeader()
}

func parseURL(s string) (url.URL, error) {
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return url.URL{}, errors.WithMessagef(err, "parse url:%s", s)
	}
	return *u, nil
}

func firstOr(items []string, fallback string) string {
	if len(items) == 0 {
		return fallback
	}
	return items[0]
}
