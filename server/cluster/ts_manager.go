// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package cluster

import (
	"sync"
	"time"

	"github.com/CeresDB/tabletmeta/pkg/log"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type registeredServer struct {
	desc metadata.TabletServerDescriptor
	// dead is set by MarkDead and cleared by the next heartbeat.
	dead bool
}

func (s registeredServer) isExpired(now time.Time, heartbeatTimeout time.Duration) bool {
	return now.Sub(s.desc.LastHeartbeat) > heartbeatTimeout
}

// TSManager tracks the tablet servers reporting to the metadata service.
type TSManager struct {
	lock             sync.RWMutex
	heartbeatTimeout time.Duration
	servers          map[metadata.TabletServerID]*registeredServer
	now              func() time.Time
}

func NewTSManager(heartbeatTimeout time.Duration) *TSManager {
	return &TSManager{
		heartbeatTimeout: heartbeatTimeout,
		servers:          map[metadata.TabletServerID]*registeredServer{},
		now:              time.Now,
	}
}

// Heartbeat registers the server or refreshes its descriptor.
func (m *TSManager) Heartbeat(desc metadata.TabletServerDescriptor) error {
	if desc.ID == "" {
		return errors.WithMessage(ErrInvalidServer, "empty server id")
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	desc.LastHeartbeat = m.now()
	server, ok := m.servers[desc.ID]
	if !ok {
		log.Info("register tablet server", zap.String("server", string(desc.ID)), zap.String("zone", desc.Cloud.Key()),
			zap.String("placementUUID", desc.PlacementUUID))
		m.servers[desc.ID] = &registeredServer{desc: desc}
		return nil
	}
	if server.dead {
		log.Info("tablet server is back", zap.String("server", string(desc.ID)))
	}
	server.desc = desc
	server.dead = false
	return nil
}

// MarkDead makes the server non-live until its next heartbeat.
func (m *TSManager) MarkDead(serverID metadata.TabletServerID) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	server, ok := m.servers[serverID]
	if !ok {
		return errors.WithMessagef(ErrTabletServerNotFound, "server:%s", serverID)
	}
	server.dead = true
	log.Warn("tablet server marked dead", zap.String("server", string(serverID)))
	return nil
}

func (m *TSManager) GetDescriptor(serverID metadata.TabletServerID) (metadata.TabletServerDescriptor, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	server, ok := m.servers[serverID]
	if !ok {
		return metadata.TabletServerDescriptor{}, false
	}
	return m.describeLocked(server, m.now()), true
}

// GetAllReportedDescriptors returns every server that ever reported, live or not, ordered by id.
func (m *TSManager) GetAllReportedDescriptors() []metadata.TabletServerDescriptor {
	m.lock.RLock()
	defer m.lock.RUnlock()

	now := m.now()
	descs := make([]metadata.TabletServerDescriptor, 0, len(m.servers))
	for _, server := range m.servers {
		descs = append(descs, m.describeLocked(server, now))
	}
	metadata.SortDescriptors(descs)
	return descs
}

// GetAllLiveDescriptors returns the servers with a recent heartbeat, ordered by id.
func (m *TSManager) GetAllLiveDescriptors() []metadata.TabletServerDescriptor {
	descs := m.GetAllReportedDescriptors()
	live := descs[:0]
	for _, desc := range descs {
		if desc.IsLive() {
			live = append(live, desc)
		}
	}
	return live
}

func (m *TSManager) describeLocked(server *registeredServer, now time.Time) metadata.TabletServerDescriptor {
	desc := server.desc
	desc.Live = !server.dead && !server.isExpired(now, m.heartbeatTimeout)
	return desc
}
