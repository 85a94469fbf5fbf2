// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package task

import (
	"sort"
	"sync"

	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/pkg/errors"
)

type pendingKey struct {
	tabletID metadata.TabletID
	kind     metadata.ActionKind
}

// Tracker records the replica changes in flight.
// A tablet has at most one in-flight task of each kind.
type Tracker struct {
	lock    sync.RWMutex
	tasks   map[string]*Task
	pending map[pendingKey]*Task
}

func NewTracker() *Tracker {
	return &Tracker{
		tasks:   map[string]*Task{},
		pending: map[pendingKey]*Task{},
	}
}

// Track registers the action as a pending task.
func (t *Tracker) Track(action metadata.Action) (*Task, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	key := pendingKey{tabletID: action.TabletID, kind: action.Kind}
	if existing, ok := t.pending[key]; ok {
		return nil, ErrTaskAlreadyPending.WithCausef("tablet:%s, kind:%s, task:%s", action.TabletID, action.Kind, existing.ID())
	}

	task := newTask(action)
	t.tasks[task.ID()] = task
	t.pending[key] = task
	return task, nil
}

func (t *Tracker) Get(id string) (*Task, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	task, ok := t.tasks[id]
	return task, ok
}

func (t *Tracker) Start(id string) error {
	task, err := t.get(id)
	if err != nil {
		return err
	}
	return task.event(eventStart, nil)
}

// Finish marks the task done and releases its tablet slot.
func (t *Tracker) Finish(id string) error {
	return t.complete(id, eventFinish, nil)
}

// Fail marks the task failed and releases its tablet slot. The task is not retried.
func (t *Tracker) Fail(id string, cause error) error {
	return t.complete(id, eventFail, cause)
}

func (t *Tracker) complete(id string, event string, cause error) error {
	task, err := t.get(id)
	if err != nil {
		return err
	}
	if err := task.event(event, cause); err != nil {
		return err
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	action := task.Action()
	key := pendingKey{tabletID: action.TabletID, kind: action.Kind}
	if current, ok := t.pending[key]; ok && current == task {
		delete(t.pending, key)
	}
	delete(t.tasks, id)
	return nil
}

func (t *Tracker) get(id string) (*Task, error) {
	task, ok := t.Get(id)
	if !ok {
		return nil, errors.WithMessagef(ErrTaskNotFound, "task:%s", id)
	}
	return task, nil
}

// PendingActions returns the targets of the in-flight tasks of the table, keyed by tablet.
func (t *Tracker) PendingActions(tableID metadata.TableID) (adds, removes, stepdowns map[metadata.TabletID]metadata.TabletServerID) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	adds = map[metadata.TabletID]metadata.TabletServerID{}
	removes = map[metadata.TabletID]metadata.TabletServerID{}
	stepdowns = map[metadata.TabletID]metadata.TabletServerID{}
	for key, task := range t.pending {
		action := task.Action()
		if action.TableID != tableID {
			continue
		}
		switch key.kind {
		case metadata.ActionAdd:
			adds[key.tabletID] = action.Target
		case metadata.ActionRemove:
			removes[key.tabletID] = action.Target
		case metadata.ActionStepdownLeader:
			stepdowns[key.tabletID] = action.Target
		}
	}
	return adds, removes, stepdowns
}

// ListPending returns the in-flight tasks ordered by creation time.
func (t *Tracker) ListPending() []Info {
	t.lock.RLock()
	infos := make([]Info, 0, len(t.pending))
	for _, task := range t.pending {
		infos = append(infos, task.Info())
	}
	t.lock.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

func (t *Tracker) NumPending(kind metadata.ActionKind) int {
	t.lock.RLock()
	defer t.lock.RUnlock()

	n := 0
	for key := range t.pending {
		if key.kind == kind {
			n++
		}
	}
	return n
}
