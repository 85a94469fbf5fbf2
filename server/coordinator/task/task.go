// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package task

import (
	"sync"
	"time"

	"github.com/CeresDB/tabletmeta/pkg/log"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

type State string

const (
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

const (
	eventStart  = "EventTaskStart"
	eventFinish = "EventTaskFinish"
	eventFail   = "EventTaskFail"
)

var taskEvents = fsm.Events{
	{Name: eventStart, Src: []string{string(StatePending)}, Dst: string(StateRunning)},
	{Name: eventFinish, Src: []string{string(StateRunning)}, Dst: string(StateFinished)},
	{Name: eventFail, Src: []string{string(StatePending), string(StateRunning)}, Dst: string(StateFailed)},
}

// Task is one replica change sent to a tablet server.
type Task struct {
	id        string
	action    metadata.Action
	createdAt time.Time

	// RWMutex is used to protect following fields.
	lock  sync.RWMutex
	fsm   *fsm.FSM
	cause error
}

func newTask(action metadata.Action) *Task {
	t := &Task{
		id:        uuid.New().String(),
		action:    action,
		createdAt: time.Now(),
	}
	t.fsm = fsm.NewFSM(
		string(StatePending),
		taskEvents,
		fsm.Callbacks{
			"enter_state": func(e *fsm.Event) {
				log.Debug("task state changed", zap.String("task", t.id), zap.String("action", t.action.String()),
					zap.String("from", e.Src), zap.String("to", e.Dst))
			},
		},
	)
	return t
}

func (t *Task) ID() string {
	return t.id
}

func (t *Task) Action() metadata.Action {
	return t.action
}

func (t *Task) State() State {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return State(t.fsm.Current())
}

// Err returns the cause of the failure of the task, if any.
func (t *Task) Err() error {
	t.lock.RLock()
	defer t.lock.RUnlock()

	return t.cause
}

func (t *Task) InFlight() bool {
	state := t.State()
	return state == StatePending || state == StateRunning
}

func (t *Task) event(name string, cause error) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if err := t.fsm.Event(name); err != nil {
		return ErrTransition.WithCausef("task:%s, event:%s, state:%s, err:%v", t.id, name, t.fsm.Current(), err)
	}
	t.cause = cause
	return nil
}

// Info is the serializable view of a task.
type Info struct {
	ID        string          `json:"id"`
	Action    metadata.Action `json:"action"`
	State     State           `json:"state"`
	CreatedAt time.Time       `json:"createdAt"`
	Error     string          `json:"error,omitempty"`
}

func (t *Task) Info() Info {
	info := Info{
		ID:        t.id,
		Action:    t.action,
		State:     t.State(),
		CreatedAt: t.createdAt,
	}
	if err := t.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}
