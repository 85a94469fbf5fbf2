// Copyright 2023 CeresDB Project Authors. Licensed under Apache-2.0.

package task

import (
	"testing"

	"github.com/CeresDB/tabletmeta/pkg/coderr"
	"github.com/CeresDB/tabletmeta/server/cluster/metadata"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

var (
	addAction = metadata.Action{TableID: "table-1", TabletID: "tablet-1", Kind: metadata.ActionAdd, Target: "ts-c"}
	rmAction  = metadata.Action{TableID: "table-1", TabletID: "tablet-1", Kind: metadata.ActionRemove, Target: "ts-a", NewLeader: "ts-b"}
	sdAction  = metadata.Action{TableID: "table-2", TabletID: "tablet-2", Kind: metadata.ActionStepdownLeader, Target: "ts-b", NewLeader: "ts-a"}
)

func TestTrackRejectsDuplicatePending(t *testing.T) {
	re := require.New(t)
	tracker := NewTracker()

	task, err := tracker.Track(addAction)
	re.NoError(err)
	re.Equal(StatePending, task.State())
	re.NotEmpty(task.ID())

	_, err = tracker.Track(addAction)
	re.True(coderr.EqualsByValue(err, ErrTaskAlreadyPending))
	re.True(coderr.Is(err, coderr.Conflict))

	// Another kind on the same tablet is accepted.
	_, err = tracker.Track(rmAction)
	re.NoError(err)
	re.Equal(1, tracker.NumPending(metadata.ActionAdd))
	re.Equal(1, tracker.NumPending(metadata.ActionRemove))
}

func TestTaskLifecycle(t *testing.T) {
	re := require.New(t)
	tracker := NewTracker()

	task, err := tracker.Track(addAction)
	re.NoError(err)

	re.True(coderr.Is(tracker.Finish(task.ID()), coderr.IllegalState))
	re.NoError(tracker.Start(task.ID()))
	re.Equal(StateRunning, task.State())
	re.True(task.InFlight())
	re.True(coderr.Is(tracker.Start(task.ID()), coderr.IllegalState))

	re.NoError(tracker.Finish(task.ID()))
	re.Equal(StateFinished, task.State())
	re.False(task.InFlight())
	_, ok := tracker.Get(task.ID())
	re.False(ok)
	re.True(coderr.Is(tracker.Finish(task.ID()), coderr.NotFound))

	// The tablet slot is released once the task is done.
	_, err = tracker.Track(addAction)
	re.NoError(err)
}

func TestTaskFailure(t *testing.T) {
	re := require.New(t)
	tracker := NewTracker()

	task, err := tracker.Track(sdAction)
	re.NoError(err)
	cause := errors.New("tablet server unreachable")
	re.NoError(tracker.Fail(task.ID(), cause))
	re.Equal(StateFailed, task.State())
	re.Equal(cause, task.Err())
	re.Equal("tablet server unreachable", task.Info().Error)
	re.Empty(tracker.ListPending())
}

func TestPendingActionsPerTable(t *testing.T) {
	re := require.New(t)
	tracker := NewTracker()

	for _, action := range []metadata.Action{addAction, rmAction, sdAction} {
		_, err := tracker.Track(action)
		re.NoError(err)
	}

	adds, removes, stepdowns := tracker.PendingActions("table-1")
	re.Equal(map[metadata.TabletID]metadata.TabletServerID{"tablet-1": "ts-c"}, adds)
	re.Equal(map[metadata.TabletID]metadata.TabletServerID{"tablet-1": "ts-a"}, removes)
	re.Empty(stepdowns)

	adds, removes, stepdowns = tracker.PendingActions("table-2")
	re.Empty(adds)
	re.Empty(removes)
	re.Equal(map[metadata.TabletID]metadata.TabletServerID{"tablet-2": "ts-b"}, stepdowns)

	infos := tracker.ListPending()
	re.Len(infos, 3)
	for _, info := range infos {
		re.Equal(StatePending, info.State)
	}
}
