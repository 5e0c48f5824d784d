package recorder

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOnDownOnUpProducesAction(t *testing.T) {
	r := New(0)
	r.OnDown(4, 0.0)
	r.OnUp(4, 0.100)
	require.Len(t, r.Actions, 1)
	require.Equal(t, Action{Usage: 4, Press: 0.0, Dur: 0.100}, r.Actions[0])
}

func TestFinalizeClosesHeldKeys(t *testing.T) {
	r := New(0)
	r.OnDown(5, 0.0)
	now := 0.050
	r.Finalize(&now)
	require.Len(t, r.Actions, 1)
	require.InDelta(t, 0.050, r.Actions[0].Dur, 1e-9)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	r := New(0)
	r.OnDown(4, 0.0)
	r.OnUp(4, 0.100)
	r.OnDown(30, 0.2)
	r.OnUp(30, 0.21)

	path := filepath.Join(t.TempDir(), "x.json")
	require.NoError(t, r.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, r.Actions, loaded.Actions)
}

func TestEventsToActionsPairsDownUp(t *testing.T) {
	actions := EventsToActions([]Event{
		{T: 0.0, Type: "down", Usage: 4},
		{T: 0.1, Type: "up", Usage: 4},
	})
	require.Len(t, actions, 1)
	require.Equal(t, uint8(4), actions[0].Usage)
	require.InDelta(t, 0.0, actions[0].Press, 1e-9)
	require.InDelta(t, 0.1, actions[0].Dur, 1e-9)
}

func TestEventsToActionsSynthesizesUnmatchedUp(t *testing.T) {
	actions := EventsToActions([]Event{{T: 1.0, Type: "up", Usage: 7}})
	require.Len(t, actions, 1)
	require.InDelta(t, 0.001, actions[0].Dur, 1e-9)
}

func TestEventsToActionsClosesUnmatchedDown(t *testing.T) {
	actions := EventsToActions([]Event{{T: 1.0, Type: "down", Usage: 7}})
	require.Len(t, actions, 1)
	require.InDelta(t, 0.010, actions[0].Dur, 1e-9)
}

func TestActionsSortedByPressThenUsage(t *testing.T) {
	r := New(0)
	r.Actions = []Action{{Usage: 5, Press: 0.1, Dur: 0.01}, {Usage: 4, Press: 0.1, Dur: 0.01}, {Usage: 9, Press: 0.0, Dur: 0.01}}
	r.Sort()
	require.Equal(t, uint8(9), r.Actions[0].Usage)
	require.Equal(t, uint8(4), r.Actions[1].Usage)
	require.Equal(t, uint8(5), r.Actions[2].Usage)
}
