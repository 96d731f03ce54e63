package interaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onera/studio/internal/model"
	"github.com/onera/studio/internal/timeline"
)

func newEditor(t *testing.T, magnetic bool, layers ...model.Layer) *timeline.Store {
	t.Helper()
	s := timeline.NewStore(timeline.WithMagnetic(magnetic))
	require.Zero(t, s.Load(layers, nil))
	return s
}

func TestMachineDrag(t *testing.T) {
	s := newEditor(t, false, video("a", 0, 5, 0))
	m := NewMachine(s, 10)

	require.True(t, m.PointerDown("a", false, EdgeLeft, 100))
	assert.Equal(t, Dragging, m.State())
	assert.Equal(t, "a", m.Active())

	require.True(t, m.PointerMove(130))
	require.True(t, m.PointerMove(150))

	l, _ := s.Snapshot().Layer("a")
	assert.Equal(t, 5.0, l.Start)
	assert.Equal(t, 10.0, l.End)
	assert.Equal(t, 10.0, s.Duration())

	m.PointerUp()
	assert.Equal(t, Idle, m.State())
	assert.Equal(t, "", m.Active())
	assert.False(t, m.PointerMove(200))
}

func TestMachineResizeEdges(t *testing.T) {
	s := newEditor(t, false, video("a", 2, 8, 0))
	m := NewMachine(s, 10)

	require.True(t, m.PointerDown("a", true, EdgeLeft, 0))
	assert.Equal(t, Resizing, m.State())
	require.True(t, m.PointerMove(10))
	m.PointerLeave()

	l, _ := s.Snapshot().Layer("a")
	assert.Equal(t, 3.0, l.Start)
	assert.Equal(t, 1.0, l.TrimStart)

	require.True(t, m.PointerDown("a", true, EdgeRight, 0))
	require.True(t, m.PointerMove(-30))
	m.PointerUp()

	l, _ = s.Snapshot().Layer("a")
	assert.Equal(t, 5.0, l.End)
	assert.Equal(t, 5.0, s.Duration())
}

func TestMachineRespectsLockedTrack(t *testing.T) {
	s := newEditor(t, false, video("a", 0, 5, 0))
	m := NewMachine(s, 10)

	s.ToggleTrackLock(model.TrackMedia)
	assert.False(t, m.PointerDown("a", false, EdgeLeft, 0))
	assert.Equal(t, Idle, m.State())

	s.ToggleTrackLock(model.TrackMedia)
	require.True(t, m.PointerDown("a", false, EdgeLeft, 0))
	s.ToggleTrackLock(model.TrackMedia)
	assert.False(t, m.PointerMove(50))
	assert.Equal(t, Idle, m.State())

	l, _ := s.Snapshot().Layer("a")
	assert.Equal(t, 0.0, l.Start)
}

func TestMachineSnapsWhenMagnetic(t *testing.T) {
	s := newEditor(t, true, video("a", 0, 5, 0), video("b", 10, 15, 0))
	m := NewMachine(s, 10)

	require.True(t, m.PointerDown("b", false, EdgeLeft, 0))
	require.True(t, m.PointerMove(-46))
	m.PointerUp()

	b, _ := s.Snapshot().Layer("b")
	assert.Equal(t, 5.0, b.Start)
	assert.Equal(t, 10.0, b.End)
}
