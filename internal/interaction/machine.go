package interaction

import (
	"github.com/onera/studio/internal/model"
	"github.com/onera/studio/internal/timeline"
)

// State is the gesture state of a Machine.
type State int

const (
	Idle State = iota
	Dragging
	Resizing
)

func (s State) String() string {
	switch s {
	case Dragging:
		return "dragging"
	case Resizing:
		return "resizing"
	default:
		return "idle"
	}
}

// Edge selects which side of a layer a resize gesture holds.
type Edge int

const (
	EdgeLeft Edge = iota
	EdgeRight
)

// Editor is the subset of the layer store a Machine drives.
type Editor interface {
	Snapshot() timeline.Snapshot
	UpdateLayer(id string, patch model.LayerPatch) bool
}

// Machine is the pointer state machine of the timeline:
// Idle -> Dragging | Resizing on PointerDown, back to Idle on PointerUp or PointerLeave.
// It is not safe for concurrent use; pointer events arrive on one goroutine.
type Machine struct {
	editor Editor
	zoom   float64

	state   State
	edge    Edge
	gesture Gesture
	originX float64
}

// NewMachine returns an idle machine bound to editor.
func NewMachine(editor Editor, zoom float64) *Machine {
	return &Machine{editor: editor, zoom: ClampZoom(zoom)}
}

// State returns the current gesture state.
func (m *Machine) State() State { return m.state }

// Edge returns the held edge while resizing.
func (m *Machine) Edge() Edge { return m.edge }

// Active returns the id of the layer under gesture, or "" when idle.
func (m *Machine) Active() string {
	if m.state == Idle {
		return ""
	}
	return m.gesture.LayerID
}

// Zoom returns the pixels-per-second scale.
func (m *Machine) Zoom() float64 { return m.zoom }

// SetZoom changes the scale. A gesture in progress keeps resolving against its
// original pointer origin.
func (m *Machine) SetZoom(zoom float64) { m.zoom = ClampZoom(zoom) }

// PointerDown starts dragging layer id, or resizing it when resize is set.
// Locked tracks and unknown layers leave the machine idle.
func (m *Machine) PointerDown(id string, resize bool, edge Edge, x float64) bool {
	if m.state != Idle {
		m.reset()
	}
	g, ok := Begin(ViewOf(m.editor.Snapshot(), m.zoom), id)
	if !ok {
		return false
	}
	m.gesture = g
	m.originX = x
	m.edge = edge
	if resize {
		m.state = Resizing
	} else {
		m.state = Dragging
	}
	return true
}

// PointerMove applies the gesture for pointer position x.
func (m *Machine) PointerMove(x float64) bool {
	if m.state == Idle {
		return false
	}
	v := ViewOf(m.editor.Snapshot(), m.zoom)
	if v.Tracks[m.gesture.Track].Locked {
		m.reset()
		return false
	}
	dx := x - m.originX

	var patch model.LayerPatch
	switch {
	case m.state == Dragging:
		patch = Move(v, m.gesture, dx)
	case m.edge == EdgeLeft:
		patch = TrimLeft(v, m.gesture, dx)
	default:
		patch = TrimRight(v, m.gesture, dx)
	}
	return m.editor.UpdateLayer(m.gesture.LayerID, patch)
}

// PointerUp ends the gesture.
func (m *Machine) PointerUp() { m.reset() }

// PointerLeave ends the gesture when the pointer leaves the timeline.
func (m *Machine) PointerLeave() { m.reset() }

func (m *Machine) reset() {
	m.state = Idle
	m.edge = EdgeLeft
	m.gesture = Gesture{}
	m.originX = 0
}
