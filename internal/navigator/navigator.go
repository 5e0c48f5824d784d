// Package navigator advances through a MapConfig's ordered departure
// points during CV-autonomous play, tracking cycle count and rotation
// selection per point. Grounded on
// msmacro/daemon/point_navigator.py's PointNavigator.
package navigator

import (
	"math/rand"
	"sort"

	"github.com/hidrelay/macrod/internal/mapconfig"
)

// State reports navigator progress for the cv_auto_status command.
type State struct {
	PointIndex  int
	PointID     string
	PointName   string
	CycleCount  int
	RotationRun string
}

// Navigator walks an ordered list of DeparturePoints, looping
// indefinitely when Loop is true.
type Navigator struct {
	points  []mapconfig.DeparturePoint
	idx     int
	cycles  int
	loop    bool
	rng     *rand.Rand
	seqCurs map[string]int // per-point sequential rotation cursor
}

// New builds a Navigator over points, sorted by Order.
func New(points []mapconfig.DeparturePoint, loop bool, seed int64) *Navigator {
	sorted := make([]mapconfig.DeparturePoint, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })
	return &Navigator{
		points:  sorted,
		loop:    loop,
		rng:     rand.New(rand.NewSource(seed)),
		seqCurs: make(map[string]int),
	}
}

// Current returns the active departure point, or false if the point
// list is empty.
func (n *Navigator) Current() (mapconfig.DeparturePoint, bool) {
	if len(n.points) == 0 {
		return mapconfig.DeparturePoint{}, false
	}
	return n.points[n.idx], true
}

// Advance moves to the next point, wrapping and incrementing CycleCount
// when it wraps past the last point. Returns false when Loop is false
// and this call is the one that wraps (the index is then back at 0).
func (n *Navigator) Advance() bool {
	if len(n.points) == 0 {
		return false
	}
	n.idx++
	if n.idx >= len(n.points) {
		n.idx = 0
		n.cycles++
		if !n.loop && n.cycles > 0 {
			return false
		}
	}
	return true
}

// Reset returns the navigator to point 0 without incrementing
// CycleCount. The daemon's CV-auto loop does not call it, and
// portflow.Detector reports are not connected to it.
func (n *Navigator) Reset() {
	n.idx = 0
}

// SelectRotation returns a rotation path for point per its RotationMode,
// advancing the point's own sequential cursor as a side effect.
func (n *Navigator) SelectRotation(point mapconfig.DeparturePoint) (string, bool) {
	cursor := n.seqCurs[point.ID]
	path, ok := mapconfig.SelectRotation(point, cursor, n.rng.Intn)
	if ok && point.RotationMode == mapconfig.RotationSequential {
		n.seqCurs[point.ID] = cursor + 1
	}
	return path, ok
}

// Status reports the navigator's current progress.
func (n *Navigator) Status() State {
	s := State{PointIndex: n.idx, CycleCount: n.cycles}
	if p, ok := n.Current(); ok {
		s.PointID = p.ID
		s.PointName = p.Name
	}
	return s
}
