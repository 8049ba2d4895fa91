package workspace

import (
	"fmt"

	"github.com/syncview/syncview-agent/internal/marker"
)

// DefaultDriftTolerance is how far apart slot positions may run before
// CheckDrift reports them out of sync, in milliseconds.
const DefaultDriftTolerance = 100

// SetOffset sets one slot's sync offset in milliseconds.
func (m *Manager) SetOffset(index int, offsetMs int64) error {
	if index < 0 || index >= marker.NumSlots {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, index)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.slots[index].offsetMs
	m.slots[index].offsetMs = offsetMs
	if old != offsetMs {
		m.logger.Info("slot offset changed", "slot", index, "from_ms", old, "to_ms", offsetMs)
	}
	return nil
}

// Offset returns one slot's sync offset; out-of-range slots read as
// zero.
func (m *Manager) Offset(index int) int64 {
	if index < 0 || index >= marker.NumSlots {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[index].offsetMs
}

// ResetOffsets zeroes every slot offset.
func (m *Manager) ResetOffsets() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.slots {
		m.slots[i].offsetMs = 0
	}
	m.logger.Info("slot offsets reset")
}

// SetMaster picks the slot the others sync to.
func (m *Manager) SetMaster(index int) error {
	if index < 0 || index >= marker.NumSlots {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, index)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.masterIndex != index {
		m.logger.Info("master slot changed", "from", m.masterIndex, "to", index)
		m.masterIndex = index
	}
	return nil
}

// Master returns the master slot index.
func (m *Manager) Master() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.masterIndex
}

// SetDriftTolerance sets the drift tolerance in milliseconds, floored
// at zero.
func (m *Manager) SetDriftTolerance(toleranceMs int64) {
	if toleranceMs < 0 {
		toleranceMs = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driftTolerance = toleranceMs
}

// DriftTolerance returns the drift tolerance in milliseconds.
func (m *Manager) DriftTolerance() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.driftTolerance
}

// SyncPosition maps a position on one slot to the equivalent position
// on another: position minus the source offset plus the target offset,
// clamped at zero.
func (m *Manager) SyncPosition(positionMs int64, fromSlot, toSlot int) int64 {
	synced := positionMs - m.Offset(fromSlot) + m.Offset(toSlot)
	if synced < 0 {
		return 0
	}
	return synced
}

// CheckDrift measures the spread between live slot positions. Entries
// below zero mean the slot is not playing and are ignored. It returns
// the spread and whether it exceeds the tolerance; fewer than two live
// positions never drift.
func (m *Manager) CheckDrift(positionsMs []int64) (int64, bool) {
	var live []int64
	for _, p := range positionsMs {
		if p >= 0 {
			live = append(live, p)
		}
	}
	if len(live) < 2 {
		return 0, false
	}

	minPos, maxPos := live[0], live[0]
	for _, p := range live[1:] {
		if p < minPos {
			minPos = p
		}
		if p > maxPos {
			maxPos = p
		}
	}

	drift := maxPos - minPos
	tolerance := m.DriftTolerance()
	if drift > tolerance {
		m.logger.Warn("drift detected", "drift_ms", drift, "tolerance_ms", tolerance)
		return drift, true
	}
	return drift, false
}
