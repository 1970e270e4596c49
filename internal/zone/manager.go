package zone

import (
	"errors"
	"fmt"
	"sort"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
)

// ErrInvalidZone is returned when a zone or manager cannot be constructed.
var ErrInvalidZone = errors.New("zone: invalid configuration")

// Manager is the fixed set of zones, keyed by index.
// It is built once at startup; zones are never added or removed afterwards,
// so lookups need no locking.
type Manager struct {
	zones map[int]*Zone
	order []int
}

// NewManager indexes zones. Duplicate indices are rejected.
func NewManager(zones ...*Zone) (*Manager, error) {
	m := &Manager{zones: make(map[int]*Zone, len(zones))}
	for _, z := range zones {
		if z == nil {
			return nil, fmt.Errorf("%w: nil zone", ErrInvalidZone)
		}
		if _, dup := m.zones[z.index]; dup {
			return nil, fmt.Errorf("%w: duplicate index %d", ErrInvalidZone, z.index)
		}
		m.zones[z.index] = z
		m.order = append(m.order, z.index)
	}
	sort.Ints(m.order)
	return m, nil
}

// Zone returns the zone with the given index.
func (m *Manager) Zone(index int) (*Zone, error) {
	z, ok := m.zones[index]
	if !ok {
		return nil, apperr.Missing("zone %d not found", index)
	}
	return z, nil
}

// State returns a snapshot of one zone.
func (m *Manager) State(index int) (State, error) {
	z, err := m.Zone(index)
	if err != nil {
		return State{}, err
	}
	return z.State(), nil
}

// States returns a snapshot of every zone in ascending index order.
func (m *Manager) States() []State {
	out := make([]State, 0, len(m.order))
	for _, idx := range m.order {
		out = append(out, m.zones[idx].State())
	}
	return out
}

// Indices returns the configured zone indices in ascending order.
func (m *Manager) Indices() []int {
	out := make([]int, len(m.order))
	copy(out, m.order)
	return out
}

// Has reports whether index is configured.
func (m *Manager) Has(index int) bool {
	_, ok := m.zones[index]
	return ok
}

// Len returns the number of zones.
func (m *Manager) Len() int { return len(m.order) }
