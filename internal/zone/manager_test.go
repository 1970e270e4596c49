package zone

import (
	"errors"
	"testing"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
)

func buildZones(t *testing.T, indices ...int) []*Zone {
	t.Helper()
	var out []*Zone
	for _, idx := range indices {
		z, err := New(Config{Index: idx, Volume: idx * 10}, &MockController{}, testCatalog())
		if err != nil {
			t.Fatalf("New(%d) error = %v", idx, err)
		}
		out = append(out, z)
	}
	return out
}

func TestManager_StatesOrdered(t *testing.T) {
	m, err := NewManager(buildZones(t, 3, 1, 2)...)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	states := m.States()
	if len(states) != 3 {
		t.Fatalf("States() len = %d, want 3", len(states))
	}
	for i, s := range states {
		if s.Index != i+1 {
			t.Errorf("States()[%d].Index = %d, want %d", i, s.Index, i+1)
		}
		if s.Volume < MinVolume || s.Volume > MaxVolume {
			t.Errorf("States()[%d].Volume = %d out of range", i, s.Volume)
		}
	}
}

func TestManager_Lookup(t *testing.T) {
	m, err := NewManager(buildZones(t, 1, 2)...)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if _, err := m.Zone(2); err != nil {
		t.Errorf("Zone(2) error = %v", err)
	}
	if _, err := m.State(9); apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("State(9) error = %v, want not found", err)
	}
	if !m.Has(1) || m.Has(9) {
		t.Error("Has() mismatch")
	}
}

func TestManager_RejectsDuplicates(t *testing.T) {
	zones := buildZones(t, 1, 1)
	if _, err := NewManager(zones...); !errors.Is(err, ErrInvalidZone) {
		t.Errorf("NewManager() error = %v, want %v", err, ErrInvalidZone)
	}
}
