package client

import (
	"fmt"
	"sort"

	"github.com/metaneutrons/snapdog2-sub010/internal/apperr"
)

// Manager is the fixed set of clients.
type Manager struct {
	clients map[int]*Client
	order   []int
}

// NewManager indexes clients; duplicate indices are rejected.
func NewManager(clients ...*Client) (*Manager, error) {
	m := &Manager{clients: make(map[int]*Client, len(clients))}
	for _, c := range clients {
		if _, dup := m.clients[c.index]; dup {
			return nil, fmt.Errorf("%w: duplicate index %d", ErrInvalidClient, c.index)
		}
		m.clients[c.index] = c
		m.order = append(m.order, c.index)
	}
	sort.Ints(m.order)
	return m, nil
}

// Client returns the client with the given index.
func (m *Manager) Client(index int) (*Client, error) {
	c, ok := m.clients[index]
	if !ok {
		return nil, apperr.Missing("client %d not found", index)
	}
	return c, nil
}

// State returns one client snapshot.
func (m *Manager) State(index int) (State, error) {
	c, err := m.Client(index)
	if err != nil {
		return State{}, err
	}
	return c.State(), nil
}

// States returns every snapshot in ascending index order.
func (m *Manager) States() []State {
	out := make([]State, 0, len(m.order))
	for _, idx := range m.order {
		out = append(out, m.clients[idx].State())
	}
	return out
}

// Len returns the number of clients.
func (m *Manager) Len() int { return len(m.order) }
