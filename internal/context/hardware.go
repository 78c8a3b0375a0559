package context

import (
	"github.com/comp590/reconf/internal/path"
)

// CircuitMapping pairs optical input ports with output ports, position by position.
// The device holds the only copy of the active mapping.
type CircuitMapping struct {
	Name string
	In   []int
	Out  []int
}

type Host struct {
	Name     string
	Addr     string
	User     string
	Password string
	KeyFile  string
	Jump     string
	Nic      string
}

type PathRef struct {
	Path     path.Path
	Priority int
}

// Hardware is the operator-specified testbed: switches by name, the routes between
// host pairs, the optical mappings and the hosts reachable for traffic tests.
type Hardware struct {
	SwitchOrder []string
	Switches    map[string]uint64
	Paths       map[string]path.Path
	Circuits    map[string]CircuitMapping
	Hosts       map[string]Host
}

// Dpids returns every configured datapath id in configuration order.
func (h *Hardware) Dpids() []uint64 {
	ids := make([]uint64, 0, len(h.SwitchOrder))
	for _, name := range h.SwitchOrder {
		if id, ok := h.Switches[name]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
