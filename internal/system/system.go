package system

import (
	"context"
	"errors"

	"github.com/comp590/reconf/internal/flowrule"
	"github.com/comp590/reconf/internal/path"
	"github.com/comp590/reconf/internal/remote"
)

// ErrNoCircuitSwitch is returned by circuit operations when the run has no optical
// switch connection.
var ErrNoCircuitSwitch = errors.New("no optical switch connected")

// RuleTable is the rule-table controller as the orchestration core sees it.
type RuleTable interface {
	ClearAll(ctx context.Context, dpid uint64)
	Install(ctx context.Context, r flowrule.Rule) error
	Remove(ctx context.Context, r flowrule.Rule) error
	InstallPath(ctx context.Context, p path.Path, priority int) error
	RemovePath(ctx context.Context, p path.Path, priority int) error
}

type CircuitSwitch interface {
	Connect(in, out []int) error
	DisconnectAll() error
}

type Hosts interface {
	Get(name string) (remote.Runner, error)
	Close() error
}

// System bundles the collaborators that scheduled actions act on during one run.
type System struct {
	Rules   RuleTable
	Circuit CircuitSwitch
	Hosts   Hosts
}

func (s *System) Connect(in, out []int) error {
	if s.Circuit == nil {
		return ErrNoCircuitSwitch
	}
	return s.Circuit.Connect(in, out)
}

func (s *System) DisconnectAll() error {
	if s.Circuit == nil {
		return ErrNoCircuitSwitch
	}
	return s.Circuit.DisconnectAll()
}

// ClearAll resets every listed switch; failures are only logged by the rule table.
func (s *System) ClearAll(ctx context.Context, dpids []uint64) {
	for _, id := range dpids {
		s.Rules.ClearAll(ctx, id)
	}
}
