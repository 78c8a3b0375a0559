// Package plan assembles an experiment plan: the baseline state applied before the
// clock starts and the timed reconfiguration actions fired after it.
package plan

import (
	"context"
	"fmt"
	"sort"
	"time"

	reconf_context "github.com/comp590/reconf/internal/context"
	"github.com/comp590/reconf/internal/flowrule"
	"github.com/comp590/reconf/internal/path"
	"github.com/comp590/reconf/internal/sched"
	"github.com/comp590/reconf/internal/system"
	"github.com/comp590/reconf/pkg/factory"
)

type Plan struct {
	Circuits []reconf_context.CircuitMapping
	Baseline []reconf_context.PathRef
	Actions  []sched.Action
}

func New() *Plan {
	return &Plan{}
}

// AddBaseline registers a path installed synchronously before any timer starts.
func (p *Plan) AddBaseline(pt path.Path, priority int) {
	p.Baseline = append(p.Baseline, reconf_context.PathRef{Path: pt, Priority: priority})
}

func (p *Plan) AddBaselineCircuit(m reconf_context.CircuitMapping) {
	p.Circuits = append(p.Circuits, m)
}

// At registers op to fire offset after the experiment starts.
func (p *Plan) At(offset time.Duration, label string, op sched.Op) {
	p.Actions = append(p.Actions, sched.Action{Offset: offset, Label: label, Op: op})
}

// Timeline returns the actions ordered by offset, ties in registration order.
func (p *Plan) Timeline() []sched.Action {
	actions := append([]sched.Action(nil), p.Actions...)
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Offset < actions[j].Offset
	})
	return actions
}

// Apply establishes the baseline: circuits first, then paths in registration order.
func (p *Plan) Apply(ctx context.Context, sys *system.System) error {
	if err := p.ApplyCircuits(sys); err != nil {
		return err
	}
	return p.ApplyPaths(ctx, sys)
}

func (p *Plan) ApplyCircuits(sys *system.System) error {
	for _, m := range p.Circuits {
		if err := sys.Connect(m.In, m.Out); err != nil {
			return fmt.Errorf("baseline circuit %s: %w", m.Name, err)
		}
	}
	return nil
}

func (p *Plan) ApplyPaths(ctx context.Context, sys *system.System) error {
	for _, ref := range p.Baseline {
		if err := sys.Rules.InstallPath(ctx, ref.Path, ref.Priority); err != nil {
			return fmt.Errorf("baseline: %w", err)
		}
	}
	return nil
}

func InstallPathOp(sys *system.System, pt path.Path, priority int) sched.Op {
	return func(ctx context.Context) error {
		return sys.Rules.InstallPath(ctx, pt, priority)
	}
}

func RemovePathOp(sys *system.System, pt path.Path, priority int) sched.Op {
	return func(ctx context.Context) error {
		return sys.Rules.RemovePath(ctx, pt, priority)
	}
}

func ConnectOp(sys *system.System, m reconf_context.CircuitMapping) sched.Op {
	return func(context.Context) error {
		return sys.Connect(m.In, m.Out)
	}
}

func DisconnectAllOp(sys *system.System) sched.Op {
	return func(context.Context) error {
		return sys.DisconnectAll()
	}
}

// FromConfig resolves the experiment section against the loaded testbed.
func FromConfig(exp *factory.Experiment, rctx *reconf_context.ReconfContext, sys *system.System) (*Plan, error) {
	p := New()

	if b := exp.Baseline; b != nil {
		for _, name := range b.Circuits {
			m, err := rctx.Circuit(name)
			if err != nil {
				return nil, fmt.Errorf("baseline: %w", err)
			}
			p.AddBaselineCircuit(m)
		}
		for _, ref := range b.Paths {
			pt, err := rctx.Path(ref.Path)
			if err != nil {
				return nil, fmt.Errorf("baseline: %w", err)
			}
			p.AddBaseline(pt, priorityOf(ref.Priority))
		}
	}

	for i, a := range exp.Actions {
		at, err := time.ParseDuration(a.At)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}

		var (
			op    sched.Op
			label = a.Label
			prio  = priorityOf(a.Priority)
		)
		switch a.Kind {
		case factory.ActionInstall, factory.ActionRemove:
			pt, err := rctx.Path(a.Path)
			if err != nil {
				return nil, fmt.Errorf("action %d: %w", i, err)
			}
			if a.Kind == factory.ActionInstall {
				op = InstallPathOp(sys, pt, prio)
			} else {
				op = RemovePathOp(sys, pt, prio)
			}
			if label == "" {
				label = fmt.Sprintf("%s %s prio %d", a.Kind, a.Path, prio)
			}
		case factory.ActionConnect:
			m, err := rctx.Circuit(a.Circuit)
			if err != nil {
				return nil, fmt.Errorf("action %d: %w", i, err)
			}
			op = ConnectOp(sys, m)
			if label == "" {
				label = "connect " + a.Circuit
			}
		case factory.ActionDisconnect:
			op = DisconnectAllOp(sys)
			if label == "" {
				label = "disconnect all"
			}
		default:
			return nil, fmt.Errorf("action %d: unknown kind %q", i, a.Kind)
		}

		p.At(at, label, op)
	}

	return p, nil
}

func priorityOf(p *int) int {
	if p == nil {
		return flowrule.DefaultPriority
	}
	return *p
}
