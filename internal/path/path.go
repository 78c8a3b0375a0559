// Package path describes operator-specified end-to-end routes between two hosts as
// ordered per-switch hops, and derives the bidirectional rule set of a route at a
// given priority.
package path

import (
	"fmt"
	"strings"

	"github.com/comp590/reconf/internal/flowrule"
)

// Hop is one switch's forwarding decision in the Src->Dst direction.
type Hop struct {
	Switch uint64
	In     int
	Out    int
}

type Path struct {
	Name string
	Src  string
	Dst  string
	Hops []Hop
}

func New(name, src, dst string, hops ...Hop) Path {
	return Path{Name: name, Src: src, Dst: dst, Hops: hops}
}

// Rules returns 2*len(Hops) rules in hop order, forward then reverse for each hop.
func (p Path) Rules(priority int) []flowrule.Rule {
	rules := make([]flowrule.Rule, 0, 2*len(p.Hops))
	for _, h := range p.Hops {
		fwd := flowrule.NewRule(h.Switch, h.In, h.Out, p.Src, p.Dst, flowrule.WithPriority(priority))
		rules = append(rules, fwd, fwd.Reverse())
	}
	return rules
}

// Switches returns the datapath ids the path crosses, in hop order without repeats.
func (p Path) Switches() []uint64 {
	seen := make(map[uint64]bool, len(p.Hops))
	var ids []uint64
	for _, h := range p.Hops {
		if !seen[h.Switch] {
			seen[h.Switch] = true
			ids = append(ids, h.Switch)
		}
	}
	return ids
}

func (p Path) Validate() error {
	if len(p.Hops) == 0 {
		return fmt.Errorf("path %q has no hops", p.Name)
	}
	if p.Src == "" || p.Dst == "" {
		return fmt.Errorf("path %q needs both src and dst", p.Name)
	}
	return nil
}

func (p Path) String() string {
	hops := make([]string, 0, len(p.Hops))
	for _, h := range p.Hops {
		hops = append(hops, fmt.Sprintf("%d[%d>%d]", h.Switch, h.In, h.Out))
	}
	return fmt.Sprintf("%s(%s<->%s: %s)", p.Name, p.Src, p.Dst, strings.Join(hops, " "))
}
