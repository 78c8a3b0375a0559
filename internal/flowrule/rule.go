// Package flowrule builds forwarding-rule descriptors and serializes them into the
// JSON documents accepted by the ofctl_rest flow-entry endpoints.
package flowrule

import (
	"encoding/json"
	"fmt"
)

type Action int

const (
	Install Action = iota
	Remove
)

func (a Action) String() string {
	switch a {
	case Install:
		return "INSTALL"
	case Remove:
		return "REMOVE"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

const (
	DefaultPriority = 10
	DefaultTable    = 0

	// EtherTypeIPv4 is 0x0800; JSON has no hex literals.
	EtherTypeIPv4 = 0x0800
)

// Rule is one per-switch forwarding decision. It is a value: build it with NewRule
// and never modify it afterwards.
type Rule struct {
	Switch   uint64
	Table    int
	Priority int
	InPort   int
	OutPort  int
	Src      string
	Dst      string
}

type RuleOption func(*Rule)

// WithPriority overrides DefaultPriority. Zero is a valid OpenFlow priority.
func WithPriority(priority int) RuleOption {
	return func(r *Rule) {
		r.Priority = priority
	}
}

func NewRule(dpid uint64, inPort, outPort int, src, dst string, opts ...RuleOption) Rule {
	r := Rule{
		Switch:   dpid,
		Table:    DefaultTable,
		Priority: DefaultPriority,
		InPort:   inPort,
		OutPort:  outPort,
		Src:      src,
		Dst:      dst,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Reverse returns the rule for the opposite direction through the same switch.
func (r Rule) Reverse() Rule {
	rev := r
	rev.InPort, rev.OutPort = r.OutPort, r.InPort
	rev.Src, rev.Dst = r.Dst, r.Src
	return rev
}

func (r Rule) String() string {
	return fmt.Sprintf("dpid=%d prio=%d in=%d out=%d %s->%s",
		r.Switch, r.Priority, r.InPort, r.OutPort, r.Src, r.Dst)
}

type Match struct {
	InPort  int    `json:"in_port"`
	OutPort *int   `json:"out_port,omitempty"`
	DlType  int    `json:"dl_type"`
	NwSrc   string `json:"nw_src"`
	NwDst   string `json:"nw_dst"`
}

type OutputAction struct {
	Type string `json:"type"`
	Port int    `json:"port"`
}

type Instruction struct {
	Type    string         `json:"type"`
	Actions []OutputAction `json:"actions"`
}

// FlowEntry is the request body of the add and delete_strict endpoints.
type FlowEntry struct {
	Dpid         uint64        `json:"dpid"`
	TableID      int           `json:"table_id"`
	Priority     int           `json:"priority"`
	Match        Match         `json:"match"`
	Instructions []Instruction `json:"instructions,omitempty"`
}

// Entry shapes r for the given action. An install carries exactly one OUTPUT action
// and no out_port in the match; a remove matches on out_port and has no instructions,
// so the controller only deletes the rule that forwarded to that port.
func Entry(r Rule, a Action) FlowEntry {
	e := FlowEntry{
		Dpid:     r.Switch,
		TableID:  r.Table,
		Priority: r.Priority,
		Match: Match{
			InPort: r.InPort,
			DlType: EtherTypeIPv4,
			NwSrc:  r.Src,
			NwDst:  r.Dst,
		},
	}

	switch a {
	case Remove:
		out := r.OutPort
		e.Match.OutPort = &out
	default:
		e.Instructions = []Instruction{
			{
				Type:    "APPLY_ACTIONS",
				Actions: []OutputAction{{Type: "OUTPUT", Port: r.OutPort}},
			},
		}
	}

	return e
}

func Encode(r Rule, a Action) ([]byte, error) {
	b, err := json.Marshal(Entry(r, a))
	if err != nil {
		return nil, fmt.Errorf("encode %s rule [%s]: %w", a, r, err)
	}
	return b, nil
}
