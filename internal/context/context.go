package context

import (
	"fmt"
	"time"

	"github.com/comp590/reconf/internal/logger"
	"github.com/comp590/reconf/internal/ofctl"
	"github.com/comp590/reconf/internal/ots"
	"github.com/comp590/reconf/internal/path"
	"github.com/comp590/reconf/pkg/factory"
)

// ReconfContext is the resolved, read-only view of one experiment configuration.
// Components receive the parts they need from it at construction time.
type ReconfContext struct {
	Hardware

	RuleTable  ofctl.Config
	Ots        *ots.Config
	KnownHosts string

	Duration         time.Duration
	DisconnectOnExit bool
}

func NewContext(cfg *factory.Config) (*ReconfContext, error) {
	c := cfg.Configuration
	rt := c.RuleTable

	ctx := &ReconfContext{
		Hardware: Hardware{
			Switches: make(map[string]uint64, len(c.Switches)),
			Paths:    make(map[string]path.Path, len(c.Paths)),
			Circuits: make(map[string]CircuitMapping, len(c.Circuits)),
			Hosts:    make(map[string]Host, len(c.Hosts)),
		},
		RuleTable: ofctl.Config{
			BaseURL:    rt.BaseURL,
			AddPath:    rt.AddFlow,
			DeletePath: rt.DeleteFlow,
			ClearPath:  rt.ClearFlow,
			Strictness: ofctl.Strictness(rt.Strictness),
			Timeout:    rt.TimeoutDuration(),
		},
		KnownHosts: c.KnownHosts,
		Duration:   cfg.Duration(),
	}

	if c.Ots != nil {
		ctx.Ots = &ots.Config{
			Host:        c.Ots.Host,
			Port:        c.Ots.Port,
			DialTimeout: c.Ots.DialTimeoutDuration(),
		}
		ctx.DisconnectOnExit = c.Ots.DisconnectOnTeardown
	}

	for _, sw := range c.Switches {
		ctx.SwitchOrder = append(ctx.SwitchOrder, sw.Name)
		ctx.Switches[sw.Name] = sw.Dpid
	}

	for _, p := range c.Paths {
		hops := make([]path.Hop, 0, len(p.Hops))
		for _, h := range p.Hops {
			dpid, ok := ctx.Switches[h.Switch]
			if !ok {
				return nil, fmt.Errorf("path %s: unknown switch %s", p.Name, h.Switch)
			}
			hops = append(hops, path.Hop{Switch: dpid, In: h.In, Out: h.Out})
		}
		np := path.New(p.Name, p.Src, p.Dst, hops...)
		if err := np.Validate(); err != nil {
			return nil, err
		}
		ctx.Paths[p.Name] = np
		logger.CtxLog.Debugf("Path %s", np)
	}

	for _, ci := range c.Circuits {
		ctx.Circuits[ci.Name] = CircuitMapping{Name: ci.Name, In: ci.In, Out: ci.Out}
	}

	for _, h := range c.Hosts {
		ctx.Hosts[h.Name] = Host{
			Name:     h.Name,
			Addr:     h.Addr,
			User:     h.User,
			Password: h.Password,
			KeyFile:  h.KeyFile,
			Jump:     h.Jump,
			Nic:      h.Nic,
		}
	}

	logger.CtxLog.Infof("Loaded %d switches, %d paths, %d circuits, %d hosts",
		len(ctx.Switches), len(ctx.Paths), len(ctx.Circuits), len(ctx.Hosts))

	return ctx, nil
}

func (c *ReconfContext) Path(name string) (path.Path, error) {
	p, ok := c.Paths[name]
	if !ok {
		return path.Path{}, fmt.Errorf("unknown path %q", name)
	}
	return p, nil
}

func (c *ReconfContext) Circuit(name string) (CircuitMapping, error) {
	m, ok := c.Circuits[name]
	if !ok {
		return CircuitMapping{}, fmt.Errorf("unknown circuit %q", name)
	}
	return m, nil
}
