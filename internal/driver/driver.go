// Package driver runs one reconfiguration experiment end to end: reset the
// switches, establish the baseline, start traffic, fire the timed actions, wait out
// the run and tear everything down.
package driver

import (
	"context"
	"fmt"
	"io"
	"time"

	reconf_context "github.com/comp590/reconf/internal/context"
	"github.com/comp590/reconf/internal/logger"
	"github.com/comp590/reconf/internal/ofctl"
	"github.com/comp590/reconf/internal/ots"
	"github.com/comp590/reconf/internal/plan"
	"github.com/comp590/reconf/internal/remote"
	"github.com/comp590/reconf/internal/sched"
	"github.com/comp590/reconf/internal/system"
	"github.com/comp590/reconf/internal/traffic"
	"github.com/comp590/reconf/pkg/factory"
)

const (
	// captureSlack keeps captures running a little past the iperf3 client.
	captureSlack = 3 * time.Second

	benchCaptureWindow = 10 * time.Second
	benchSnaplen       = 1500
)

type CircuitDialer func(cfg ots.Config) (system.CircuitSwitch, io.Closer, error)

type Driver struct {
	rctx *reconf_context.ReconfContext
	exp  *factory.Experiment

	rules  system.RuleTable
	dial   CircuitDialer
	hosts  system.Hosts
	warmup time.Duration
}

type Option func(*Driver)

func WithRuleTable(rt system.RuleTable) Option {
	return func(d *Driver) { d.rules = rt }
}

func WithCircuitDialer(dial CircuitDialer) Option {
	return func(d *Driver) { d.dial = dial }
}

func WithHosts(h system.Hosts) Option {
	return func(d *Driver) { d.hosts = h }
}

// WithWarmup sets the pause between starting iperf3 servers and their clients.
func WithWarmup(w time.Duration) Option {
	return func(d *Driver) { d.warmup = w }
}

func New(rctx *reconf_context.ReconfContext, exp *factory.Experiment, opts ...Option) *Driver {
	d := &Driver{
		rctx: rctx,
		exp:  exp,
		dial: func(cfg ots.Config) (system.CircuitSwitch, io.Closer, error) {
			c, conn, err := ots.Dial(cfg)
			if err != nil {
				return nil, nil, err
			}
			return c, conn, nil
		},
		warmup: time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.rules == nil {
		d.rules = ofctl.NewClient(rctx.RuleTable)
	}
	if d.hosts == nil {
		d.hosts = remote.NewPool(&rctx.Hardware, rctx.KnownHosts)
	}
	return d
}

type Report struct {
	Start   time.Time
	Elapsed time.Duration
	Actions []reconf_context.ActionStatus
	// Side holds failures of traffic and capture commands.
	Side []error
}

// Failed counts actions that ended with an error.
func (r *Report) Failed() int {
	n := 0
	for _, a := range r.Actions {
		if a.Err != nil {
			n++
		}
	}
	return n
}

// Run executes the experiment. An error means the run could not be set up; failures
// of individual actions are in the report.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	sys := &system.System{Rules: d.rules, Hosts: d.hosts}

	var otsConn io.Closer
	if d.rctx.Ots != nil {
		c, conn, err := d.dial(*d.rctx.Ots)
		if err != nil {
			d.closeHosts()
			return nil, fmt.Errorf("open optical switch: %w", err)
		}
		sys.Circuit, otsConn = c, conn
	}
	defer d.teardown(sys, otsConn)

	p, err := plan.FromConfig(d.exp, d.rctx, sys)
	if err != nil {
		return nil, err
	}

	// the optical mapping goes in before the rule tables are reset
	if err := p.ApplyCircuits(sys); err != nil {
		return nil, err
	}

	logger.DriverLog.Infof("Clearing flows on %d switches", len(d.rctx.SwitchOrder))
	sys.ClearAll(ctx, d.rctx.Dpids())

	if err := p.ApplyPaths(ctx, sys); err != nil {
		return nil, err
	}
	logger.DriverLog.Infof("Baseline established: %d circuits, %d paths", len(p.Circuits), len(p.Baseline))

	sideCtx, cancelSide := context.WithCancel(ctx)
	defer cancelSide()

	var side traffic.Group
	if err := d.startTraffic(sideCtx, sys, &side); err != nil {
		// servers already started would wait forever for their client
		cancelSide()
		if errs := side.Wait(); len(errs) > 0 {
			logger.DriverLog.Debugf("Side activities stopped: %v", errs)
		}
		return nil, err
	}

	// armed actions run to completion even if the run is interrupted
	s := sched.New(p.Timeline())
	join, err := s.Start(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	start := s.StartTime()
	logger.DriverLog.Infof("Experiment started, running for %v", d.rctx.Duration)

	select {
	case <-time.After(d.rctx.Duration):
	case <-ctx.Done():
		logger.DriverLog.Warnf("Interrupted, waiting for armed actions to finish")
	}

	report := &Report{Start: start}
	report.Actions = join()
	report.Side = side.Wait()
	report.Elapsed = time.Since(start)

	logger.DriverLog.Infof("Experiment finished in %v: %d actions, %d failed",
		report.Elapsed, len(report.Actions), report.Failed())
	return report, nil
}

func (d *Driver) startTraffic(ctx context.Context, sys *system.System, g *traffic.Group) error {
	tr := d.exp.Traffic
	if tr == nil || len(tr.Flows) == 0 {
		return nil
	}

	now := time.Now()
	for _, f := range tr.Flows {
		client, err := sys.Hosts.Get(f.Client)
		if err != nil {
			return err
		}
		server, err := sys.Hosts.Get(f.Server)
		if err != nil {
			return err
		}

		if f.Capture {
			c := traffic.Capture{
				Nic:      d.rctx.Hosts[f.Client].Nic,
				Dir:      tr.CaptureDir,
				Name:     traffic.CaptureName(f.Client, f.Server, tr.Bandwidth, now),
				Duration: d.rctx.Duration + captureSlack,
				Snaplen:  tr.CaptureSize,
			}
			g.Go(ctx, "tcpdump "+f.Client, client, c.Command())
		}
		g.Go(ctx, "iperf3 server "+f.Server, server, traffic.IperfServerCommand())
	}

	if d.warmup > 0 {
		time.Sleep(d.warmup)
	}

	for _, f := range tr.Flows {
		client, err := sys.Hosts.Get(f.Client)
		if err != nil {
			return err
		}
		g.Go(ctx, "iperf3 client "+f.Client, client,
			traffic.IperfClientCommand(f.ServerAddr, d.rctx.Duration, tr.Bandwidth))
	}
	return nil
}

func (d *Driver) teardown(sys *system.System, otsConn io.Closer) {
	if sys.Circuit != nil && d.rctx.DisconnectOnExit {
		if err := sys.DisconnectAll(); err != nil {
			logger.DriverLog.Warnf("Disconnect optical switch: %+v", err)
		}
	}
	if otsConn != nil {
		if err := otsConn.Close(); err != nil {
			logger.DriverLog.Warnf("Close optical switch socket: %+v", err)
		}
	}
	d.closeHosts()
}

func (d *Driver) closeHosts() {
	if err := d.hosts.Close(); err != nil {
		logger.DriverLog.Warnf("Close hosts: %+v", err)
	}
}

// Clear removes every rule on every configured switch.
func (d *Driver) Clear(ctx context.Context) {
	sys := &system.System{Rules: d.rules}
	sys.ClearAll(ctx, d.rctx.Dpids())
	logger.DriverLog.Infof("Cleared %d switches", len(d.rctx.SwitchOrder))
}

// Bench measures rule installation latency: it installs the named path once per
// iteration at priorities 0..iterations-1 and returns the time of each round. With a
// captureHost, a packet capture runs there during the loop so controller-side delay
// can be read from the trace.
func (d *Driver) Bench(ctx context.Context, pathName string, iterations int, captureHost string) ([]time.Duration, error) {
	p, err := d.rctx.Path(pathName)
	if err != nil {
		return nil, err
	}

	d.Clear(ctx)

	var side traffic.Group
	if captureHost != "" {
		r, err := d.hosts.Get(captureHost)
		if err != nil {
			return nil, err
		}
		defer d.closeHosts()

		dir := ""
		if d.exp != nil && d.exp.Traffic != nil {
			dir = d.exp.Traffic.CaptureDir
		}
		c := traffic.Capture{
			Nic:      d.rctx.Hosts[captureHost].Nic,
			Dir:      dir,
			Name:     "flow_delay_" + time.Now().Format("20060102-150405"),
			Duration: benchCaptureWindow,
			Snaplen:  benchSnaplen,
		}
		side.Go(ctx, "tcpdump "+captureHost, r, c.Command())
		if d.warmup > 0 {
			time.Sleep(d.warmup)
		}
	}

	took := make([]time.Duration, 0, iterations)
	for i := 0; i < iterations; i++ {
		if err = ctx.Err(); err != nil {
			break
		}
		begin := time.Now()
		if err = d.rules.InstallPath(ctx, p, i); err != nil {
			break
		}
		took = append(took, time.Since(begin))
		if i%20 == 0 {
			logger.DriverLog.Infof("Iteration %d: %v", i, took[i])
		}
	}

	for _, e := range side.Wait() {
		logger.DriverLog.Warnf("Capture: %v", e)
	}
	return took, err
}
