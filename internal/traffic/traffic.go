// Package traffic starts the measurement side of an experiment on remote hosts:
// iperf3 servers and clients and tcpdump captures.
package traffic

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/comp590/reconf/internal/logger"
	"github.com/comp590/reconf/internal/remote"
)

const DefaultCaptureSize = 96

func IperfServerCommand() string {
	return "iperf3 -s -1"
}

func IperfClientCommand(server string, d time.Duration, bandwidth string) string {
	cmd := fmt.Sprintf("iperf3 -c %s -t %d", server, int(d.Round(time.Second)/time.Second))
	if bandwidth != "" {
		cmd += " -b " + bandwidth
	}
	return cmd
}

type Capture struct {
	Nic      string
	Dir      string
	Name     string
	Duration time.Duration
	// Snaplen is the per-packet capture size in bytes.
	Snaplen int
}

func (c Capture) Command() string {
	snaplen := c.Snaplen
	if snaplen <= 0 {
		snaplen = DefaultCaptureSize
	}
	file := path.Join(c.Dir, c.Name+".pcap")

	args := []string{
		"timeout", fmt.Sprintf("%d", int(c.Duration.Round(time.Second)/time.Second)),
		"tcpdump",
	}
	if c.Nic != "" {
		args = append(args, "-i", c.Nic)
	}
	args = append(args, "-s", fmt.Sprintf("%d", snaplen), "-w", file)
	return strings.Join(args, " ")
}

// CaptureName names a capture after what it measures, e.g. vm2-vm3_10g_20221019-1504.
func CaptureName(client, server, bandwidth string, at time.Time) string {
	name := client + "-" + server
	if bandwidth != "" {
		name += "_" + bandwidth
	}
	return name + "_" + at.Format("20060102-150405")
}

// Group runs side commands concurrently and joins them at the end of the run.
type Group struct {
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// Go runs cmd on r in the background.
func (g *Group) Go(ctx context.Context, name string, r remote.Runner, cmd string) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		logger.DriverLog.Infof("[%s] start: %s", name, cmd)
		out, err := r.Run(ctx, cmd)
		if err != nil {
			logger.DriverLog.Warnf("[%s] %+v", name, err)
			g.mu.Lock()
			g.errs = append(g.errs, fmt.Errorf("%s: %w", name, err))
			g.mu.Unlock()
			return
		}
		logger.DriverLog.Infof("[%s] finished", name)
		if out = strings.TrimSpace(out); out != "" {
			logger.DriverLog.Debugf("[%s] output:\n%s", name, out)
		}
	}()
}

// Wait joins every started command and returns their errors.
func (g *Group) Wait() []error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]error(nil), g.errs...)
}
