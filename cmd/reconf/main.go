package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/comp590/reconf/internal/logger"
	"github.com/comp590/reconf/pkg/factory"
	"github.com/comp590/reconf/pkg/service"
)

func main() {
	defer func() {
		if p := recover(); p != nil {
			// Print stack for panic to log. Fatalf() will let program exit.
			logger.MainLog.Fatalf("panic: %v\n%s", p, string(debug.Stack()))
		}
	}()

	app := cli.NewApp()
	app.Name = "reconf"
	app.Usage = "Live SDN path and optical circuit reconfiguration experiments"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "Load configuration from `FILE`",
			Value: factory.ReconfDefaultConfigPath,
		},
		cli.StringFlag{
			Name:  "log-level, l",
			Usage: "Override the configured log level",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "Run the configured experiment",
			Action: action,
		},
		{
			Name:   "clear",
			Usage:  "Remove every flow entry on the configured switches",
			Action: clearAction,
		},
		{
			Name:  "bench",
			Usage: "Measure flow installation latency on one path",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "path, p", Usage: "Path `NAME` to install"},
				cli.IntFlag{Name: "iterations, n", Usage: "Number of installs", Value: 100},
				cli.StringFlag{Name: "capture-host", Usage: "Capture controller traffic on host `NAME` during the run"},
			},
			Action: benchAction,
		},
	}
	app.Action = action

	if err := app.Run(os.Args); err != nil {
		logger.MainLog.Errorf("Reconf Run Error: %v\n", err)
		os.Exit(1)
	}
}

func initApp(c *cli.Context) (context.Context, context.CancelFunc, *service.ReconfApp, error) {
	abs, err := filepath.Abs(globalString(c, "config"))
	if err != nil {
		return nil, nil, nil, err
	}

	cfg, err := factory.ReadConfig(abs)
	if err != nil {
		return nil, nil, nil, err
	}
	if lvl := globalString(c, "log-level"); lvl != "" {
		cfg.SetLogLevel(lvl)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	reconfApp, err := service.NewApp(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, fmt.Errorf("new reconf app failed: %+v", err)
	}
	return ctx, cancel, reconfApp, nil
}

// globalString reads an app-level flag from the root action or a subcommand.
func globalString(c *cli.Context, name string) string {
	if v := c.GlobalString(name); v != "" {
		return v
	}
	return c.String(name)
}

func action(c *cli.Context) error {
	_, cancel, reconfApp, err := initApp(c)
	if err != nil {
		return err
	}
	defer cancel()

	reconfApp.Start()
	if err := reconfApp.Err(); err != nil {
		return err
	}
	if report := reconfApp.Server().Report(); report != nil && report.Failed() > 0 {
		return fmt.Errorf("%d of %d actions failed", report.Failed(), len(report.Actions))
	}
	return nil
}

func clearAction(c *cli.Context) error {
	ctx, cancel, reconfApp, err := initApp(c)
	if err != nil {
		return err
	}
	defer cancel()

	reconfApp.Server().Driver().Clear(ctx)
	return nil
}

func benchAction(c *cli.Context) error {
	ctx, cancel, reconfApp, err := initApp(c)
	if err != nil {
		return err
	}
	defer cancel()

	name := c.String("path")
	if name == "" {
		return fmt.Errorf("bench needs --path")
	}

	took, err := reconfApp.Server().Driver().Bench(ctx, name, c.Int("iterations"), c.String("capture-host"))
	if len(took) > 0 {
		printBench(took)
	}
	return err
}

func printBench(took []time.Duration) {
	var total, worst time.Duration
	for _, d := range took {
		total += d
		if d > worst {
			worst = d
		}
	}
	logger.MainLog.Infof("%d installs, mean %v, worst %v", len(took), total/time.Duration(len(took)), worst)
}
