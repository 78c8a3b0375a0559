package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/comp590/reconf/internal/logger"
	"github.com/comp590/reconf/pkg/app"
)

type ServerReconf interface {
	app.App

	CancelContext() context.Context
}

// Server ties one Driver to the app lifecycle.
type Server struct {
	ServerReconf

	driver *Driver
	report *Report
}

func NewServer(reconf ServerReconf, opts ...Option) (*Server, error) {
	rctx := reconf.Context()
	if rctx == nil {
		return nil, fmt.Errorf("reconf context not initialized")
	}

	s := &Server{
		ServerReconf: reconf,
		driver:       New(rctx, reconf.Config().Configuration.Experiment, opts...),
	}

	return s, nil
}

func (s *Server) Driver() *Driver {
	return s.driver
}

func (s *Server) Report() *Report {
	return s.report
}

// Run blocks until the experiment is over or cannot be set up.
func (s *Server) Run(traceCtx context.Context, wg *sync.WaitGroup) error {
	logger.DriverLog.Info("Reconf experiment is running")

	wg.Add(1)
	defer wg.Done()

	report, err := s.driver.Run(traceCtx)
	if err != nil {
		return err
	}
	s.report = report

	for _, a := range report.Actions {
		late := a.Late(report.Start)
		if a.Err != nil {
			logger.DriverLog.Errorf("  %-24s +%-8v late %-12v FAILED: %v", a.Label, a.Offset, late, a.Err)
			continue
		}
		logger.DriverLog.Infof("  %-24s +%-8v late %-12v took %v", a.Label, a.Offset, late,
			a.Finished.Sub(a.Started))
	}
	for _, e := range report.Side {
		logger.DriverLog.Warnf("  side activity: %v", e)
	}

	return nil
}

func (s *Server) Stop() {
	logger.DriverLog.Info("Reconf experiment stopped")
}
