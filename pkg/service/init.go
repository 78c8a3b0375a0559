package service

import (
	"context"
	"io"
	"os"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	reconf_context "github.com/comp590/reconf/internal/context"
	"github.com/comp590/reconf/internal/driver"
	"github.com/comp590/reconf/internal/logger"
	"github.com/comp590/reconf/pkg/app"
	"github.com/comp590/reconf/pkg/factory"
)

var _ app.App = &ReconfApp{}

type ReconfApp struct {
	reconfCtx *reconf_context.ReconfContext
	cfg       *factory.Config

	reconfServer *driver.Server
	runErr       error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewApp(ctx context.Context, cfg *factory.Config, opts ...driver.Option) (*ReconfApp, error) {
	var err error

	reconfApp := &ReconfApp{
		cfg: cfg,
		wg:  sync.WaitGroup{},
	}
	reconfApp.SetLogEnable(cfg.GetLogEnable())
	reconfApp.SetLogLevel(cfg.GetLogLevel())
	reconfApp.SetReportCaller(cfg.GetLogReportCaller())

	if reconfApp.reconfCtx, err = reconf_context.NewContext(cfg); err != nil {
		return nil, err
	}

	reconfApp.ctx, reconfApp.cancel = context.WithCancel(ctx)

	if reconfApp.reconfServer, err = driver.NewServer(reconfApp, opts...); err != nil {
		return nil, err
	}

	return reconfApp, nil
}

func (a *ReconfApp) CancelContext() context.Context {
	return a.ctx
}

func (a *ReconfApp) Context() *reconf_context.ReconfContext {
	return a.reconfCtx
}

func (a *ReconfApp) Config() *factory.Config {
	return a.cfg
}

func (a *ReconfApp) Server() *driver.Server {
	return a.reconfServer
}

// Err is the setup error of the last run, if any.
func (a *ReconfApp) Err() error {
	return a.runErr
}

// SetLogEnable routes every log category to stderr or drops it. The config always
// records the choice, even when the output is already in that state.
func (a *ReconfApp) SetLogEnable(enable bool) {
	a.Config().SetLogEnable(enable)

	out := logOutput(enable)
	if logger.Log.Out != out {
		logger.Log.SetOutput(out)
	}
	logger.MainLog.Infof("Log enable is set to [%v]", enable)
}

func logOutput(enable bool) io.Writer {
	if enable {
		return os.Stderr
	}
	return io.Discard
}

// SetLogLevel ignores levels logrus does not know and keeps the current one.
func (a *ReconfApp) SetLogLevel(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logger.MainLog.Warnf("Log level [%s] is invalid, keeping [%s]", level, logger.Log.GetLevel())
		return
	}

	a.Config().SetLogLevel(level)
	logger.Log.SetLevel(lvl)
	logger.MainLog.Infof("Log level is set to [%s]", lvl)
}

func (a *ReconfApp) SetReportCaller(reportCaller bool) {
	a.Config().SetLogReportCaller(reportCaller)
	logger.Log.SetReportCaller(reportCaller)
	logger.MainLog.Infof("Report Caller is set to [%v]", reportCaller)
}

// Start runs the experiment and returns once it is over and torn down.
func (a *ReconfApp) Start() {
	logger.InitLog.Infoln("Experiment starting")

	a.wg.Add(1)
	go a.listenShutdownEvent()

	if err := a.reconfServer.Run(a.ctx, &a.wg); err != nil {
		logger.MainLog.Errorf("Run reconf experiment failed: %+v", err)
		a.runErr = err
	}

	a.Terminate()
	a.wg.Wait()
}

func (a *ReconfApp) listenShutdownEvent() {
	defer func() {
		if p := recover(); p != nil {
			// Print stack for panic to log. Fatalf() will let program exit.
			logger.MainLog.Fatalf("panic: %v\n%s", p, string(debug.Stack()))
		}
		a.wg.Done()
	}()

	<-a.ctx.Done()
	a.terminateProcedure()
}

func (a *ReconfApp) Terminate() {
	a.cancel()
}

func (a *ReconfApp) terminateProcedure() {
	logger.MainLog.Infof("Terminating reconf...")
	a.CallServerStop()
}

func (a *ReconfApp) CallServerStop() {
	if a.reconfServer != nil {
		a.reconfServer.Stop()
	}
}
