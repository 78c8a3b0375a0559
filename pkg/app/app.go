package app

import (
	reconf_context "github.com/comp590/reconf/internal/context"
	"github.com/comp590/reconf/pkg/factory"
)

type App interface {
	SetLogEnable(enable bool)
	SetLogLevel(level string)
	SetReportCaller(reportCaller bool)

	Start()
	Terminate()

	Context() *reconf_context.ReconfContext
	Config() *factory.Config
}
