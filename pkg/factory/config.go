/*
 * Reconf Configuration Factory
 */

package factory

import (
	"fmt"
	"sync"
	"time"

	"github.com/asaskevich/govalidator"

	"github.com/comp590/reconf/internal/logger"
)

const (
	ReconfDefaultConfigPath = "./config/reconfcfg.yaml"
	ReconfDefaultLogLevel   = "info"

	ActionInstall    = "install"
	ActionRemove     = "remove"
	ActionConnect    = "connect"
	ActionDisconnect = "disconnect"
)

type Config struct {
	Info          *Info          `yaml:"info" valid:"required"`
	Configuration *Configuration `yaml:"configuration" valid:"required"`
	Logger        *Logger        `yaml:"logger" valid:"required"`
	sync.RWMutex
}

func (c *Config) Validate() (bool, error) {
	if _, err := govalidator.ValidateStruct(c); err != nil {
		return false, appendInvalid(err)
	}
	if err := c.Configuration.validate(); err != nil {
		return false, err
	}
	return true, nil
}

type Info struct {
	Version     string `yaml:"version" valid:"required,in(1.0.0)"`
	Description string `yaml:"description,omitempty" valid:"type(string)"`
}

type Configuration struct {
	RuleTable  *RuleTable  `yaml:"ruleTable" valid:"required"`
	Ots        *Ots        `yaml:"ots,omitempty" valid:"optional"`
	Switches   []Switch    `yaml:"switches" valid:"required"`
	Paths      []Path      `yaml:"paths" valid:"required"`
	Circuits   []Circuit   `yaml:"circuits,omitempty" valid:"optional"`
	Hosts      []Host      `yaml:"hosts,omitempty" valid:"optional"`
	KnownHosts string      `yaml:"knownHosts,omitempty" valid:"optional"`
	Experiment *Experiment `yaml:"experiment" valid:"required"`
}

type RuleTable struct {
	BaseURL    string `yaml:"baseUrl" valid:"url,required"`
	AddFlow    string `yaml:"addFlow,omitempty" valid:"optional"`
	DeleteFlow string `yaml:"deleteFlow,omitempty" valid:"optional"`
	ClearFlow  string `yaml:"clearFlow,omitempty" valid:"optional"`
	Strictness string `yaml:"strictness,omitempty" valid:"optional,in(lenient|strict)"`
	Timeout    string `yaml:"timeout,omitempty" valid:"optional"`
}

type Ots struct {
	Host                 string `yaml:"host" valid:"host,required"`
	Port                 int    `yaml:"port" valid:"required"`
	DialTimeout          string `yaml:"dialTimeout,omitempty" valid:"optional"`
	DisconnectOnTeardown bool   `yaml:"disconnectOnTeardown,omitempty"`
}

type Switch struct {
	Name string `yaml:"name" valid:"required"`
	Dpid uint64 `yaml:"dpid"`
}

type Hop struct {
	Switch string `yaml:"switch" valid:"required"`
	In     int    `yaml:"in"`
	Out    int    `yaml:"out"`
}

type Path struct {
	Name string `yaml:"name" valid:"required"`
	Src  string `yaml:"src" valid:"required"`
	Dst  string `yaml:"dst" valid:"required"`
	Hops []Hop  `yaml:"hops" valid:"required"`
}

type Circuit struct {
	Name string `yaml:"name" valid:"required"`
	In   []int  `yaml:"in"`
	Out  []int  `yaml:"out"`
}

type Host struct {
	Name     string `yaml:"name" valid:"required"`
	Addr     string `yaml:"addr" valid:"dialstring,required"`
	User     string `yaml:"user" valid:"required"`
	Password string `yaml:"password,omitempty" valid:"optional"`
	KeyFile  string `yaml:"keyFile,omitempty" valid:"optional"`
	// Jump names another host used as SSH gateway.
	Jump string `yaml:"jump,omitempty" valid:"optional"`
	Nic  string `yaml:"nic,omitempty" valid:"optional"`
}

type PathRef struct {
	Path string `yaml:"path" valid:"required"`
	// Priority is optional; an absent value is not the same as priority 0.
	Priority *int `yaml:"priority,omitempty"`
}

type Action struct {
	At       string `yaml:"at" valid:"required"`
	Kind     string `yaml:"kind" valid:"required,in(install|remove|connect|disconnect)"`
	Label    string `yaml:"label,omitempty" valid:"optional"`
	Path     string `yaml:"path,omitempty" valid:"optional"`
	Priority *int   `yaml:"priority,omitempty"`
	Circuit  string `yaml:"circuit,omitempty" valid:"optional"`
}

type Baseline struct {
	Circuits []string  `yaml:"circuits,omitempty"`
	Paths    []PathRef `yaml:"paths,omitempty" valid:"optional"`
}

type TrafficFlow struct {
	Client     string `yaml:"client" valid:"required"`
	Server     string `yaml:"server" valid:"required"`
	ServerAddr string `yaml:"serverAddr" valid:"host,required"`
	Capture    bool   `yaml:"capture,omitempty"`
}

type Traffic struct {
	Bandwidth   string        `yaml:"bandwidth,omitempty" valid:"optional"`
	CaptureDir  string        `yaml:"captureDir,omitempty" valid:"optional"`
	CaptureSize int           `yaml:"captureSize,omitempty"`
	Flows       []TrafficFlow `yaml:"flows,omitempty" valid:"optional"`
}

type Experiment struct {
	Duration string    `yaml:"duration" valid:"required"`
	Baseline *Baseline `yaml:"baseline,omitempty" valid:"optional"`
	Actions  []Action  `yaml:"actions,omitempty" valid:"optional"`
	Traffic  *Traffic  `yaml:"traffic,omitempty" valid:"optional"`
}

type Logger struct {
	Enable       bool   `yaml:"enable" valid:"type(bool)"`
	Level        string `yaml:"level" valid:"required,in(trace|debug|info|warn|error|fatal|panic)"`
	ReportCaller bool   `yaml:"reportCaller" valid:"type(bool)"`
}

func (c *Configuration) validate() error {
	switches := make(map[string]bool, len(c.Switches))
	for _, sw := range c.Switches {
		if switches[sw.Name] {
			return fmt.Errorf("duplicate switch %q", sw.Name)
		}
		switches[sw.Name] = true
	}

	paths := make(map[string]bool, len(c.Paths))
	for _, p := range c.Paths {
		if paths[p.Name] {
			return fmt.Errorf("duplicate path %q", p.Name)
		}
		paths[p.Name] = true
		if len(p.Hops) == 0 {
			return fmt.Errorf("path %q has no hops", p.Name)
		}
		for _, h := range p.Hops {
			if !switches[h.Switch] {
				return fmt.Errorf("path %q: unknown switch %q", p.Name, h.Switch)
			}
		}
	}

	circuits := make(map[string]bool, len(c.Circuits))
	for _, ci := range c.Circuits {
		if circuits[ci.Name] {
			return fmt.Errorf("duplicate circuit %q", ci.Name)
		}
		circuits[ci.Name] = true
		if len(ci.In) == 0 || len(ci.In) != len(ci.Out) {
			return fmt.Errorf("circuit %q: need as many output ports as input ports", ci.Name)
		}
	}
	if len(c.Circuits) > 0 && c.Ots == nil {
		return fmt.Errorf("circuits configured without an ots section")
	}

	hosts := make(map[string]bool, len(c.Hosts))
	for _, h := range c.Hosts {
		if hosts[h.Name] {
			return fmt.Errorf("duplicate host %q", h.Name)
		}
		hosts[h.Name] = true
		if h.Password == "" && h.KeyFile == "" {
			return fmt.Errorf("host %q: need password or keyFile", h.Name)
		}
	}
	for _, h := range c.Hosts {
		if h.Jump != "" && (!hosts[h.Jump] || h.Jump == h.Name) {
			return fmt.Errorf("host %q: bad jump host %q", h.Name, h.Jump)
		}
	}

	if c.Ots != nil && (c.Ots.Port <= 0 || c.Ots.Port > 65535) {
		return fmt.Errorf("ots port %d out of range", c.Ots.Port)
	}
	if _, err := parseDuration(c.RuleTable.Timeout); err != nil {
		return fmt.Errorf("ruleTable timeout: %w", err)
	}
	if c.Ots != nil {
		if _, err := parseDuration(c.Ots.DialTimeout); err != nil {
			return fmt.Errorf("ots dialTimeout: %w", err)
		}
	}

	return c.Experiment.validate(paths, circuits, hosts)
}

func (e *Experiment) validate(paths, circuits, hosts map[string]bool) error {
	d, err := time.ParseDuration(e.Duration)
	if err != nil || d <= 0 {
		return fmt.Errorf("experiment duration %q must be a positive duration", e.Duration)
	}

	if e.Baseline != nil {
		for _, ci := range e.Baseline.Circuits {
			if !circuits[ci] {
				return fmt.Errorf("baseline: unknown circuit %q", ci)
			}
		}
		for _, p := range e.Baseline.Paths {
			if !paths[p.Path] {
				return fmt.Errorf("baseline: unknown path %q", p.Path)
			}
		}
	}

	for i, a := range e.Actions {
		at, err := time.ParseDuration(a.At)
		if err != nil || at < 0 {
			return fmt.Errorf("action %d: bad offset %q", i, a.At)
		}
		switch a.Kind {
		case ActionInstall, ActionRemove:
			if !paths[a.Path] {
				return fmt.Errorf("action %d: unknown path %q", i, a.Path)
			}
		case ActionConnect:
			if !circuits[a.Circuit] {
				return fmt.Errorf("action %d: unknown circuit %q", i, a.Circuit)
			}
		}
	}

	if e.Traffic != nil {
		for _, f := range e.Traffic.Flows {
			if !hosts[f.Client] || !hosts[f.Server] {
				return fmt.Errorf("traffic flow %s->%s: unknown host", f.Client, f.Server)
			}
		}
	}
	return nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

func appendInvalid(err error) error {
	var errs govalidator.Errors

	es, ok := err.(govalidator.Errors)
	if !ok {
		return err
	}
	for _, e := range es.Errors() {
		errs = append(errs, fmt.Errorf("Invalid %w", e))
	}

	return error(errs)
}

func (c *Config) SetLogEnable(enable bool) {
	c.Lock()
	defer c.Unlock()

	if c.Logger == nil {
		logger.CfgLog.Warnf("Logger should not be nil")
		c.Logger = &Logger{
			Enable: enable,
			Level:  ReconfDefaultLogLevel,
		}
	} else {
		c.Logger.Enable = enable
	}
}

func (c *Config) SetLogLevel(level string) {
	c.Lock()
	defer c.Unlock()

	if c.Logger == nil {
		logger.CfgLog.Warnf("Logger should not be nil")
		c.Logger = &Logger{
			Level: level,
		}
	} else {
		c.Logger.Level = level
	}
}

func (c *Config) SetLogReportCaller(reportCaller bool) {
	c.Lock()
	defer c.Unlock()

	if c.Logger == nil {
		logger.CfgLog.Warnf("Logger should not be nil")
		c.Logger = &Logger{
			Level:        ReconfDefaultLogLevel,
			ReportCaller: reportCaller,
		}
	} else {
		c.Logger.ReportCaller = reportCaller
	}
}

func (c *Config) GetLogEnable() bool {
	c.RLock()
	defer c.RUnlock()
	if c.Logger == nil {
		logger.CfgLog.Warnf("Logger should not be nil")
		return false
	}
	return c.Logger.Enable
}

func (c *Config) GetLogLevel() string {
	c.RLock()
	defer c.RUnlock()
	if c.Logger == nil {
		logger.CfgLog.Warnf("Logger should not be nil")
		return ReconfDefaultLogLevel
	}
	return c.Logger.Level
}

func (c *Config) GetLogReportCaller() bool {
	c.RLock()
	defer c.RUnlock()
	if c.Logger == nil {
		logger.CfgLog.Warnf("Logger should not be nil")
		return false
	}
	return c.Logger.ReportCaller
}

// Duration returns the fixed run length of the experiment.
func (c *Config) Duration() time.Duration {
	c.RLock()
	defer c.RUnlock()
	d, err := time.ParseDuration(c.Configuration.Experiment.Duration)
	if err != nil {
		return 0
	}
	return d
}

func (r *RuleTable) TimeoutDuration() time.Duration {
	d, _ := parseDuration(r.Timeout)
	return d
}

func (o *Ots) DialTimeoutDuration() time.Duration {
	d, _ := parseDuration(o.DialTimeout)
	return d
}
