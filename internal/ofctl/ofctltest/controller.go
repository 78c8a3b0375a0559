// Package ofctltest provides an in-memory ofctl_rest controller for tests.
package ofctltest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"

	"github.com/gorilla/mux"

	"github.com/comp590/reconf/internal/flowrule"
	"github.com/comp590/reconf/internal/ofctl"
)

type Call struct {
	Method string
	Path   string
	Entry  flowrule.FlowEntry
	Dpid   uint64
}

// Controller keeps a flow table per switch and applies add, delete_strict and clear
// requests to it the way ofctl_rest would.
type Controller struct {
	*httptest.Server

	mu     sync.Mutex
	flows  map[flowrule.Rule]bool
	calls  []Call
	status int
}

func NewController() *Controller {
	c := &Controller{
		flows:  make(map[flowrule.Rule]bool),
		status: http.StatusOK,
	}

	r := mux.NewRouter()
	r.HandleFunc(ofctl.DefaultAddPath, c.add).Methods(http.MethodPost)
	r.HandleFunc(ofctl.DefaultDeletePath, c.deleteStrict).Methods(http.MethodPost)
	r.HandleFunc(ofctl.DefaultClearPath+"{dpid}", c.clear).Methods(http.MethodDelete)

	c.Server = httptest.NewServer(r)
	return c
}

// SetStatus makes every later request answer with status and leave the table alone
// when status is not 2xx.
func (c *Controller) SetStatus(status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

func (c *Controller) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

func (c *Controller) Has(r flowrule.Rule) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flows[r]
}

// Flows returns the installed rules sorted by switch, priority and in port.
func (c *Controller) Flows() []flowrule.Rule {
	c.mu.Lock()
	defer c.mu.Unlock()

	rules := make([]flowrule.Rule, 0, len(c.flows))
	for r := range c.flows {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Switch != b.Switch {
			return a.Switch < b.Switch
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.InPort < b.InPort
	})
	return rules
}

func (c *Controller) Seed(rules ...flowrule.Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rules {
		c.flows[r] = true
	}
}

func (c *Controller) add(w http.ResponseWriter, req *http.Request) {
	var e flowrule.FlowEntry
	if err := json.NewDecoder(req.Body).Decode(&e); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Method: req.Method, Path: req.URL.Path, Entry: e, Dpid: e.Dpid})
	if !c.accepting(w) {
		return
	}
	if len(e.Instructions) != 1 || len(e.Instructions[0].Actions) != 1 {
		http.Error(w, "expected one output action", http.StatusBadRequest)
		return
	}
	c.flows[rule(e, e.Instructions[0].Actions[0].Port)] = true
}

func (c *Controller) deleteStrict(w http.ResponseWriter, req *http.Request) {
	var e flowrule.FlowEntry
	if err := json.NewDecoder(req.Body).Decode(&e); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Method: req.Method, Path: req.URL.Path, Entry: e, Dpid: e.Dpid})
	if !c.accepting(w) {
		return
	}
	if e.Match.OutPort == nil {
		http.Error(w, "delete without out_port", http.StatusBadRequest)
		return
	}
	delete(c.flows, rule(e, *e.Match.OutPort))
}

func (c *Controller) clear(w http.ResponseWriter, req *http.Request) {
	dpid, err := strconv.ParseUint(mux.Vars(req)["dpid"], 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Method: req.Method, Path: req.URL.Path, Dpid: dpid})
	if !c.accepting(w) {
		return
	}
	for r := range c.flows {
		if r.Switch == dpid {
			delete(c.flows, r)
		}
	}
}

func (c *Controller) accepting(w http.ResponseWriter) bool {
	if c.status < 200 || c.status > 299 {
		w.WriteHeader(c.status)
		return false
	}
	return true
}

func rule(e flowrule.FlowEntry, out int) flowrule.Rule {
	return flowrule.NewRule(e.Dpid, e.Match.InPort, out, e.Match.NwSrc, e.Match.NwDst,
		flowrule.WithPriority(e.Priority))
}
