// Package sched fires timed reconfiguration actions relative to the start of an
// experiment run, one goroutine per action, and joins them all.
package sched

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	reconf_context "github.com/comp590/reconf/internal/context"
	"github.com/comp590/reconf/internal/logger"
)

type Op func(ctx context.Context) error

type Action struct {
	Offset time.Duration
	Label  string
	Op     Op
}

// Scheduler runs a fixed list of actions once. Actions are independent: a slow,
// failing or panicking action never delays or cancels another one, and once armed
// an action cannot be aborted.
type Scheduler struct {
	actions []Action

	mu       sync.Mutex
	statuses []reconf_context.ActionStatus
	start    time.Time
	ran      bool
}

func New(actions []Action) *Scheduler {
	s := &Scheduler{
		actions:  append([]Action(nil), actions...),
		statuses: make([]reconf_context.ActionStatus, len(actions)),
	}
	for i, a := range s.actions {
		s.statuses[i] = reconf_context.ActionStatus{
			Label:  label(i, a),
			Offset: a.Offset,
			State:  reconf_context.Pending,
		}
	}
	return s
}

// Start arms every action at t=0 and returns a function that blocks until all of
// them are Done and returns their final status. Start may only be called once.
func (s *Scheduler) Start(ctx context.Context) (func() []reconf_context.ActionStatus, error) {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return nil, fmt.Errorf("scheduler already started")
	}
	s.ran = true
	s.start = time.Now()
	s.mu.Unlock()

	logger.SchedLog.Infof("Arming %d actions", len(s.actions))

	var wg sync.WaitGroup
	wg.Add(len(s.actions))
	for i := range s.actions {
		go s.fire(ctx, i, &wg)
	}

	return func() []reconf_context.ActionStatus {
		wg.Wait()
		return s.States()
	}, nil
}

// Run is Start followed by the join.
func (s *Scheduler) Run(ctx context.Context) ([]reconf_context.ActionStatus, error) {
	join, err := s.Start(ctx)
	if err != nil {
		return nil, err
	}
	return join(), nil
}

func (s *Scheduler) StartTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.start
}

func (s *Scheduler) States() []reconf_context.ActionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]reconf_context.ActionStatus(nil), s.statuses...)
}

func (s *Scheduler) fire(ctx context.Context, i int, wg *sync.WaitGroup) {
	defer wg.Done()

	a := s.actions[i]
	timer := time.NewTimer(a.Offset)
	<-timer.C

	s.mu.Lock()
	s.statuses[i].State = reconf_context.Firing
	s.statuses[i].Started = time.Now()
	lbl := s.statuses[i].Label
	late := s.statuses[i].Late(s.start)
	s.mu.Unlock()

	logger.SchedLog.Infof("Firing [%s] at +%v (late %v)", lbl, a.Offset, late)

	err := invoke(ctx, a.Op)

	s.mu.Lock()
	s.statuses[i].State = reconf_context.Done
	s.statuses[i].Finished = time.Now()
	s.statuses[i].Err = err
	took := s.statuses[i].Finished.Sub(s.statuses[i].Started)
	s.mu.Unlock()

	if err != nil {
		logger.SchedLog.Errorf("Action [%s] failed after %v: %+v", lbl, took, err)
		return
	}
	logger.SchedLog.Infof("Action [%s] done in %v", lbl, took)
}

func invoke(ctx context.Context, op Op) (err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.SchedLog.Errorf("panic: %v\n%s", p, string(debug.Stack()))
			err = fmt.Errorf("action panicked: %v", p)
		}
	}()

	if op == nil {
		return nil
	}
	return op(ctx)
}

func label(i int, a Action) string {
	if a.Label != "" {
		return a.Label
	}
	return fmt.Sprintf("action-%d", i)
}
