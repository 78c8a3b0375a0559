package plan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reconf_context "github.com/comp590/reconf/internal/context"
	"github.com/comp590/reconf/internal/flowrule"
	"github.com/comp590/reconf/internal/path"
	"github.com/comp590/reconf/internal/system"
	"github.com/comp590/reconf/pkg/factory"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  error
}

func (r *recorder) add(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
	return r.fail
}

func (r *recorder) ClearAll(_ context.Context, dpid uint64) { _ = r.add(fmt.Sprintf("clear %d", dpid)) }

func (r *recorder) Install(_ context.Context, rule flowrule.Rule) error {
	return r.add("install " + rule.String())
}

func (r *recorder) Remove(_ context.Context, rule flowrule.Rule) error {
	return r.add("remove " + rule.String())
}

func (r *recorder) InstallPath(_ context.Context, p path.Path, prio int) error {
	return r.add(fmt.Sprintf("install %s %d", p.Name, prio))
}

func (r *recorder) RemovePath(_ context.Context, p path.Path, prio int) error {
	return r.add(fmt.Sprintf("remove %s %d", p.Name, prio))
}

func (r *recorder) Connect(in, out []int) error {
	return r.add(fmt.Sprintf("connect %v %v", in, out))
}

func (r *recorder) DisconnectAll() error { return r.add("disconnect") }

func prio(n int) *int { return &n }

func loadSample(t *testing.T) (*factory.Config, *reconf_context.ReconfContext) {
	t.Helper()
	cfg, err := factory.ReadConfig("../../config/reconfcfg.yaml")
	require.NoError(t, err)
	rctx, err := reconf_context.NewContext(cfg)
	require.NoError(t, err)
	return cfg, rctx
}

func TestFromConfig(t *testing.T) {
	cfg, rctx := loadSample(t)
	rec := &recorder{}
	sys := &system.System{Rules: rec, Circuit: rec}

	p, err := FromConfig(cfg.Configuration.Experiment, rctx, sys)
	require.NoError(t, err)

	require.Len(t, p.Circuits, 1)
	assert.Equal(t, "before", p.Circuits[0].Name)
	require.Len(t, p.Baseline, 1)
	assert.Equal(t, "long", p.Baseline[0].Path.Name)
	assert.Equal(t, 8, p.Baseline[0].Priority)

	tl := p.Timeline()
	require.Len(t, tl, 3)
	assert.Equal(t, 30*time.Second, tl[0].Offset)
	assert.Equal(t, "optical short cut", tl[0].Label)
	assert.Equal(t, 32*time.Second, tl[2].Offset)

	require.NoError(t, p.Apply(context.Background(), sys))
	for _, a := range tl {
		require.NoError(t, a.Op(context.Background()))
	}

	assert.Equal(t, []string{
		"connect [21 22 23 24] [54 53 56 55]",
		"install long 8",
		"connect [22 23] [55 54]",
		"install short 10",
		"remove long 8",
	}, rec.calls)
}

func TestDefaultLabels(t *testing.T) {
	_, rctx := loadSample(t)
	rec := &recorder{}
	sys := &system.System{Rules: rec, Circuit: rec}

	exp := &factory.Experiment{
		Duration: "10s",
		Actions: []factory.Action{
			{At: "2s", Kind: factory.ActionInstall, Path: "short", Priority: prio(10)},
			{At: "1s", Kind: factory.ActionDisconnect},
			{At: "1s", Kind: factory.ActionConnect, Circuit: "after"},
		},
	}
	p, err := FromConfig(exp, rctx, sys)
	require.NoError(t, err)

	tl := p.Timeline()
	assert.Equal(t, "disconnect all", tl[0].Label)
	assert.Equal(t, "connect after", tl[1].Label)
	assert.Equal(t, "install short prio 10", tl[2].Label)
}

func TestFromConfigPriorityDefault(t *testing.T) {
	_, rctx := loadSample(t)
	rec := &recorder{}
	sys := &system.System{Rules: rec}

	exp := &factory.Experiment{
		Duration: "10s",
		Baseline: &factory.Baseline{Paths: []factory.PathRef{{Path: "short"}}},
		Actions: []factory.Action{
			{At: "1s", Kind: factory.ActionInstall, Path: "short"},
			{At: "2s", Kind: factory.ActionRemove, Path: "short", Priority: prio(0)},
		},
	}
	p, err := FromConfig(exp, rctx, sys)
	require.NoError(t, err)

	require.Len(t, p.Baseline, 1)
	assert.Equal(t, flowrule.DefaultPriority, p.Baseline[0].Priority)

	tl := p.Timeline()
	assert.Equal(t, "install short prio 10", tl[0].Label)
	assert.Equal(t, "remove short prio 0", tl[1].Label)

	require.NoError(t, p.Apply(context.Background(), sys))
	for _, a := range tl {
		require.NoError(t, a.Op(context.Background()))
	}
	assert.Equal(t, []string{"install short 10", "install short 10", "remove short 0"}, rec.calls)
}

func TestFromConfigUnknownReference(t *testing.T) {
	_, rctx := loadSample(t)
	sys := &system.System{Rules: &recorder{}}

	_, err := FromConfig(&factory.Experiment{
		Actions: []factory.Action{{At: "1s", Kind: factory.ActionRemove, Path: "ghost"}},
	}, rctx, sys)
	assert.Error(t, err)

	_, err = FromConfig(&factory.Experiment{
		Baseline: &factory.Baseline{Circuits: []string{"ghost"}},
	}, rctx, sys)
	assert.Error(t, err)
}

func TestCircuitOpWithoutSwitch(t *testing.T) {
	sys := &system.System{Rules: &recorder{}}
	op := ConnectOp(sys, reconf_context.CircuitMapping{In: []int{1}, Out: []int{2}})
	assert.ErrorIs(t, op(context.Background()), system.ErrNoCircuitSwitch)
	assert.ErrorIs(t, DisconnectAllOp(sys)(context.Background()), system.ErrNoCircuitSwitch)
}

func TestApplyStopsOnFailure(t *testing.T) {
	rec := &recorder{fail: errors.New("refused")}
	sys := &system.System{Rules: rec}

	p := New()
	p.AddBaseline(path.New("a", "1", "2", path.Hop{Switch: 1}), 10)
	p.AddBaseline(path.New("b", "1", "2", path.Hop{Switch: 1}), 10)

	assert.Error(t, p.Apply(context.Background(), sys))
	assert.Equal(t, []string{"install a 10"}, rec.calls)
}
