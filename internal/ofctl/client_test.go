package ofctl_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comp590/reconf/internal/flowrule"
	"github.com/comp590/reconf/internal/ofctl"
	"github.com/comp590/reconf/internal/ofctl/ofctltest"
	"github.com/comp590/reconf/internal/path"
)

var trunk1 = path.New("trunk1", "10.0.0.1", "10.0.0.4",
	path.Hop{Switch: 1, In: 1, Out: 5},
	path.Hop{Switch: 4, In: 6, Out: 4},
)

func newClient(t *testing.T, strictness ofctl.Strictness) (*ofctl.Client, *ofctltest.Controller) {
	t.Helper()
	ctrl := ofctltest.NewController()
	t.Cleanup(ctrl.Close)
	return ofctl.NewClient(ofctl.Config{BaseURL: ctrl.URL + "/", Strictness: strictness}), ctrl
}

func TestInstallPath(t *testing.T) {
	c, ctrl := newClient(t, ofctl.Lenient)

	require.NoError(t, c.InstallPath(context.Background(), trunk1, 10))

	calls := ctrl.Calls()
	require.Len(t, calls, 4)
	for _, call := range calls {
		assert.Equal(t, http.MethodPost, call.Method)
		assert.Equal(t, ofctl.DefaultAddPath, call.Path)
		assert.Equal(t, 10, call.Entry.Priority)
	}

	prio := flowrule.WithPriority(10)
	assert.Equal(t, []flowrule.Rule{
		flowrule.NewRule(1, 1, 5, "10.0.0.1", "10.0.0.4", prio),
		flowrule.NewRule(1, 5, 1, "10.0.0.4", "10.0.0.1", prio),
		flowrule.NewRule(4, 4, 6, "10.0.0.4", "10.0.0.1", prio),
		flowrule.NewRule(4, 6, 4, "10.0.0.1", "10.0.0.4", prio),
	}, ctrl.Flows())

	order := []struct {
		dpid    uint64
		in, out int
		src     string
	}{
		{1, 1, 5, "10.0.0.1"},
		{1, 5, 1, "10.0.0.4"},
		{4, 6, 4, "10.0.0.1"},
		{4, 4, 6, "10.0.0.4"},
	}
	for i, o := range order {
		e := calls[i].Entry
		assert.Equal(t, o.dpid, e.Dpid)
		assert.Equal(t, o.in, e.Match.InPort)
		assert.Equal(t, o.out, e.Instructions[0].Actions[0].Port)
		assert.Equal(t, o.src, e.Match.NwSrc)
	}
}

func TestRemovePath(t *testing.T) {
	c, ctrl := newClient(t, ofctl.Lenient)
	ctx := context.Background()

	require.NoError(t, c.InstallPath(ctx, trunk1, 10))
	require.NoError(t, c.InstallPath(ctx, trunk1, 8))
	require.NoError(t, c.RemovePath(ctx, trunk1, 8))

	calls := ctrl.Calls()
	require.Len(t, calls, 12)
	for _, call := range calls[8:] {
		assert.Equal(t, ofctl.DefaultDeletePath, call.Path)
		assert.Equal(t, 8, call.Entry.Priority)
		assert.NotNil(t, call.Entry.Match.OutPort)
		assert.Empty(t, call.Entry.Instructions)
	}

	for _, r := range trunk1.Rules(10) {
		assert.True(t, ctrl.Has(r), r.String())
	}
	for _, r := range trunk1.Rules(8) {
		assert.False(t, ctrl.Has(r), r.String())
	}
}

func TestClearAll(t *testing.T) {
	c, ctrl := newClient(t, ofctl.Lenient)
	ctx := context.Background()

	require.NoError(t, c.InstallPath(ctx, trunk1, 10))
	c.ClearAll(ctx, 1)

	calls := ctrl.Calls()
	last := calls[len(calls)-1]
	assert.Equal(t, http.MethodDelete, last.Method)
	assert.Equal(t, ofctl.DefaultClearPath+"1", last.Path)

	for _, r := range ctrl.Flows() {
		assert.Equal(t, uint64(4), r.Switch)
	}
	assert.Len(t, ctrl.Flows(), 2)
}

func TestClearAllUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c := ofctl.NewClient(ofctl.Config{BaseURL: "http://" + addr})
	assert.NotPanics(t, func() {
		c.ClearAll(context.Background(), 3)
	})
}

func TestInstallUnreachable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c := ofctl.NewClient(ofctl.Config{BaseURL: "http://" + addr})
	err = c.InstallPath(context.Background(), trunk1, 10)
	require.Error(t, err)

	var terr *ofctl.TransportError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "INSTALL", terr.Op)
}

func TestRejectedLenient(t *testing.T) {
	c, ctrl := newClient(t, ofctl.Lenient)
	ctrl.SetStatus(http.StatusBadRequest)

	require.NoError(t, c.InstallPath(context.Background(), trunk1, 10))
	assert.Len(t, ctrl.Calls(), 4)
	assert.Empty(t, ctrl.Flows())
}

func TestRejectedStrict(t *testing.T) {
	c, ctrl := newClient(t, ofctl.Strict)
	ctrl.SetStatus(http.StatusBadRequest)

	err := c.InstallPath(context.Background(), trunk1, 10)
	require.Error(t, err)

	var rerr *ofctl.RejectedError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, http.StatusBadRequest, rerr.Status)
	// stops at the first rejected hop
	assert.Len(t, ctrl.Calls(), 1)
}

func TestConfigDefaults(t *testing.T) {
	c := ofctl.NewClient(ofctl.Config{BaseURL: "http://ctl:8080/"})
	cfg := c.Config()
	assert.Equal(t, "http://ctl:8080", cfg.BaseURL)
	assert.Equal(t, ofctl.DefaultAddPath, cfg.AddPath)
	assert.Equal(t, ofctl.DefaultDeletePath, cfg.DeletePath)
	assert.Equal(t, ofctl.DefaultClearPath, cfg.ClearPath)
	assert.Equal(t, ofctl.Lenient, cfg.Strictness)
}

// truncatedServer answers with the given status and then drops the connection in the
// middle of the body.
func truncatedServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\nContent-Length: 100\r\n\r\npartial",
			status, http.StatusText(status))
		_ = buf.Flush()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTruncatedBodyIsNotTransportError(t *testing.T) {
	rule := flowrule.NewRule(1, 1, 5, "10.0.0.1", "10.0.0.4")

	ok := truncatedServer(t, http.StatusOK)
	c := ofctl.NewClient(ofctl.Config{BaseURL: ok.URL, Strictness: ofctl.Strict})
	assert.NoError(t, c.Install(context.Background(), rule))

	bad := truncatedServer(t, http.StatusBadRequest)
	c = ofctl.NewClient(ofctl.Config{BaseURL: bad.URL, Strictness: ofctl.Strict})
	err := c.Install(context.Background(), rule)

	var rerr *ofctl.RejectedError
	require.True(t, errors.As(err, &rerr), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, rerr.Status)
	assert.Empty(t, rerr.Body)

	var terr *ofctl.TransportError
	assert.False(t, errors.As(err, &terr))
}
