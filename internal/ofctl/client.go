// Package ofctl talks to the ofctl_rest application of a Ryu controller to add,
// delete and clear flow entries on the switches it manages.
package ofctl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/comp590/reconf/internal/flowrule"
	"github.com/comp590/reconf/internal/logger"
	"github.com/comp590/reconf/internal/path"
)

type Strictness string

const (
	// Lenient treats any HTTP response as success; rejections are only logged.
	Lenient Strictness = "lenient"
	// Strict turns a non-2xx response into a *RejectedError.
	Strict Strictness = "strict"
)

const (
	DefaultAddPath    = "/stats/flowentry/add"
	DefaultDeletePath = "/stats/flowentry/delete_strict"
	DefaultClearPath  = "/stats/flowentry/clear/"
)

type Config struct {
	BaseURL    string
	AddPath    string
	DeletePath string
	ClearPath  string
	Strictness Strictness
	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.AddPath == "" {
		cfg.AddPath = DefaultAddPath
	}
	if cfg.DeletePath == "" {
		cfg.DeletePath = DefaultDeletePath
	}
	if cfg.ClearPath == "" {
		cfg.ClearPath = DefaultClearPath
	}
	if cfg.Strictness == "" {
		cfg.Strictness = Lenient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Config() Config {
	return c.cfg
}

// ClearAll removes every flow entry on the switch. Failures are logged and dropped:
// it only runs at reset time and the following installs re-establish wanted state.
func (c *Client) ClearAll(ctx context.Context, dpid uint64) {
	url := c.cfg.BaseURL + c.cfg.ClearPath + strconv.FormatUint(dpid, 10)

	status, body, err := c.do(ctx, http.MethodDelete, url, nil)
	if err != nil {
		logger.RuleLog.Warnf("Clear flows on dpid %d failed: %+v", dpid, err)
		return
	}
	if !ok(status) {
		logger.RuleLog.Warnf("Clear flows on dpid %d rejected: %d %s", dpid, status, body)
		return
	}
	logger.RuleLog.Debugf("Cleared flows on dpid %d", dpid)
}

func (c *Client) Install(ctx context.Context, r flowrule.Rule) error {
	return c.send(ctx, r, flowrule.Install, c.cfg.AddPath)
}

func (c *Client) Remove(ctx context.Context, r flowrule.Rule) error {
	return c.send(ctx, r, flowrule.Remove, c.cfg.DeletePath)
}

// InstallPath installs both directions of every hop in hop order. It stops at the
// first failure; rules already installed stay installed.
func (c *Client) InstallPath(ctx context.Context, p path.Path, priority int) error {
	return c.applyPath(ctx, p, priority, c.Install)
}

// RemovePath is the inverse of InstallPath with the same partial-failure semantics.
func (c *Client) RemovePath(ctx context.Context, p path.Path, priority int) error {
	return c.applyPath(ctx, p, priority, c.Remove)
}

func (c *Client) applyPath(ctx context.Context, p path.Path, priority int,
	apply func(context.Context, flowrule.Rule) error,
) error {
	for _, r := range p.Rules(priority) {
		if err := apply(ctx, r); err != nil {
			return fmt.Errorf("path %s prio %d: %w", p.Name, priority, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, r flowrule.Rule, a flowrule.Action, endpoint string) error {
	body, err := flowrule.Encode(r, a)
	if err != nil {
		return err
	}

	url := c.cfg.BaseURL + endpoint
	status, resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return &TransportError{Op: a.String(), URL: url, Err: err}
	}

	if !ok(status) {
		if c.cfg.Strictness == Strict {
			return &RejectedError{Op: a.String(), Rule: r, Status: status, Body: resp}
		}
		logger.RuleLog.Warnf("%s [%s] answered %d: %s", a, r, status, resp)
		return nil
	}

	logger.RuleLog.Debugf("%s [%s]", a, r)
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) (int, string, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rsp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() {
		if cerr := rsp.Body.Close(); cerr != nil {
			logger.RuleLog.Debugf("Close response body: %+v", cerr)
		}
	}()

	// a status line was received, so a broken body no longer counts as transport failure
	b, err := io.ReadAll(io.LimitReader(rsp.Body, 4096))
	if err != nil {
		logger.RuleLog.Warnf("Read %s %s response body: %+v", method, url, err)
		return rsp.StatusCode, "", nil
	}
	return rsp.StatusCode, strings.TrimSpace(string(b)), nil
}

func ok(status int) bool {
	return status >= 200 && status < 300
}
