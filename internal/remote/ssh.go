package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	reconf_context "github.com/comp590/reconf/internal/context"
	"github.com/comp590/reconf/internal/logger"
)

const dialTimeout = 10 * time.Second

// SSHRunner runs each command in its own session on one SSH connection.
type SSHRunner struct {
	name   string
	client *ssh.Client
	// jump is closed together with client when the host was reached through it.
	jump *ssh.Client
}

func clientConfig(h reconf_context.Host, knownHostsFile string) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if h.KeyFile != "" {
		key, err := os.ReadFile(h.KeyFile)
		if err != nil {
			return nil, err
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse key %s: %w", h.KeyFile, err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if h.Password != "" {
		auth = append(auth, ssh.Password(h.Password))
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if knownHostsFile != "" {
		cb, err := knownhosts.New(knownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("known hosts: %w", err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            h.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         dialTimeout,
	}, nil
}

// DialSSH connects to h, through its jump host when it has one.
func DialSSH(hw *reconf_context.Hardware, h reconf_context.Host, knownHostsFile string) (*SSHRunner, error) {
	cfg, err := clientConfig(h, knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("host %s: %w", h.Name, err)
	}

	if h.Jump == "" {
		client, err := ssh.Dial("tcp", h.Addr, cfg)
		if err != nil {
			return nil, fmt.Errorf("host %s: %w", h.Name, err)
		}
		logger.RemoteLog.Infof("Connected to %s (%s)", h.Name, h.Addr)
		return &SSHRunner{name: h.Name, client: client}, nil
	}

	gw, ok := hw.Hosts[h.Jump]
	if !ok {
		return nil, fmt.Errorf("host %s: unknown jump host %s", h.Name, h.Jump)
	}
	gwCfg, err := clientConfig(gw, knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("jump host %s: %w", gw.Name, err)
	}
	jump, err := ssh.Dial("tcp", gw.Addr, gwCfg)
	if err != nil {
		return nil, fmt.Errorf("jump host %s: %w", gw.Name, err)
	}

	conn, err := jump.Dial("tcp", h.Addr)
	if err != nil {
		_ = jump.Close()
		return nil, fmt.Errorf("host %s via %s: %w", h.Name, gw.Name, err)
	}
	cc, chans, reqs, err := ssh.NewClientConn(conn, h.Addr, cfg)
	if err != nil {
		_ = conn.Close()
		_ = jump.Close()
		return nil, fmt.Errorf("host %s via %s: %w", h.Name, gw.Name, err)
	}

	logger.RemoteLog.Infof("Connected to %s (%s) via %s", h.Name, h.Addr, gw.Name)
	return &SSHRunner{name: h.Name, client: ssh.NewClient(cc, chans, reqs), jump: jump}, nil
}

func (r *SSHRunner) Run(ctx context.Context, cmd string) (string, error) {
	sess, err := r.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("%s: new session: %w", r.name, err)
	}
	defer sess.Close()

	logger.RemoteLog.Debugf("[%s] $ %s", r.name, cmd)

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(cmd)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return string(res.out), fmt.Errorf("%s: %q: %w", r.name, cmd, res.err)
		}
		return string(res.out), nil
	case <-ctx.Done():
		if err := sess.Signal(ssh.SIGKILL); err != nil {
			logger.RemoteLog.Debugf("[%s] signal: %+v", r.name, err)
		}
		return "", ctx.Err()
	}
}

func (r *SSHRunner) Close() error {
	var errs []error
	if err := r.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	if r.jump != nil {
		if err := r.jump.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pool dials hosts on first use and closes them all at the end of a run.
type Pool struct {
	hw         *reconf_context.Hardware
	knownHosts string
	dial       func(*reconf_context.Hardware, reconf_context.Host, string) (Runner, error)

	mu      sync.Mutex
	runners map[string]Runner
}

func NewPool(hw *reconf_context.Hardware, knownHostsFile string) *Pool {
	return &Pool{
		hw:         hw,
		knownHosts: knownHostsFile,
		dial: func(hw *reconf_context.Hardware, h reconf_context.Host, kh string) (Runner, error) {
			return DialSSH(hw, h, kh)
		},
		runners: make(map[string]Runner),
	}
}

// NewPoolWith builds a pool over prepared runners, keyed by host name.
func NewPoolWith(runners map[string]Runner) *Pool {
	p := &Pool{
		hw:      &reconf_context.Hardware{},
		runners: make(map[string]Runner, len(runners)),
	}
	for k, v := range runners {
		p.runners[k] = v
	}
	return p
}

func (p *Pool) Get(name string) (Runner, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r, ok := p.runners[name]; ok {
		return r, nil
	}
	h, ok := p.hw.Hosts[name]
	if !ok {
		return nil, fmt.Errorf("unknown host %s", name)
	}
	r, err := p.dial(p.hw, h, p.knownHosts)
	if err != nil {
		return nil, err
	}
	p.runners[name] = r
	return r, nil
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for name, r := range p.runners {
		if err := r.Close(); err != nil {
			logger.RemoteLog.Warnf("Close %s: %+v", name, err)
			errs = append(errs, err)
		}
		delete(p.runners, name)
	}
	return errors.Join(errs...)
}
