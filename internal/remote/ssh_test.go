package remote

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	reconf_context "github.com/comp590/reconf/internal/context"
)

// startServer accepts password "secret" and answers every exec request with
// "ran: <command>". A command of "sleep" never answers.
func startServer(t *testing.T) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "testbed" && string(pass) == "secret" {
				return &ssh.Permissions{}, nil
			}
			return nil, assert.AnError
		},
	}
	config.AddHostKey(signer)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, config)
		}
	}()

	return l.Addr().String()
}

func serveConn(conn net.Conn, config *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, in, err := nc.Accept()
		if err != nil {
			continue
		}
		go func() {
			defer ch.Close()
			for req := range in {
				if req.Type != "exec" {
					_ = req.Reply(false, nil)
					continue
				}
				cmd := string(req.Payload[4:])
				_ = req.Reply(true, nil)
				if cmd == "sleep" {
					continue
				}
				_, _ = ch.Write([]byte("ran: " + cmd))
				status := make([]byte, 4)
				binary.BigEndian.PutUint32(status, 0)
				_, _ = ch.SendRequest("exit-status", false, status)
				return
			}
		}()
	}
}

func testbed(addr string) *reconf_context.Hardware {
	return &reconf_context.Hardware{
		Hosts: map[string]reconf_context.Host{
			"vm2": {Name: "vm2", Addr: addr, User: "testbed", Password: "secret"},
			"bad": {Name: "bad", Addr: addr, User: "testbed", Password: "wrong"},
		},
	}
}

func TestSSHRun(t *testing.T) {
	addr := startServer(t)
	hw := testbed(addr)

	r, err := DialSSH(hw, hw.Hosts["vm2"], "")
	require.NoError(t, err)
	defer r.Close()

	out, err := r.Run(context.Background(), "hostname")
	require.NoError(t, err)
	assert.Equal(t, "ran: hostname", out)

	out, err = r.Run(context.Background(), "iperf3 -s -1")
	require.NoError(t, err)
	assert.Equal(t, "ran: iperf3 -s -1", out)
}

func TestSSHRunCancelled(t *testing.T) {
	addr := startServer(t)
	hw := testbed(addr)

	r, err := DialSSH(hw, hw.Hosts["vm2"], "")
	require.NoError(t, err)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = r.Run(ctx, "sleep")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSSHAuthFailure(t *testing.T) {
	addr := startServer(t)
	hw := testbed(addr)

	_, err := DialSSH(hw, hw.Hosts["bad"], "")
	assert.Error(t, err)
}

func TestPool(t *testing.T) {
	addr := startServer(t)
	p := NewPool(testbed(addr), "")
	defer p.Close()

	r1, err := p.Get("vm2")
	require.NoError(t, err)
	r2, err := p.Get("vm2")
	require.NoError(t, err)
	assert.Same(t, r1, r2)

	_, err = p.Get("nowhere")
	assert.Error(t, err)

	assert.NoError(t, p.Close())
}
