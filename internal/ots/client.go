// Package ots drives an optical cross-connect over its line-oriented SCPI socket.
package ots

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ziutek/telnet"

	"github.com/comp590/reconf/internal/logger"
)

// ErrBroken is returned by every command after a write on the socket failed.
var ErrBroken = errors.New("ots: socket broken by earlier write failure")

type Config struct {
	Host        string
	Port        int
	DialTimeout time.Duration
}

func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client sends commands on one long-lived socket. It never reads acknowledgements
// and never reconnects. Closing the socket is the caller's job.
type Client struct {
	mu     sync.Mutex
	conn   io.Writer
	broken error
}

func Dial(cfg Config) (*Client, net.Conn, error) {
	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	conn, err := telnet.DialTimeout("tcp", cfg.Addr(), timeout)
	if err != nil {
		return nil, nil, fmt.Errorf("ots: dial %s: %w", cfg.Addr(), err)
	}
	logger.OtsLog.Infof("Connected to optical switch at %s", cfg.Addr())

	return NewClient(conn), conn, nil
}

func NewClient(w io.Writer) *Client {
	return &Client{conn: w}
}

// Connect maps the input ports onto the output ports, replacing whatever the
// device had on those ports.
func (c *Client) Connect(in, out []int) error {
	return c.send(ConnectCommand(in, out))
}

func (c *Client) DisconnectAll() error {
	return c.send(DisconnectAllCommand())
}

func (c *Client) send(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return fmt.Errorf("%w: %v", ErrBroken, c.broken)
	}

	if _, err := io.WriteString(c.conn, cmd); err != nil {
		c.broken = err
		logger.OtsLog.Errorf("Write %q failed, no further circuit commands this run: %+v",
			strings.TrimSpace(cmd), err)
		return fmt.Errorf("ots: write: %w", err)
	}

	logger.OtsLog.Infof("Sent %q", strings.TrimSpace(cmd))
	return nil
}

func ConnectCommand(in, out []int) string {
	return fmt.Sprintf(":oxc:swit:conn:only (@%s),(@%s); stat?\r\n", joinPorts(in), joinPorts(out))
}

func DisconnectAllCommand() string {
	return ":oxc:swit:disc:all\r\n"
}

func joinPorts(ports []int) string {
	s := make([]string, len(ports))
	for i, p := range ports {
		s[i] = strconv.Itoa(p)
	}
	return strings.Join(s, ",")
}
