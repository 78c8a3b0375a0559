// Package remote runs shell commands on testbed machines. Callers depend on the
// Runner capability only; the SSH backend reaches guests through their host
// server acting as a jump host.
package remote

import (
	"context"
)

type Runner interface {
	// Run executes cmd and returns its combined output once it exits.
	Run(ctx context.Context, cmd string) (string, error)
	Close() error
}
