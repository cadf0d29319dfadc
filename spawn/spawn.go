// Package spawn runs registered entry points in freshly started worker
// processes of the same executable. The parent and the worker share a
// typed bootstrap connection: the parent sends one frame carrying the
// worker policy, the entry point name and the flattened argument
// (embedded OS handles included), the worker sends the flattened
// return value back on the same connection and exits.
//
// Entry points are registered with Func at package init time and the
// registry freezes when Init runs. Init must be the first call in main
// (and in TestMain for tests): it is a no-op in a parent and never
// returns in a worker.
package spawn

import (
	"errors"
	"fmt"

	"github.com/procchan/procchan/object"
	"github.com/procchan/procchan/pkg/pipe"
	"github.com/procchan/procchan/pkg/rlimit"
	"github.com/procchan/procchan/pkg/seccomp"
)

// ErrSpawnFailed reports that the worker process could not be created.
// No bootstrap I/O has happened when it is returned.
var ErrSpawnFailed = errors.New("spawn: process creation failed")

// ErrRegistryMiss reports a worker that exited because its bootstrap
// named an entry point the child binary never registered, typically a
// parent/child executable mismatch.
var ErrRegistryMiss = errors.New("spawn: entry point not registered in worker")

// ExitRegistryMiss is the exit status of a worker whose bootstrap
// named an unknown entry point, distinguishable from an entry point
// failure (status 1).
const ExitRegistryMiss = 101

// childArg is the argv sentinel marking a process as a spawned worker.
const childArg = "_procchan_child_"

// StatusError reports a worker that terminated abnormally. Status is
// -1 when the worker was killed by a signal.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("spawn: worker exited with status %d", e.Status)
}

type options struct {
	limits *rlimit.RLimits
	policy *seccomp.Policy
	stderr *pipe.Buffer
}

// Option configures a single Spawn call.
type Option func(*options)

// WithRLimits applies resource limits in the worker before its entry
// point runs.
func WithRLimits(rl rlimit.RLimits) Option {
	return func(o *options) {
		o.limits = &rl
	}
}

// WithSeccomp loads a syscall policy in the worker before its entry
// point runs. Linux only; spawning fails in the worker elsewhere.
func WithSeccomp(p seccomp.Policy) Option {
	return func(o *options) {
		o.policy = &p
	}
}

// WithStderr redirects the worker's stderr into b. The write end is
// closed in the parent once the worker holds it, so b.Done fires when
// the worker exits.
func WithStderr(b *pipe.Buffer) Option {
	return func(o *options) {
		o.stderr = b
	}
}

type limitsOpt = object.Option[rlimit.RLimits, *rlimit.RLimits]
type policyOpt = object.Option[seccomp.Policy, *seccomp.Policy]
