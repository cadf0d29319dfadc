package spawn

import (
	"os/exec"

	"github.com/procchan/procchan/frame"
	"github.com/procchan/procchan/object"
	"github.com/procchan/procchan/pkg/rlimit"
	"github.com/procchan/procchan/pkg/seccomp"
)

// Spawn starts a worker process running this entry point with arg.
// Handles embedded in arg move to the worker. The worker inherits the
// parent's stdio unless redirected by options.
func (t *Task[A, PA, R, PR]) Spawn(arg A, opts ...Option) (*Child[R, PR], error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	parent, child, err := frame.Pair()
	if err != nil {
		return nil, err
	}
	cmd, err := launch(child, &o)
	if err != nil {
		parent.Close()
		child.Close()
		return nil, err
	}

	e := object.NewEncoder()
	e.String(t.name)
	var lim limitsOpt
	if o.limits != nil {
		lim = object.Some[rlimit.RLimits](*o.limits)
	}
	var pol policyOpt
	if o.policy != nil {
		pol = object.Some[seccomp.Policy](*o.policy)
	}
	lim.Flatten(e)
	pol.Flatten(e)
	PA(&arg).Flatten(e)
	if err := e.Err(); err != nil {
		for _, h := range e.Handles() {
			h.Close()
		}
		abandon(cmd)
		parent.Close()
		return nil, err
	}
	if err := parent.Send(e.Payload(), e.Handles()); err != nil {
		abandon(cmd)
		parent.Close()
		return nil, err
	}
	return &Child[R, PR]{cmd: cmd, conn: parent}, nil
}

// abandon reaps a worker that will never get its bootstrap.
func abandon(cmd *exec.Cmd) {
	cmd.Process.Kill()
	cmd.Wait()
}
