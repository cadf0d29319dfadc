package spawn

import (
	"errors"
	"io"
	"os/exec"
	"sync"

	"github.com/procchan/procchan/frame"
	"github.com/procchan/procchan/object"
)

var errJoined = errors.New("spawn: worker already joined")

// Child is a handle on a spawned worker, typed by the entry point's
// return value.
type Child[R any, PR object.Ptr[R]] struct {
	cmd  *exec.Cmd
	conn *frame.Conn

	mu     sync.Mutex
	reaped bool
}

// Pid returns the worker's process id.
func (c *Child[R, PR]) Pid() int {
	return c.cmd.Process.Pid
}

// Kill terminates the worker. Rejected once Join has reaped it, so a
// recycled pid is never signalled.
func (c *Child[R, PR]) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reaped {
		return errJoined
	}
	return c.cmd.Process.Kill()
}

// Join receives the worker's return value and reaps the process.
// A worker that exited cleanly without sending a value is accepted
// only for the Empty return type; any other silent exit is an error
// carrying the exit status. Join consumes the child: a second call
// fails.
func (c *Child[R, PR]) Join() (R, error) {
	var zero R
	if c.conn == nil {
		return zero, errJoined
	}
	f, rerr := c.conn.Recv()
	c.conn.Close()
	c.conn = nil
	status, werr := c.reap()

	if rerr != nil {
		// clean EOF and a mid-frame disconnect both mean no value
		if !errors.Is(rerr, io.EOF) && !errors.Is(rerr, frame.ErrDisconnected) {
			return zero, rerr
		}
		switch {
		case werr != nil:
			return zero, werr
		case status == ExitRegistryMiss:
			return zero, ErrRegistryMiss
		case status == 0:
			if _, void := any(zero).(object.Empty); void {
				return zero, nil
			}
			return zero, errors.New("spawn: worker exited without a return value")
		default:
			return zero, &StatusError{Status: status}
		}
	}

	v, err := object.Unflatten[R, PR](f.Payload, f.Handles)
	if err != nil {
		f.Close()
		return zero, err
	}
	if werr != nil {
		f.Close()
		return zero, werr
	}
	if status != 0 {
		f.Close()
		return zero, &StatusError{Status: status}
	}
	return v, nil
}

// reap waits for the worker and latches the kill guard. The returned
// status is the exit code (-1 for a signal death); err is reserved for
// wait failures other than abnormal exit.
func (c *Child[R, PR]) reap() (int, error) {
	err := c.cmd.Wait()
	c.mu.Lock()
	c.reaped = true
	c.mu.Unlock()

	if err == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode(), nil
	}
	return -1, err
}
