//go:build linux || darwin

package spawn

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/procchan/procchan/frame"
	"github.com/procchan/procchan/pkg/handle"
)

// bootstrapFd is where ExtraFiles places the inherited bootstrap
// socket in the worker.
const bootstrapFd = 3

func isChild() bool {
	return len(os.Args) == 2 && os.Args[1] == childArg
}

func adoptBootstrap() (*frame.Conn, error) {
	return frame.FromHandle(handle.New(bootstrapFd))
}

// launch starts the worker with the child end of the bootstrap pair as
// fd 3, consuming child.
func launch(child *frame.Conn, o *options) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("spawn: resolve executable: %w", err)
	}
	h, err := child.Handle()
	if err != nil {
		return nil, err
	}
	raw, err := h.Release()
	if err != nil {
		return nil, err
	}
	f := os.NewFile(raw, "bootstrap")
	defer f.Close()

	cmd := exec.Command(exe, childArg)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if o.stderr != nil {
		cmd.Stderr = o.stderr.W
	}
	cmd.ExtraFiles = []*os.File{f}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	if o.stderr != nil {
		// the worker holds the write end now; parent's copy would
		// keep the collector's Done from firing
		o.stderr.W.Close()
	}
	return cmd, nil
}

func applyPolicy(lim *limitsOpt, pol *policyOpt) error {
	if lim.OK {
		if err := lim.Value.Apply(); err != nil {
			return err
		}
	}
	if pol.OK {
		return pol.Value.Load()
	}
	return nil
}
