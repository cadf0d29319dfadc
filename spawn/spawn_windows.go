package spawn

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/procchan/procchan/frame"
)

func isChild() bool {
	return len(os.Args) == 4 && os.Args[1] == childArg
}

// adoptBootstrap rebuilds the bootstrap connection from the pipe
// handle values the parent put on the command line. Inherited handles
// keep their values across CreateProcess.
func adoptBootstrap() (*frame.Conn, error) {
	r, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("spawn: bad bootstrap handle %q: %w", os.Args[2], err)
	}
	w, err := strconv.ParseUint(os.Args[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("spawn: bad bootstrap handle %q: %w", os.Args[3], err)
	}
	return frame.FromRawHandles(uintptr(r), uintptr(w)), nil
}

// launch starts the worker with the child end of the bootstrap pair
// inherited, its handle values on the command line, consuming child.
func launch(child *frame.Conn, o *options) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("spawn: resolve executable: %w", err)
	}
	r, w, err := child.RawHandles()
	if err != nil {
		return nil, err
	}
	for _, h := range []uintptr{r, w} {
		if err := windows.SetHandleInformation(windows.Handle(h),
			windows.HANDLE_FLAG_INHERIT, windows.HANDLE_FLAG_INHERIT); err != nil {
			return nil, fmt.Errorf("spawn: mark handle inheritable: %w", err)
		}
	}

	cmd := exec.Command(exe, childArg,
		strconv.FormatUint(uint64(r), 10),
		strconv.FormatUint(uint64(w), 10))
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if o.stderr != nil {
		cmd.Stderr = o.stderr.W
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		AdditionalInheritedHandles: []syscall.Handle{syscall.Handle(r), syscall.Handle(w)},
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	// the worker owns its inherited references now
	child.Close()
	if o.stderr != nil {
		o.stderr.W.Close()
	}
	return cmd, nil
}

func applyPolicy(lim *limitsOpt, pol *policyOpt) error {
	if lim.OK || pol.OK {
		return errors.New("spawn: rlimit/seccomp policies are not supported on windows")
	}
	return nil
}
