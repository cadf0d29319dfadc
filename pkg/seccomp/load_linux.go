package seccomp

import (
	"fmt"

	libseccomp "github.com/elastic/go-seccomp-bpf"
)

// Load installs the policy on the calling thread group. no_new_privs
// is set as a side effect.
func (p *Policy) Load() error {
	if !libseccomp.Supported() {
		return fmt.Errorf("seccomp: not supported by kernel")
	}
	filter := libseccomp.Filter{
		NoNewPrivs: true,
		Flag:       libseccomp.FilterFlagTSync,
		Policy: libseccomp.Policy{
			DefaultAction: toAction(p.DefaultAction),
			Syscalls:      p.groups(),
		},
	}
	if err := libseccomp.LoadFilter(filter); err != nil {
		return fmt.Errorf("seccomp: load filter: %w", err)
	}
	return nil
}

func (p *Policy) groups() []libseccomp.SyscallGroup {
	var gs []libseccomp.SyscallGroup
	if len(p.Allowed) > 0 {
		gs = append(gs, libseccomp.SyscallGroup{
			Names:  p.Allowed,
			Action: libseccomp.ActionAllow,
		})
	}
	if len(p.Errno) > 0 {
		gs = append(gs, libseccomp.SyscallGroup{
			Names:  p.Errno,
			Action: toAction(p.ErrnoAction),
		})
	}
	return gs
}

// toAction converts a policy action to the filter representation. The
// least 16 bit of the return value is SECCOMP_RET_DATA.
func toAction(a Action) libseccomp.Action {
	var action libseccomp.Action
	switch a.Action() {
	case ActionAllow:
		action = libseccomp.ActionAllow
	case ActionErrno:
		action = libseccomp.ActionErrno
	case ActionLog:
		action = libseccomp.ActionLog
	default:
		action = libseccomp.ActionKillProcess
	}
	return action | libseccomp.Action(uint16(a.ReturnCode()))
}
