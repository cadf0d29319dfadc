package seccomp

// Action is the disposition applied to a syscall by a loaded policy
type Action uint32

// Action values for the policy default and per-group dispositions.
// Default value 0 is invalid.
const (
	ActionAllow Action = iota + 1
	ActionErrno
	ActionLog
	ActionKill
)

// WithReturnCode sets the errno delivered when the action is errno
func (a Action) WithReturnCode(code int16) Action {
	return a.Action() | Action(code)<<16
}

// ReturnCode gets the errno value
func (a Action) ReturnCode() int16 {
	return int16(a >> 16)
}

// Action gets the basic action
func (a Action) Action() Action {
	return Action(a & 0xffff)
}
