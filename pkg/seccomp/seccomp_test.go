package seccomp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procchan/procchan/object"
)

func TestActionReturnCode(t *testing.T) {
	a := ActionErrno.WithReturnCode(1)
	assert.Equal(t, ActionErrno, a.Action())
	assert.Equal(t, int16(1), a.ReturnCode())

	assert.Equal(t, int16(0), ActionAllow.ReturnCode())
}

func TestPolicyRoundTrip(t *testing.T) {
	in := Policy{
		DefaultAction: ActionKill,
		ErrnoAction:   ActionErrno.WithReturnCode(38),
		Allowed:       []string{"read", "write", "exit_group"},
		Errno:         []string{"socket"},
	}
	e, err := object.Flatten[Policy](&in)
	require.NoError(t, err)
	require.Empty(t, e.Handles())

	out, err := object.Unflatten[Policy](e.Payload(), nil)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPolicyRoundTripEmptyLists(t *testing.T) {
	in := Policy{DefaultAction: ActionAllow}
	e, err := object.Flatten[Policy](&in)
	require.NoError(t, err)

	out, err := object.Unflatten[Policy](e.Payload(), nil)
	require.NoError(t, err)
	assert.Equal(t, in.DefaultAction, out.DefaultAction)
	assert.Empty(t, out.Allowed)
	assert.Empty(t, out.Errno)
}
