package spawn_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/procchan/procchan/object"
	"github.com/procchan/procchan/pkg/rlimit"
	"github.com/procchan/procchan/pkg/seccomp"
	"github.com/procchan/procchan/spawn"
)

var (
	nofileTask = spawn.Func[object.Empty, *object.Empty, object.Int64, *object.Int64](
		"report-nofile", func(object.Empty) (object.Int64, error) {
			var rl unix.Rlimit
			if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
				return 0, err
			}
			return object.Int64(rl.Cur), nil
		})

	mkdirTask = spawn.Func[object.String, *object.String, object.Bool, *object.Bool](
		"try-mkdir", func(dir object.String) (object.Bool, error) {
			err := os.Mkdir(string(dir), 0o755)
			if err == nil {
				os.Remove(string(dir))
			}
			return object.Bool(err == nil), nil
		})
)

func TestSpawnAppliesRLimits(t *testing.T) {
	c, err := nofileTask.Spawn(object.Empty{},
		spawn.WithRLimits(rlimit.RLimits{OpenFile: 64}))
	require.NoError(t, err)

	got, err := c.Join()
	require.NoError(t, err)
	assert.Equal(t, object.Int64(64), got)
}

func TestSpawnAppliesSeccomp(t *testing.T) {
	dir := t.TempDir() + "/blocked"
	c, err := mkdirTask.Spawn(object.String(dir),
		spawn.WithSeccomp(seccomp.Policy{
			DefaultAction: seccomp.ActionAllow,
			ErrnoAction:   seccomp.ActionErrno.WithReturnCode(int16(unix.EPERM)),
			Errno:         []string{"mkdir", "mkdirat"},
		}))
	require.NoError(t, err)

	created, err := c.Join()
	require.NoError(t, err)
	assert.False(t, bool(created), "mkdir should be denied by the syscall policy")
}
