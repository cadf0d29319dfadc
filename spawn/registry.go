package spawn

import (
	"sync"

	"github.com/procchan/procchan/frame"
	"github.com/procchan/procchan/object"
)

// serveFunc decodes the bootstrap argument from d, runs the entry
// point and sends the flattened result over c.
type serveFunc func(c *frame.Conn, d *object.Decoder) error

var registry struct {
	mu     sync.Mutex
	byName map[string]serveFunc
	frozen bool
}

// Task is a registered entry point, typed by its argument and return
// value. Obtain one from Func at package init time.
type Task[A any, PA object.Ptr[A], R any, PR object.Ptr[R]] struct {
	name string
}

// Func registers fn as a spawnable entry point under a stable
// caller-chosen name. The name must match in parent and worker, so it
// must be registered from package init context on both sides.
// Duplicate names and registration after Init panic.
func Func[A any, PA object.Ptr[A], R any, PR object.Ptr[R]](name string, fn func(A) (R, error)) *Task[A, PA, R, PR] {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.frozen {
		panic("spawn: Func after Init: " + name)
	}
	if registry.byName == nil {
		registry.byName = make(map[string]serveFunc)
	}
	if _, ok := registry.byName[name]; ok {
		panic("spawn: duplicate entry point: " + name)
	}
	registry.byName[name] = func(c *frame.Conn, d *object.Decoder) error {
		var arg A
		if err := PA(&arg).Unflatten(d); err != nil {
			return err
		}
		if err := d.Finish(); err != nil {
			return err
		}
		res, err := fn(arg)
		if err != nil {
			return err
		}
		e, err := object.Flatten[R, PR](&res)
		if err != nil {
			return err
		}
		return c.Send(e.Payload(), e.Handles())
	}
	return &Task[A, PA, R, PR]{name: name}
}

// Name returns the registered entry point name.
func (t *Task[A, PA, R, PR]) Name() string {
	return t.name
}

func freezeRegistry() {
	registry.mu.Lock()
	registry.frozen = true
	registry.mu.Unlock()
}

func lookup(name string) (serveFunc, bool) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	fn, ok := registry.byName[name]
	return fn, ok
}
