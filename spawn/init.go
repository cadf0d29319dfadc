package spawn

import (
	"fmt"
	"os"

	"github.com/procchan/procchan/object"
)

// Init hosts spawned entry points in the current process. Call it
// first thing in main (and in TestMain). In a parent it freezes the
// registry and returns; in a worker it serves the bootstrap and exits
// the process.
func Init() {
	freezeRegistry()
	if !isChild() {
		return
	}

	// exit the worker on the way out regardless of outcome:
	// the bootstrap connection is its only reason to live
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "spawn: panic: %v\n", r)
			os.Exit(1)
		}
	}()
	os.Exit(serveBootstrap())
}

func serveBootstrap() int {
	conn, err := adoptBootstrap()
	if err != nil {
		fmt.Fprintf(os.Stderr, "spawn: adopt bootstrap: %v\n", err)
		return 1
	}
	f, err := conn.Recv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "spawn: recv bootstrap: %v\n", err)
		return 1
	}

	d := object.NewDecoder(f.Payload, f.Handles)
	name := d.String()
	var lim limitsOpt
	var pol policyOpt
	lim.Unflatten(d)
	pol.Unflatten(d)
	if err := d.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "spawn: malformed bootstrap: %v\n", err)
		return 1
	}

	serve, ok := lookup(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "spawn: no entry point %q\n", name)
		return ExitRegistryMiss
	}
	if err := applyPolicy(&lim, &pol); err != nil {
		fmt.Fprintf(os.Stderr, "spawn: apply policy: %v\n", err)
		return 1
	}
	if err := serve(conn, d); err != nil {
		fmt.Fprintf(os.Stderr, "spawn: %s: %v\n", name, err)
		return 1
	}
	return 0
}
