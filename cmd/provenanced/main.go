// Command provenanced bootstraps one provenance-recording session: it
// picks a free log/store file pair, wires the versioned graph, the keyed
// store, the textual log, and the sampler, and then drains canonical
// events from the tracer feed (the out-of-scope external collaborator
// described in spec.md section 1) until told to stop.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmoniumQ/provenance-to-use/internal/config"
	"github.com/charmoniumQ/provenance-to-use/internal/event"
	"github.com/charmoniumQ/provenance-to-use/internal/ingest"
	"github.com/charmoniumQ/provenance-to-use/internal/normalize"
	"github.com/charmoniumQ/provenance-to-use/internal/session"
)

var packageDir = flag.String("dir", "", "package directory P (overrides CDE_PROV_PACKAGE_DIR)")

func main() {
	flag.Parse()

	cfg := config.Load()
	if *packageDir != "" {
		cfg.PackageDir = *packageDir
	}

	if os.Getenv("IN_CDE_PROVENANCE_MODE") != "1" && !cfg.ForceProvenance {
		// Deferring to the collaborator's exec-mode flag is out of this
		// binary's scope; provenanced only ever runs when told to.
		fmt.Fprintln(os.Stderr, "provenanced: provenance mode not requested, exiting")
		return
	}

	norm := normalize.New()

	agent := "provenanced"
	machine, err := os.Hostname()
	if err != nil {
		machine = "unknown"
	}

	lookup := func(pid int) (string, bool) {
		k, ok := norm.PidKey(pid)
		if !ok {
			return "", false
		}
		return k.String(), true
	}
	sess, err := session.Bootstrap(cfg, agent, machine, lookup)
	if err != nil {
		fmt.Fprintf(os.Stderr, "provenanced: bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	ing := ingest.New(sess.Graph, sess.Store, sess.Log, sess.Tracked, sess.Logger)

	feed := make(chan event.Event, 256)
	go runFeed(feed, ing)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-sess.Sampler.Done():
		// the tracked-pid set emptied out on its own: the traced program
		// exited and the session has nothing left to do.
	}
}

// runFeed drains the tracer feed and applies every event to the ingest
// pipeline. The feed itself is produced by the collaborator named in
// spec.md section 1 and is out of scope here; this loop is the fixed point
// any such collaborator plugs into.
func runFeed(feed <-chan event.Event, ing *ingest.Ingest) {
	for ev := range feed {
		ing.Apply(ev)
	}
}
