// Command wafersh is a thin command-line driver over the numbered
// syscall surface: halt, exit, fork, exec, wait, create, remove,
// open, filesize, read, write, seek, tell, close, mmap, munmap. It
// exists for manual exercise of the scheduler, process lifecycle and
// virtual-memory packages end to end, without a real bootloader or
// trap frame.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"wafer/kernel"
	"wafer/ports"
	"wafer/proc"
	"wafer/vm"
)

// framePoolSize is the default physical-page pool, small enough that
// eviction can be exercised from the shell by forking several
// "child-linear" children.
const framePoolSize = 64

func main() {
	mlfqs := false
	args := os.Args[1:]
	for i, a := range args {
		if a == "mlfqs" || a == "-o=mlfqs" {
			mlfqs = true
		}
		if a == "-o" && i+1 < len(args) && args[i+1] == "mlfqs" {
			mlfqs = true
		}
	}

	log := logrus.NewEntry(logrus.StandardLogger())

	mode := kernel.RoundRobin
	if mlfqs {
		mode = kernel.MLFQ
	}
	k, _ := kernel.New(kernel.Config{Mode: mode, Log: log})

	pool := ports.NewMemoryPhysPool(framePoolSize)
	ft := vm.NewFrameTable(pool, nil, log)
	fs := ports.NewMemFS()
	if err := installPrograms(fs); err != nil {
		log.WithError(err).Fatal("installing built-in programs")
	}

	sys := proc.NewSystem(k, ft, fs, log)

	// SIGINT/SIGTERM request HALT the same way the numbered syscall
	// would, rather than os.Exit, so shutdown goes through the same
	// path a real HALT syscall takes.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, unix.SIGINT, unix.SIGTERM)
	halted := make(chan struct{})
	go func() {
		select {
		case sig := <-sigc:
			log.WithField("signal", sig.String()).Info("halt requested")
			close(halted)
		case <-halted:
		}
	}()

	shellMain := func(p *proc.Process) int64 {
		st := &shellState{sys: sys, self: p, log: log}
		runREPL(st, halted)
		return 0
	}

	// The shell must outrank the boot thread: Create hands the baton
	// to a strictly higher-priority thread immediately, so the whole
	// REPL session runs inside this Spawn call and main returns only
	// once the shell has halted.
	_, errt := sys.Spawn("wafersh", 40, programPath("true"), nil, shellMain)
	if errt != 0 {
		log.WithField("err", errt.Error()).Fatal("spawning shell process")
	}
}

// runREPL reads whitespace-separated command lines from stdin until
// EOF, a "halt" command, or the signal handler closes halted,
// dispatching each line through a freshly built cobra command tree
// (newRootCmd is stateless apart from st, so rebuilding per line costs
// nothing and avoids cobra's own per-run flag-state residue).
func runREPL(st *shellState, halted <-chan struct{}) {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprint(os.Stdout, "wafersh> ")
	for scanner.Scan() {
		select {
		case <-halted:
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(os.Stdout, "wafersh> ")
			continue
		}

		root := newRootCmd(st)
		root.SetArgs(strings.Fields(line))
		if err := root.Execute(); err != nil {
			if errors.Is(err, errHalt) {
				return
			}
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		fmt.Fprint(os.Stdout, "wafersh> ")
	}
}
