package main

import (
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"wafer/abi"
	"wafer/common"
	"wafer/proc"
)

// shellState is the interactive session's mutable context: the
// process subsystem, the shell's own Process (every command below
// runs as a syscall issued by that process, exactly as a real shell
// issues fork/exec/wait on behalf of the user), and the last child
// tid forked, for commands that omit an explicit tid.
type shellState struct {
	sys     *proc.System
	self    *proc.Process
	lastTid common.Tid_t
	log     *logrus.Entry
}

// newRootCmd builds the cobra command tree: one subcommand per
// numbered syscall, dispatching into st's proc.System the way a real
// shell's builtins dispatch into the kernel through syscall(2). Built
// fresh per REPL line since cobra commands carry per-invocation flag
// state that does not reset cleanly across reuse.
func newRootCmd(st *shellState) *cobra.Command {
	root := &cobra.Command{
		Use:           "wafersh",
		Short:         "interactive driver for the numbered syscall surface",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		haltCmd(st),
		exitCmd(st),
		forkCmd(st),
		execCmd(st),
		waitCmd(st),
		createCmd(st),
		removeCmd(st),
		openCmd(st),
		filesizeCmd(st),
		readCmd(st),
		writeCmd(st),
		seekCmd(st),
		tellCmd(st),
		closeCmd(st),
		mmapCmd(st),
		munmapCmd(st),
	)
	return root
}

func haltCmd(st *shellState) *cobra.Command {
	return &cobra.Command{
		Use:   "halt",
		Short: "stop the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			st.log.Info("halt")
			return errHalt
		},
	}
}

func exitCmd(st *shellState) *cobra.Command {
	return &cobra.Command{
		Use:   "exit [status]",
		Short: "exit the shell process and end the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			status := int64(0)
			if len(args) > 0 {
				n, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return err
				}
				status = n
			}
			// Control never returns past a real exit; ending the REPL
			// loop here is this port's equivalent.
			st.sys.Dispatch(st.self, abi.EXIT, proc.Args{Status: status})
			return errHalt
		},
	}
}

func forkCmd(st *shellState) *cobra.Command {
	return &cobra.Command{
		Use:   "fork <program>",
		Short: "fork a child running a built-in program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, ok := registry[args[0]]
			if !ok {
				return fmt.Errorf("no such program %q", args[0])
			}
			tid, errt := st.sys.Fork(st.self, args[0], prog.main)
			if errt != 0 {
				fmt.Println(errt.Neg())
				return nil
			}
			st.lastTid = tid
			fmt.Println(int64(tid))
			return nil
		},
	}
}

func execCmd(st *shellState) *cobra.Command {
	return &cobra.Command{
		Use:   "exec <program>",
		Short: "replace the shell's address space and run to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prog, ok := registry[args[0]]
			if !ok {
				return fmt.Errorf("no such program %q", args[0])
			}
			status, ok := st.sys.Exec(st.self, programPath(args[0]), args[1:], prog.main)
			if !ok {
				fmt.Println(-1)
				return nil
			}
			fmt.Println(status)
			return nil
		},
	}
}

func waitCmd(st *shellState) *cobra.Command {
	return &cobra.Command{
		Use:   "wait [tid]",
		Short: "wait for a forked child (defaults to the last forked tid)",
		RunE: func(cmd *cobra.Command, args []string) error {
			tid := st.lastTid
			if len(args) > 0 {
				n, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return err
				}
				tid = common.Tid_t(n)
			}
			fmt.Println(st.sys.Wait(st.self, tid))
			return nil
		},
	}
}

func createCmd(st *shellState) *cobra.Command {
	return &cobra.Command{
		Use:   "create <path> <size>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return err
			}
			fmt.Println(st.sys.Create(args[0], size) == 0)
			return nil
		},
	}
}

func removeCmd(st *shellState) *cobra.Command {
	return &cobra.Command{
		Use:  "remove <path>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(st.sys.Remove(args[0]) == 0)
			return nil
		},
	}
}

func openCmd(st *shellState) *cobra.Command {
	return &cobra.Command{
		Use:  "open <path>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fd, errt := st.sys.Open(st.self, args[0])
			if errt != 0 {
				fmt.Println(-1)
				return nil
			}
			fmt.Println(int(fd))
			return nil
		},
	}
}

func filesizeCmd(st *shellState) *cobra.Command {
	return &cobra.Command{
		Use:  "filesize <fd>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fd, err := parseFd(args[0])
			if err != nil {
				return err
			}
			fmt.Println(st.sys.Filesize(st.self, fd))
			return nil
		},
	}
}

func readCmd(st *shellState) *cobra.Command {
	return &cobra.Command{
		Use:  "read <fd> <n>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fd, err := parseFd(args[0])
			if err != nil {
				return err
			}
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			buf, c := st.sys.Read(st.self, fd, n)
			if c < 0 {
				fmt.Println(-1)
				return nil
			}
			fmt.Printf("%d %q\n", c, buf)
			return nil
		},
	}
}

func writeCmd(st *shellState) *cobra.Command {
	return &cobra.Command{
		Use:  "write <fd> <data>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fd, err := parseFd(args[0])
			if err != nil {
				return err
			}
			fmt.Println(st.sys.Write(st.self, fd, []byte(args[1])))
			return nil
		},
	}
}

func seekCmd(st *shellState) *cobra.Command {
	return &cobra.Command{
		Use:  "seek <fd> <pos>",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fd, err := parseFd(args[0])
			if err != nil {
				return err
			}
			pos, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return err
			}
			fmt.Println(int64(st.sys.Seek(st.self, fd, pos)))
			return nil
		},
	}
}

func tellCmd(st *shellState) *cobra.Command {
	return &cobra.Command{
		Use:  "tell <fd>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fd, err := parseFd(args[0])
			if err != nil {
				return err
			}
			fmt.Println(st.sys.Tell(st.self, fd))
			return nil
		},
	}
}

func closeCmd(st *shellState) *cobra.Command {
	return &cobra.Command{
		Use:  "close <fd>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fd, err := parseFd(args[0])
			if err != nil {
				return err
			}
			st.sys.Close(st.self, fd)
			return nil
		},
	}
}

func mmapCmd(st *shellState) *cobra.Command {
	var writable bool
	cmd := &cobra.Command{
		Use:  "mmap <addr-hex> <length> <fd> <offset>",
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := strconv.ParseUint(args[0], 0, 64)
			if err != nil {
				return err
			}
			length, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return err
			}
			fd, err := parseFd(args[2])
			if err != nil {
				return err
			}
			offset, err := strconv.ParseInt(args[3], 10, 64)
			if err != nil {
				return err
			}
			if errt := st.sys.Mmap(st.self, common.Va_t(addr), length, writable, fd, offset); errt != 0 {
				fmt.Println(int64(errt.Neg()))
				return nil
			}
			fmt.Printf("0x%x\n", addr)
			return nil
		},
	}
	cmd.Flags().BoolVar(&writable, "writable", false, "map the region writable")
	return cmd
}

func munmapCmd(st *shellState) *cobra.Command {
	return &cobra.Command{
		Use:  "munmap <addr-hex>",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := strconv.ParseUint(args[0], 0, 64)
			if err != nil {
				return err
			}
			fmt.Println(int64(st.sys.Munmap(st.self, common.Va_t(addr)).Neg()))
			return nil
		},
	}
}

func parseFd(s string) (common.Fd_t, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return common.Fd_t(n), nil
}

// errHalt is returned by the halt command to break the REPL loop
// without cobra treating it as a usage error.
var errHalt = fmt.Errorf("halt")
