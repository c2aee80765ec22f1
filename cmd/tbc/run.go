package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tbkit/tb/cmd/tbc/irtext"
	"github.com/tbkit/tb/jit"
	"github.com/tbkit/tb/module"
)

func newRunCmd(flags *targetFlags) *cobra.Command {
	var fn string

	cmd := &cobra.Command{
		Use:   "run SOURCE.tbir [ARGS...]",
		Short: "JIT-compile a textual IR file and call one exported function",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			cfg.IsJIT = true

			src, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(err, "tbc: reading %q", args[0])
			}
			prog, err := irtext.Parse(string(src))
			if err != nil {
				return err
			}
			if fn == "" {
				return errUsage("--func is required")
			}

			callArgs := make([]int64, 0, len(args)-1)
			for _, a := range args[1:] {
				v, err := strconv.ParseInt(a, 0, 64)
				if err != nil {
					return errUsage("argument %q is not an integer: %v", a, err)
				}
				callArgs = append(callArgs, v)
			}
			if len(callArgs) > 2 {
				return errUsage("run supports at most 2 integer arguments (got %d)", len(callArgs))
			}

			m := module.New(cfg, newLogger())
			for _, g := range prog.Globals {
				m.AddGlobal(g)
			}
			for _, e := range prog.Externs {
				m.AddExternal(e)
			}
			for _, f := range prog.Functions {
				m.AddFunction(f)
			}
			if err := m.CompileFunctions(prog.Functions, module.IselFast); err != nil {
				return errors.Wrap(err, "tbc: compiling functions")
			}

			mz, err := jit.ExportJIT(m, func(name string) (uintptr, bool) { return 0, false })
			if err != nil {
				return errors.Wrap(err, "tbc: materializing JIT code")
			}
			defer mz.Close()

			var result int64
			var ok bool
			switch len(callArgs) {
			case 0, 1:
				var a0 int64
				if len(callArgs) == 1 {
					a0 = callArgs[0]
				}
				result, ok = mz.Call1(fn, a0)
			default:
				result, ok = mz.Call2(fn, callArgs[0], callArgs[1])
			}
			if !ok {
				return errUsage("function %q not found in compiled module", fn)
			}
			fmt.Println(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&fn, "func", "", "name of the compiled function to call")
	return cmd
}
