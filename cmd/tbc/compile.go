package main

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tbkit/tb/cmd/tbc/irtext"
	"github.com/tbkit/tb/module"
)

func newCompileCmd(flags *targetFlags) *cobra.Command {
	var out string
	var format string
	var textBase string
	var complexIsel bool

	cmd := &cobra.Command{
		Use:   "compile SOURCE.tbir",
		Short: "compile a textual IR file to a relocatable object file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			src, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(err, "tbc: reading %q", args[0])
			}
			prog, err := irtext.Parse(string(src))
			if err != nil {
				return err
			}

			fmtCode, err := parseObjectFormat(format)
			if err != nil {
				return err
			}
			base, err := strconv.ParseUint(textBase, 0, 64)
			if err != nil {
				return errUsage("invalid --text-base %q: %v", textBase, err)
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

			mode := module.IselFast
			if complexIsel {
				mode = module.IselComplex
			}
			if err := m.CompileFunctions(prog.Functions, mode); err != nil {
				return errors.Wrap(err, "tbc: compiling functions")
			}

			obj, err := m.ExportObject(base, fmtCode)
			if err != nil {
				return errors.Wrap(err, "tbc: exporting object")
			}
			if out == "" {
				out = args[0] + ".o"
			}
			if err := os.WriteFile(out, obj, 0o644); err != nil {
				return errors.Wrapf(err, "tbc: writing %q", out)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "output", "o", "", "output object file path (default: SOURCE.tbir.o)")
	cmd.Flags().StringVar(&format, "format", "elf", "object container: elf, coff or macho")
	cmd.Flags().StringVar(&textBase, "text-base", "0x400000", "assumed load address of the .text section")
	cmd.Flags().BoolVar(&complexIsel, "complex-isel", false, "request the complex instruction-selection path (falls back to fast with a warning)")
	return cmd
}

func parseObjectFormat(s string) (module.ObjectFormat, error) {
	switch s {
	case "elf":
		return module.FormatELF, nil
	case "coff":
		return module.FormatCOFF, nil
	case "macho":
		return module.FormatMachO, nil
	default:
		return 0, errUsage("unknown --format %q (want elf, coff or macho)", s)
	}
}
