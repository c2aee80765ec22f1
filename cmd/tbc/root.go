package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tbkit/tb/module"
)

// targetFlags mirrors module.Config (SPEC_FULL.md §B "Configuration"):
// --arch/--os/--features/--jit bound directly onto Cobra persistent
// flags rather than a separate config-file layer, since the teacher's
// own main.go parses os.Args by hand and this surface is no larger.
type targetFlags struct {
	arch     string
	system   string
	features []string
	jit      bool
}

func (t *targetFlags) config() (module.Config, error) {
	cfg := module.Config{Features: t.features, IsJIT: t.jit}
	switch t.arch {
	case "x64", "x86-64", "amd64":
		cfg.Arch = module.ArchX86_64
	case "arm64", "aarch64":
		cfg.Arch = module.ArchAArch64
	default:
		return cfg, errUsage("unknown --arch %q (want x64 or arm64)", t.arch)
	}
	switch t.system {
	case "linux":
		cfg.System = module.SysLinux
	case "darwin", "macos":
		cfg.System = module.SysMacOS
	case "windows", "win":
		cfg.System = module.SysWindows
	case "freebsd":
		cfg.System = module.SysFreeBSD
	default:
		return cfg, errUsage("unknown --os %q (want linux, darwin, windows or freebsd)", t.system)
	}
	return cfg, nil
}

func errUsage(format string, args ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func newRootCmd() *cobra.Command {
	flags := &targetFlags{}
	root := &cobra.Command{
		Use:   "tbc",
		Short: "tbc drives the tb retargetable compiler backend from a textual IR file",
	}
	root.PersistentFlags().StringVar(&flags.arch, "arch", "x64", "target architecture: x64 or arm64")
	root.PersistentFlags().StringVar(&flags.system, "os", "linux", "target OS: linux, darwin, windows or freebsd")
	root.PersistentFlags().StringSliceVar(&flags.features, "features", nil, "optional target feature flags")
	root.PersistentFlags().BoolVar(&flags.jit, "jit", false, "compile for in-process JIT execution rather than object export")

	root.AddCommand(newCompileCmd(flags))
	root.AddCommand(newRunCmd(flags))
	return root
}

func newLogger() *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logrus.NewEntry(log)
}
