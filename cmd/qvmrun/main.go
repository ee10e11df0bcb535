// Command qvmrun is a standalone harness for loading and running a compiled
// qvm module from the command line, for smoke-testing a progs.dat outside a
// full game server.
package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/tinyrange-qvm/qvm"
)

// hostConfig is the TOML-driven harness configuration: which host-owned
// fields to pin before Check() runs, and which entry function to invoke.
type hostConfig struct {
	EdictSize int32 `toml:"edict_size"`
	MaxEdicts int32 `toml:"max_edicts"`
	Entry     string `toml:"entry_function"`

	SystemFields []struct {
		Name   string `toml:"name"`
		Offset int32  `toml:"offset"`
		Span   int32  `toml:"span"`
	} `toml:"system_field"`
}

func main() {
	var (
		configPath string
		useMmap    bool
		engineName string
		profile    bool
		debug      bool
	)

	root := &cobra.Command{
		Use:   "qvmrun <progs.dat>",
		Short: "Load and execute a compiled qvm module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], configPath, engineName, useMmap, profile, debug)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a TOML host-harness config")
	root.Flags().BoolVar(&useMmap, "mmap", true, "memory-map the module file instead of reading it")
	root.Flags().StringVar(&engineName, "engine", "qvmrun", "engine name reported to the loaded module")
	root.Flags().BoolVar(&profile, "profile", false, "dump a per-function call profile on exit")
	root.Flags().BoolVar(&debug, "debug", false, "attach the interactive debugger")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(path, configPath, engineName string, useMmap, profile, debug bool) error {
	var cfg hostConfig
	if configPath != "" {
		if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	vm := qvm.NewVM()
	defer vm.Shutdown()

	if err := vm.Load(engineName, path, qvm.LoadOptions{UseMmap: useMmap}); err != nil {
		return fmt.Errorf("loading module: %w", err)
	}

	for _, sf := range cfg.SystemFields {
		vm.RegisterSystemField(sf.Name, sf.Offset, sf.Span)
	}
	if cfg.EdictSize > 0 {
		vm.ReserveEdictSize(cfg.EdictSize)
	}
	if cfg.MaxEdicts > 0 {
		vm.MaxEdicts = cfg.MaxEdicts
	} else {
		vm.MaxEdicts = 1
	}

	if err := vm.Check(); err != nil {
		return fmt.Errorf("checking module: %w", err)
	}
	vm.Edicts = make([]byte, vm.EdictSize*vm.MaxEdicts)

	if profile {
		vm.EnableProfiling(true)
	}
	if debug {
		dbg, err := qvm.NewDebugger(vm)
		if err != nil {
			return fmt.Errorf("attaching debugger: %w", err)
		}
		defer dbg.Close()
	}

	entry := cfg.Entry
	if entry == "" {
		entry = "main"
	}
	fnID, ok := vm.FindFunctionID(entry)
	if !ok {
		return fmt.Errorf("entry function %q not found in module", entry)
	}
	vm.Execute(fnID)
	return nil
}
