// Cinder CLI - inspect and run compiled units
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/chazu/cinder/internal/logger"
	"github.com/chazu/cinder/manifest"
	"github.com/chazu/cinder/vm"
	"github.com/chazu/cinder/vm/dist"
)

func main() {
	configDir := flag.String("config", "", "Directory containing cinder.toml (default: search upward from cwd)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	noColor := flag.Bool("no-color", false, "Disable colored log output")
	maxDepth := flag.Int("max-depth", 0, "Override the maximum frame depth")
	limit := flag.Int64("limit", -1, "Override the instruction limit (0 for none)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cinder [options] <command> <unit.cbor>\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  disasm   Print the bytecode of a unit and its nested units\n")
		fmt.Fprintf(os.Stderr, "  verify   Check stack depths, jump targets and exception tables\n")
		fmt.Fprintf(os.Stderr, "  run      Execute a script unit and print its completion value\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := loadManifest(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger.Init(*debug || m.Log.Debug, *noColor || m.Log.NoColor)
	if *maxDepth > 0 {
		m.Interpreter.MaxFrameDepth = *maxDepth
	}
	if *limit >= 0 {
		m.Interpreter.InstructionLimit = *limit
	}

	cmd, path := flag.Arg(0), flag.Arg(1)
	unit, err := readUnit(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	switch cmd {
	case "disasm":
		fmt.Print(vm.Disassemble(unit))
	case "verify":
		// UnmarshalUnit already verified; report the recomputed sizing.
		a, err := vm.Analyze(unit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s: ok (stack %d, locals %d, vars %d, %d handlers)\n",
			unit.DisplayName(), a.MaxStack, a.MaxLocals, unit.MaxVars, len(unit.Exceptions))
	case "run":
		os.Exit(run(m, unit))
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
}

func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(cwd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}
	return m, nil
}

func readUnit(path string) (*vm.CompiledUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	unit, err := dist.UnmarshalUnit(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return unit, nil
}

func run(m *manifest.Manifest, unit *vm.CompiledUnit) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := append(m.InterpreterOptions(), vm.WithLogger(logger.For("vm")))
	in := vm.New(opts...)
	in.Define("print", func(ctx context.Context, in *vm.Interpreter, this vm.Value, args []vm.Value) (vm.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			s, err := in.ToString(ctx, a)
			if err != nil {
				return vm.Undefined, err
			}
			parts[i] = s
		}
		fmt.Println(strings.Join(parts, " "))
		return vm.Undefined, nil
	})

	result, err := in.Run(ctx, unit, nil, vm.Undefined, nil)
	if err != nil {
		var se *vm.ScriptError
		if errors.As(err, &se) {
			fmt.Fprintf(os.Stderr, "Uncaught %s\n%s", se.Value, se.ScriptStack())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	log.Debug("run finished", "steps", in.Steps())
	if !result.IsUndefined() {
		fmt.Println(result)
	}
	return 0
}
