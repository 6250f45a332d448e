package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/krehermann/gcvm/api"
	"github.com/krehermann/gcvm/asm"
	"github.com/krehermann/gcvm/config"
	"github.com/krehermann/gcvm/heap"
	"github.com/krehermann/gcvm/runner"
	"github.com/krehermann/gcvm/store"
	"github.com/krehermann/gcvm/vm"
	"github.com/urfave/cli"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "path to gcvm.toml, searched for upwards from the working directory when unset",
	}
	debugFlag = cli.BoolFlag{
		Name:  "debug",
		Usage: "trace every instruction and collection",
	}
	noColorFlag = cli.BoolFlag{
		Name:  "no-color",
		Usage: "plain error output",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "gcvm"
	app.Usage = "stack bytecode VM with a mark-sweep heap"

	runFlags := []cli.Flag{
		configFlag,
		debugFlag,
		noColorFlag,
		cli.BoolFlag{
			Name:  "jit",
			Usage: "use the compiled backend, falling back to the interpreter",
		},
		cli.BoolFlag{
			Name:  "gc-stats",
			Usage: "print collector statistics after the run",
		},
		cli.BoolFlag{
			Name:  "scan-memory",
			Usage: "treat flat memory as GC roots",
		},
		cli.IntFlag{
			Name:  "heap-words",
			Usage: "heap arena size in words",
		},
		cli.StringFlag{
			Name:  "fit",
			Usage: "free block reuse policy, exact or best",
		},
		cli.Uint64Flag{
			Name:  "steps",
			Usage: "stop after this many instructions, 0 for no limit",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:      "run",
			Aliases:   []string{"r"},
			Usage:     "Run a bytecode (.bin) or assembly (.asm) program",
			ArgsUsage: "FILE",
			Flags:     runFlags,
			Action:    runAction,
		},
		{
			Name:      "asm",
			Aliases:   []string{"a"},
			Usage:     "Assemble a program to bytecode",
			ArgsUsage: "FILE.asm",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "o",
					Usage: "output file, defaults to FILE.bin",
				},
			},
			Action: asmAction,
		},
		{
			Name:      "dis",
			Aliases:   []string{"d"},
			Usage:     "Disassemble a program",
			ArgsUsage: "FILE",
			Action:    disAction,
		},
		{
			Name:  "serve",
			Usage: "Serve the HTTP API",
			Flags: []cli.Flag{
				configFlag,
				debugFlag,
				cli.StringFlag{
					Name:  "listen",
					Usage: "listen address, overrides api.listen",
				},
				cli.StringFlag{
					Name:  "db",
					Usage: "SQLite file for stored programs, in memory when unset",
				},
			},
			Action: serveAction,
		},
	}

	// gcvm FILE is the same as gcvm run FILE
	app.Flags = runFlags
	app.Action = func(c *cli.Context) error {
		if c.NArg() == 0 {
			return cli.ShowAppHelp(c)
		}
		return runAction(c)
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.Find(".")
}

func setupLogger(c *cli.Context, cfg *config.Config) (*zap.Logger, error) {
	if c.Bool("debug") {
		cfg.Log.Level = "debug"
		cfg.Log.Development = true
	}
	l, err := cfg.Log.Build()
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(l)
	return l, nil
}

// readProgram assembles .asm files and reads anything else as bytecode.
func readProgram(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("no program given")
	}
	if filepath.Ext(path) == ".asm" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		code, err := asm.Assemble(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return code, nil
	}
	return os.ReadFile(path)
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.Bool("scan-memory") {
		cfg.Heap.ScanMemory = true
	}
	if c.IsSet("heap-words") {
		cfg.Heap.Words = c.Int("heap-words")
	}
	if fit := c.String("fit"); fit != "" {
		cfg.Heap.Fit = fit
	}
	vmCfg, err := cfg.VMConfig()
	if err != nil {
		return err
	}

	logger, err := setupLogger(c, cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	code, err := readProgram(c.Args().First())
	if err != nil {
		return err
	}

	color.NoColor = color.NoColor || c.Bool("no-color")

	out, err := runner.Run(code, runner.Options{
		Config:    vmCfg,
		Compiled:  c.Bool("jit"),
		Input:     newPromptInput(os.Stdin, os.Stderr),
		Output:    os.Stdout,
		StepLimit: c.Uint64("steps"),
		Logger:    logger,
	})
	if out != nil && c.Bool("gc-stats") {
		defer printStats(os.Stdout, out.Stats)
	}
	if err != nil {
		printRuntimeError(os.Stderr, err)
		return cli.NewExitError("", 1)
	}

	fmt.Println(out.Result)
	return nil
}

func printStats(w io.Writer, st heap.Stats) {
	fmt.Fprintln(w, st)
}

func printRuntimeError(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()

	msg := err.Error()
	var fault *vm.Fault
	if errors.As(err, &fault) {
		msg = fault.Error()
	}
	fmt.Fprintf(w, "%s %s\n", red("Runtime Error:"), msg)
}

func asmAction(c *cli.Context) error {
	in := c.Args().First()
	if in == "" {
		return errors.New("no source file given")
	}
	code, err := readProgram(in)
	if err != nil {
		return err
	}

	out := c.String("o")
	if out == "" {
		out = strings.TrimSuffix(in, filepath.Ext(in)) + ".bin"
	}
	if err := os.WriteFile(out, code, 0o644); err != nil {
		return err
	}
	fmt.Printf("%s: %d bytes\n", out, len(code))
	return nil
}

func disAction(c *cli.Context) error {
	code, err := readProgram(c.Args().First())
	if err != nil {
		return err
	}
	return asm.Disassemble(os.Stdout, code)
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	vmCfg, err := cfg.VMConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogger(c, cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var st store.Storager
	if db := c.String("db"); db != "" {
		st, err = store.NewSQLStore(db)
		if err != nil {
			return err
		}
	} else {
		st = store.NewMemStore()
	}

	listen := cfg.API.Listen
	if l := c.String("listen"); l != "" {
		listen = l
	}

	srv, err := api.NewServer(api.ServerConfig{
		ListenerAddr: listen,
		Logger:       logger,
		VM:           vmCfg,
		StepLimit:    cfg.API.StepLimit,
		Store:        st,
	})
	if err != nil {
		return err
	}
	defer srv.Close()
	return srv.Start()
}

// promptInput shows a prompt before each INPUT when stdin is a terminal.
type promptInput struct {
	in     vm.Input
	prompt io.Writer
}

func newPromptInput(r *os.File, prompt io.Writer) vm.Input {
	in := vm.NewScanInput(r)
	if !term.IsTerminal(int(r.Fd())) {
		return in
	}
	return &promptInput{in: in, prompt: prompt}
}

func (p *promptInput) ReadInt() (int32, error) {
	fmt.Fprint(p.prompt, "> ")
	return p.in.ReadInt()
}
