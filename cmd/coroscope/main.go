package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/willibrandon/coroscope/pkg/config"
	"github.com/willibrandon/coroscope/pkg/dump"
	"github.com/willibrandon/coroscope/pkg/inspect"
	"github.com/willibrandon/coroscope/pkg/logging"
	"github.com/willibrandon/coroscope/pkg/remote/delve"
	"github.com/willibrandon/coroscope/pkg/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "coroscope: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("coroscope - logical stacks of suspended coroutines")
	fmt.Println("Usage: coroscope <command> [flags] [-- target args]")
	fmt.Println("\nCommands:")
	fmt.Println("  stack     - Print the combined stack of the selected goroutine")
	fmt.Println("  tasks     - List suspended tasks found on the heap")
	fmt.Println("  export    - Write stacks, tasks and diagnostics to a dump file")
	fmt.Println("  repl      - Interactive inspection")
	fmt.Println("  show      - Print a dump file")
	fmt.Println("  version   - Print version information")
	fmt.Println("\nTarget flags (one is required except for show and version):")
	fmt.Println("  -connect <addr>  Attach to a running headless dlv")
	fmt.Println("  -exec <binary>   Launch the binary under dlv")
	fmt.Println("\nRun 'coroscope <command> -h' for all flags.")
}

type options struct {
	configPath string
	connect    string
	exec       string
	goroutine  int64
	threads    []int64
	depth      int
	output     string
	values     bool
	timeout    time.Duration
}

func parseFlags(cmd string, args []string) (*options, []string, error) {
	opts := &options{}
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to coroscope.yaml")
	fs.StringVar(&opts.connect, "connect", "", "address of a headless dlv server")
	fs.StringVar(&opts.exec, "exec", "", "binary to launch under dlv")
	fs.Int64Var(&opts.goroutine, "goroutine", 0, "goroutine to inspect (default: the selected one)")
	fs.IntVar(&opts.depth, "depth", inspect.DefaultDepth, "native frames read per goroutine")
	fs.StringVar(&opts.output, "o", "coroscope.dump", "dump file written by export")
	fs.BoolVar(&opts.values, "vars", false, "resolve captured variable values")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "time allowed to attach to the target")
	all := fs.Bool("all", false, "export every goroutine, not just the selected one")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	if *all {
		// Resolved once the target is attached.
		opts.threads = []int64{}
	}
	return opts, fs.Args(), nil
}

func run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "version", "-version", "--version":
		fmt.Println(version.GetVersionInfo())
		return nil
	case "help", "-h", "--help":
		printUsage()
		return nil
	case "show":
		return show(args)
	case "stack", "tasks", "export", "repl":
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}

	opts, rest, err := parseFlags(cmd, args)
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}
	cfg := config.Default()
	if opts.configPath != "" {
		if cfg, err = config.LoadConfig(opts.configPath); err != nil {
			return err
		}
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	client, err := attach(ctx, cfg, opts, rest, log)
	if err != nil {
		return err
	}
	defer client.Close()

	in := inspect.New(client, cfg,
		inspect.WithLogger(log),
		inspect.WithDepth(opts.depth),
		inspect.WithValues(opts.values))
	defer in.Close()

	thread := client.Goroutine()
	switch cmd {
	case "stack":
		s, err := in.Stack(ctx, thread)
		if err != nil {
			return err
		}
		return dump.WriteStackText(os.Stdout, s)
	case "tasks":
		tasks, err := in.Tasks(ctx)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if err := dump.WriteTaskText(os.Stdout, t); err != nil {
				return err
			}
		}
		return dump.WriteDiagnosticsText(os.Stderr, in.Session().Diagnostics())
	case "export":
		threads := []int64{thread}
		if opts.threads != nil {
			if threads, err = client.Threads(ctx); err != nil {
				return err
			}
		}
		n, err := in.Export(ctx, opts.output, threads)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %d records to %s\n", n, opts.output)
		return nil
	default:
		return inspect.NewCLI(in, os.Stdout, thread).Run(ctx, os.Stdin)
	}
}

func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.Config{Level: level, Format: cfg.Log.Format}), nil
}

func attach(ctx context.Context, cfg *config.Config, opts *options, args []string, log *slog.Logger) (*delve.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	clientOpts := []delve.Option{delve.WithLogger(log), delve.WithGoroutine(opts.goroutine)}
	addr := opts.connect
	if addr == "" {
		addr = cfg.Delve.Address
	}
	switch {
	case opts.exec != "":
		return delve.Launch(ctx, delve.LaunchConfig{
			Binary: cfg.Delve.Binary,
			Target: opts.exec,
			Args:   args,
		}, clientOpts...)
	case addr != "":
		return delve.Connect(ctx, addr, clientOpts...)
	default:
		return nil, errors.New("no target: pass -connect or -exec")
	}
}

func show(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: coroscope show <file>")
	}
	d, err := dump.Open(args[0])
	if err != nil {
		return err
	}
	return dump.WriteText(os.Stdout, d)
}
