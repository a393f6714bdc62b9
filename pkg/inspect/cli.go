package inspect

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/willibrandon/coroscope/pkg/dump"
)

// CLI is the interactive command loop over one Inspector.
type CLI struct {
	inspector *Inspector
	out       io.Writer
	running   bool
	// thread is the default thread for stack commands.
	thread int64
}

// NewCLI creates a command loop writing to out. thread is the thread shown
// by a bare stack command.
func NewCLI(in *Inspector, out io.Writer, thread int64) *CLI {
	return &CLI{inspector: in, out: out, thread: thread}
}

// Run reads commands from r until quit, end of input or ctx is done.
func (c *CLI) Run(ctx context.Context, r io.Reader) error {
	c.running = true
	scanner := bufio.NewScanner(r)

	c.printf("coroscope, session %s\n", c.inspector.Session().ID())
	c.printHelp()

	for c.running {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.printf("(coroscope) ")
		if !scanner.Scan() {
			c.printf("\n")
			return scanner.Err()
		}
		c.handleCommand(ctx, strings.TrimSpace(scanner.Text()))
	}
	return nil
}

func (c *CLI) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

// printHelp displays available commands
func (c *CLI) printHelp() {
	c.printf("\nAvailable commands:\n")
	c.printf("  stack (s) [thread]  - Show the combined stack of a thread\n")
	c.printf("  threads (th)        - List thread ids\n")
	c.printf("  tasks (t)           - List suspended tasks\n")
	c.printf("  vars (v) <n>        - Show captured variables of async frame n\n")
	c.printf("  export (e) <path> [thread...] - Write a dump file\n")
	c.printf("  diag (d)            - Show session diagnostics\n")
	c.printf("\nGeneral commands:\n")
	c.printf("  help (h)            - Show this help message\n")
	c.printf("  quit (q)            - Exit\n")
}

// handleCommand processes one input line
func (c *CLI) handleCommand(ctx context.Context, input string) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return
	}

	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "h", "help":
		c.printHelp()
	case "s", "stack":
		c.handleStack(ctx, args)
	case "th", "threads":
		c.handleThreads(ctx)
	case "t", "tasks":
		c.handleTasks(ctx)
	case "v", "vars":
		c.handleVars(ctx, args)
	case "e", "export":
		c.handleExport(ctx, args)
	case "d", "diag":
		c.handleDiagnostics()
	case "q", "quit", "exit":
		c.running = false
	default:
		c.printf("Unknown command: %s\n", cmd)
		c.printHelp()
	}
}

func (c *CLI) handleStack(ctx context.Context, args []string) {
	thread := c.thread
	if len(args) > 0 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			c.printf("Invalid thread id: %s\n", args[0])
			return
		}
		thread = id
	}
	s, err := c.inspector.Stack(ctx, thread)
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	dump.WriteStackText(c.out, s)
}

func (c *CLI) handleThreads(ctx context.Context) {
	ids, err := c.inspector.target.Threads(ctx)
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	for _, id := range ids {
		marker := " "
		if id == c.thread {
			marker = "*"
		}
		c.printf("%s %d\n", marker, id)
	}
}

func (c *CLI) handleTasks(ctx context.Context) {
	tasks, err := c.inspector.Tasks(ctx)
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	if len(tasks) == 0 {
		c.printf("No suspended tasks\n")
		return
	}
	for _, t := range tasks {
		dump.WriteTaskText(c.out, t)
	}
}

func (c *CLI) handleVars(ctx context.Context, args []string) {
	if len(args) == 0 {
		c.printf("Usage: vars <n>\n")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		c.printf("Invalid frame number: %s\n", args[0])
		return
	}
	values, err := c.inspector.Variables(ctx, n)
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	if len(values) == 0 {
		c.printf("No captured variables\n")
		return
	}
	for _, v := range values {
		c.printf("%s = %s\n", v.Name, v.Value)
	}
}

func (c *CLI) handleExport(ctx context.Context, args []string) {
	if len(args) == 0 {
		c.printf("Usage: export <path> [thread...]\n")
		return
	}
	threads := []int64{c.thread}
	if len(args) > 1 {
		threads = threads[:0]
		for _, a := range args[1:] {
			id, err := strconv.ParseInt(a, 10, 64)
			if err != nil {
				c.printf("Invalid thread id: %s\n", a)
				return
			}
			threads = append(threads, id)
		}
	}
	n, err := c.inspector.Export(ctx, args[0], threads)
	if err != nil {
		c.printf("Error: %v\n", err)
		return
	}
	c.printf("Wrote %d records to %s\n", n, args[0])
}

func (c *CLI) handleDiagnostics() {
	diags := c.inspector.Session().Diagnostics()
	if len(diags) == 0 {
		c.printf("No diagnostics\n")
		return
	}
	dump.WriteDiagnosticsText(c.out, diags)
}
