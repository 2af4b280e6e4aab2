package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Executor runs one parsed command line.
type Executor interface {
	Execute(ctx context.Context, args []string) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, args []string) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, args []string) error { return f(ctx, args) }

// REPL represents the Read-Eval-Print Loop.
type REPL struct {
	input     io.Reader
	output    io.Writer
	exec      Executor
	prompt    func() string
	completer *Completer
	history   *History
}

// Option configures a REPL.
type Option func(*REPL)

// WithIO replaces stdin and stdout.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(r *REPL) {
		r.input = in
		r.output = out
	}
}

// WithPrompt sets a prompt function, re-evaluated before every line so it
// can show the current address.
func WithPrompt(prompt func() string) Option {
	return func(r *REPL) { r.prompt = prompt }
}

// WithHistory replaces the in-memory history.
func WithHistory(h *History) Option {
	return func(r *REPL) { r.history = h }
}

// New creates a new REPL instance.
func New(exec Executor, opts ...Option) *REPL {
	r := &REPL{
		input:     os.Stdin,
		output:    os.Stdout,
		exec:      exec,
		prompt:    func() string { return "sabledb> " },
		completer: NewCompleter(),
		history:   NewHistory(""),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run reads lines until EOF, exit or quit. Errors from the executor are
// printed and the loop continues; ctx cancellation ends it.
func (r *REPL) Run(ctx context.Context) error {
	reader := bufio.NewReader(r.input)
	for {
		fmt.Fprint(r.output, r.prompt())

		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := err != nil

		if line = strings.TrimSpace(line); line != "" {
			quit, err := r.handle(ctx, line)
			if quit || err != nil {
				return err
			}
		}
		if eof {
			fmt.Fprintln(r.output)
			return nil
		}
	}
}

// handle runs one non-empty line and reports whether the loop should end.
func (r *REPL) handle(ctx context.Context, line string) (bool, error) {
	r.history.Add(line)

	args, err := SplitArgs(line)
	if err != nil {
		fmt.Fprintf(r.output, "Invalid argument(s): %v\n", err)
		return false, nil
	}

	switch strings.ToLower(args[0]) {
	case "exit", "quit":
		return true, nil
	case "help":
		r.help(args[1:])
		return false, nil
	}

	if err := r.exec.Execute(ctx, args); err != nil {
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		fmt.Fprintf(r.output, "Error: %v\n", err)
	}
	return false, nil
}

func (r *REPL) help(args []string) {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	matches := r.completer.Complete(prefix)
	if len(matches) == 0 {
		fmt.Fprintf(r.output, "no commands match %q\n", prefix)
		return
	}
	fmt.Fprintln(r.output, strings.Join(matches, " "))
}
