// Package console dispatches text commands, such as those typed into a
// developer console, to registered handlers.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	perrors "github.com/scope-profiler/pkg/errors"
	"github.com/scope-profiler/pkg/utils"
)

// Handler runs a command. args excludes the command name.
type Handler func(ctx context.Context, out io.Writer, args []string) error

// Command is a registered console command.
type Command struct {
	Name  string
	Usage string
	Help  string
	Run   Handler
}

// Registry maps command names to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
	logger   utils.Logger
}

// NewRegistry creates a registry holding only the help command.
func NewRegistry(logger utils.Logger) *Registry {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	r := &Registry{
		commands: make(map[string]Command),
		logger:   logger,
	}
	r.MustRegister(Command{
		Name: "help",
		Help: "list commands",
		Run:  r.help,
	})
	return r
}

// Register adds cmd. Names are case-insensitive and must be unique.
func (r *Registry) Register(cmd Command) error {
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if name == "" || strings.ContainsAny(name, " \t") {
		return perrors.Newf(perrors.CodeInvalidInput, "invalid command name %q", cmd.Name)
	}
	if cmd.Run == nil {
		return perrors.Newf(perrors.CodeInvalidInput, "command %q has no handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.commands[name]; exists {
		return perrors.Newf(perrors.CodeInvalidInput, "command %q already registered", name)
	}
	cmd.Name = name
	r.commands[name] = cmd
	return nil
}

// MustRegister is Register that panics on error, for static registration.
func (r *Registry) MustRegister(cmd Command) {
	if err := r.Register(cmd); err != nil {
		panic(err)
	}
}

// Lookup returns the command called name.
func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}

// Commands returns every command sorted by name.
func (r *Registry) Commands() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmds := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		cmds = append(cmds, c)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Execute runs one command line. Blank lines and lines starting with # are
// ignored.
func (r *Registry) Execute(ctx context.Context, out io.Writer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}

	cmd, ok := r.Lookup(fields[0])
	if !ok {
		return perrors.Newf(perrors.CodeUnknownCommand, "unknown command %q (try help)", fields[0])
	}

	r.logger.Debug("console: %s", line)
	if err := cmd.Run(ctx, out, fields[1:]); err != nil {
		return perrors.Wrap(perrors.GetErrorCode(err), cmd.Name, err)
	}
	return nil
}

// Run reads commands from in until EOF or ctx is done. Command errors are
// written to out and do not stop the loop. Cancelling ctx returns at once even
// while a read is pending; the reader goroutine then exits with its next line.
func (r *Registry) Run(ctx context.Context, in io.Reader, out io.Writer, prompt string) error {
	lines, errc := readLines(ctx, in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if prompt != "" {
			fmt.Fprint(out, prompt)
		}

		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return <-errc
			}
			line = strings.TrimSpace(l)
		}

		if line == "quit" || line == "exit" {
			return nil
		}
		if err := r.Execute(ctx, out, line); err != nil {
			r.logger.Warn("%v", err)
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// readLines scans in on its own goroutine. The scan error, nil at EOF, is sent
// on errc before lines is closed.
func readLines(ctx context.Context, in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}

func (r *Registry) help(_ context.Context, out io.Writer, _ []string) error {
	for _, c := range r.Commands() {
		usage := c.Name
		if c.Usage != "" {
			usage += " " + c.Usage
		}
		fmt.Fprintf(out, "  %-48s %s\n", usage, c.Help)
	}
	return nil
}
