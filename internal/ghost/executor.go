package ghost

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	TimeoutPrefix = "[TIMEOUT]"
	ErrorPrefix   = "[ERROR]"

	DefaultCommandTimeout = 30 * time.Second
)

var ErrUnknownCommand = errors.New("ghost: unknown command")

// Executor turns one command into its textual result. Failures are encoded
// in the result, never returned.
type Executor interface {
	Execute(ctx context.Context, command string) string
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, command string) string

func (f ExecutorFunc) Execute(ctx context.Context, command string) string { return f(ctx, command) }

// CommandFunc handles one named diagnostic command; args is the text after
// the command name.
type CommandFunc func(ctx context.Context, args string) (string, error)

// DiagnosticExecutor answers a fixed set of read-only commands about the
// endpoint itself. It never spawns processes or reads files.
type DiagnosticExecutor struct {
	id      Identity
	timeout time.Duration
	started time.Time
	now     func() time.Time

	mu       sync.RWMutex
	commands map[string]CommandFunc
}

func NewDiagnosticExecutor(id Identity, timeout time.Duration) *DiagnosticExecutor {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	e := &DiagnosticExecutor{
		id:       id,
		timeout:  timeout,
		started:  time.Now(),
		now:      time.Now,
		commands: make(map[string]CommandFunc),
	}
	e.Register("echo", func(_ context.Context, args string) (string, error) { return args, nil })
	e.Register("whoami", func(context.Context, string) (string, error) { return e.id.User, nil })
	e.Register("hostname", func(context.Context, string) (string, error) { return os.Hostname() })
	e.Register("platform", func(context.Context, string) (string, error) { return e.id.Platform, nil })
	e.Register("uptime", func(context.Context, string) (string, error) {
		return e.now().Sub(e.started).Truncate(time.Second).String(), nil
	})
	e.Register("time", func(context.Context, string) (string, error) {
		return e.now().UTC().Format(time.RFC3339), nil
	})
	e.Register("help", func(context.Context, string) (string, error) {
		return "commands: " + strings.Join(e.Names(), ", "), nil
	})
	return e
}

// Register adds or replaces a named command.
func (e *DiagnosticExecutor) Register(name string, fn CommandFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands[strings.ToLower(strings.TrimSpace(name))] = fn
}

func (e *DiagnosticExecutor) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.commands))
	for name := range e.commands {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Execute runs command bounded by the executor timeout.
func (e *DiagnosticExecutor) Execute(ctx context.Context, command string) string {
	name, args, _ := strings.Cut(strings.TrimSpace(command), " ")
	name = strings.ToLower(name)

	e.mu.RLock()
	fn, ok := e.commands[name]
	e.mu.RUnlock()
	if !ok {
		return fmt.Sprintf("%s %v: %s", ErrorPrefix, ErrUnknownCommand, name)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := fn(runCtx, strings.TrimSpace(args))
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return fmt.Sprintf("%s %s: %v", ErrorPrefix, name, r.err)
		}
		return r.out
	case <-runCtx.Done():
		return fmt.Sprintf("%s %s exceeded %s", TimeoutPrefix, name, e.timeout)
	}
}
