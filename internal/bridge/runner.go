package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// DefaultTimeout bounds a single interpreter run.
const DefaultTimeout = 5 * time.Second

// ExecKind classifies process-level failures.
type ExecKind int

const (
	// Spawn means the interpreter could not be started.
	Spawn ExecKind = iota
	// Exit means the process failed without printing anything.
	Exit
	// Timeout means the process did not finish in time and was killed.
	Timeout
)

func (k ExecKind) String() string {
	switch k {
	case Spawn:
		return "spawn failed"
	case Exit:
		return "exited without output"
	case Timeout:
		return "timed out"
	}
	return fmt.Sprintf("exec kind(%d)", int(k))
}

// ExecError is an execution failure: the environment or configuration is
// wrong, as opposed to a protocol failure in the output.
type ExecError struct {
	Kind   ExecKind
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	msg := "interpreter " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += " (stderr: " + e.Stderr + ")"
	}
	return msg
}

func (e *ExecError) Unwrap() error { return e.Err }

// Executor runs one script and returns its stdout.
type Executor interface {
	Run(ctx context.Context, script string) (string, error)
}

// Runner starts one interpreter process per script as `<interpreter> -c
// <script>`. There is no persistent connection to the child.
type Runner struct {
	Interpreter string
	Timeout     time.Duration
	Log         *slog.Logger
}

// NewRunner creates a runner with the default timeout.
func NewRunner(interpreter string, timeout time.Duration, logger *slog.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{Interpreter: interpreter, Timeout: timeout, Log: logger}
}

// Run executes script and waits for it to exit or for the timeout. A
// non-zero exit with output on stdout is not an error here: the output is
// handed to the protocol parser, which classifies it.
func (r *Runner) Run(ctx context.Context, script string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Interpreter, "-c", script)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	errText := tail(stderr.String(), 512)
	if errText != "" {
		r.Log.Debug("interpreter stderr", "stderr", errText)
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &ExecError{Kind: Timeout, Stderr: errText, Err: fmt.Errorf("after %s", r.Timeout)}
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", &ExecError{Kind: Spawn, Stderr: errText, Err: err}
		}
		if strings.TrimSpace(stdout.String()) == "" {
			return "", &ExecError{Kind: Exit, Stderr: errText, Err: err}
		}
	}

	r.Log.Debug("interpreter finished", "elapsed", time.Since(start), "bytes", stdout.Len())
	return stdout.String(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}

// FindInterpreter prefers a project virtualenv over the system python3.
func FindInterpreter(dirs ...string) string {
	for _, d := range dirs {
		p := filepath.Join(d, "venv", "bin", "python3")
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p
		}
	}
	return "python3"
}
