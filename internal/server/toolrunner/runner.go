// Package toolrunner runs external programs (ghostscript, pdftoppm,
// tesseract) with a hard wall-clock limit. It never retries.
package toolrunner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/logging"
)

const (
	maxStderr = 8 << 10
	waitDelay = 5 * time.Second
)

// Invocation describes a single tool run.
type Invocation struct {
	Tool    string // short name used in errors and logs
	Path    string // binary to execute
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Result carries the captured output of a successful run.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Result, error)
}

// ExecRunner runs tools as child processes.
type ExecRunner struct {
	logger logging.Logger
}

func NewExecRunner(l logging.Logger) *ExecRunner {
	return &ExecRunner{logger: l.With("module", "toolrunner")}
}

// Run executes inv. Cancelling ctx does not stop a started tool; only the
// timeout does, and it kills the whole process group. Failures are returned
// as *common.ToolError.
func (r *ExecRunner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	runCtx := context.WithoutCancel(ctx)
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.Path, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	var stdout bytes.Buffer
	stderr := &limitedBuffer{max: maxStderr}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	r.logger.Debug(ctx, "running tool", "tool", inv.Tool, "args", inv.Args, "timeout", inv.Timeout)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		te := &common.ToolError{Tool: inv.Tool, Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			te.TimedOut = true
			te.Err = context.DeadlineExceeded
		case errors.As(err, &exitErr):
			te.ExitCode = exitErr.ExitCode()
		}
		r.logger.Warn(ctx, "tool failed", "tool", inv.Tool, "elapsed", elapsed, "error", te.Error())
		return nil, te
	}

	r.logger.Debug(ctx, "tool finished", "tool", inv.Tool, "elapsed", elapsed)
	return &Result{Stdout: stdout.Bytes(), Stderr: []byte(stderr.String()), Duration: elapsed}, nil
}

// limitedBuffer keeps the first max bytes written to it.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
