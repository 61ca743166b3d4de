//go:build unix

package toolrunner

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/pressarchive/internal/common"
	"github.com/dmitrijs2005/pressarchive/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestExecRunner_CapturesStdout(t *testing.T) {
	r := NewExecRunner(logging.NewNop())

	res, err := r.Run(context.Background(), Invocation{
		Tool: "echo", Path: shell(t), Args: []string{"-c", "printf 'page text'; echo warn >&2"}, Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "page text", string(res.Stdout))
	assert.Equal(t, "warn\n", string(res.Stderr))
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	r := NewExecRunner(logging.NewNop())

	_, err := r.Run(context.Background(), Invocation{
		Tool: "gs", Path: shell(t), Args: []string{"-c", "echo 'Unrecoverable error' >&2; exit 3"}, Timeout: 5 * time.Second,
	})
	require.ErrorIs(t, err, common.ErrToolExecution)

	var te *common.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 3, te.ExitCode)
	assert.False(t, te.TimedOut)
	assert.Contains(t, te.Error(), "Unrecoverable error")
}

func TestExecRunner_TimeoutKillsProcessGroup(t *testing.T) {
	r := NewExecRunner(logging.NewNop())

	start := time.Now()
	_, err := r.Run(context.Background(), Invocation{
		Tool: "tesseract", Path: shell(t), Args: []string{"-c", "sleep 30 & sleep 30; wait"}, Timeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second, "child must be killed, not waited for")

	var te *common.ToolError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.TimedOut)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecRunner_IgnoresCallerCancellation(t *testing.T) {
	r := NewExecRunner(logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	res, err := r.Run(ctx, Invocation{
		Tool: "gs", Path: shell(t), Args: []string{"-c", "sleep 0.3; printf done"}, Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "done", string(res.Stdout))
}

func TestExecRunner_MissingBinary(t *testing.T) {
	r := NewExecRunner(logging.NewNop())

	_, err := r.Run(context.Background(), Invocation{Tool: "pdftoppm", Path: "/nonexistent/pdftoppm", Timeout: time.Second})
	require.ErrorIs(t, err, common.ErrToolExecution)
	assert.True(t, strings.HasPrefix(err.Error(), "pdftoppm: "))
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{max: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = b.Write([]byte("gh"))
	assert.Equal(t, "abcd", b.String())
}
